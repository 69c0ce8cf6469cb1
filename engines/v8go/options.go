//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"
)

// Option configures an Engine before its isolate is created.
type Option func(*Engine) error

// EngineOption holds specific configurations for the V8 engine.
type EngineOption struct{}

// WithRpcScript replaces the script that dispatches calls to global functions.
// The script must evaluate to a function (method, payloadJSON, optional)
// returning a promise of a JSON string.
func WithRpcScript(script string) Option {
	return func(e *Engine) error {
		if script == "" {
			return fmt.Errorf("rpc script cannot be empty")
		}
		e.RpcScript = script
		return nil
	}
}
