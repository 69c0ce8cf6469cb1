// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// EngineOption holds configuration for a Goja engine instance.
type EngineOption struct {
	MaxCallStackSize int
	EnableConsole    bool
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
}

// Option configures an Engine. Options run on the engine's event loop.
type Option func(*Engine) error

// onLoop runs fn on the engine's event loop and waits for it.
func (e *Engine) onLoop(fn func(vm *goja.Runtime)) {
	done := make(chan struct{})
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		fn(vm)
		close(done)
	})
	<-done
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) Option {
	return func(e *Engine) error {
		e.Option.MaxCallStackSize = size
		e.onLoop(func(vm *goja.Runtime) {
			vm.SetMaxCallStackSize(size)
		})
		return nil
	}
}

// WithEnableConsole enables console.log and friends in handler scripts.
func WithEnableConsole() Option {
	return func(e *Engine) error {
		e.Option.EnableConsole = true
		e.onLoop(func(vm *goja.Runtime) {
			console.Enable(vm)
		})
		return nil
	}
}

// WithRequire enables require() for loading CommonJS modules.
func WithRequire() Option {
	return func(e *Engine) error {
		e.Option.EnableRequire = true
		e.onLoop(func(vm *goja.Runtime) {
			new(require.Registry).Enable(vm)
		})
		return nil
	}
}

// WithFieldNameMapper controls how Go struct payloads are exposed to scripts.
func WithFieldNameMapper(mapper goja.FieldNameMapper) Option {
	return func(e *Engine) error {
		if mapper != nil {
			e.Option.FieldNameMapper = mapper
			e.onLoop(func(vm *goja.Runtime) {
				vm.SetFieldNameMapper(mapper)
			})
		}
		return nil
	}
}
