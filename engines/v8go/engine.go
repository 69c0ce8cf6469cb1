//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	codecworker "github.com/buke/codec-worker"
	"github.com/tommie/v8go"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate = v8go.NewIsolate
	v8NewContext = v8go.NewContext
	v8NewValue   = v8go.NewValue
)

//go:embed module_rpc.js
var rpcScript string

const initFunction = "init"

// Engine implements codecworker.Module on a V8 isolate. Payloads and
// results cross the boundary as JSON.
type Engine struct {
	// Iso is the V8 Isolate, a single-threaded VM instance.
	Iso *v8go.Isolate

	// Ctx is the V8 Context the scripts run in.
	Ctx *v8go.Context

	// Option holds the engine-specific configurations.
	Option *EngineOption

	// RpcScript dispatches calls to global functions.
	RpcScript string

	scripts []*codecworker.Script
	loaded  bool
}

// NewFactory returns a ModuleFactory that loads scripts into a new isolate per worker.
func NewFactory(scripts []*codecworker.Script, opts ...Option) codecworker.ModuleFactory {
	return func() (codecworker.Module, error) {
		return newEngine(scripts, opts...)
	}
}

// newEngine creates an isolate and context after applying options.
func newEngine(scripts []*codecworker.Script, opts ...Option) (*Engine, error) {
	e := &Engine{
		Option:    &EngineOption{},
		RpcScript: rpcScript,
		scripts:   scripts,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose()
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	return e, nil
}

// Init runs the scripts once, then calls the global init(payload) if defined.
func (e *Engine) Init(ctx context.Context, payload any) error {
	if !e.loaded {
		for _, script := range e.scripts {
			if _, err := e.Ctx.RunScript(script.Content, script.FileName); err != nil {
				return fmt.Errorf("failed to execute script %s: %w", script.FileName, err)
			}
		}
		e.loaded = true
	}
	if _, err := e.call(initFunction, payload, true); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	return nil
}

// Handler returns a handler for the global function named method.
func (e *Engine) Handler(method string) (codecworker.HandlerFunc, bool) {
	if method == initFunction {
		return nil, false
	}
	name, err := json.Marshal(method)
	if err != nil {
		return nil, false
	}
	kind, err := e.Ctx.RunScript(fmt.Sprintf("typeof globalThis[%s]", name), "handler_check.js")
	if err != nil || kind.String() != "function" {
		return nil, false
	}
	return func(ctx context.Context, payload any) (any, error) {
		return e.call(method, payload, false)
	}, true
}

// call runs method through the rpc script and decodes its JSON result.
func (e *Engine) call(method string, payload any, optional bool) (any, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	rpcVal, err := e.Ctx.RunScript(e.RpcScript, "module_rpc.js")
	if err != nil {
		return nil, fmt.Errorf("failed to run rpc script: %w", err)
	}
	if !rpcVal.IsFunction() {
		return nil, fmt.Errorf("rpc script did not return a function")
	}
	rpcFn, err := rpcVal.AsFunction()
	if err != nil {
		return nil, fmt.Errorf("rpc script did not return a function: %w", err)
	}

	jsMethod, err := v8NewValue(e.Iso, method)
	if err != nil {
		return nil, fmt.Errorf("failed to create method value: %w", err)
	}
	jsPayload, err := v8NewValue(e.Iso, string(payloadJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create payload value: %w", err)
	}
	jsOptional, err := v8NewValue(e.Iso, optional)
	if err != nil {
		return nil, fmt.Errorf("failed to create flag value: %w", err)
	}

	promiseVal, err := rpcFn.Call(e.Ctx.Global(), jsMethod, jsPayload, jsOptional)
	if err != nil {
		return nil, fmt.Errorf("rpc function call failed: %w", err)
	}
	promise, err := promiseVal.AsPromise()
	if err != nil {
		return nil, fmt.Errorf("rpc call did not return a promise: %w", err)
	}

	e.Ctx.PerformMicrotaskCheckpoint()

	switch promise.State() {
	case v8go.Rejected:
		return nil, errors.New(errorMessage(promise.Result()))
	case v8go.Pending:
		return nil, fmt.Errorf("%s did not settle", method)
	}

	var result any
	if err := json.Unmarshal([]byte(promise.Result().String()), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return result, nil
}

// errorMessage extracts the message of a rejection value. Errors yield their
// message property; anything else is stringified.
func errorMessage(v *v8go.Value) string {
	if v == nil || v.IsUndefined() || v.IsNull() {
		return "unknown error"
	}
	if v.IsObject() {
		if obj, err := v.AsObject(); err == nil {
			if msg, err := obj.Get("message"); err == nil && msg != nil && !msg.IsUndefined() {
				return msg.String()
			}
		}
	}
	return v.String()
}

// Close releases the context and the isolate.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	return nil
}
