// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	codecworker "github.com/buke/codec-worker"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

//go:embed module_rpc.js
var rpcScript string

// initFunction is the optional global called with the init payload.
const initFunction = "init"

// Engine implements codecworker.Module on top of the Goja JS engine.
// Scripts define handlers as global functions; all access to the runtime
// is serialized through an event loop.
type Engine struct {
	Loop    *eventloop.EventLoop // The event loop that owns the runtime.
	Option  *EngineOption        // Engine configuration options.
	scripts []*codecworker.Script
	loaded  bool
}

// NewFactory returns a codecworker.ModuleFactory that loads scripts into a
// fresh Goja runtime per worker.
func NewFactory(scripts []*codecworker.Script, opts ...Option) codecworker.ModuleFactory {
	return func() (codecworker.Module, error) {
		return newEngine(scripts, opts...)
	}
}

// newEngine creates a Goja engine with a running event loop.
func newEngine(scripts []*codecworker.Script, opts ...Option) (*Engine, error) {
	loop := eventloop.NewEventLoop()

	e := &Engine{
		Loop:    loop,
		Option:  &EngineOption{},
		scripts: scripts,
	}

	// Options run on the loop, so it must be started first.
	loop.Start()

	if err := WithFieldNameMapper(goja.TagFieldNameMapper("json", true))(e); err != nil {
		loop.Stop()
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			loop.Stop()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// Init evaluates the scripts once, then calls the global init(payload) if it exists.
func (e *Engine) Init(ctx context.Context, payload any) error {
	if !e.loaded {
		if err := e.load(); err != nil {
			return err
		}
		e.loaded = true
	}
	if _, err := e.call(ctx, initFunction, payload, true); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	return nil
}

// load runs the scripts on the event loop.
func (e *Engine) load() error {
	done := make(chan error, 1)
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		for _, script := range e.scripts {
			if _, err := vm.RunScript(script.FileName, script.Content); err != nil {
				done <- fmt.Errorf("failed to execute script %s: %w", script.FileName, err)
				return
			}
		}
		done <- nil
	})
	return <-done
}

// Handler returns a handler for a global function named method.
func (e *Engine) Handler(method string) (codecworker.HandlerFunc, bool) {
	if method == initFunction {
		return nil, false
	}
	exists := make(chan bool, 1)
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		_, ok := goja.AssertFunction(vm.Get(method))
		exists <- ok
	})
	if !<-exists {
		return nil, false
	}
	return func(ctx context.Context, payload any) (any, error) {
		return e.call(ctx, method, payload, false)
	}, true
}

// call invokes a global function through the rpc script and waits for its promise.
func (e *Engine) call(ctx context.Context, method string, payload any, optional bool) (any, error) {
	resultChan := make(chan any, 1)
	errorChan := make(chan error, 1)

	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		fnValue, err := vm.RunScript("module_rpc.js", rpcScript)
		if err != nil {
			errorChan <- fmt.Errorf("failed to load rpc script: %w", err)
			return
		}
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			errorChan <- errors.New("rpc script did not return a function")
			return
		}

		resPromise, err := fn(goja.Undefined(), vm.ToValue(method), vm.ToValue(payload), vm.ToValue(optional))
		if err != nil {
			errorChan <- fmt.Errorf("failed to call rpc function: %w", err)
			return
		}
		if goja.IsUndefined(resPromise) || goja.IsNull(resPromise) {
			errorChan <- errors.New("rpc call did not return a promise-like object")
			return
		}

		promiseObj := resPromise.ToObject(vm)
		then, ok := goja.AssertFunction(promiseObj.Get("then"))
		if !ok {
			errorChan <- errors.New("rpc call did not return a promise (missing .then method)")
			return
		}

		onSuccess := func(call goja.FunctionCall) goja.Value {
			resultChan <- call.Argument(0).Export()
			return goja.Undefined()
		}
		onError := func(call goja.FunctionCall) goja.Value {
			errorChan <- errors.New(errorMessage(call.Argument(0)))
			return goja.Undefined()
		}

		if _, err := then(promiseObj, vm.ToValue(onSuccess), vm.ToValue(onError)); err != nil {
			errorChan <- fmt.Errorf("failed to invoke promise.then: %w", err)
		}
	})

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// errorMessage extracts the message of a thrown value. Errors yield their
// message property; anything else is stringified.
func errorMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "unknown error"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}

// Close stops the event loop and releases the runtime.
func (e *Engine) Close() error {
	if e.Loop != nil {
		e.Loop.Stop()
		e.Loop = nil
	}
	return nil
}
