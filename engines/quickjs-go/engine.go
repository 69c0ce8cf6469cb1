// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	codecworker "github.com/buke/codec-worker"
	"github.com/buke/quickjs-go"
)

//go:embed module_rpc.js
var rpcScript string

const initFunction = "init"

// Engine implements codecworker.Module on QuickJS. Payloads and results
// cross the boundary as JSON. The runtime is bound to the OS thread of the
// worker that created it.
type Engine struct {
	Runtime   *quickjs.Runtime // QuickJS runtime instance
	Ctx       *quickjs.Context // QuickJS context instance
	Option    *EngineOption    // Engine configuration options
	RpcScript string           // Script dispatching calls to global functions
	scripts   []*codecworker.Script
	loaded    bool
}

// NewFactory returns a ModuleFactory that loads scripts into a new QuickJS runtime per worker.
func NewFactory(scripts []*codecworker.Script, options ...Option) codecworker.ModuleFactory {
	return func() (codecworker.Module, error) {
		return newEngine(scripts, options...)
	}
}

// newEngine creates a QuickJS runtime and context and applies options.
func newEngine(scripts []*codecworker.Script, options ...Option) (*Engine, error) {
	rt := quickjs.NewRuntime()
	ctx := rt.NewContext()

	engine := &Engine{
		Runtime: rt,
		Ctx:     ctx,
		Option: &EngineOption{
			MemoryLimit:  0,  // No memory limit
			GCThreshold:  -1, // No GC threshold
			Timeout:      0,  // No timeout
			MaxStackSize: 0,  // Default stack size
			Strip:        1,
		},
		RpcScript: rpcScript,
		scripts:   scripts,
	}

	rt.SetStripInfo(engine.Option.Strip)

	for _, option := range options {
		if err := option(engine); err != nil {
			engine.Close()
			return nil, err
		}
	}

	return engine, nil
}

// Init evaluates the scripts once, then calls the global init(payload) if defined.
func (e *Engine) Init(ctx context.Context, payload any) error {
	if !e.loaded {
		for _, script := range e.scripts {
			result := e.Ctx.Eval(script.Content, quickjs.EvalFileName(script.FileName), quickjs.EvalAwait(true))
			failed := result.IsException()
			result.Free()
			if failed {
				return fmt.Errorf("failed to execute script %s: %w", script.FileName, e.Ctx.Exception())
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
	check := e.Ctx.Eval(fmt.Sprintf("typeof globalThis[%s]", name))
	defer check.Free()
	if check.IsException() {
		return nil, false
	}
	var kind string
	if err := e.Ctx.Unmarshal(check, &kind); err != nil || kind != "function" {
		return nil, false
	}
	return func(ctx context.Context, payload any) (any, error) {
		return e.call(method, payload, false)
	}, true
}

// call runs method through the rpc script and decodes the JSON result.
func (e *Engine) call(method string, payload any, optional bool) (any, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	fn := e.Ctx.Eval(e.RpcScript, quickjs.EvalFileName("module_rpc.js"))
	defer fn.Free()
	if fn.IsException() {
		return nil, fmt.Errorf("failed to evaluate rpc script: %w", e.Ctx.Exception())
	}

	jsMethod, err := e.Ctx.Marshal(method)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal method: %w", err)
	}
	defer jsMethod.Free()
	jsPayload, err := e.Ctx.Marshal(string(payloadJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	defer jsPayload.Free()
	jsOptional, err := e.Ctx.Marshal(optional)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flag: %w", err)
	}
	defer jsOptional.Free()

	jsResp := fn.Execute(e.Ctx.Null(), jsMethod, jsPayload, jsOptional).Await()
	defer jsResp.Free()
	if jsResp.IsException() {
		return nil, e.Ctx.Exception()
	}

	var resultJSON string
	if err := e.Ctx.Unmarshal(jsResp, &resultJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	var result any
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return result, nil
}

// Close releases the context and runtime.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}
