// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import "context"

// HandlerFunc executes one named method inside a worker.
type HandlerFunc func(ctx context.Context, payload any) (any, error)

// Module is the set of handlers loaded into a single worker.
// A module is created, used and closed on the worker's own goroutine only.
type Module interface {
	// Init prepares the module with the payload carried by the init message.
	Init(ctx context.Context, payload any) error

	// Handler returns the handler registered for method, if any.
	Handler(method string) (HandlerFunc, bool)

	// Close releases resources held by the module.
	Close() error
}

// ModuleFactory creates a Module. It is invoked once per worker, inside the worker.
type ModuleFactory func() (Module, error)

// Script is a source file loaded by scripted modules.
type Script struct {
	Content  string // Script content
	FileName string // Script file name for debugging purposes
}

// Handlers is a map-backed Module.
type Handlers struct {
	InitFunc  func(ctx context.Context, payload any) error // Optional init hook
	Methods   map[string]HandlerFunc                       // Named methods
	CloseFunc func() error                                 // Optional cleanup hook
}

// Init runs InitFunc if set.
func (h *Handlers) Init(ctx context.Context, payload any) error {
	if h.InitFunc != nil {
		return h.InitFunc(ctx, payload)
	}
	return nil
}

// Handler looks up a method by name.
func (h *Handlers) Handler(method string) (HandlerFunc, bool) {
	fn, ok := h.Methods[method]
	if !ok || fn == nil {
		return nil, false
	}
	return fn, true
}

// Close runs CloseFunc if set.
func (h *Handlers) Close() error {
	if h.CloseFunc != nil {
		return h.CloseFunc()
	}
	return nil
}

// Static returns a ModuleFactory that yields a fresh copy of h for every worker.
func Static(h Handlers) ModuleFactory {
	return func() (Module, error) {
		methods := make(map[string]HandlerFunc, len(h.Methods))
		for name, fn := range h.Methods {
			methods[name] = fn
		}
		return &Handlers{InitFunc: h.InitFunc, Methods: methods, CloseFunc: h.CloseFunc}, nil
	}
}
