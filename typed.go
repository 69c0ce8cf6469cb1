// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"fmt"
)

// Method names a worker method together with its payload and result types.
// The wire still carries the name; the type parameters are checked by the
// compiler on both ends.
type Method[P, R any] struct {
	Name string
}

// NewMethod declares a typed method.
func NewMethod[P, R any](name string) Method[P, R] {
	return Method[P, R]{Name: name}
}

// Handle adapts a typed function into a HandlerFunc for this method.
func (m Method[P, R]) Handle(fn func(ctx context.Context, payload P) (R, error)) HandlerFunc {
	return func(ctx context.Context, payload any) (any, error) {
		p, ok := payload.(P)
		if !ok {
			var zero P
			return nil, fmt.Errorf("invalid payload for %s: got %T, want %T", m.Name, payload, zero)
		}
		return fn(ctx, p)
	}
}

// Task builds an untyped task for this method.
func (m Method[P, R]) Task(payload P, transfer ...Transferable) Task {
	return Task{Type: m.Name, Payload: payload, Transferables: transfer}
}

// Call invokes m through client and converts the result to R.
func Call[P, R any](ctx context.Context, client *Client, m Method[P, R], payload P, transfer ...Transferable) (R, error) {
	var zero R
	result, err := client.Call(ctx, m.Name, payload, transfer...)
	if err != nil {
		return zero, err
	}
	return resultAs[R](m.Name, result)
}

// Execute runs m on pool and converts the result to R.
func Execute[P, R any](ctx context.Context, pool *Pool, m Method[P, R], payload P, transfer ...Transferable) (R, error) {
	var zero R
	result, err := pool.Execute(ctx, m.Task(payload, transfer...))
	if err != nil {
		return zero, err
	}
	return resultAs[R](m.Name, result)
}

func resultAs[R any](method string, result any) (R, error) {
	var zero R
	if result == nil {
		return zero, nil
	}
	r, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("invalid result for %s: got %T, want %T", method, result, zero)
	}
	return r, nil
}
