// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"sync"
)

// Task is a single method invocation to be run by one worker.
// It must not be modified after submission.
type Task struct {
	Type          string         // Method name
	Payload       any            // Method argument
	Transferables []Transferable // Buffers handed over to the worker
}

// Future is the pending result of a submitted task. It settles exactly once.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// rejectedFuture returns a future that has already failed with err.
func rejectedFuture(err error) *Future {
	f := newFuture()
	f.reject(err)
	return f
}

// resolve settles the future with a result. Later calls are ignored.
func (f *Future) resolve(result any) bool {
	settled := false
	f.once.Do(func() {
		f.result = result
		close(f.done)
		settled = true
	})
	return settled
}

// reject settles the future with an error. Later calls are ignored.
func (f *Future) reject(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done.
// Giving up on the wait does not cancel the task.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result blocks until the future settles.
func (f *Future) Result() (any, error) {
	<-f.done
	return f.result, f.err
}

// queuedTask is a task waiting in the pool queue together with its future.
type queuedTask struct {
	id     int64
	task   Task
	future *Future
}
