// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Worker is a background execution context. The controller talks to it
// through messages only.
type Worker interface {
	// PostMessage delivers msg to the worker. Transferables passed along
	// belong to the worker from this point on.
	PostMessage(msg InboundMessage, transfer ...Transferable) error

	// Messages delivers the worker's replies. It is closed when the worker exits.
	Messages() <-chan OutboundMessage

	// Errors delivers failures that are not tied to a message.
	Errors() <-chan error

	// Terminate stops the worker. Messages still queued are discarded.
	Terminate() error
}

// WorkerFactory creates one worker per pool slot.
type WorkerFactory func() (Worker, error)

const (
	inboxSize  = 8
	outboxSize = 8
)

var workerIdCounter uint32

// thread is a Worker backed by a goroutine locked to its own OS thread.
// The module is created, used and closed on that goroutine.
type thread struct {
	name     string
	workerId uint32
	factory  ModuleFactory
	logger   *slog.Logger

	inbox  chan InboundMessage
	outbox chan OutboundMessage
	errs   chan error
	quit   chan struct{}
	done   chan struct{}

	stopOnce  sync.Once
	taskCount uint32 // Number of messages handled (atomic)
}

// NewWorker starts a thread-backed worker that loads the module built by factory.
func NewWorker(factory ModuleFactory, logger *slog.Logger) Worker {
	return startThread(factory, logger)
}

// NewWorkerFactory returns a WorkerFactory producing thread-backed workers.
// Callers are responsible for sending the init message to each worker.
func NewWorkerFactory(factory ModuleFactory, logger *slog.Logger) WorkerFactory {
	return func() (Worker, error) {
		if factory == nil {
			return nil, fmt.Errorf("module factory must be provided")
		}
		return startThread(factory, logger), nil
	}
}

func startThread(factory ModuleFactory, logger *slog.Logger) *thread {
	id := atomic.AddUint32(&workerIdCounter, 1)
	t := &thread{
		name:     "worker-" + strconv.FormatUint(uint64(id), 10),
		workerId: id,
		factory:  factory,
		logger:   logger,
		inbox:    make(chan InboundMessage, inboxSize),
		outbox:   make(chan OutboundMessage, outboxSize),
		errs:     make(chan error, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

// PostMessage implements Worker. Ownership of transferables is handed over
// by contract only: both sides share one address space.
func (t *thread) PostMessage(msg InboundMessage, transfer ...Transferable) error {
	select {
	case <-t.quit:
		return ErrWorkerTerminated
	default:
	}
	select {
	case t.inbox <- msg:
		return nil
	case <-t.quit:
		return ErrWorkerTerminated
	}
}

// Messages implements Worker.
func (t *thread) Messages() <-chan OutboundMessage {
	return t.outbox
}

// Errors implements Worker.
func (t *thread) Errors() <-chan error {
	return t.errs
}

// Terminate implements Worker. It does not wait for a running handler.
func (t *thread) Terminate() error {
	t.stopOnce.Do(func() {
		close(t.quit)
	})
	return nil
}

// getTaskCount returns the number of messages handled by this worker.
func (t *thread) getTaskCount() uint32 {
	return atomic.LoadUint32(&t.taskCount)
}

// run is the worker loop.
func (t *thread) run() {
	// Native codec runtimes expect to be driven from a single OS thread.
	runtime.LockOSThread()

	defer close(t.done)
	defer close(t.outbox)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	module, err := t.loadModule()
	if err != nil {
		if t.logger != nil {
			t.logger.Error("Failed to load module",
				"worker", t.name,
				"error", err,
			)
		}
		t.fail(err)
		return
	}
	defer func() {
		if err := module.Close(); err != nil && t.logger != nil {
			t.logger.Error("Failed to close module",
				"worker", t.name,
				"error", err)
		}
	}()

	endpoint := NewEndpoint(module, t.post, t.logger)
	endpoint.Announce()
	if t.logger != nil {
		t.logger.Debug("Worker loaded", "worker", t.name)
	}

	for {
		select {
		case msg := <-t.inbox:
			endpoint.Handle(ctx, msg)
			atomic.AddUint32(&t.taskCount, 1)
		case <-t.quit:
			if t.logger != nil {
				t.logger.Debug("Worker stopped",
					"worker", t.name,
					"handled", t.getTaskCount())
			}
			return
		}
	}
}

// loadModule builds the module, recovering a panicking factory.
func (t *thread) loadModule() (module Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			module = nil
			err = fmt.Errorf("panic while loading module in %s: %v", t.name, r)
		}
	}()
	module, err = t.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create module: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("module factory returned nil")
	}
	return module, nil
}

// post sends a reply unless the worker is stopping.
func (t *thread) post(msg OutboundMessage) {
	select {
	case t.outbox <- msg:
	case <-t.quit:
	}
}

// fail reports an error event without blocking.
func (t *thread) fail(err error) {
	select {
	case t.errs <- err:
	default:
	}
}
