// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"sync"
	"sync/atomic"
)

// mockWorker is a scriptable in-process Worker. Replies are produced by
// handle on a separate goroutine, like a real worker would.
type mockWorker struct {
	id     int
	handle func(w *mockWorker, msg InboundMessage)

	mu         sync.Mutex
	out        chan OutboundMessage
	errs       chan error
	posted     []InboundMessage
	transfers  [][]Transferable
	terminated bool
}

func newMockWorker(id int, handle func(w *mockWorker, msg InboundMessage)) *mockWorker {
	return &mockWorker{
		id:     id,
		handle: handle,
		out:    make(chan OutboundMessage, 64),
		errs:   make(chan error, 4),
	}
}

func (w *mockWorker) PostMessage(msg InboundMessage, transfer ...Transferable) error {
	w.mu.Lock()
	if w.terminated {
		w.mu.Unlock()
		return ErrWorkerTerminated
	}
	w.posted = append(w.posted, msg)
	w.transfers = append(w.transfers, transfer)
	w.mu.Unlock()

	if w.handle != nil {
		go w.handle(w, msg)
	}
	return nil
}

func (w *mockWorker) Messages() <-chan OutboundMessage { return w.out }

func (w *mockWorker) Errors() <-chan error { return w.errs }

func (w *mockWorker) Terminate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.terminated {
		w.terminated = true
		close(w.out)
	}
	return nil
}

// reply sends msg unless the worker has been terminated.
func (w *mockWorker) reply(msg OutboundMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.terminated {
		w.out <- msg
	}
}

func (w *mockWorker) fail(err error) {
	w.errs <- err
}

func (w *mockWorker) isTerminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated
}

func (w *mockWorker) postedMessages() []InboundMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]InboundMessage(nil), w.posted...)
}

func (w *mockWorker) postedTransfers() [][]Transferable {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]Transferable(nil), w.transfers...)
}

// echo replies with the payload of every task.
func echo(w *mockWorker, msg InboundMessage) {
	w.reply(OutboundMessage{ID: msg.ID, Success: true, Data: msg.Payload})
}

// mockFactory creates mock workers that announce themselves and become
// ready immediately unless ready is false.
type mockFactory struct {
	ready  bool
	handle func(w *mockWorker, msg InboundMessage)
	onInit func(w *mockWorker)
	fail   func(n int) error

	mu      sync.Mutex
	workers []*mockWorker
	calls   int32
}

func (f *mockFactory) factory() WorkerFactory {
	return func() (Worker, error) {
		n := int(atomic.AddInt32(&f.calls, 1))
		if f.fail != nil {
			if err := f.fail(n); err != nil {
				return nil, err
			}
		}
		w := newMockWorker(n-1, f.handle)
		w.out <- OutboundMessage{Type: MessageLoaded}
		if f.onInit != nil {
			f.onInit(w)
		} else if f.ready {
			w.out <- OutboundMessage{Type: MessageReady}
		}
		f.mu.Lock()
		f.workers = append(f.workers, w)
		f.mu.Unlock()
		return w, nil
	}
}

func (f *mockFactory) created() []*mockWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockWorker(nil), f.workers...)
}
