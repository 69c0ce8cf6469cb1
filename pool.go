// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sync/errgroup"
)

// DefaultInitTimeout bounds the init handshake of each worker.
const DefaultInitTimeout = 30 * time.Second

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	PoolSize         int `json:"poolSize"`
	AvailableWorkers int `json:"availableWorkers"`
	QueuedTasks      int `json:"queuedTasks"`
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the pool logger. A nil logger disables logging.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithPoolInitTimeout overrides DefaultInitTimeout.
func WithPoolInitTimeout(timeout time.Duration) PoolOption {
	return func(p *Pool) {
		if timeout > 0 {
			p.initTimeout = timeout
		}
	}
}

// Pool schedules tasks over a fixed set of workers.
//
// Tasks leave the queue in submission order. Free workers are kept on a
// stack, so the most recently freed worker takes the next task. Each worker
// runs one task at a time.
type Pool struct {
	factory     WorkerFactory
	size        int
	initTimeout time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	workers    []Worker     // All live workers
	available  []Worker     // Idle workers, used as a LIFO stack
	queue      *queue.Queue // FIFO of *queuedTask
	terminated bool
	initDone   chan struct{} // Closed once init has settled; nil before the first Init
	initErr    error

	taskIdCounter int64 // Source of task ids (atomic)
}

// NewPool creates a pool of size workers built by factory. Workers are not
// started until Init or the first Submit. A size below 1 means one worker per CPU.
func NewPool(factory WorkerFactory, size int, opts ...PoolOption) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		factory:     factory,
		size:        size,
		initTimeout: DefaultInitTimeout,
		logger:      slog.Default(),
		queue:       queue.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init starts every worker and waits for all of them to become ready.
// Only the first call creates workers; later calls report the same outcome.
// ctx bounds the caller's wait, not the handshake itself.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return ErrPoolTerminated
	}
	done := p.startInitLocked()
	p.mu.Unlock()

	select {
	case <-done:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.terminated {
			return ErrPoolTerminated
		}
		return p.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startInitLocked launches the handshake once. p.mu must be held.
func (p *Pool) startInitLocked() chan struct{} {
	if p.initDone == nil {
		p.initDone = make(chan struct{})
		go p.initialize(p.initDone)
	}
	return p.initDone
}

// initialize creates the workers and waits for every handshake.
func (p *Pool) initialize(done chan struct{}) {
	workers, err := p.createWorkers()
	if err == nil {
		p.mu.Lock()
		terminated := p.terminated
		if !terminated {
			p.workers = workers
		}
		p.mu.Unlock()

		if terminated {
			err = ErrPoolTerminated
		} else {
			err = p.awaitReady(workers)
		}
	}

	var rejected []*queuedTask
	p.mu.Lock()
	switch {
	case p.terminated:
		err = ErrPoolTerminated
	case err == nil:
		p.available = append(p.available, workers...)
	default:
		p.workers = nil
		rejected = p.drainQueueLocked()
	}
	p.initErr = err
	p.mu.Unlock()

	if err != nil {
		terminateWorkers(workers, p.logger)
		initErr := fmt.Errorf("worker pool init failed: %w", err)
		for _, qt := range rejected {
			qt.future.reject(initErr)
		}
		if p.logger != nil {
			p.logger.Error("Worker pool init failed",
				"poolSize", p.size,
				"rejectedTasks", len(rejected),
				"error", err)
		}
		close(done)
		return
	}

	if p.logger != nil {
		p.logger.Debug("Worker pool ready",
			"poolSize", p.size,
			"initTimeout", p.initTimeout,
		)
	}
	close(done)
	p.dispatch()
}

// createWorkers builds size workers, terminating the ones already built on failure.
func (p *Pool) createWorkers() ([]Worker, error) {
	if p.factory == nil {
		return nil, fmt.Errorf("worker factory must be provided")
	}
	workers := make([]Worker, 0, p.size)
	for i := 0; i < p.size; i++ {
		w, err := p.createWorker()
		if err != nil {
			terminateWorkers(workers, p.logger)
			return nil, fmt.Errorf("failed to create worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func (p *Pool) createWorker() (w Worker, err error) {
	defer func() {
		if r := recover(); r != nil {
			w = nil
			err = fmt.Errorf("panic in worker factory: %v", r)
		}
	}()
	w, err = p.factory()
	if err == nil && w == nil {
		err = fmt.Errorf("worker factory returned nil")
	}
	return w, err
}

// awaitReady waits for every worker's handshake. The first failure wins.
func (p *Pool) awaitReady(workers []Worker) error {
	g, ctx := errgroup.WithContext(context.Background())
	for i, w := range workers {
		g.Go(func() error {
			if err := p.awaitWorkerReady(ctx, w); err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// awaitWorkerReady races the init timeout against the worker's ready or error signal.
func (p *Pool) awaitWorkerReady(ctx context.Context, w Worker) error {
	timer := time.NewTimer(p.initTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-w.Messages():
			if !ok {
				return ErrWorkerTerminated
			}
			switch {
			case msg.Type == MessageReady:
				return nil
			case msg.Type == MessageError,
				msg.Type == "" && !msg.Success && msg.ID == InitMessageID:
				return &RemoteError{Method: MessageInit, Message: msg.Error}
			}
			// "loaded" and stray messages: keep waiting
		case err := <-w.Errors():
			return err
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrInitTimeout, p.initTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Submit queues a task and returns its future. The first Submit starts the
// workers if Init has not been called.
func (p *Pool) Submit(task Task) *Future {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return rejectedFuture(ErrPoolTerminated)
	}
	if p.initErr != nil {
		err := p.initErr
		p.mu.Unlock()
		return rejectedFuture(fmt.Errorf("worker pool init failed: %w", err))
	}
	qt := &queuedTask{
		id:     atomic.AddInt64(&p.taskIdCounter, 1),
		task:   task,
		future: newFuture(),
	}
	p.queue.Add(qt)
	p.startInitLocked()
	p.mu.Unlock()

	p.dispatch()
	return qt.future
}

// Execute submits a task and waits for its result.
func (p *Pool) Execute(ctx context.Context, task Task) (any, error) {
	return p.Submit(task).Await(ctx)
}

// ExecuteAll submits every task and returns the results in input order.
// It fails with the first task error.
func (p *Pool) ExecuteAll(ctx context.Context, tasks []Task) ([]any, error) {
	futures := make([]*Future, len(tasks))
	for i, task := range tasks {
		futures[i] = p.Submit(task)
	}

	results := make([]any, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range futures {
		g.Go(func() error {
			result, err := f.Await(gctx)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// dispatch pairs idle workers with queued tasks until either runs out.
func (p *Pool) dispatch() {
	type assignment struct {
		worker Worker
		task   *queuedTask
	}
	var batch []assignment

	p.mu.Lock()
	for p.queue.Length() > 0 && len(p.available) > 0 {
		n := len(p.available) - 1
		w := p.available[n]
		p.available[n] = nil
		p.available = p.available[:n]
		batch = append(batch, assignment{worker: w, task: p.queue.Remove().(*queuedTask)})
	}
	p.mu.Unlock()

	for _, a := range batch {
		p.post(a.worker, a.task)
	}
}

// post hands a task to a worker and waits for the reply in the background.
func (p *Pool) post(w Worker, qt *queuedTask) {
	msg := InboundMessage{Type: qt.task.Type, ID: qt.id, Payload: qt.task.Payload}
	if err := w.PostMessage(msg, qt.task.Transferables...); err != nil {
		p.release(w)
		qt.future.reject(fmt.Errorf("failed to post task %s: %w", qt.task.Type, err))
		return
	}
	go p.await(w, qt)
}

// await waits for the reply to qt, recycles the worker, then settles the future.
func (p *Pool) await(w Worker, qt *queuedTask) {
	var (
		result any
		err    error
		alive  = true
	)

wait:
	for {
		select {
		case msg, ok := <-w.Messages():
			if !ok {
				alive = false
				err = fmt.Errorf("task %s: %w", qt.task.Type, ErrWorkerTerminated)
				break wait
			}
			if msg.Type != "" || msg.ID != qt.id {
				continue
			}
			if msg.Success {
				result = msg.Data
			} else {
				err = &RemoteError{Method: qt.task.Type, Message: msg.Error}
			}
			break wait
		case werr := <-w.Errors():
			err = fmt.Errorf("worker error during %s: %w", qt.task.Type, werr)
			break wait
		}
	}

	if alive {
		p.release(w)
	}
	if err != nil {
		qt.future.reject(err)
		return
	}
	qt.future.resolve(result)
}

// release returns a worker to the idle stack and drains more of the queue.
func (p *Pool) release(w Worker) {
	p.mu.Lock()
	if !p.terminated {
		p.available = append(p.available, w)
	}
	p.mu.Unlock()
	p.dispatch()
}

// drainQueueLocked empties the queue. p.mu must be held.
func (p *Pool) drainQueueLocked() []*queuedTask {
	var drained []*queuedTask
	for p.queue.Length() > 0 {
		drained = append(drained, p.queue.Remove().(*queuedTask))
	}
	return drained
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		PoolSize:         p.size,
		AvailableWorkers: len(p.available),
		QueuedTasks:      p.queue.Length(),
	}
}

// IsInitialized reports whether the pool has live workers.
func (p *Pool) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers) > 0 && !p.terminated
}

// Terminate stops every worker and rejects the tasks still queued.
// Tasks already running on a worker are not rejected by this call.
func (p *Pool) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	workers := p.workers
	p.workers = nil
	p.available = nil
	pending := p.drainQueueLocked()
	p.mu.Unlock()

	terminateWorkers(workers, p.logger)
	for _, qt := range pending {
		qt.future.reject(ErrPoolTerminated)
	}

	if p.logger != nil {
		p.logger.Debug("Worker pool terminated",
			"workers", len(workers),
			"rejectedTasks", len(pending))
	}
}

func terminateWorkers(workers []Worker, logger *slog.Logger) {
	for _, w := range workers {
		if err := w.Terminate(); err != nil && logger != nil {
			logger.Error("Failed to terminate worker", "error", err)
		}
	}
}
