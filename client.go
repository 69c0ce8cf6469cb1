// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config describes the workers a Client runs.
type Config struct {
	Module      ModuleFactory // Builds the handler module inside each worker
	PoolSize    int           // Number of workers (0 uses the client default)
	InitPayload any           // Sent to every worker with the init message
}

// Client exposes a method-call API backed by a single worker pool.
type Client struct {
	mu     sync.Mutex
	config *Config
	pool   *Pool

	poolSize    int           // Fallback when Config.PoolSize is zero
	initTimeout time.Duration // Handshake timeout per worker
	logger      *slog.Logger
}

// NewClient creates a client. No worker is started until Init or the first Call.
func NewClient(opts ...func(*Client)) *Client {
	client := &Client{
		initTimeout: DefaultInitTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// WithLogger configures the logger for the client and its workers.
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithPoolSize sets the pool size used when Config.PoolSize is zero.
func WithPoolSize(size int) func(*Client) {
	return func(client *Client) {
		if size > 0 {
			client.poolSize = size
		}
	}
}

// WithInitTimeout sets how long each worker may take to become ready.
func WithInitTimeout(timeout time.Duration) func(*Client) {
	return func(client *Client) {
		if timeout > 0 {
			client.initTimeout = timeout
		}
	}
}

// Init starts the worker pool. It does nothing if a pool already exists,
// so the config cannot change until Terminate. cfg may be nil when a config
// was supplied to an earlier Init.
func (c *Client) Init(ctx context.Context, cfg *Config) error {
	c.mu.Lock()
	if c.pool != nil {
		c.mu.Unlock()
		return nil
	}
	if cfg == nil {
		cfg = c.config
	}
	if cfg == nil {
		c.mu.Unlock()
		return ErrConfigRequired
	}
	if cfg.Module == nil {
		c.mu.Unlock()
		return fmt.Errorf("config module factory must be provided")
	}
	stored := *cfg
	c.config = &stored

	size := stored.PoolSize
	if size <= 0 {
		size = c.poolSize
	}
	pool := NewPool(c.workerFactory(&stored), size,
		WithPoolLogger(c.logger),
		WithPoolInitTimeout(c.initTimeout),
	)
	c.pool = pool
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("Starting codec workers", "poolSize", pool.Stats().PoolSize)
	}
	return pool.Init(ctx)
}

// workerFactory starts a thread-backed worker and immediately sends it the init message.
func (c *Client) workerFactory(cfg *Config) WorkerFactory {
	return func() (Worker, error) {
		w := NewWorker(cfg.Module, c.logger)
		initMsg := InboundMessage{Type: MessageInit, ID: InitMessageID, Payload: cfg.InitPayload}
		if err := w.PostMessage(initMsg); err != nil {
			_ = w.Terminate()
			return nil, fmt.Errorf("failed to send init message: %w", err)
		}
		return w, nil
	}
}

// ensurePool returns the current pool, creating it from the stored config if needed.
func (c *Client) ensurePool(ctx context.Context) (*Pool, error) {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool != nil {
		return pool, nil
	}
	if err := c.Init(ctx, nil); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return nil, ErrPoolTerminated
	}
	return c.pool, nil
}

// Call runs method on a worker and returns its result.
func (c *Client) Call(ctx context.Context, method string, payload any, transfer ...Transferable) (any, error) {
	pool, err := c.ensurePool(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Execute(ctx, Task{Type: method, Payload: payload, Transferables: transfer})
}

// Go submits method without waiting for the result.
func (c *Client) Go(ctx context.Context, method string, payload any, transfer ...Transferable) (*Future, error) {
	pool, err := c.ensurePool(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Submit(Task{Type: method, Payload: payload, Transferables: transfer}), nil
}

// Stats returns the pool snapshot, or zero values when no pool exists.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool == nil {
		return Stats{}
	}
	return pool.Stats()
}

// IsInitialized reports whether the client has a live pool.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	return pool != nil && pool.IsInitialized()
}

// Terminate stops the pool. The stored config is kept, so Init or Call
// can start a new pool without supplying it again.
func (c *Client) Terminate() {
	c.mu.Lock()
	pool := c.pool
	c.pool = nil
	c.mu.Unlock()
	if pool != nil {
		pool.Terminate()
	}
}
