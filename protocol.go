// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"fmt"
	"log/slog"
)

// Endpoint turns a Module into a message-driven RPC endpoint.
// It runs inside a worker and is not safe for concurrent use.
type Endpoint struct {
	module      Module
	post        func(OutboundMessage)
	initialized bool
	logger      *slog.Logger
}

// NewEndpoint creates an endpoint that replies through post.
func NewEndpoint(module Module, post func(OutboundMessage), logger *slog.Logger) *Endpoint {
	return &Endpoint{
		module: module,
		post:   post,
		logger: logger,
	}
}

// Announce tells the controller that the module has loaded.
func (e *Endpoint) Announce() {
	e.post(OutboundMessage{Type: MessageLoaded})
}

// Initialized reports whether an init message has completed successfully.
func (e *Endpoint) Initialized() bool {
	return e.initialized
}

// Handle processes one inbound message and posts exactly one reply.
func (e *Endpoint) Handle(ctx context.Context, msg InboundMessage) {
	if msg.Type == MessageInit {
		if err := e.call(msg, func() error {
			return e.module.Init(ctx, msg.Payload)
		}); err != nil {
			if e.logger != nil {
				e.logger.Error("Module init failed", "error", err)
			}
			e.reply(OutboundMessage{ID: msg.ID, Error: err.Error()})
			return
		}
		e.initialized = true
		e.reply(OutboundMessage{Type: MessageReady})
		return
	}

	if !e.initialized {
		e.reply(OutboundMessage{ID: msg.ID, Error: notInitializedMessage})
		return
	}

	handler, ok := e.module.Handler(msg.Type)
	if !ok {
		e.reply(OutboundMessage{ID: msg.ID, Error: "Unknown message type: " + msg.Type})
		return
	}

	var result any
	err := e.call(msg, func() error {
		var err error
		result, err = handler(ctx, msg.Payload)
		return err
	})
	if err != nil {
		e.reply(OutboundMessage{ID: msg.ID, Error: err.Error()})
		return
	}
	e.reply(OutboundMessage{
		ID:       msg.ID,
		Success:  true,
		Data:     result,
		Transfer: CollectTransferables(result),
	})
}

// call runs fn, converting a panic into an error.
func (e *Endpoint) call(msg InboundMessage, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
			if e.logger != nil {
				e.logger.Error("Handler panic recovered",
					"type", msg.Type,
					"id", msg.ID,
					"error", r)
			}
		}
	}()
	return fn()
}

func (e *Endpoint) reply(msg OutboundMessage) {
	e.post(msg)
}
