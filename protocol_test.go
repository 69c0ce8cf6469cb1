// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	replies []OutboundMessage
}

func (r *recorder) post(msg OutboundMessage) {
	r.replies = append(r.replies, msg)
}

func (r *recorder) last() OutboundMessage {
	return r.replies[len(r.replies)-1]
}

func newTestEndpoint(h Handlers) (*Endpoint, *recorder) {
	rec := &recorder{}
	return NewEndpoint(&h, rec.post, nil), rec
}

func TestEndpoint_Announce(t *testing.T) {
	ep, rec := newTestEndpoint(Handlers{})
	ep.Announce()
	require.Equal(t, []OutboundMessage{{Type: MessageLoaded}}, rec.replies)
}

func TestEndpoint_RequiresInit(t *testing.T) {
	called := false
	ep, rec := newTestEndpoint(Handlers{Methods: map[string]HandlerFunc{
		"decode": func(ctx context.Context, payload any) (any, error) {
			called = true
			return nil, nil
		},
	}})

	ep.Handle(context.Background(), InboundMessage{Type: "decode", ID: 7})
	require.False(t, called)
	require.Equal(t, OutboundMessage{ID: 7, Error: "Worker not initialized. Call init() first."}, rec.last())

	ep.Handle(context.Background(), InboundMessage{Type: MessageInit, ID: InitMessageID})
	require.True(t, ep.Initialized())
	require.Equal(t, OutboundMessage{Type: MessageReady}, rec.last())

	ep.Handle(context.Background(), InboundMessage{Type: "decode", ID: 8})
	require.True(t, called)
	require.True(t, rec.last().Success)
}

func TestEndpoint_InitPayload(t *testing.T) {
	var got any
	ep, rec := newTestEndpoint(Handlers{InitFunc: func(ctx context.Context, payload any) error {
		got = payload
		return nil
	}})
	ep.Handle(context.Background(), InboundMessage{Type: MessageInit, ID: InitMessageID, Payload: map[string]any{"threads": 2}})
	require.Equal(t, map[string]any{"threads": 2}, got)
	require.Equal(t, MessageReady, rec.last().Type)
}

func TestEndpoint_InitFailure(t *testing.T) {
	ep, rec := newTestEndpoint(Handlers{InitFunc: func(ctx context.Context, payload any) error {
		return errors.New("codec module failed to load")
	}})
	ep.Handle(context.Background(), InboundMessage{Type: MessageInit, ID: InitMessageID})
	require.False(t, ep.Initialized())
	require.Equal(t, OutboundMessage{ID: InitMessageID, Error: "codec module failed to load"}, rec.last())
}

func TestEndpoint_UnknownMethod(t *testing.T) {
	ep, rec := newTestEndpoint(Handlers{})
	ep.Handle(context.Background(), InboundMessage{Type: MessageInit, ID: InitMessageID})
	ep.Handle(context.Background(), InboundMessage{Type: "transcode", ID: 3})
	require.Equal(t, OutboundMessage{ID: 3, Error: "Unknown message type: transcode"}, rec.last())
}

func TestEndpoint_HandlerFailure(t *testing.T) {
	ep, rec := newTestEndpoint(Handlers{Methods: map[string]HandlerFunc{
		"fail": func(ctx context.Context, payload any) (any, error) {
			return nil, errors.New("invalid quality")
		},
		"panic": func(ctx context.Context, payload any) (any, error) {
			panic("index out of range")
		},
	}})
	ctx := context.Background()
	ep.Handle(ctx, InboundMessage{Type: MessageInit, ID: InitMessageID})

	ep.Handle(ctx, InboundMessage{Type: "fail", ID: 1})
	require.Equal(t, OutboundMessage{ID: 1, Error: "invalid quality"}, rec.last())

	ep.Handle(ctx, InboundMessage{Type: "panic", ID: 2})
	require.Equal(t, OutboundMessage{ID: 2, Error: "index out of range"}, rec.last())

	// Still serving after a panic.
	ep.Handle(ctx, InboundMessage{Type: "fail", ID: 3})
	require.Equal(t, int64(3), rec.last().ID)
}

func TestEndpoint_CollectsTransferables(t *testing.T) {
	pixels := make([]byte, 16)
	ep, rec := newTestEndpoint(Handlers{Methods: map[string]HandlerFunc{
		"decode": func(ctx context.Context, payload any) (any, error) {
			return map[string]any{"data": pixels, "width": 4, "height": 4}, nil
		},
		"info": func(ctx context.Context, payload any) (any, error) {
			return map[string]any{"width": 4, "height": 4}, nil
		},
	}})
	ctx := context.Background()
	ep.Handle(ctx, InboundMessage{Type: MessageInit, ID: InitMessageID})

	ep.Handle(ctx, InboundMessage{Type: "decode", ID: 1})
	reply := rec.last()
	require.True(t, reply.Success)
	require.Equal(t, []Transferable{pixels}, reply.Transfer)

	ep.Handle(ctx, InboundMessage{Type: "info", ID: 2})
	require.Empty(t, rec.last().Transfer)
}
