// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type scaleRequest struct {
	Width, Height int
	Factor        int
}

type scaleResult struct {
	Width, Height int
}

var scaleMethod = NewMethod[scaleRequest, scaleResult]("scale")

func scaleFactory() ModuleFactory {
	return Static(Handlers{Methods: map[string]HandlerFunc{
		scaleMethod.Name: scaleMethod.Handle(func(ctx context.Context, req scaleRequest) (scaleResult, error) {
			return scaleResult{Width: req.Width * req.Factor, Height: req.Height * req.Factor}, nil
		}),
		"name": func(ctx context.Context, payload any) (any, error) {
			return "scaler", nil
		},
	}})
}

func TestMethod_Handle(t *testing.T) {
	h := scaleMethod.Handle(func(ctx context.Context, req scaleRequest) (scaleResult, error) {
		return scaleResult{Width: req.Width}, nil
	})

	result, err := h(context.Background(), scaleRequest{Width: 3})
	require.NoError(t, err)
	require.Equal(t, scaleResult{Width: 3}, result)

	_, err = h(context.Background(), "3x3")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid payload for scale")
}

func TestMethod_Task(t *testing.T) {
	buf := []byte{1}
	task := scaleMethod.Task(scaleRequest{Factor: 2}, buf)
	require.Equal(t, "scale", task.Type)
	require.Equal(t, scaleRequest{Factor: 2}, task.Payload)
	require.Len(t, task.Transferables, 1)
}

func TestCall_Typed(t *testing.T) {
	client := NewClient(WithLogger(nil))
	defer client.Terminate()
	require.NoError(t, client.Init(context.Background(), &Config{Module: scaleFactory(), PoolSize: 1}))

	result, err := Call(context.Background(), client, scaleMethod, scaleRequest{Width: 2, Height: 3, Factor: 2})
	require.NoError(t, err)
	require.Equal(t, scaleResult{Width: 4, Height: 6}, result)

	// The worker answers "name" with a string, not a scaleResult.
	wrong := NewMethod[scaleRequest, scaleResult]("name")
	_, err = Call(context.Background(), client, wrong, scaleRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid result for name")
}

func TestExecute_Typed(t *testing.T) {
	f := &mockFactory{ready: true, handle: func(w *mockWorker, msg InboundMessage) {
		req := msg.Payload.(scaleRequest)
		w.reply(OutboundMessage{ID: msg.ID, Success: true, Data: scaleResult{Width: req.Width * req.Factor}})
	}}
	p := newTestPool(f, 1)
	defer p.Terminate()

	result, err := Execute(context.Background(), p, scaleMethod, scaleRequest{Width: 5, Factor: 3})
	require.NoError(t, err)
	require.Equal(t, 15, result.Width)

	none := NewMethod[any, []byte]("empty")
	require.Equal(t, "empty", none.Name)
	out, err := resultAs[[]byte]("empty", nil)
	require.NoError(t, err)
	require.Nil(t, out)
}
