// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"context"
	"testing"

	codecworker "github.com/buke/codec-worker"
	"github.com/stretchr/testify/require"
)

// TestIntegration_ClientWithGoja runs scripted handlers through a client and its pool.
func TestIntegration_ClientWithGoja(t *testing.T) {
	client := codecworker.NewClient()
	defer client.Terminate()

	err := client.Init(context.Background(), &codecworker.Config{
		Module: NewFactory([]*codecworker.Script{{
			FileName: "codec.js",
			Content: `
				var quality = 0;
				function init(payload) { quality = payload.quality; }
				function describe(p) { return p.format + "@" + quality; }
			`,
		}}),
		PoolSize:    2,
		InitPayload: map[string]any{"quality": 75},
	})
	require.NoError(t, err)
	require.True(t, client.IsInitialized())

	result, err := client.Call(context.Background(), "describe", map[string]any{"format": "webp"})
	require.NoError(t, err)
	require.Equal(t, "webp@75", result)

	_, err = client.Call(context.Background(), "missing", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Unknown message type: missing")
}

// TestIntegration_ClientWithGoja_InitFailure checks that a throwing init fails the pool.
func TestIntegration_ClientWithGoja_InitFailure(t *testing.T) {
	client := codecworker.NewClient()
	defer client.Terminate()

	err := client.Init(context.Background(), &codecworker.Config{
		Module: NewFactory([]*codecworker.Script{{
			FileName: "broken.js",
			Content:  `function init() { throw new Error("module not found"); }`,
		}}),
		PoolSize: 1,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "module not found")
}
