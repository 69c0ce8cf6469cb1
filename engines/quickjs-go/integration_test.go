// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"context"
	"sync"
	"testing"

	codecworker "github.com/buke/codec-worker"
	"github.com/stretchr/testify/require"
)

// TestIntegration_ClientWithQuickJS runs concurrent calls against QuickJS workers.
func TestIntegration_ClientWithQuickJS(t *testing.T) {
	client := codecworker.NewClient()
	defer client.Terminate()

	require.NoError(t, client.Init(context.Background(), &codecworker.Config{
		Module: NewFactory([]*codecworker.Script{{
			FileName: "scale.js",
			Content: `
				var factor = 1;
				function init(payload) { factor = payload.factor; }
				function scale(p) { return p.value * factor; }
			`,
		}}),
		PoolSize:    2,
		InitPayload: map[string]any{"factor": 3},
	}))

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := client.Call(context.Background(), "scale", map[string]any{"value": i})
			require.NoError(t, err)
			require.Equal(t, float64(i*3), result)
		}(i)
	}
	wg.Wait()
}
