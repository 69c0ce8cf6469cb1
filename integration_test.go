// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	codecworker "github.com/buke/codec-worker"
	"github.com/stretchr/testify/require"
)

var helloScript = &codecworker.Script{
	FileName: "hello.js",
	Content: `
		var greeting = "Hello";
		function init(payload) { if (payload && payload.greeting) greeting = payload.greeting; }
		function hello(name) { return greeting + ", " + name + "!"; }
	`,
}

// runConcurrentHello floods a small pool with calls from many goroutines and
// checks every reply lands on the right caller.
func runConcurrentHello(t *testing.T, module codecworker.ModuleFactory, prefix string) {
	t.Helper()

	client := codecworker.NewClient(codecworker.WithLogger(nil))
	defer client.Terminate()
	require.NoError(t, client.Init(context.Background(), &codecworker.Config{
		Module:      module,
		PoolSize:    4,
		InitPayload: map[string]any{"greeting": "Hi"},
	}))

	const (
		goroutineCount    = 16
		tasksPerGoroutine = 64
		totalTasks        = goroutineCount * tasksPerGoroutine
	)
	results := make([]string, totalTasks)
	errs := make([]error, totalTasks)

	var wg sync.WaitGroup
	wg.Add(goroutineCount)
	for g := 0; g < goroutineCount; g++ {
		go func(gid int) {
			defer wg.Done()
			for i := 0; i < tasksPerGoroutine; i++ {
				idx := gid*tasksPerGoroutine + i
				result, err := client.Call(context.Background(), "hello", fmt.Sprintf("%sUser%d", prefix, idx))
				if err == nil {
					results[idx] = fmt.Sprintf("%v", result)
				}
				errs[idx] = err
			}
		}(g)
	}
	wg.Wait()

	for i := 0; i < totalTasks; i++ {
		require.NoError(t, errs[i], "task %d failed", i)
		require.Equal(t, fmt.Sprintf("Hi, %sUser%d!", prefix, i), results[i])
	}
	require.Equal(t, codecworker.Stats{PoolSize: 4, AvailableWorkers: 4}, client.Stats())
}
