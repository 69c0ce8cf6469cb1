// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker_test

import (
	"testing"

	codecworker "github.com/buke/codec-worker"
	gojaengine "github.com/buke/codec-worker/engines/goja"
)

// TestIntegration_ClientWithGoja_ConcurrentTasks tests concurrent calls on goja workers.
func TestIntegration_ClientWithGoja_ConcurrentTasks(t *testing.T) {
	runConcurrentHello(t, gojaengine.NewFactory([]*codecworker.Script{helloScript}), "Goja")
}
