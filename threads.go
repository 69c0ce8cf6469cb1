// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"fmt"
	"runtime"
)

// ThreadValidation is the outcome of ValidateThreads.
type ThreadValidation struct {
	Threads int    // Thread count to use
	Warning string // Non-empty when the requested count was reduced
}

// ValidateThreads clamps a requested thread count for a codec module.
//
// A module built without threading support runs on one thread only. A
// threaded module must never be asked for more threads than its internal
// pool holds (maxAllowed), or its runner blocks forever waiting for them.
func ValidateThreads(requested, maxAllowed int, multiCapable bool) ThreadValidation {
	if !multiCapable {
		if requested > 1 {
			return ThreadValidation{
				Threads: 1,
				Warning: fmt.Sprintf("multi-threading ignored: %d threads requested but the loaded module is single-threaded", requested),
			}
		}
		return ThreadValidation{Threads: requested}
	}
	if requested > maxAllowed {
		return ThreadValidation{
			Threads: maxAllowed,
			Warning: fmt.Sprintf("thread count clamped from %d to %d to avoid deadlocking the module's thread pool", requested, maxAllowed),
		}
	}
	return ThreadValidation{Threads: requested}
}

// MultiThreadingAvailable reports whether the process can run a threaded codec module.
func MultiThreadingAvailable() bool {
	return runtime.GOMAXPROCS(0) > 1
}
