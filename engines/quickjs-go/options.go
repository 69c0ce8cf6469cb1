// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"
)

// Option configures an Engine after its runtime has been created.
type Option func(*Engine) error

// EngineOption records the limits applied to a QuickJS runtime.
type EngineOption struct {
	Timeout      uint64 `json:"timeout"`      // Seconds per evaluation (0 = unlimited)
	MemoryLimit  uint64 `json:"memoryLimit"`  // Bytes (0 = unlimited)
	GCThreshold  int64  `json:"gcThreshold"`  // Bytes (-1 = disabled)
	MaxStackSize uint64 `json:"maxStackSize"` // Bytes (0 = runtime default)
	Strip        int    `json:"strip"`        // Debug info strip level (0-2)

	CanBlock           bool `json:"canBlock"`           // Allow Atomics.wait and other blocking calls
	EnableModuleImport bool `json:"enableModuleImport"` // Allow ES module import in scripts
}

// WithMemoryLimit caps the heap of the runtime. Codec scripts holding whole
// frames need a limit well above the largest expected image.
func WithMemoryLimit(limit uint64) Option {
	return func(e *Engine) error {
		e.Option.MemoryLimit = limit
		e.Runtime.SetMemoryLimit(limit)
		return nil
	}
}

// WithTimeout interrupts a script that runs longer than timeout seconds.
func WithTimeout(timeout uint64) Option {
	return func(e *Engine) error {
		e.Option.Timeout = timeout
		e.Runtime.SetExecuteTimeout(timeout)
		return nil
	}
}

// WithMaxStackSize sets the runtime stack size in bytes.
func WithMaxStackSize(size uint64) Option {
	return func(e *Engine) error {
		e.Option.MaxStackSize = size
		e.Runtime.SetMaxStackSize(size)
		return nil
	}
}

// WithGCThreshold sets the allocation threshold that triggers a collection.
func WithGCThreshold(threshold int64) Option {
	return func(e *Engine) error {
		if threshold < -1 {
			return fmt.Errorf("invalid GC threshold: %d", threshold)
		}
		e.Option.GCThreshold = threshold
		e.Runtime.SetGCThreshold(threshold)
		return nil
	}
}

// WithCanBlock allows scripts to block the worker thread, as Atomics.wait does.
func WithCanBlock(canBlock bool) Option {
	return func(e *Engine) error {
		e.Option.CanBlock = canBlock
		e.Runtime.SetCanBlock(canBlock)
		return nil
	}
}

// WithEnableModuleImport lets codec scripts import ES modules, e.g. a
// shared helper library loaded next to the handler script.
func WithEnableModuleImport(enable bool) Option {
	return func(e *Engine) error {
		e.Option.EnableModuleImport = enable
		e.Runtime.SetModuleImport(enable)
		return nil
	}
}

// WithStrip sets how much debug information is stripped from compiled
// scripts. 0 keeps everything.
func WithStrip(strip int) Option {
	return func(e *Engine) error {
		if strip < 0 || strip > 2 {
			return fmt.Errorf("invalid strip level: %d", strip)
		}
		e.Option.Strip = strip
		e.Runtime.SetStripInfo(strip)
		return nil
	}
}
