// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package codecworker

import (
	"errors"
	"fmt"
	"reflect"
)

// Message types exchanged between the pool and its workers.
const (
	MessageInit   = "init"   // controller -> worker: run the module's Init
	MessageLoaded = "loaded" // worker -> controller: module constructed
	MessageReady  = "ready"  // worker -> controller: Init succeeded
	MessageError  = "error"  // worker -> controller: worker failed before becoming ready
)

// InitMessageID is the id reserved for the init handshake.
const InitMessageID int64 = -1

// notInitializedMessage is returned for any task received before init.
const notInitializedMessage = "Worker not initialized. Call init() first."

var (
	// ErrPoolTerminated is returned for tasks submitted to, or queued in, a terminated pool.
	ErrPoolTerminated = errors.New("worker pool terminated")
	// ErrConfigRequired is returned when a client is initialized without any config.
	ErrConfigRequired = errors.New("config is required on first init() call")
	// ErrInitTimeout is returned when a worker does not become ready in time.
	ErrInitTimeout = errors.New("worker init timed out")
	// ErrWorkerTerminated is returned when posting to, or waiting on, a stopped worker.
	ErrWorkerTerminated = errors.New("worker terminated")
)

// InboundMessage is sent from the controller to a worker.
type InboundMessage struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Payload any    `json:"payload,omitempty"`
}

// OutboundMessage is sent from a worker to the controller.
// Task replies carry an empty Type.
type OutboundMessage struct {
	Type     string         `json:"type,omitempty"`
	ID       int64          `json:"id"`
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Transfer []Transferable `json:"-"`
}

// Transferable is a buffer whose ownership moves with the message carrying it.
// The sender must not touch it after posting.
type Transferable any

// RemoteError is a failure reported by a worker for a single task.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// IsTransferable reports whether v is a buffer that can be moved by transfer:
// a non-nil slice of a fixed-size numeric type. Empty buffers count.
func IsTransferable(v any) bool {
	if v == nil {
		return false
	}
	return isBuffer(reflect.ValueOf(v))
}

func isBuffer(rv reflect.Value) bool {
	if rv.Kind() != reflect.Slice || rv.IsNil() {
		return false
	}
	switch rv.Type().Elem().Kind() {
	case reflect.Uint8, reflect.Int8, reflect.Uint16, reflect.Int16,
		reflect.Uint32, reflect.Int32, reflect.Uint64, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// CollectTransferables scans a handler result one level deep for buffers:
// the value itself, or each field of a struct, or each value of a string-keyed map.
// Two views over the same backing array are reported once, as are empty
// buffers sharing the runtime's zero-size allocation.
func CollectTransferables(result any) []Transferable {
	if result == nil {
		return nil
	}
	rv := reflect.ValueOf(result)
	if isBuffer(rv) {
		return []Transferable{result}
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	var out []Transferable
	seen := make(map[uintptr]struct{})
	add := func(v reflect.Value) {
		for v.Kind() == reflect.Interface && !v.IsNil() {
			v = v.Elem()
		}
		if !isBuffer(v) {
			return
		}
		ptr := v.Pointer()
		if _, dup := seen[ptr]; dup {
			return
		}
		seen[ptr] = struct{}{}
		out = append(out, v.Interface())
	}

	switch rv.Kind() {
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			add(rv.Field(i))
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		iter := rv.MapRange()
		for iter.Next() {
			add(iter.Value())
		}
	}
	return out
}
