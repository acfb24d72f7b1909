// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool pools the scratch buffers used to encode journal records.
package bufpool

import (
	"bytes"
	"encoding/json"
	"sync"
)

const maxPooledCap = 64 * 1024

var pool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Get returns an empty buffer from the pool.
func Get() *bytes.Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns b to the pool. Buffers grown past 64KiB are dropped so one
// large record does not pin memory.
func Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledCap {
		return
	}
	pool.Put(b)
}

// EncodeJSON encodes v into a pooled buffer and passes the bytes to fn.
// The bytes are only valid until fn returns.
func EncodeJSON(v any, fn func([]byte) error) error {
	b := Get()
	defer Put(b)

	if err := json.NewEncoder(b).Encode(v); err != nil {
		return err
	}
	return fn(b.Bytes())
}
