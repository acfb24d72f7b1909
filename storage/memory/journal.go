// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/absmach/fluxloan/storage"
)

var _ storage.Journal = (*Journal)(nil)

// Journal is an in-memory implementation of storage.Journal.
type Journal struct {
	mu     sync.RWMutex
	topics map[string][]*storage.Record
	closed bool
}

// New creates a new in-memory journal.
func New() *Journal {
	return &Journal{
		topics: make(map[string][]*storage.Record),
	}
}

// Append stores a copy of rec.
func (j *Journal) Append(rec *storage.Record) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, storage.ErrClosed
	}
	c := storage.CopyRecord(rec)
	c.Seq = uint64(len(j.topics[rec.Topic])) + 1
	j.topics[rec.Topic] = append(j.topics[rec.Topic], c)
	return c.Seq, nil
}

// Get retrieves a record by topic and sequence.
func (j *Journal) Get(topic string, seq uint64) (*storage.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, storage.ErrClosed
	}
	recs := j.topics[topic]
	if seq == 0 || seq > uint64(len(recs)) {
		return nil, storage.ErrNotFound
	}
	return storage.CopyRecord(recs[seq-1]), nil
}

// List returns all records of a topic.
func (j *Journal) List(topic string) ([]*storage.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, storage.ErrClosed
	}
	recs := j.topics[topic]
	result := make([]*storage.Record, 0, len(recs))
	for _, r := range recs {
		result = append(result, storage.CopyRecord(r))
	}
	return result, nil
}

// Close drops all records.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true
	j.topics = nil
	return nil
}
