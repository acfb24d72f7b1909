// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage journals published loans so they can be inspected or
// replayed after transmission.
package storage

import (
	"errors"
	"slices"
	"time"

	"github.com/absmach/fluxloan/rmw"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("journal closed")
)

// Record is one journaled publish.
type Record struct {
	Seq         uint64    `json:"seq"`
	Topic       string    `json:"topic"`
	Payload     []byte    `json:"payload"`
	PublishedAt time.Time `json:"published_at"`
}

// CopyRecord returns a deep copy of r.
func CopyRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = slices.Clone(r.Payload)
	return &c
}

// Journal is an append-only, per-topic record log.
type Journal interface {
	// Append stores rec under the next sequence number of its topic and
	// returns that number. rec.Payload is not retained.
	Append(rec *Record) (uint64, error)

	// Get returns the record of topic with sequence seq.
	Get(topic string, seq uint64) (*Record, error)

	// List returns all records of topic in sequence order.
	List(topic string) ([]*Record, error)

	// Close closes the journal.
	Close() error
}

// NewSink adapts j to an rmw.Sink that journals every delivered payload.
func NewSink(j Journal) rmw.Sink {
	return &journalSink{journal: j}
}

type journalSink struct {
	journal Journal
}

func (s *journalSink) Deliver(topic string, payload []byte) error {
	_, err := s.journal.Append(&Record{
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	})
	return err
}

func (s *journalSink) Close() error {
	return s.journal.Close()
}
