// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package arena is an in-process loan middleware. It lends 8-byte aligned
// slots from size-classed free lists, tracks every outstanding loan, and
// delivers published loans to a sink synchronously.
package arena

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxloan/ratelimit"
	"github.com/absmach/fluxloan/rmw"
	"github.com/google/uuid"
)

// Default values.
const (
	DefaultMaxLoans  = 1024
	DefaultFreeSlots = 256
)

// Config holds arena configuration.
type Config struct {
	MaxLoans  int // Maximum outstanding loans across all topics
	FreeSlots int // Free slots kept per size class

	// Per-topic borrow rate; nil limits nothing
	Limiter *ratelimit.TopicLimiter

	Logger *slog.Logger
}

// Stats is a snapshot of arena loan accounting.
type Stats struct {
	Borrowed    uint64
	Published   uint64
	Returned    uint64
	Rejected    uint64 // borrows refused for capacity or rate
	Outstanding int
}

type outstanding struct {
	slot       *slot
	loan       *rmw.Loan
	delivering bool
}

// Arena is a loan middleware shared by any number of topic resources.
// It is safe for concurrent use.
type Arena struct {
	mu    sync.Mutex
	loans map[uuid.UUID]*outstanding

	slots    *slotPool
	sink     rmw.Sink
	limiter  *ratelimit.TopicLimiter
	maxLoans int
	logger   *slog.Logger
	closed   bool

	borrowed  atomic.Uint64
	published atomic.Uint64
	returned  atomic.Uint64
	rejected  atomic.Uint64
}

// New creates an arena delivering published loans to sink.
func New(cfg Config, sink rmw.Sink) *Arena {
	if cfg.MaxLoans <= 0 {
		cfg.MaxLoans = DefaultMaxLoans
	}
	if cfg.FreeSlots <= 0 {
		cfg.FreeSlots = DefaultFreeSlots
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Arena{
		loans:    make(map[uuid.UUID]*outstanding),
		slots:    newSlotPool(cfg.FreeSlots),
		sink:     sink,
		limiter:  cfg.Limiter,
		maxLoans: cfg.MaxLoans,
		logger:   cfg.Logger,
	}
}

// Open returns a resource lending buffers for topic.
func (a *Arena) Open(topic string) (rmw.Resource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, rmw.ErrClosed
	}
	return &resource{arena: a, topic: topic}, nil
}

// Stats returns a snapshot of loan accounting.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	n := len(a.loans)
	a.mu.Unlock()

	return Stats{
		Borrowed:    a.borrowed.Load(),
		Published:   a.published.Load(),
		Returned:    a.returned.Load(),
		Rejected:    a.rejected.Load(),
		Outstanding: n,
	}
}

// Close stops lending and closes the sink. Outstanding loans can still be
// returned; publishing them fails with rmw.ErrClosed.
func (a *Arena) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	n := len(a.loans)
	a.mu.Unlock()

	if n > 0 {
		a.logger.Warn("arena closed with outstanding loans", slog.Int("outstanding", n))
	}
	a.limiter.Stop()
	return a.sink.Close()
}

func (a *Arena) borrow(topic string, size, align int) (*rmw.Loan, error) {
	if size <= 0 || size > LargeSlotSize || align <= 0 || align > slotAlign || slotAlign%align != 0 {
		return nil, fmt.Errorf("%w: size %d align %d", rmw.ErrUnsupported, size, align)
	}
	if !a.limiter.Allow(topic) {
		a.rejected.Add(1)
		return nil, rmw.ErrRateLimited
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, rmw.ErrClosed
	}
	if len(a.loans) >= a.maxLoans {
		a.rejected.Add(1)
		return nil, rmw.ErrPoolExhausted
	}

	s := a.slots.get(size)
	l := &rmw.Loan{
		ID:         uuid.New(),
		Topic:      topic,
		Data:       s.take(size),
		BorrowedAt: time.Now(),
	}
	a.loans[l.ID] = &outstanding{slot: s, loan: l}
	a.borrowed.Add(1)
	return l, nil
}

// lookup returns the outstanding record for l if l is the loan it was issued as.
func (a *Arena) lookup(l *rmw.Loan) (*outstanding, bool) {
	if l == nil {
		return nil, false
	}
	o, ok := a.loans[l.ID]
	if !ok || o.loan != l {
		return nil, false
	}
	return o, true
}

func (a *Arena) publish(l *rmw.Loan) error {
	a.mu.Lock()
	o, ok := a.lookup(l)
	if !ok || o.delivering {
		a.mu.Unlock()
		return rmw.ErrUnknownLoan
	}
	if a.closed {
		a.mu.Unlock()
		return rmw.ErrClosed
	}
	o.delivering = true
	a.mu.Unlock()

	// The sink is called without the arena lock; the loan is pinned by the
	// delivering flag.
	err := a.sink.Deliver(l.Topic, l.Data)

	a.mu.Lock()
	defer a.mu.Unlock()
	o.delivering = false
	if err != nil {
		return fmt.Errorf("delivery to %q failed: %w", l.Topic, err)
	}
	a.reclaim(o)
	a.published.Add(1)
	return nil
}

func (a *Arena) giveBack(l *rmw.Loan) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.lookup(l)
	if !ok || o.delivering {
		return rmw.ErrUnknownLoan
	}
	a.reclaim(o)
	a.returned.Add(1)
	return nil
}

// reclaim forgets the loan and recycles its slot. Callers hold a.mu.
func (a *Arena) reclaim(o *outstanding) {
	delete(a.loans, o.loan.ID)
	o.loan.Data = nil
	a.slots.put(o.slot)
}

// resource is the per-topic view of an arena.
type resource struct {
	arena  *Arena
	topic  string
	closed atomic.Bool
}

var _ rmw.Resource = (*resource)(nil)

func (r *resource) Topic() string {
	return r.topic
}

func (r *resource) CanLoan() bool {
	return !r.closed.Load()
}

func (r *resource) BorrowLoaned(size, align int) (*rmw.Loan, error) {
	if r.closed.Load() {
		return nil, rmw.ErrClosed
	}
	return r.arena.borrow(r.topic, size, align)
}

func (r *resource) PublishLoaned(l *rmw.Loan) error {
	if r.closed.Load() {
		return rmw.ErrClosed
	}
	if l == nil || l.Topic != r.topic {
		return rmw.ErrUnknownLoan
	}
	return r.arena.publish(l)
}

func (r *resource) ReturnLoaned(l *rmw.Loan) error {
	if l == nil || l.Topic != r.topic {
		return rmw.ErrUnknownLoan
	}
	return r.arena.giveBack(l)
}

func (r *resource) Close() error {
	r.closed.Store(true)
	return nil
}
