// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/absmach/fluxloan/otel"
	"github.com/absmach/fluxloan/rmw"
)

// Publisher lends middleware-owned messages of type T and takes them back.
// It is safe for concurrent use; the middleware resource is locked for the
// duration of each middleware call only.
type Publisher[T any] struct {
	mu     sync.Mutex
	res    rmw.Resource
	closed bool

	topic   string
	layout  Layout
	logger  *slog.Logger
	metrics *otel.Metrics
	fatal   func(error)
}

// NewPublisher wraps res in a Publisher for messages of type T.
func NewPublisher[T any](res rmw.Resource, opts ...Option) (*Publisher[T], error) {
	layout, err := CheckLayout[T]()
	if err != nil {
		return nil, err
	}

	o := &options{
		logger: slog.Default(),
		policy: PolicyAbort,
	}
	for _, opt := range opts {
		opt(o)
	}

	p := &Publisher[T]{
		res:     res,
		topic:   res.Topic(),
		layout:  layout,
		metrics: o.metrics,
		fatal:   o.fatalHandler(),
	}
	p.logger = o.logger.With(slog.String("topic", p.topic))
	return p, nil
}

// Topic returns the topic messages are published on.
func (p *Publisher[T]) Topic() string {
	return p.topic
}

// Layout returns the size and alignment of T.
func (p *Publisher[T]) Layout() Layout {
	return p.layout
}

// CanLoan reports whether the middleware lends buffers for this publisher.
func (p *Publisher[T]) CanLoan() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.res.CanLoan()
}

// Borrow lends a zeroed message from the middleware. The caller owns the
// returned message until it is published or released, and should defer
// Release right after a successful Borrow.
func (p *Publisher[T]) Borrow() (*Message[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPublisherClosed
	}
	if !p.res.CanLoan() {
		p.mu.Unlock()
		return nil, ErrLoansNotSupported
	}
	l, err := p.res.BorrowLoaned(p.layout.Size, p.layout.Align)
	p.mu.Unlock()

	if err != nil {
		p.metrics.RecordAllocationFailure(context.Background(), p.topic)
		return nil, &AllocationError{Topic: p.topic, Err: err}
	}
	if err := p.checkLoan(l); err != nil {
		p.reclaim(&loanState{loan: l})
		p.metrics.RecordAllocationFailure(context.Background(), p.topic)
		return nil, &AllocationError{Topic: p.topic, Err: err}
	}

	st := &loanState{loan: l, state: StateActive}
	m := &Message[T]{
		st:        st,
		publisher: p,
	}
	m.cleanup = runtime.AddCleanup(m, p.reclaimLeaked, st)

	p.metrics.RecordBorrow(context.Background(), p.topic, p.layout.Size)
	p.logger.Debug("loan borrowed", slog.String("loan_id", l.ID.String()))
	return m, nil
}

// Close detaches the publisher from the middleware. Messages still on loan
// can be released afterwards; Borrow fails with ErrPublisherClosed.
func (p *Publisher[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.res.Close()
}

func (p *Publisher[T]) checkLoan(l *rmw.Loan) error {
	if len(l.Data) != p.layout.Size {
		return fmt.Errorf("%w: got %d bytes, want %d", rmw.ErrSizeMismatch, len(l.Data), p.layout.Size)
	}
	if uintptr(unsafe.Pointer(unsafe.SliceData(l.Data)))%uintptr(p.layout.Align) != 0 {
		return rmw.ErrMisaligned
	}
	return nil
}

func (p *Publisher[T]) publishLoaned(l *rmw.Loan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res.PublishLoaned(l)
}

func (p *Publisher[T]) returnLoaned(l *rmw.Loan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res.ReturnLoaned(l)
}

// reclaim returns the loan held by st, if any, and marks st released.
func (p *Publisher[T]) reclaim(st *loanState) {
	l := st.loan
	st.state = StateReleased
	if l == nil {
		return
	}
	st.loan = nil

	hold := time.Since(l.BorrowedAt)
	if err := p.returnLoaned(l); err != nil {
		p.metrics.RecordReturnFailure(context.Background(), p.topic)
		p.fatal(&ReturnError{LoanID: l.ID, Err: err})
		return
	}
	p.metrics.RecordReturn(context.Background(), p.topic, hold)
	p.logger.Debug("loan returned", slog.String("loan_id", l.ID.String()))
}

// reclaimLeaked runs when a message is garbage collected without Release.
func (p *Publisher[T]) reclaimLeaked(st *loanState) {
	if st.loan == nil {
		return
	}
	p.logger.Warn("loaned message collected without release",
		slog.String("loan_id", st.loan.ID.String()))
	p.reclaim(st)
}
