// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/absmach/fluxloan/otel"
	"github.com/absmach/fluxloan/rmw"
)

// loanState is shared between a Message and its GC cleanup, so it must not
// point back at the Message.
type loanState struct {
	loan  *rmw.Loan
	state State
}

// Message is a middleware-owned message of type T on loan to the caller.
//
// A Message is not safe for concurrent use. Pointers obtained from Mut must
// not outlive the call to Publish or Release.
type Message[T any] struct {
	st        *loanState
	publisher *Publisher[T]
	once      sync.Once
	cleanup   runtime.Cleanup
}

// State returns the lifecycle state of the message.
func (m *Message[T]) State() State {
	return m.st.state
}

// View returns a copy of the message contents.
func (m *Message[T]) View() T {
	return *m.ptr()
}

// Mut returns a pointer into the middleware buffer.
func (m *Message[T]) Mut() *T {
	return m.ptr()
}

// Bytes returns the raw middleware buffer. It must not be modified.
func (m *Message[T]) Bytes() []byte {
	return m.loan().Data
}

// Publish hands the buffer to the middleware for transmission. The message
// is consumed whatever the outcome: on failure the loan is returned to the
// middleware before the *PublishError is reported.
func (m *Message[T]) Publish() error {
	st := m.st
	if st.state != StateActive || st.loan == nil {
		return ErrLoanConsumed
	}

	p := m.publisher
	l := st.loan
	hold := time.Since(l.BorrowedAt)

	_, span := otel.StartPublish(context.Background(), p.topic, l.ID.String(), len(l.Data))
	err := p.publishLoaned(l)
	otel.EndSpan(span, err)

	if err != nil {
		p.metrics.RecordPublishFailure(context.Background(), p.topic)
		p.logger.Warn("loaned publish failed, returning loan",
			slog.String("loan_id", l.ID.String()),
			slog.String("error", err.Error()))
		perr := &PublishError{LoanID: l.ID, Err: err}
		m.Release()
		return perr
	}

	st.loan = nil
	st.state = StateTransferred
	p.metrics.RecordPublish(context.Background(), p.topic, hold)
	return nil
}

// Release disposes of the message. An unpublished loan is returned to the
// middleware; after a successful Publish nothing is sent. Release runs at
// most once and is safe to defer unconditionally.
func (m *Message[T]) Release() {
	m.once.Do(func() {
		m.cleanup.Stop()
		m.publisher.reclaim(m.st)
	})
}

func (m *Message[T]) loan() *rmw.Loan {
	if m.st.loan == nil {
		panic(ErrLoanConsumed)
	}
	return m.st.loan
}

func (m *Message[T]) ptr() *T {
	return (*T)(unsafe.Pointer(unsafe.SliceData(m.loan().Data)))
}
