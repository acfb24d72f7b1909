// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package rmw defines the middleware contract used by loaned-message
// publishers: a per-topic Resource that lends, transmits and reclaims
// middleware-owned buffers, and the Sink a middleware delivers published
// buffers to.
package rmw

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Middleware errors.
var (
	ErrClosed        = errors.New("middleware resource closed")
	ErrUnknownLoan   = errors.New("loan is not outstanding")
	ErrSizeMismatch  = errors.New("loan size does not match the message layout")
	ErrMisaligned    = errors.New("loan buffer is not aligned for the message layout")
	ErrPoolExhausted = errors.New("no loan slots available")
	ErrRateLimited   = errors.New("loan rate limit exceeded")
	ErrUnsupported   = errors.New("requested layout cannot be loaned")
)

// Loan is a middleware-allocated buffer lent to a single owner.
// Data is valid until the loan is published or returned.
type Loan struct {
	ID         uuid.UUID
	Topic      string
	Data       []byte
	BorrowedAt time.Time
}

// Resource is a middleware publisher handle for one topic.
//
// Implementations need not be safe for concurrent use: callers serialize
// access to a Resource with their own lock.
type Resource interface {
	// Topic returns the topic this resource publishes on.
	Topic() string

	// CanLoan reports whether the middleware supports loaned buffers.
	CanLoan() bool

	// BorrowLoaned lends a zeroed buffer of size bytes aligned to align.
	BorrowLoaned(size, align int) (*Loan, error)

	// PublishLoaned transfers ownership of the loan to the middleware for
	// transmission. On error the caller still owns the loan.
	PublishLoaned(l *Loan) error

	// ReturnLoaned gives an unpublished loan back to the middleware.
	ReturnLoaned(l *Loan) error

	// Close detaches the resource. Outstanding loans may still be returned.
	Close() error
}

// Sink receives published buffers. The payload is only valid for the
// duration of the Deliver call; implementations must copy what they keep.
type Sink interface {
	Deliver(topic string, payload []byte) error
	Close() error
}
