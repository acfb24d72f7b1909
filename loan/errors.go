// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Loan errors.
var (
	ErrAllocation        = errors.New("loan allocation failed")
	ErrPublish           = errors.New("loaned message publish failed")
	ErrReturn            = errors.New("loaned message return failed")
	ErrLoanConsumed      = errors.New("loaned message already consumed")
	ErrLoansNotSupported = errors.New("middleware does not support loaned messages")
	ErrInvalidLayout     = errors.New("message type has no fixed memory layout")
	ErrPublisherClosed   = errors.New("publisher closed")
)

// AllocationError reports that the middleware could not lend a buffer.
type AllocationError struct {
	Topic string
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("%s on %q: %v", ErrAllocation, e.Topic, e.Err)
}

func (e *AllocationError) Unwrap() []error {
	return []error{ErrAllocation, e.Err}
}

// PublishError reports that the middleware rejected a loaned buffer.
// The loan has already been returned when the caller sees this error.
type PublishError struct {
	LoanID uuid.UUID
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s (loan %s): %v", ErrPublish, e.LoanID, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublish, e.Err}
}

// ReturnError reports that the middleware refused to reclaim a loan.
// It is only ever delivered to a fatal handler.
type ReturnError struct {
	LoanID uuid.UUID
	Err    error
}

func (e *ReturnError) Error() string {
	return fmt.Sprintf("%s (loan %s): %v", ErrReturn, e.LoanID, e.Err)
}

func (e *ReturnError) Unwrap() []error {
	return []error{ErrReturn, e.Err}
}
