// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/absmach/fluxloan/rmw"
	"github.com/google/uuid"
)

var errStub = errors.New("stub failure")

type reading struct {
	Seq   uint64
	Value float64
	Flags [4]uint8
}

// stubResource records every middleware call and flags overlapping ones.
type stubResource struct {
	topic      string
	noLoans    bool
	borrowErr  error
	publishErr error
	returnErr  error
	sizeDelta  int

	inCall  atomic.Int32
	overlap atomic.Bool

	mu          sync.Mutex
	borrows     int
	publishes   int
	returns     int
	closes      int
	outstanding map[uuid.UUID]*rmw.Loan
	delivered   [][]byte
}

func newStub() *stubResource {
	return &stubResource{
		topic:       "sensors/t1",
		outstanding: make(map[uuid.UUID]*rmw.Loan),
	}
}

func (s *stubResource) enter() func() {
	if s.inCall.Add(1) > 1 {
		s.overlap.Store(true)
	}
	return func() { s.inCall.Add(-1) }
}

func (s *stubResource) Topic() string { return s.topic }

func (s *stubResource) CanLoan() bool {
	defer s.enter()()
	return !s.noLoans
}

func (s *stubResource) BorrowLoaned(size, align int) (*rmw.Loan, error) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.borrows++
	if s.borrowErr != nil {
		return nil, s.borrowErr
	}
	n := size + s.sizeDelta
	words := make([]uint64, (n+7)/8+1)
	l := &rmw.Loan{
		ID:         uuid.New(),
		Topic:      s.topic,
		Data:       unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n),
		BorrowedAt: time.Now(),
	}
	s.outstanding[l.ID] = l
	return l, nil
}

func (s *stubResource) PublishLoaned(l *rmw.Loan) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publishes++
	if s.publishErr != nil {
		return s.publishErr
	}
	s.delivered = append(s.delivered, append([]byte(nil), l.Data...))
	delete(s.outstanding, l.ID)
	return nil
}

func (s *stubResource) ReturnLoaned(l *rmw.Loan) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.returns++
	if s.returnErr != nil {
		return s.returnErr
	}
	if _, ok := s.outstanding[l.ID]; !ok {
		return rmw.ErrUnknownLoan
	}
	delete(s.outstanding, l.ID)
	return nil
}

func (s *stubResource) Close() error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

type callCounts struct {
	borrows, publishes, returns, outstanding int
}

func (s *stubResource) counts() callCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return callCounts{s.borrows, s.publishes, s.returns, len(s.outstanding)}
}

// recoverReturnError runs fn and returns the *ReturnError it panicked with.
func recoverReturnError(fn func()) (rerr *ReturnError) {
	defer func() {
		if err, ok := recover().(error); ok {
			errors.As(err, &rerr)
		}
	}()
	fn()
	return nil
}
