// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/absmach/fluxloan/otel"
	"github.com/absmach/fluxloan/rmw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewPublisher(t *testing.T) {
	stub := newStub()
	p, err := NewPublisher[reading](stub)
	require.NoError(t, err)

	assert.Equal(t, "sensors/t1", p.Topic())
	assert.Equal(t, Layout{Size: 24, Align: 8}, p.Layout())
	assert.True(t, p.CanLoan())

	_, err = NewPublisher[struct{ Name string }](stub)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestBorrowErrors(t *testing.T) {
	cases := []struct {
		desc       string
		setup      func(*stubResource)
		want       []error
		wantReturn int
	}{
		{
			desc:  "loans not supported",
			setup: func(s *stubResource) { s.noLoans = true },
			want:  []error{ErrLoansNotSupported},
		},
		{
			desc:  "middleware allocation failure",
			setup: func(s *stubResource) { s.borrowErr = rmw.ErrPoolExhausted },
			want:  []error{ErrAllocation, rmw.ErrPoolExhausted},
		},
		{
			desc:       "short buffer",
			setup:      func(s *stubResource) { s.sizeDelta = -1 },
			want:       []error{ErrAllocation, rmw.ErrSizeMismatch},
			wantReturn: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			stub := newStub()
			tc.setup(stub)
			p := newTestPublisher(t, stub)

			m, err := p.Borrow()
			assert.Nil(t, m)
			for _, want := range tc.want {
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, tc.wantReturn, stub.counts().returns)
			assert.Equal(t, 0, stub.counts().outstanding)
		})
	}
}

func TestAllocationErrorCarriesTopic(t *testing.T) {
	stub := newStub()
	stub.borrowErr = rmw.ErrRateLimited
	p := newTestPublisher(t, stub)

	_, err := p.Borrow()
	var aerr *AllocationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "sensors/t1", aerr.Topic)
	assert.Contains(t, err.Error(), "sensors/t1")
}

func TestClosedPublisher(t *testing.T) {
	stub := newStub()
	p := newTestPublisher(t, stub)

	m, err := p.Borrow()
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.False(t, p.CanLoan())

	_, err = p.Borrow()
	assert.ErrorIs(t, err, ErrPublisherClosed)

	// Loans outlive the publisher handle.
	m.Release()
	assert.Equal(t, 1, stub.counts().returns)
	assert.Equal(t, 1, stub.closes)
}

func TestLockNotHeldAcrossLoan(t *testing.T) {
	stub := newStub()
	p := newTestPublisher(t, stub)

	first, err := p.Borrow()
	require.NoError(t, err)
	defer first.Release()

	second, err := p.Borrow()
	require.NoError(t, err)
	defer second.Release()

	require.NoError(t, second.Publish())
	assert.Equal(t, StateActive, first.State())
	assert.Equal(t, 2, stub.counts().borrows)
}

func TestConcurrentLoans(t *testing.T) {
	stub := newStub()
	p := newTestPublisher(t, stub)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m, err := p.Borrow()
				if !assert.NoError(t, err) {
					return
				}
				m.Mut().Seq = uint64(i)
				if i%2 == 0 {
					assert.NoError(t, m.Publish())
				}
				m.Release()
			}
		}()
	}
	wg.Wait()

	c := stub.counts()
	assert.False(t, stub.overlap.Load(), "middleware calls must be serialized")
	assert.Equal(t, workers*perWorker, c.borrows)
	assert.Equal(t, workers*perWorker/2, c.publishes)
	assert.Equal(t, workers*perWorker/2, c.returns)
	assert.Equal(t, 0, c.outstanding)
}

func TestReturnFailurePolicies(t *testing.T) {
	t.Run("log", func(t *testing.T) {
		stub := newStub()
		stub.returnErr = errStub
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		p := newTestPublisher(t, stub, WithLogger(logger), WithReturnFailurePolicy(PolicyLog))

		m, err := p.Borrow()
		require.NoError(t, err)
		assert.NotPanics(t, m.Release)
		assert.Contains(t, logs.String(), "loan return failed")
	})

	t.Run("custom handler", func(t *testing.T) {
		stub := newStub()
		stub.returnErr = errStub
		var got error
		p := newTestPublisher(t, stub, WithFatalHandler(func(err error) { got = err }))

		m, err := p.Borrow()
		require.NoError(t, err)
		m.Release()

		var rerr *ReturnError
		require.ErrorAs(t, got, &rerr)
		assert.ErrorIs(t, got, errStub)
	})
}

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    ReturnFailurePolicy
		wantErr bool
	}{
		{in: "", want: PolicyAbort},
		{in: "abort", want: PolicyAbort},
		{in: "log", want: PolicyLog},
		{in: "ignore", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParsePolicy(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestPublisherMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := otel.NewMetricsWithProvider(mp)
	require.NoError(t, err)

	stub := newStub()
	p := newTestPublisher(t, stub, WithMetrics(metrics))

	for i := 0; i < 3; i++ {
		m, err := p.Borrow()
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, m.Publish())
		}
		m.Release()
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), got["fluxloan.loans.borrowed.total"])
	assert.Equal(t, int64(1), got["fluxloan.loans.published.total"])
	assert.Equal(t, int64(2), got["fluxloan.loans.returned.total"])
	assert.Equal(t, int64(0), got["fluxloan.loans.outstanding"])
}
