// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/absmach/fluxloan"

// Metrics holds OpenTelemetry instruments for loan activity.
// A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	// Counters
	borrowed           metric.Int64Counter
	published          metric.Int64Counter
	returned           metric.Int64Counter
	allocationFailures metric.Int64Counter
	publishFailures    metric.Int64Counter
	returnFailures     metric.Int64Counter

	// UpDownCounters (Gauges)
	outstanding metric.Int64UpDownCounter

	// Histograms
	loanSize     metric.Int64Histogram
	holdDuration metric.Float64Histogram
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates Metrics on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{
		meter: mp.Meter(instrumentationName),
	}

	var err error

	m.borrowed, err = m.meter.Int64Counter(
		"fluxloan.loans.borrowed.total",
		metric.WithDescription("Total loans lent by the middleware"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create borrowed counter: %w", err)
	}

	m.published, err = m.meter.Int64Counter(
		"fluxloan.loans.published.total",
		metric.WithDescription("Total loans transferred to the middleware by publish"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create published counter: %w", err)
	}

	m.returned, err = m.meter.Int64Counter(
		"fluxloan.loans.returned.total",
		metric.WithDescription("Total loans returned unpublished"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create returned counter: %w", err)
	}

	m.allocationFailures, err = m.meter.Int64Counter(
		"fluxloan.allocation.failures.total",
		metric.WithDescription("Total borrow attempts the middleware could not serve"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create allocationFailures counter: %w", err)
	}

	m.publishFailures, err = m.meter.Int64Counter(
		"fluxloan.publish.failures.total",
		metric.WithDescription("Total loaned publishes rejected by the middleware"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishFailures counter: %w", err)
	}

	m.returnFailures, err = m.meter.Int64Counter(
		"fluxloan.return.failures.total",
		metric.WithDescription("Total loans the middleware refused to reclaim"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create returnFailures counter: %w", err)
	}

	m.outstanding, err = m.meter.Int64UpDownCounter(
		"fluxloan.loans.outstanding",
		metric.WithDescription("Loans currently held by publishers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outstanding gauge: %w", err)
	}

	m.loanSize, err = m.meter.Int64Histogram(
		"fluxloan.loan.size.bytes",
		metric.WithDescription("Loaned buffer size distribution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loanSize histogram: %w", err)
	}

	m.holdDuration, err = m.meter.Float64Histogram(
		"fluxloan.loan.hold.duration.ms",
		metric.WithDescription("Time between borrow and publish or return in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create holdDuration histogram: %w", err)
	}

	return m, nil
}

// RecordBorrow records a new loan.
func (m *Metrics) RecordBorrow(ctx context.Context, topic string, sizeBytes int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	m.borrowed.Add(ctx, 1, attrs)
	m.outstanding.Add(ctx, 1, attrs)
	m.loanSize.Record(ctx, int64(sizeBytes), attrs)
}

// RecordPublish records a loan transferred by publish.
func (m *Metrics) RecordPublish(ctx context.Context, topic string, held time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	m.published.Add(ctx, 1, attrs)
	m.outstanding.Add(ctx, -1, attrs)
	m.holdDuration.Record(ctx, float64(held.Microseconds())/1000, attrs)
}

// RecordReturn records a loan returned unpublished.
func (m *Metrics) RecordReturn(ctx context.Context, topic string, held time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	m.returned.Add(ctx, 1, attrs)
	m.outstanding.Add(ctx, -1, attrs)
	m.holdDuration.Record(ctx, float64(held.Microseconds())/1000, attrs)
}

// RecordAllocationFailure records a borrow the middleware refused.
func (m *Metrics) RecordAllocationFailure(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.allocationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordPublishFailure records a rejected loaned publish.
func (m *Metrics) RecordPublishFailure(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.publishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordReturnFailure records a loan the middleware refused to reclaim.
// The loan stays counted as outstanding.
func (m *Metrics) RecordReturnFailure(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.returnFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
