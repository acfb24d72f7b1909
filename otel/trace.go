// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartPublish starts a span around a loaned publish.
func StartPublish(ctx context.Context, topic, loanID string, sizeBytes int) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "loan.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.String("loan.id", loanID),
			attribute.Int("messaging.message.body.size", sizeBytes),
		),
	)
}

// EndSpan records err, if any, and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
