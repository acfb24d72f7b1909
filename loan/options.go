// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

import (
	"fmt"
	"log/slog"

	"github.com/absmach/fluxloan/otel"
)

// ReturnFailurePolicy selects what happens when the middleware refuses a
// returned loan.
type ReturnFailurePolicy string

const (
	// PolicyAbort panics with the *ReturnError.
	PolicyAbort ReturnFailurePolicy = "abort"
	// PolicyLog logs the *ReturnError and continues. The loan is leaked and
	// the middleware's loan accounting may be wrong afterwards.
	PolicyLog ReturnFailurePolicy = "log"
)

// ParsePolicy parses a policy name. The empty string selects PolicyAbort.
func ParsePolicy(s string) (ReturnFailurePolicy, error) {
	switch ReturnFailurePolicy(s) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyLog:
		return PolicyLog, nil
	default:
		return "", fmt.Errorf("unknown return failure policy %q", s)
	}
}

type options struct {
	logger  *slog.Logger
	metrics *otel.Metrics
	policy  ReturnFailurePolicy
	fatal   func(error)
}

// Option configures a Publisher.
type Option func(*options)

// WithLogger sets the publisher logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records loan activity on m.
func WithMetrics(m *otel.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithReturnFailurePolicy selects a built-in return failure policy.
func WithReturnFailurePolicy(p ReturnFailurePolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithFatalHandler replaces the return failure policy with fn.
// fn receives a *ReturnError and must not call back into the Publisher.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) {
		o.fatal = fn
	}
}

func (o *options) fatalHandler() func(error) {
	if o.fatal != nil {
		return o.fatal
	}
	if o.policy == PolicyLog {
		logger := o.logger
		return func(err error) {
			logger.Error("loan return failed, loan leaked", slog.String("error", err.Error()))
		}
	}
	return func(err error) {
		panic(err)
	}
}
