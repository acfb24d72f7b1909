// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt delivers published loans to an external MQTT broker.
package mqtt

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxloan/config"
	"github.com/absmach/fluxloan/rmw"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
)

var (
	ErrConnect        = errors.New("mqtt connect failed")
	ErrPublishTimeout = errors.New("mqtt publish timed out")
	ErrClosed         = errors.New("mqtt sink closed")
)

const disconnectQuiesce = 250 // ms

var _ rmw.Sink = (*Sink)(nil)

// client is the subset of paho.Client the sink uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Sink publishes loan payloads to an MQTT broker through a circuit breaker.
type Sink struct {
	client  client
	cfg     config.MQTTConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New connects to cfg.Broker and returns a sink publishing through it.
func New(cfg config.MQTTConfig, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", slog.String("broker", cfg.Broker), slog.String("error", err.Error()))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		c.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: timed out after %s", ErrConnect, cfg.Broker, cfg.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, cfg.Broker, err)
	}

	logger.Info("mqtt sink connected", slog.String("broker", cfg.Broker), slog.String("client_id", cfg.ClientID))
	return newSink(c, cfg, logger), nil
}

func newSink(c client, cfg config.MQTTConfig, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := uint32(max(cfg.CircuitBreaker.FailureThreshold, 1))

	return &Sink{
		client: c,
		cfg:    cfg,
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Broker,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     cfg.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("mqtt circuit breaker state changed",
					slog.String("broker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// Deliver publishes payload on topic and waits for the broker to accept it.
// The payload is copied because paho may hold it past this call.
func (s *Sink) Deliver(topic string, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		tok := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retain, bytes.Clone(payload))
		if !tok.WaitTimeout(s.cfg.PublishTimeout) {
			return nil, ErrPublishTimeout
		}
		return nil, tok.Error()
	})
	if err != nil {
		return fmt.Errorf("mqtt publish %q: %w", topic, err)
	}
	return nil
}

// State reports the circuit breaker state.
func (s *Sink) State() gobreaker.State {
	return s.breaker.State()
}

// Close disconnects from the broker.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.client.Disconnect(disconnectQuiesce)
	return nil
}
