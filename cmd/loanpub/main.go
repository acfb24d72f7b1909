// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command loanpub publishes fixed-layout sensor readings through loaned
// middleware buffers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/fluxloan/config"
	"github.com/absmach/fluxloan/loan"
	"github.com/absmach/fluxloan/otel"
	"github.com/absmach/fluxloan/ratelimit"
	"github.com/absmach/fluxloan/rmw"
	"github.com/absmach/fluxloan/rmw/arena"
	"github.com/absmach/fluxloan/rmw/fanout"
	"github.com/absmach/fluxloan/storage"
	"github.com/absmach/fluxloan/storage/badger"
	"github.com/absmach/fluxloan/storage/memory"
	"github.com/absmach/fluxloan/topics"
	"github.com/absmach/fluxloan/transport/mqtt"
	"github.com/google/uuid"
)

// SensorReading is the loaned message type. It has a fixed memory layout
// so it can be written in place into a middleware slot.
type SensorReading struct {
	SensorID  [16]byte
	Seq       uint64
	Timestamp int64 // unix nanoseconds
	Value     float64
	Valid     bool
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	topic := flag.String("topic", "sensors/demo/temperature", "Topic to publish on")
	count := flag.Int("count", 100, "Number of loans to borrow (0 = until interrupted)")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between loans")
	dropEvery := flag.Int("drop-every", 10, "Drop every n-th loan without publishing (0 = never)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *topic, *count, *interval, *dropEvery); err != nil {
		slog.Error("loanpub failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, topic string, count int, interval time.Duration, dropEvery int) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return err
	}
	policy, err := loan.ParsePolicy(cfg.Loan.ReturnFailure)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sensorID := uuid.New()

	var metrics *otel.Metrics
	if cfg.Otel.MetricsEnabled || cfg.Otel.TracesEnabled {
		shutdown, err := otel.InitProvider(ctx, cfg.Otel, sensorID.String())
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Error("Failed to shutdown OpenTelemetry", "error", err)
			}
		}()
		if cfg.Otel.MetricsEnabled {
			if metrics, err = otel.NewMetrics(); err != nil {
				return err
			}
		}
		slog.Info("OpenTelemetry enabled", "endpoint", cfg.Otel.Endpoint)
	}

	sink, err := newSink(cfg.Sink, logger)
	if err != nil {
		return err
	}

	a := arena.New(arena.Config{
		MaxLoans:  cfg.Arena.MaxLoans,
		FreeSlots: cfg.Arena.FreeSlots,
		Limiter:   ratelimit.NewTopicLimiter(cfg.Arena.LoanRate, cfg.Arena.LoanBurst, cfg.Arena.LimiterCleanup),
		Logger:    logger,
	}, sink)
	defer a.Close()

	res, err := a.Open(topic)
	if err != nil {
		return err
	}
	pub, err := loan.NewPublisher[SensorReading](res,
		loan.WithLogger(logger),
		loan.WithMetrics(metrics),
		loan.WithReturnFailurePolicy(policy))
	if err != nil {
		return err
	}
	defer pub.Close()

	slog.Info("Publishing loaned readings",
		"topic", topic,
		"sensor_id", sensorID.String(),
		"sink", cfg.Sink.Type,
		"layout_size", pub.Layout().Size,
		"can_loan", pub.CanLoan())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for seq := 1; count == 0 || seq <= count; seq++ {
		drop := dropEvery > 0 && seq%dropEvery == 0
		if err := publishOne(pub, sensorID, uint64(seq), drop); err != nil {
			slog.Warn("Loan not published", "seq", seq, "error", err)
		}

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	stats := a.Stats()
	slog.Info("Done",
		"borrowed", stats.Borrowed,
		"published", stats.Published,
		"returned", stats.Returned,
		"rejected", stats.Rejected,
		"outstanding", stats.Outstanding)
	return nil
}

func publishOne(pub *loan.Publisher[SensorReading], sensorID uuid.UUID, seq uint64, drop bool) error {
	msg, err := pub.Borrow()
	if err != nil {
		return err
	}
	defer msg.Release()

	now := time.Now()
	r := msg.Mut()
	r.SensorID = sensorID
	r.Seq = seq
	r.Timestamp = now.UnixNano()
	r.Value = 20 + 5*math.Sin(float64(seq)/10)
	r.Valid = true

	if drop {
		return nil
	}
	return msg.Publish()
}

func newSink(cfg config.SinkConfig, logger *slog.Logger) (rmw.Sink, error) {
	switch cfg.Type {
	case config.SinkFanout:
		fo := fanout.New(logger)
		if _, err := fo.Subscribe("#", func(topic string, payload []byte) {
			logger.Info("Reading delivered", "topic", topic, "bytes", len(payload))
		}); err != nil {
			return nil, err
		}
		slog.Info("Using in-process fanout sink")
		return fo, nil
	case config.SinkMemory:
		slog.Info("Using in-memory journal sink")
		return storage.NewSink(memory.New()), nil
	case config.SinkBadger:
		j, err := badger.New(badger.Config{Dir: cfg.BadgerDir})
		if err != nil {
			return nil, fmt.Errorf("failed to open BadgerDB journal: %w", err)
		}
		slog.Info("Using BadgerDB journal sink", "dir", cfg.BadgerDir)
		return storage.NewSink(j), nil
	case config.SinkMQTT:
		s, err := mqtt.New(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}
