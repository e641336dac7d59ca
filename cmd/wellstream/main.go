// Package main implements the entry point for the wellstream pipeline:
// real-time sensor readings in from Kafka or JetStream, engineered
// feature vectors out to InfluxDB, with anomaly flags raised along the
// way.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ilift/wellstream/config"
	"github.com/ilift/wellstream/metric"
	"github.com/ilift/wellstream/pipeline"
	"github.com/ilift/wellstream/pkg/retry"
	"github.com/ilift/wellstream/reading"
	"github.com/ilift/wellstream/source"
	"github.com/ilift/wellstream/source/jetstream"
	"github.com/ilift/wellstream/source/kafka"
	"github.com/ilift/wellstream/storage"
	"github.com/ilift/wellstream/writer"
)

const appName = "wellstream"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting", "app", appName, "source", cfg.Source.Kind)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewInflux(ctx, cfg.InfluxDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	src, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	registry := metric.NewRegistry()

	p := pipeline.New(src, store, pipeline.Config{
		WindowSize:       cfg.Processing.WindowSize,
		AnomalyThreshold: cfg.Processing.AnomalyThreshold,
		Workers:          cfg.Processing.Workers,
		QueueSize:        cfg.Processing.QueueSize,
		ShutdownTimeout:  cfg.Processing.ShutdownTimeout,
		Writer: writer.Config{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			Retry: retry.Config{
				MaxAttempts:  cfg.Writer.RetryLimit,
				InitialDelay: cfg.Writer.BackoffBase,
				MaxDelay:     5 * time.Second,
				Multiplier:   2.0,
				AddJitter:    true,
			},
			OnFlush: func(d time.Duration, _ int, _ error) {
				registry.Metrics.FlushDuration.Observe(d.Seconds())
			},
		},
	}, registry.Metrics, logger)

	srv := metric.NewServer(cfg.Metrics.Port, registry)
	srv.Handle("/healthz", healthHandler(p))
	srv.Handle("/stats", statsHandler(p))
	srv.Handle("/windows", windowHandler(p))
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	if err := p.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := p.Close(); err != nil {
		logger.Error("pipeline shutdown reported data loss", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	return srv.Stop(stopCtx)
}

func newSource(cfg config.Config, logger *slog.Logger) (source.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceJetStream:
		return jetstream.New(cfg.Source.JetStream, logger)
	default:
		return kafka.New(cfg.Source.Kafka, logger)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func healthHandler(p *pipeline.Pipeline) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := p.Health()
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

func statsHandler(p *pipeline.Pipeline) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.Stats())
	})
}

type windowResponse struct {
	WellID     string    `json:"well_id"`
	SensorType string    `json:"sensor_type"`
	WindowLen  int       `json:"window_len"`
	Mean       float64   `json:"mean"`
	Std        float64   `json:"std"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	LastValue  float64   `json:"last_value"`
	LastTime   time.Time `json:"last_timestamp"`
}

func windowHandler(p *pipeline.Pipeline) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := reading.WindowKey{
			WellID:     r.URL.Query().Get("well_id"),
			SensorType: r.URL.Query().Get("sensor_type"),
		}
		if key.WellID == "" || key.SensorType == "" {
			http.Error(w, "well_id and sensor_type are required", http.StatusBadRequest)
			return
		}
		snap, ok := p.WindowStats(key)
		if !ok {
			http.Error(w, "no window for key", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(windowResponse{
			WellID:     key.WellID,
			SensorType: key.SensorType,
			WindowLen:  snap.Len,
			Mean:       snap.Mean,
			Std:        snap.Std,
			Min:        snap.Min,
			Max:        snap.Max,
			LastValue:  snap.NewestVal,
			LastTime:   snap.NewestTS,
		})
	})
}
