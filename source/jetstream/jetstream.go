// Package jetstream adapts a NATS JetStream consumer to the source
// boundary. A durable consumer with explicit acks gives at-least-once
// delivery; pausing stops the consume context without dropping the
// connection.
package jetstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/reading"
	"github.com/ilift/wellstream/source"
)

// Config holds the JetStream connection and consumer settings.
type Config struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`
}

// Source consumes readings from a JetStream stream.
type Source struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	conn       *nats.Conn
	consumer   jetstream.Consumer
	consumeCtx jetstream.ConsumeContext
	handler    source.Handler
	paused     bool
	closed     bool
}

// New validates the configuration. The connection is established by
// Consume.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.URL == "" || cfg.Stream == "" || cfg.Subject == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "JetStreamSource", "New", "url, stream and subject required")
	}
	if cfg.Durable == "" {
		cfg.Durable = "wellstream"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:    cfg,
		logger: logger.With("component", "source.jetstream", "stream", cfg.Stream),
	}, nil
}

// Consume connects, creates the durable consumer, and delivers readings
// until ctx is cancelled or the connection is closed for good.
func (s *Source) Consume(ctx context.Context, handler source.Handler) error {
	s.mu.Lock()
	if s.consumeCtx != nil {
		s.consumeCtx.Stop()
		s.consumeCtx = nil
	}
	if s.conn != nil {
		// A previous run left its connection behind; each run dials
		// fresh.
		s.conn.Close()
		s.conn = nil
		s.consumer = nil
	}
	s.mu.Unlock()

	conn, err := nats.Connect(s.cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			s.logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "JetStreamSource", "Consume", "connect")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(err, "JetStreamSource", "Consume", "init jetstream")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       s.cfg.Durable,
		FilterSubject: s.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		conn.Close()
		return errors.WrapTransient(errors.ErrSubscriptionFailed, "JetStreamSource", "Consume", err.Error())
	}

	s.mu.Lock()
	s.conn = conn
	s.consumer = consumer
	s.handler = handler
	wasPaused := s.paused
	s.mu.Unlock()

	if !wasPaused {
		if err := s.startConsuming(ctx); err != nil {
			conn.Close()
			return err
		}
	}

	<-ctx.Done()

	s.mu.Lock()
	if s.consumeCtx != nil {
		s.consumeCtx.Stop()
		s.consumeCtx = nil
	}
	s.mu.Unlock()
	return nil
}

// startConsuming begins message delivery. Callers hold no locks.
func (s *Source) startConsuming(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.consumer == nil || s.consumeCtx != nil {
		return nil
	}

	cc, err := s.consumer.Consume(func(msg jetstream.Msg) {
		s.deliver(ctx, msg)
	})
	if err != nil {
		return errors.WrapTransient(errors.ErrSubscriptionFailed, "JetStreamSource", "startConsuming", err.Error())
	}
	s.consumeCtx = cc
	return nil
}

func (s *Source) deliver(ctx context.Context, msg jetstream.Msg) {
	var r reading.Reading
	if err := json.Unmarshal(msg.Data(), &r); err != nil {
		s.logger.Error("undecodable message terminated", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	err := s.handler(ctx, r)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.IsInvalid(err):
		s.logger.Error("invalid reading skipped",
			"well_id", r.WellID, "sensor_type", r.SensorType, "error", err)
		_ = msg.Ack()
	default:
		s.logger.Warn("reading not acknowledged", "subject", msg.Subject(), "error", err)
		_ = msg.Nak()
	}
}

// Pause stops the consume context, halting delivery while keeping the
// connection and durable consumer state.
func (s *Source) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	if s.consumeCtx != nil {
		s.consumeCtx.Stop()
		s.consumeCtx = nil
	}
	s.logger.Info("consumption paused")
}

// Resume restarts delivery from the durable consumer's last acked
// position.
func (s *Source) Resume() {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.mu.Unlock()

	if err := s.startConsuming(context.Background()); err != nil {
		s.logger.Error("resume failed", "error", err)
		return
	}
	s.logger.Info("consumption resumed")
}

// Connected reports whether the NATS connection is live.
func (s *Source) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.IsConnected()
}

// Close stops delivery and closes the connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.consumeCtx != nil {
		s.consumeCtx.Stop()
		s.consumeCtx = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
