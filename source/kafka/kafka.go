// Package kafka adapts a Kafka consumer group to the source boundary.
// Readings arrive as JSON messages on a single topic; offsets are marked
// only after the handler accepts the reading.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"

	"github.com/ilift/wellstream/errors"
	"github.com/ilift/wellstream/reading"
	"github.com/ilift/wellstream/source"
)

// Config holds the consumer group settings.
type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Source consumes readings from a Kafka topic via a consumer group.
type Source struct {
	cfg    Config
	group  sarama.ConsumerGroup
	logger *slog.Logger

	connected atomic.Bool
	paused    atomic.Bool
}

// New builds the consumer group. Delivery does not begin until Consume is
// called.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "KafkaSource", "New", "brokers, topic and group_id required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	sc.Consumer.Fetch.Default = 1024 * 1024
	sc.Consumer.MaxWaitTime = 250 * time.Millisecond

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, errors.WrapTransient(err, "KafkaSource", "New", "create consumer group")
	}

	return &Source{
		cfg:    cfg,
		group:  group,
		logger: logger.With("component", "source.kafka", "topic", cfg.Topic),
	}, nil
}

// Consume joins the consumer group and delivers readings until ctx is
// cancelled. Rebalances restart the session transparently.
func (s *Source) Consume(ctx context.Context, handler source.Handler) error {
	go func() {
		for err := range s.group.Errors() {
			s.logger.Warn("consumer group error", "error", err)
		}
	}()

	gh := &groupHandler{src: s, handler: handler}
	for {
		if ctx.Err() != nil {
			s.connected.Store(false)
			return nil
		}
		if err := s.group.Consume(ctx, []string{s.cfg.Topic}, gh); err != nil {
			s.connected.Store(false)
			return errors.WrapTransient(err, "KafkaSource", "Consume", "consumer group session")
		}
	}
}

// Pause suspends fetching on all claimed partitions. The group membership
// and offsets are kept.
func (s *Source) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		s.group.PauseAll()
		s.logger.Info("consumption paused")
	}
}

// Resume restarts fetching after Pause.
func (s *Source) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		s.group.ResumeAll()
		s.logger.Info("consumption resumed")
	}
}

// Connected reports whether a consumer group session is active.
func (s *Source) Connected() bool {
	return s.connected.Load()
}

// Close leaves the consumer group.
func (s *Source) Close() error {
	s.connected.Store(false)
	if err := s.group.Close(); err != nil {
		return errors.Wrap(err, "KafkaSource", "Close", "leave consumer group")
	}
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	src     *Source
	handler source.Handler
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error {
	h.src.connected.Store(true)
	// A rebalance resets partition state; re-apply an operator pause.
	if h.src.paused.Load() {
		h.src.group.PauseAll()
	}
	return nil
}

func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if session.Context().Err() != nil {
			return nil
		}

		var r reading.Reading
		if err := json.Unmarshal(message.Value, &r); err != nil {
			h.src.logger.Error("undecodable message skipped",
				"partition", message.Partition, "offset", message.Offset, "error", err)
			session.MarkMessage(message, "")
			continue
		}

		err := h.handler(session.Context(), r)
		switch {
		case err == nil:
			session.MarkMessage(message, "")
		case errors.IsInvalid(err):
			// Redelivery cannot fix a malformed reading.
			h.src.logger.Error("invalid reading skipped",
				"well_id", r.WellID, "sensor_type", r.SensorType, "error", err)
			session.MarkMessage(message, "")
		default:
			// End the claim without marking so the committed offset can
			// never advance past this message; the next session
			// redelivers it.
			h.src.logger.Warn("reading not acknowledged, ending session",
				"partition", message.Partition, "offset", message.Offset, "error", err)
			return nil
		}
	}
	return nil
}
