package pipeline

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ConsumerConfig holds broker consumption settings.
type ConsumerConfig struct {
	Brokers []string
	// Topic agents publish telemetry to. Default "agent-data".
	Topic string
	// GroupID of the consumer group. Default "sentinel-consumer-group".
	GroupID string
}

// messageSource is the broker surface the consumer needs. *kafka.Reader
// satisfies this interface.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads telemetry events from Kafka and dispatches each to the
// pipeline. Messages within a partition are handled strictly in order by the
// single fetch loop, and the offset is committed only after dispatch returns,
// so an event is never skipped by a crash mid-processing. The pipeline itself
// absorbs all processing failures, which gives at-most-once application-level
// handling on top of the broker's at-least-once delivery.
type Consumer struct {
	source   messageSource
	topic    string
	groupID  string
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewConsumer creates a Consumer. Call Run to start consuming and Close when
// shutting down.
func NewConsumer(cfg ConsumerConfig, p *Pipeline, logger *zap.Logger) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = "agent-data"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "sentinel-consumer-group"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})

	return &Consumer{
		source:   reader,
		topic:    cfg.Topic,
		groupID:  cfg.GroupID,
		pipeline: p,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled. Broker read errors are logged and the
// loop continues; commit errors are logged and the loop continues (the
// pipeline tolerates the resulting redelivery).
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("telemetry consumer started",
		zap.String("topic", c.topic),
		zap.String("group", c.groupID),
	)

	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("telemetry consumer stopped")
				return
			}
			c.logger.Error("kafka fetch failed", zap.Error(err))
			continue
		}

		c.pipeline.Process(ctx, msg.Value)

		// Commit regardless of how Process classified the event: processing
		// outcomes are terminal, so the offset must advance either way.
		if err := c.source.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("telemetry consumer stopped")
				return
			}
			c.logger.Error("kafka commit failed", zap.Error(err))
		}
	}
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.source.Close()
}
