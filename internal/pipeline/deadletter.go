package pipeline

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// DeadLetter publishes events the pipeline could not process to a side topic
// for later inspection or replay. The failing stage travels as a header.
type DeadLetter struct {
	writer *kafka.Writer
}

// NewDeadLetter creates a DeadLetter producer. topic defaults to
// "agent-data-dlq". Call Close when shutting down.
func NewDeadLetter(brokers []string, topic string) *DeadLetter {
	if topic == "" {
		topic = "agent-data-dlq"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &DeadLetter{writer: writer}
}

// Send writes the original raw payload to the dead-letter topic with the
// failing stage attached as a header. Bounded by a short timeout so a slow
// broker cannot stall the consumer loop.
func (d *DeadLetter) Send(ctx context.Context, raw []byte, stage string) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return d.writer.WriteMessages(writeCtx, kafka.Message{
		Value: raw,
		Headers: []kafka.Header{
			{Key: "failure-stage", Value: []byte(stage)},
		},
	})
}

// Close closes the underlying writer.
func (d *DeadLetter) Close() error {
	return d.writer.Close()
}
