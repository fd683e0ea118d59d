package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the subset of *kafka.Reader the forwarder uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewKafkaReader returns a consumer-group reader for the events topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
}

// Forwarder copies events from Kafka to Loki.
type Forwarder struct {
	reader MessageReader
	loki   *LokiClient
	logger *zap.Logger
}

func NewForwarder(reader MessageReader, loki *LokiClient, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{reader: reader, loki: loki, logger: logger}
}

// Run forwards until ctx is cancelled. Read and push errors are logged and skipped.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("kafka read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := f.loki.PushEventJSON(pushCtx, msg.Value); err != nil {
			f.logger.Warn("loki push failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		cancel()
	}
}
