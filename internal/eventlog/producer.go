package eventlog

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Producer appends records to the outbound notification topic. Produces are
// asynchronous and best-effort: a failed append is logged, never surfaced to
// the caller, so notification I/O can never block or fail a store update.
type Producer struct {
	cl     *kgo.Client
	topic  string
	logger *zap.SugaredLogger
}

func NewProducer(brokers []string, clientID, topic string, logger *zap.Logger) (*Producer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(requestRetries),
		kgo.RetryBackoffFn(retryBackoff),
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: creating producer: %w", err)
	}
	return &Producer{cl: cl, topic: topic, logger: logger.Sugar()}, nil
}

// PublishAsync appends value to the topic without waiting for the broker.
func (p *Producer) PublishAsync(ctx context.Context, value []byte) {
	p.cl.Produce(ctx, &kgo.Record{Value: value}, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Warnw("Failed to publish notification", "topic", p.topic, "error", err)
		}
	})
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close() {
	p.cl.Close()
}
