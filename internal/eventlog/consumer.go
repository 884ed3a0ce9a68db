// Package eventlog wraps the Kafka client with the consume/commit contract
// the engine needs: batches are handed out per partition, offsets advance
// only after the handler returns, and a failed batch is rewound and
// redelivered.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

const (
	sessionTimeout    = 30 * time.Second
	heartbeatInterval = 3 * time.Second
	requestRetries    = 8
	retryBackoffBase  = 100 * time.Millisecond
)

// Message is one consumed record.
type Message struct {
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Batch is the per-partition unit handed to the batch handler. The eventlog
// never delivers empty batches; idle detection is the engine's job.
type Batch struct {
	Topic     string
	Partition int32
	Messages  []Message
}

// BatchHandler processes one batch. Returning an error aborts the batch: its
// offsets are not committed and the same records are redelivered.
type BatchHandler func(ctx context.Context, batch Batch) error

// ConsumerConfig carries everything needed to join the consumer group.
type ConsumerConfig struct {
	Brokers      []string
	ClientID     string
	Group        string
	Topic        string
	PollInterval time.Duration
}

// Consumer is a partitioned consumer over the score-submitted topic. The
// underlying client is created lazily in Subscribe because the reset-offset
// policy depends on the replay decision made at startup.
type Consumer struct {
	cfg    ConsumerConfig
	cl     *kgo.Client
	logger *zap.SugaredLogger
}

func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Consumer{cfg: cfg, logger: logger.Sugar()}
}

// Subscribe joins the consumer group. fromBeginning selects the offset used
// for partitions with no committed offset; committed offsets always win.
func (c *Consumer) Subscribe(fromBeginning bool) error {
	if c.cl != nil {
		return errors.New("eventlog: already subscribed")
	}
	reset := kgo.NewOffset().AtEnd()
	if fromBeginning {
		reset = kgo.NewOffset().AtStart()
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ClientID(c.cfg.ClientID),
		kgo.ConsumerGroup(c.cfg.Group),
		kgo.ConsumeTopics(c.cfg.Topic),
		kgo.ConsumeResetOffset(reset),
		kgo.SessionTimeout(sessionTimeout),
		kgo.HeartbeatInterval(heartbeatInterval),
		kgo.DisableAutoCommit(),
		kgo.RequestRetries(requestRetries),
		kgo.RetryBackoffFn(retryBackoff),
	)
	if err != nil {
		return fmt.Errorf("eventlog: creating consumer: %w", err)
	}
	c.cl = cl
	c.logger.Infow("Subscribed to topic",
		"topic", c.cfg.Topic, "group", c.cfg.Group, "fromBeginning", fromBeginning)
	return nil
}

// ConsumeBatches polls until ctx is cancelled or a fatal broker error occurs.
// Each non-empty partition batch is passed to handler; on success its records
// are committed, on failure the partition position is rewound to the first
// record of the batch so the next poll redelivers it. A batch already handed
// to handler runs to completion and commits even if ctx is cancelled
// meanwhile; partitions not yet started are left uncommitted.
func (c *Consumer) ConsumeBatches(ctx context.Context, handler BatchHandler) error {
	if c.cl == nil {
		return errors.New("eventlog: not subscribed")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollInterval)
		fetches := c.cl.PollFetches(pollCtx)
		cancel()

		if fatal := c.fatalFetchError(fetches); fatal != nil {
			return fatal
		}
		if fetches.Empty() {
			continue
		}

		drainCtx := context.WithoutCancel(ctx)
		var handleErr error
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if handleErr != nil || ctx.Err() != nil || len(p.Records) == 0 {
				return
			}
			if err := c.handlePartition(drainCtx, handler, p); err != nil {
				handleErr = err
			}
		})
		if handleErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Errorw("Batch aborted, offsets not committed; will redeliver", "error", handleErr)
			// Brief pause so a persistently failing dependency is not hammered.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Consumer) handlePartition(ctx context.Context, handler BatchHandler, p kgo.FetchTopicPartition) error {
	msgs := make([]Message, 0, len(p.Records))
	for _, r := range p.Records {
		msgs = append(msgs, Message{
			Key:       r.Key,
			Value:     r.Value,
			Partition: r.Partition,
			Offset:    r.Offset,
			Timestamp: r.Timestamp,
		})
	}
	batch := Batch{Topic: p.Topic, Partition: p.Partition, Messages: msgs}

	if err := handler(ctx, batch); err != nil {
		c.rewind(p)
		return err
	}
	if err := c.cl.CommitRecords(ctx, p.Records...); err != nil {
		c.rewind(p)
		return fmt.Errorf("eventlog: committing offsets for %s/%d: %w", p.Topic, p.Partition, err)
	}
	return nil
}

// rewind moves the in-memory consume position back to the start of the failed
// batch so the records are polled again.
func (c *Consumer) rewind(p kgo.FetchTopicPartition) {
	first := p.Records[0]
	c.cl.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		p.Topic: {p.Partition: {Epoch: first.LeaderEpoch, Offset: first.Offset}},
	})
}

// fatalFetchError filters out poll-deadline noise and retryable partition
// errors; anything left terminates the consume loop.
func (c *Consumer) fatalFetchError(fetches kgo.Fetches) error {
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		if ke := (*kerr.Error)(nil); errors.As(fe.Err, &ke) && ke.Retriable {
			c.logger.Warnw("Retriable fetch error",
				"topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
			continue
		}
		return fmt.Errorf("eventlog: fatal fetch error on %s/%d: %w", fe.Topic, fe.Partition, fe.Err)
	}
	return nil
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	if c.cl != nil {
		c.cl.Close()
		c.cl = nil
	}
}

// ResetGroupToEarliest deletes the consumer group's committed offsets so a
// fresh subscribe with fromBeginning starts at the earliest offset. Deleting
// a group that does not exist is a no-op success. Must be called before
// Subscribe. Returns false on any other failure; the caller's fallback is
// still to subscribe from the beginning.
func (c *Consumer) ResetGroupToEarliest(ctx context.Context) bool {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ClientID(c.cfg.ClientID+"-admin"),
		kgo.RequestRetries(requestRetries),
		kgo.RetryBackoffFn(retryBackoff),
	)
	if err != nil {
		c.logger.Warnw("Failed to create admin client for group reset", "error", err)
		return false
	}
	defer cl.Close()

	adm := kadm.NewClient(cl)
	resp, err := adm.DeleteGroup(ctx, c.cfg.Group)
	if err != nil {
		c.logger.Warnw("Failed to delete consumer group", "group", c.cfg.Group, "error", err)
		return false
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.GroupIDNotFound) {
		c.logger.Warnw("Consumer group delete rejected", "group", c.cfg.Group, "error", resp.Err)
		return false
	}
	c.logger.Infow("Consumer group offsets reset", "group", c.cfg.Group)
	return true
}

func retryBackoff(tries int) time.Duration {
	backoff := retryBackoffBase
	for i := 1; i < tries; i++ {
		backoff *= 2
	}
	return backoff
}
