// Package bus implements the Message Bus: an at-least-once work queue for
// transcode/recording jobs and an ephemeral pub/sub channel edge servers use
// to watch for a stream's ingest session starting. Both ride on the same
// franz-go (Kafka-protocol) client.
package bus

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"github.com/scufflelive/corevideo/pkg/logger"
)

// Config configures the shared Kafka-protocol client underlying both the
// work queue and the watch pub/sub.
type Config struct {
	Brokers []string
	// WorkQueueTopic is the topic jobs are produced/consumed on.
	WorkQueueTopic string
	// ConsumerGroup is the work queue's consumer group; redelivery on
	// crash relies on the broker's group-rebalance + uncommitted offset.
	ConsumerGroup string
}

// WatchTopic returns the per-stream ephemeral topic name an edge server
// subscribes to while waiting for a room's ingest session to start.
func WatchTopic(org, room string) string {
	return fmt.Sprintf("watch.%s.%s", org, room)
}

// Job is one unit of work on the transcode/recording work queue.
type Job struct {
	Kind    string
	Payload []byte
	// raw carries the underlying kgo.Record so Ack/Nack can commit or
	// skip its offset; nil for jobs constructed outside Consumer.Poll.
	raw *kgo.Record
}

// Producer publishes jobs onto the work queue and stream-started
// notifications onto watch topics.
type Producer struct {
	client *kgo.Client
	log    logger.Logger
}

// NewProducer builds a Producer over cfg.Brokers.
func NewProducer(cfg Config, log logger.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, coreerrors.NewStorageError("create bus producer", err, true)
	}
	return &Producer{client: client, log: log}, nil
}

// PublishJob enqueues a job of the given kind onto the work queue topic.
func (p *Producer) PublishJob(ctx context.Context, topic, kind string, payload []byte) error {
	rec := &kgo.Record{
		Topic: topic,
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(kind)},
		},
	}
	result := p.client.ProduceSync(ctx, rec)
	if err := result.FirstErr(); err != nil {
		return coreerrors.NewStorageError("publish job", err, false)
	}
	return nil
}

// PublishWatchEvent notifies edge servers subscribed to a room's watch
// topic that ingest for that room has started (or stopped).
func (p *Producer) PublishWatchEvent(ctx context.Context, org, room string, payload []byte) error {
	rec := &kgo.Record{Topic: WatchTopic(org, room), Value: payload}
	result := p.client.ProduceSync(ctx, rec)
	if err := result.FirstErr(); err != nil {
		return coreerrors.NewStorageError("publish watch event", err, false)
	}
	return nil
}

// Close releases the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}

// Consumer pulls jobs from the work queue. Each job must be Acked (commits
// its offset) or Nacked (leaves it uncommitted, to be redelivered to
// whichever consumer next takes over the partition) exactly once.
type Consumer struct {
	client *kgo.Client
	log    logger.Logger
}

// NewConsumer builds a Consumer in the given consumer group over topic.
func NewConsumer(cfg Config, log logger.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.WorkQueueTopic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, coreerrors.NewStorageError("create bus consumer", err, true)
	}
	return &Consumer{client: client, log: log}, nil
}

// Poll fetches the next batch of jobs, blocking until at least one record
// arrives or ctx is cancelled.
func (c *Consumer) Poll(ctx context.Context) ([]Job, error) {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, coreerrors.NewInternalError("bus consumer closed")
	}
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, coreerrors.NewStorageError("poll fetches", errs[0].Err, false)
	}

	var jobs []Job
	fetches.EachRecord(func(rec *kgo.Record) {
		kind := ""
		for _, h := range rec.Headers {
			if h.Key == "kind" {
				kind = string(h.Value)
			}
		}
		jobs = append(jobs, Job{Kind: kind, Payload: rec.Value, raw: rec})
	})
	return jobs, nil
}

// Ack commits the job's offset, marking it permanently delivered.
func (c *Consumer) Ack(ctx context.Context, j Job) error {
	if j.raw == nil {
		return nil
	}
	if err := c.client.CommitRecords(ctx, j.raw); err != nil {
		return coreerrors.NewStorageError("commit job", err, false)
	}
	return nil
}

// Nack leaves the job's offset uncommitted so it is redelivered on the
// next rebalance or restart. There is nothing to do here beyond not
// calling Ack; it exists so call sites read symmetrically.
func (c *Consumer) Nack(ctx context.Context, j Job) error {
	return nil
}

// Close releases the underlying client.
func (c *Consumer) Close() {
	c.client.Close()
}

// WatchSubscriber is an ephemeral, non-durable consumer over a single
// room's watch topic, used by edge servers holding open a blocked
// "waiting for stream to start" request.
type WatchSubscriber struct {
	client *kgo.Client
}

// NewWatchSubscriber subscribes to org/room's watch topic from the
// current end of the topic (no backlog replay: only future events
// matter for "has the stream started").
func NewWatchSubscriber(brokers []string, org, room string) (*WatchSubscriber, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(WatchTopic(org, room)),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, coreerrors.NewStorageError("create watch subscriber", err, true)
	}
	return &WatchSubscriber{client: client}, nil
}

// Next blocks until a watch event arrives or ctx is cancelled.
func (w *WatchSubscriber) Next(ctx context.Context) ([]byte, error) {
	for {
		fetches := w.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return nil, coreerrors.Wrap(coreerrors.Timeout, "watch subscription", err)
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			return nil, coreerrors.NewStorageError("poll watch", errs[0].Err, false)
		}
		var payload []byte
		found := false
		fetches.EachRecord(func(rec *kgo.Record) {
			if !found {
				payload = rec.Value
				found = true
			}
		})
		if found {
			return payload, nil
		}
	}
}

// Close releases the underlying client.
func (w *WatchSubscriber) Close() {
	w.client.Close()
}
