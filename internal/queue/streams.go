package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Stream       string
	DLQStream    string
	Group        string
	Consumer     string
	ClaimTimeout time.Duration
	ReadBlock    time.Duration
}

// StreamsQueue implements Producer+Consumer backed by a Redis Streams consumer group.
// Entries stay in the group's pending list until acked; entries idle longer than
// ClaimTimeout are taken over by whichever consumer asks next.
type StreamsQueue struct {
	client       *redis.Client
	stream       string
	dlqStream    string
	group        string
	consumer     string
	claimTimeout time.Duration
	readBlock    time.Duration
}

func NewStreamsQueue(ctx context.Context, client *redis.Client, cfg StreamsConfig) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "pdf_processing_stream"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "pdf_processing_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "pdf_consumers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Minute
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = time.Second
	}

	queue := &StreamsQueue{
		client:       client,
		stream:       cfg.Stream,
		dlqStream:    cfg.DLQStream,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		claimTimeout: cfg.ClaimTimeout,
		readBlock:    cfg.ReadBlock,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

// WithConsumer returns a queue sharing the connection but reading as another group member.
func (q *StreamsQueue) WithConsumer(name string) *StreamsQueue {
	clone := *q
	clone.consumer = name
	return &clone
}

func (q *StreamsQueue) Consumer() string {
	return q.consumer
}

func (q *StreamsQueue) Enqueue(ctx context.Context, item domain.WorkItem) error {
	values, err := encodeWorkItem(item)
	if err != nil {
		return err
	}
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values}).Result(); err != nil {
		return fmt.Errorf("%w: enqueue to stream: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, items []domain.WorkItem) error {
	if len(items) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, item := range items {
		values, err := encodeWorkItem(item)
		if err != nil {
			return err
		}
		pipeline.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: values})
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return fmt.Errorf("%w: enqueue batch to stream: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Consume handles one entry at a time until ctx is done. A handler error is
// returned to the caller with the entry left unacked.
func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		message, attempt, ok, err := q.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !ok {
			continue
		}

		item, parseErr := parseStreamMessage(message)
		if parseErr != nil {
			_ = q.sendToDLQ(ctx, message, attempt, parseErr.Error())
			_ = q.ackAndDelete(ctx, message.ID)
			continue
		}

		if err := handler(ctx, Delivery{ID: message.ID, Item: item, Attempt: attempt}); err != nil {
			return fmt.Errorf("handle %s: %w", message.ID, err)
		}

		// A handled entry is acked even when shutdown started meanwhile.
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		ackErr := q.ackAndDelete(ackCtx, message.ID)
		cancel()
		if ackErr != nil {
			return ackErr
		}
	}
}

// next first reclaims an entry abandoned by a stalled consumer, then falls back
// to a blocking read of new entries.
func (q *StreamsQueue) next(ctx context.Context) (redis.XMessage, int, bool, error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return redis.XMessage{}, 0, false, fmt.Errorf("%w: xautoclaim: %v", domain.ErrQueueUnavailable, err)
	}
	for _, message := range claimed {
		if message.Values == nil {
			continue
		}
		return message, q.deliveryCount(ctx, message.ID), true, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.readBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, 0, false, nil
		}
		return redis.XMessage{}, 0, false, fmt.Errorf("%w: xreadgroup: %v", domain.ErrQueueUnavailable, err)
	}
	for _, stream := range streams {
		for _, message := range stream.Messages {
			return message, 1, true, nil
		}
	}
	return redis.XMessage{}, 0, false, nil
}

func (q *StreamsQueue) deliveryCount(ctx context.Context, id string) int {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 2
	}
	return int(pending[0].RetryCount)
}

func (q *StreamsQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *StreamsQueue) Info(ctx context.Context) (StreamInfo, error) {
	length, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return StreamInfo{}, fmt.Errorf("%w: xlen: %v", domain.ErrQueueUnavailable, err)
	}
	groups, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return StreamInfo{}, fmt.Errorf("%w: xinfo groups: %v", domain.ErrQueueUnavailable, err)
	}

	info := StreamInfo{Stream: q.stream, Length: length, Groups: make([]GroupInfo, 0, len(groups))}
	for _, group := range groups {
		info.Groups = append(info.Groups, GroupInfo{
			Name:            group.Name,
			Consumers:       group.Consumers,
			Pending:         group.Pending,
			LastDeliveredID: group.LastDeliveredID,
		})
		if group.Name == q.group {
			info.Pending = group.Pending
		}
	}
	return info, nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("%w: ensure stream group: %v", domain.ErrQueueUnavailable, err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("%w: xack: %v", domain.ErrQueueUnavailable, err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("%w: xdel: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, item redis.XMessage, attempt int, errorMessage string) error {
	values := map[string]any{
		"stream_id": item.ID,
		"attempt":   attempt,
		"error":     errorMessage,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for key, value := range item.Values {
		values["original_"+key] = value
	}
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func encodeWorkItem(item domain.WorkItem) (map[string]any, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode work item: %w", err)
	}
	return map[string]any{
		"processing_id": item.ProcessingID,
		"data":          string(data),
	}, nil
}

func parseStreamMessage(message redis.XMessage) (domain.WorkItem, error) {
	getString := func(key string) (string, error) {
		value, ok := message.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	processingID, err := getString("processing_id")
	if err != nil {
		return domain.WorkItem{}, err
	}
	data, err := getString("data")
	if err != nil {
		return domain.WorkItem{}, err
	}

	var item domain.WorkItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return domain.WorkItem{}, fmt.Errorf("invalid data: %w", err)
	}
	if item.ProcessingID == "" {
		item.ProcessingID = processingID
	}
	if item.ProcessingID != processingID {
		return domain.WorkItem{}, fmt.Errorf("processing_id mismatch: %s != %s", processingID, item.ProcessingID)
	}
	return item, nil
}
