package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamMessage(t *testing.T) {
	item := domain.WorkItem{ProcessingID: "abc", Parser: domain.ParserMistral, Filename: "a.pdf", DocumentRef: "document:abc"}
	values, err := encodeWorkItem(item)
	require.NoError(t, err)

	parsed, err := parseStreamMessage(redis.XMessage{ID: "1-0", Values: values})
	require.NoError(t, err)
	assert.Equal(t, item.ProcessingID, parsed.ProcessingID)
	assert.Equal(t, domain.ParserMistral, parsed.Parser)

	_, err = parseStreamMessage(redis.XMessage{ID: "2-0", Values: map[string]any{"processing_id": "abc"}})
	assert.Error(t, err)

	_, err = parseStreamMessage(redis.XMessage{ID: "3-0", Values: map[string]any{"processing_id": "abc", "data": "{not json"}})
	assert.Error(t, err)
}

func newTestStreamsQueue(t *testing.T, claimTimeout time.Duration) (*StreamsQueue, *redis.Client) {
	t.Helper()
	client := testutil.StartRedis(t)
	q, err := NewStreamsQueue(context.Background(), client, StreamsConfig{
		Stream:       "test_stream",
		DLQStream:    "test_dlq",
		Group:        "test_group",
		Consumer:     "consumer-a",
		ClaimTimeout: claimTimeout,
		ReadBlock:    100 * time.Millisecond,
	})
	require.NoError(t, err)
	return q, client
}

func TestStreamsQueueAckRemovesEntry(t *testing.T) {
	q, client := newTestStreamsQueue(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, domain.WorkItem{ProcessingID: "job-1", Parser: domain.ParserPyPDF}))

	var received Delivery
	err := q.Consume(ctx, func(_ context.Context, delivery Delivery) error {
		received = delivery
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "job-1", received.Item.ProcessingID)
	assert.Equal(t, 1, received.Attempt)

	length, err := client.XLen(context.Background(), "test_stream").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestStreamsQueueReclaimsAbandonedEntry(t *testing.T) {
	q, _ := newTestStreamsQueue(t, 200*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, domain.WorkItem{ProcessingID: "job-1"}))

	errCrashed := errors.New("crashed mid-job")
	err := q.Consume(ctx, func(context.Context, Delivery) error { return errCrashed })
	require.ErrorIs(t, err, errCrashed)

	other := q.WithConsumer("consumer-b")
	var received Delivery
	err = other.Consume(ctx, func(_ context.Context, delivery Delivery) error {
		received = delivery
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "job-1", received.Item.ProcessingID)
	assert.Equal(t, 2, received.Attempt)
}

func TestStreamsQueueMovesUndecodableEntryToDLQ(t *testing.T) {
	q, client := newTestStreamsQueue(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "test_stream", Values: map[string]any{"garbage": "1"}}).Err())
	require.NoError(t, q.Enqueue(ctx, domain.WorkItem{ProcessingID: "job-2"}))

	err := q.Consume(ctx, func(_ context.Context, delivery Delivery) error {
		assert.Equal(t, "job-2", delivery.Item.ProcessingID)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	dlqLength, err := client.XLen(context.Background(), "test_dlq").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqLength)

	info, err := q.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Pending)
}
