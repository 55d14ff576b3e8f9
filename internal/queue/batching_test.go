package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBatchWriter struct {
	mu      sync.Mutex
	batches [][]domain.WorkItem
}

func (p *recordingBatchWriter) Enqueue(ctx context.Context, item domain.WorkItem) error {
	return p.EnqueueBatch(ctx, []domain.WorkItem{item})
}

func (p *recordingBatchWriter) EnqueueBatch(_ context.Context, items []domain.WorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]domain.WorkItem(nil), items...))
	return nil
}

func (p *recordingBatchWriter) snapshot() [][]domain.WorkItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]domain.WorkItem(nil), p.batches...)
}

// gatedWriter blocks every write until the gate is closed.
type gatedWriter struct {
	gate chan struct{}
}

func (p *gatedWriter) Enqueue(ctx context.Context, item domain.WorkItem) error {
	return p.EnqueueBatch(ctx, []domain.WorkItem{item})
}

func (p *gatedWriter) EnqueueBatch(ctx context.Context, _ []domain.WorkItem) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.gate:
		return nil
	}
}

type failingWriter struct{}

func (failingWriter) Enqueue(context.Context, domain.WorkItem) error {
	return fmt.Errorf("%w: connection refused", domain.ErrQueueUnavailable)
}

func workItem(id string, offset time.Duration) domain.WorkItem {
	return domain.WorkItem{
		ProcessingID: id,
		Parser:       domain.ParserPyPDF,
		Filename:     "doc.pdf",
		DocumentRef:  "document:" + id,
		RequestedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset),
	}
}

func TestBatchingProducerCoalescesConcurrentEnqueues(t *testing.T) {
	base := &recordingBatchWriter{}
	batcher := NewBatchingProducer(context.Background(), base, BatchingConfig{
		MaxBatchSize:       8,
		FlushInterval:      20 * time.Millisecond,
		FlushTimeout:       time.Second,
		QueueCapacity:      64,
		MaxInFlightBatches: 2,
	})
	defer batcher.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			err := batcher.Enqueue(context.Background(), workItem(fmt.Sprintf("job-%d", index), time.Duration(index)*time.Millisecond))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	batches := base.snapshot()
	total := 0
	for _, batch := range batches {
		total += len(batch)
		for i := 1; i < len(batch); i++ {
			assert.False(t, batch[i].RequestedAt.Before(batch[i-1].RequestedAt), "batch not in submission order")
		}
	}
	assert.Equal(t, 10, total)
	assert.Less(t, len(batches), 10)
}

func TestBatchingProducerRefusesWhenSaturated(t *testing.T) {
	base := &gatedWriter{gate: make(chan struct{})}
	batcher := NewBatchingProducer(context.Background(), base, BatchingConfig{
		MaxBatchSize:       1,
		FlushInterval:      200 * time.Millisecond,
		FlushTimeout:       2 * time.Second,
		QueueCapacity:      1,
		MaxInFlightBatches: 1,
	})
	defer batcher.Close()

	results := make(chan error, 3)
	enqueueAsync := func(id string) {
		go func() { results <- batcher.Enqueue(context.Background(), workItem(id, 0)) }()
	}

	// first occupies the only write slot
	enqueueAsync("job-1")
	time.Sleep(30 * time.Millisecond)
	// second is taken by the loop, which then waits for a slot
	enqueueAsync("job-2")
	time.Sleep(30 * time.Millisecond)
	// third fills the buffer
	enqueueAsync("job-3")
	time.Sleep(30 * time.Millisecond)

	err := batcher.Enqueue(context.Background(), workItem("job-4", 0))
	assert.ErrorIs(t, err, ErrQueueBackpressure)

	close(base.gate)
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("queued enqueue never completed")
		}
	}
}

func TestBatchingProducerReportsWriteErrors(t *testing.T) {
	batcher := NewBatchingProducer(context.Background(), failingWriter{}, BatchingConfig{
		MaxBatchSize:  4,
		FlushInterval: 5 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	defer batcher.Close()

	err := batcher.Enqueue(context.Background(), workItem("job-1", 0))
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
}

func TestBatchingProducerCloseFlushesBuffered(t *testing.T) {
	base := &recordingBatchWriter{}
	batcher := NewBatchingProducer(context.Background(), base, BatchingConfig{
		MaxBatchSize:  16,
		FlushInterval: time.Hour,
	})

	done := make(chan error, 1)
	go func() { done <- batcher.Enqueue(context.Background(), workItem("job-1", 0)) }()
	time.Sleep(20 * time.Millisecond)

	batcher.Close()
	require.NoError(t, <-done)
	assert.Len(t, base.snapshot(), 1)

	err := batcher.Enqueue(context.Background(), workItem("job-2", 0))
	assert.True(t, errors.Is(err, ErrBatchingClosed))
}

func TestBatchingProducerPassesThroughMonitoring(t *testing.T) {
	local := NewLocalQueue(4, time.Minute, zerolog.Nop())
	batcher := NewBatchingProducer(context.Background(), local, BatchingConfig{FlushInterval: time.Millisecond})
	defer batcher.Close()

	require.NoError(t, batcher.Enqueue(context.Background(), workItem("job-1", 0)))
	require.NoError(t, batcher.Ping(context.Background()))

	info, err := batcher.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", info.Stream)
	assert.Equal(t, int64(1), info.Length)

	plain := NewBatchingProducer(context.Background(), failingWriter{}, BatchingConfig{})
	defer plain.Close()
	_, err = plain.Info(context.Background())
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
}
