package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/rs/zerolog"
)

// LocalQueue is the in-process fallback used when Redis is not configured.
// It keeps the same delivery contract as StreamsQueue: unacked deliveries are
// handed out again once the claim timeout passes.
type LocalQueue struct {
	ready        chan localEntry
	claimTimeout time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	seq      int64
	inflight map[string]localEntry
}

type localEntry struct {
	id       string
	item     domain.WorkItem
	attempt  int
	deadline time.Time
}

func NewLocalQueue(bufferSize int, claimTimeout time.Duration, logger zerolog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if claimTimeout <= 0 {
		claimTimeout = 5 * time.Minute
	}
	return &LocalQueue{
		ready:        make(chan localEntry, bufferSize),
		claimTimeout: claimTimeout,
		logger:       logger,
		now:          time.Now,
		inflight:     make(map[string]localEntry),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, item domain.WorkItem) error {
	q.mu.Lock()
	q.seq++
	entry := localEntry{id: strconv.FormatInt(q.seq, 10), item: item, attempt: 1}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ready <- entry:
		return nil
	default:
		return fmt.Errorf("%w: local queue is full", domain.ErrQueueUnavailable)
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, items []domain.WorkItem) error {
	for _, item := range items {
		if err := q.Enqueue(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	interval := q.claimTimeout / 4
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.reclaimExpired()
		case entry := <-q.ready:
			entry.deadline = q.now().Add(q.claimTimeout)
			q.mu.Lock()
			q.inflight[entry.id] = entry
			q.mu.Unlock()

			err := handler(ctx, Delivery{ID: entry.id, Item: entry.item, Attempt: entry.attempt})
			if err != nil {
				q.logger.Warn().
					Err(err).
					Str("processing_id", entry.item.ProcessingID).
					Int("attempt", entry.attempt).
					Msg("local queue delivery left unacked")
				return fmt.Errorf("handle %s: %w", entry.id, err)
			}

			q.mu.Lock()
			delete(q.inflight, entry.id)
			q.mu.Unlock()
		}
	}
}

// reclaimExpired puts deliveries whose claim timeout passed back in the ready channel.
func (q *LocalQueue) reclaimExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for id, entry := range q.inflight {
		if now.Before(entry.deadline) {
			continue
		}
		entry.attempt++
		select {
		case q.ready <- entry:
			delete(q.inflight, id)
		default:
			return
		}
	}
}

func (q *LocalQueue) Ping(context.Context) error {
	return nil
}

func (q *LocalQueue) Info(context.Context) (StreamInfo, error) {
	q.mu.Lock()
	pending := int64(len(q.inflight))
	q.mu.Unlock()
	return StreamInfo{
		Stream:  "local",
		Length:  int64(len(q.ready)) + pending,
		Pending: pending,
	}, nil
}
