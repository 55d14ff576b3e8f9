package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/rs/zerolog"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
	Logger             zerolog.Logger
}

type batchWriter interface {
	EnqueueBatch(ctx context.Context, items []domain.WorkItem) error
}

type submission struct {
	ctx  context.Context
	item domain.WorkItem
	done chan error
}

// BatchingProducer coalesces work items submitted close together into one
// pipelined write. Up to MaxInFlightBatches writes run concurrently; once they
// are all busy and the buffer is full, Enqueue fails fast with
// ErrQueueBackpressure so uploads are refused instead of piling up.
type BatchingProducer struct {
	base   Producer
	writer batchWriter
	config BatchingConfig
	logger zerolog.Logger

	submissions chan submission
	slots       chan struct{}
	writes      sync.WaitGroup

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	producer := &BatchingProducer{
		base:        base,
		config:      cfg,
		logger:      cfg.Logger,
		submissions: make(chan submission, cfg.QueueCapacity),
		slots:       make(chan struct{}, cfg.MaxInFlightBatches),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	if writer, ok := base.(batchWriter); ok {
		producer.writer = writer
	}

	go producer.loop(parent.Done())
	return producer
}

// Enqueue blocks until the batch holding item has been written or ctx ends.
func (b *BatchingProducer) Enqueue(ctx context.Context, item domain.WorkItem) error {
	select {
	case <-b.stopped:
		return ErrBatchingClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sub := submission{ctx: ctx, item: item, done: make(chan error, 1)}
	select {
	case b.submissions <- sub:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-sub.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes whatever is buffered and waits for in-flight batches.
func (b *BatchingProducer) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.stopped
}

func (b *BatchingProducer) Ping(ctx context.Context) error {
	if pinger, ok := b.base.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (b *BatchingProducer) Info(ctx context.Context) (StreamInfo, error) {
	inspector, ok := b.base.(interface {
		Info(ctx context.Context) (StreamInfo, error)
	})
	if !ok {
		return StreamInfo{}, fmt.Errorf("%w: queue does not expose stream info", domain.ErrQueueUnavailable)
	}
	return inspector.Info(ctx)
}

func (b *BatchingProducer) loop(parentDone <-chan struct{}) {
	defer close(b.stopped)

	var (
		batch  = make([]submission, 0, b.config.MaxBatchSize)
		timer  *time.Timer
		flushC <-chan time.Time
	)
	dispatch := func(final bool) {
		if timer != nil {
			timer.Stop()
			timer, flushC = nil, nil
		}
		if len(batch) == 0 {
			return
		}
		b.dispatch(batch, final)
		batch = make([]submission, 0, b.config.MaxBatchSize)
	}

	for {
		select {
		case <-parentDone:
			batch = b.drainInto(batch)
			dispatch(true)
			b.writes.Wait()
			return
		case <-b.stop:
			batch = b.drainInto(batch)
			dispatch(true)
			b.writes.Wait()
			return
		case <-flushC:
			dispatch(false)
		case sub := <-b.submissions:
			batch = append(batch, sub)
			if len(batch) >= b.config.MaxBatchSize {
				dispatch(false)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(b.config.FlushInterval)
				flushC = timer.C
			}
		}
	}
}

// drainInto moves buffered submissions into batch without blocking.
func (b *BatchingProducer) drainInto(batch []submission) []submission {
	for {
		select {
		case sub := <-b.submissions:
			batch = append(batch, sub)
		default:
			return batch
		}
	}
}

// dispatch waits for a write slot and hands batch to a writer goroutine. A
// final dispatch waits as long as it takes; others give up after FlushTimeout.
func (b *BatchingProducer) dispatch(batch []submission, final bool) {
	live := batch[:0]
	for _, sub := range batch {
		if err := sub.ctx.Err(); err != nil {
			sub.done <- err
			continue
		}
		live = append(live, sub)
	}
	if len(live) == 0 {
		return
	}

	if final {
		b.slots <- struct{}{}
	} else {
		wait := time.NewTimer(b.config.FlushTimeout)
		select {
		case b.slots <- struct{}{}:
			wait.Stop()
		case <-wait.C:
			err := fmt.Errorf("%w: no write slot within %s", domain.ErrQueueUnavailable, b.config.FlushTimeout)
			for _, sub := range live {
				sub.done <- err
			}
			return
		}
	}

	b.writes.Add(1)
	go func() {
		defer b.writes.Done()
		defer func() { <-b.slots }()
		b.write(live, final)
	}()
}

func (b *BatchingProducer) write(batch []submission, final bool) {
	// stream order follows submission time
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].item.RequestedAt.Before(batch[j].item.RequestedAt)
	})
	items := make([]domain.WorkItem, len(batch))
	for i, sub := range batch {
		items[i] = sub.item
	}

	ctx := context.Background()
	if !final {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.FlushTimeout)
		defer cancel()
	}

	var err error
	if b.writer != nil {
		err = b.writer.EnqueueBatch(ctx, items)
	} else {
		for _, item := range items {
			if err = b.base.Enqueue(ctx, item); err != nil {
				break
			}
		}
	}
	if err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(items)).Msg("batched enqueue failed")
	}

	for _, sub := range batch {
		sub.done <- err
	}
}
