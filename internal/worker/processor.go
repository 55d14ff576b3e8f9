package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/pdf-processor-back/internal/blob"
	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/pipeline"
	"github.com/iago/pdf-processor-back/internal/queue"
	"github.com/iago/pdf-processor-back/internal/repository"
	"github.com/rs/zerolog"
)

// ErrAlreadyClaimed means another consumer holds the job. The delivery stays
// pending and the queue hands it out again once that claim times out.
var ErrAlreadyClaimed = errors.New("job already claimed by another worker")

// errSkip aborts a claim without treating the delivery as failed.
var errSkip = errors.New("job no longer claimable")

// Runner is the processing pipeline seen by the worker.
type Runner interface {
	Process(ctx context.Context, input pipeline.Input) (domain.Result, error)
}

type ProcessorConfig struct {
	Name          string
	Consumer      queue.Consumer
	Repo          repository.JobsRepository
	Blobs         blob.Store
	Pipeline      Runner
	MaxDeliveries int
	JobTimeout    time.Duration
	Logger        zerolog.Logger
	Now           func() time.Time
}

// Processor consumes work items one at a time and drives each job record to a
// terminal state before acknowledging the delivery.
type Processor struct {
	name          string
	consumer      queue.Consumer
	repo          repository.JobsRepository
	blobs         blob.Store
	pipeline      Runner
	maxDeliveries int
	jobTimeout    time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewProcessor(config ProcessorConfig) *Processor {
	if config.Name == "" {
		config.Name = "worker-1"
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 5
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		name:          config.Name,
		consumer:      config.Consumer,
		repo:          config.Repo,
		blobs:         config.Blobs,
		pipeline:      config.Pipeline,
		maxDeliveries: config.MaxDeliveries,
		jobTimeout:    config.JobTimeout,
		logger:        config.Logger.With().Str("worker", config.Name).Logger(),
		now:           config.Now,
		minBackoff:    2 * time.Second,
		maxBackoff:    30 * time.Second,
	}
}

// Start runs the consume loop until ctx is done. Loop failures are retried
// with exponential backoff.
func (p *Processor) Start(ctx context.Context) {
	backoff := p.minBackoff
	p.logger.Info().Msg("worker started")
	defer p.logger.Info().Msg("worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.Handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error().Err(err).Dur("backoff", backoff).Msg("consume loop error")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

// Handle processes one delivery. A nil return acknowledges it.
func (p *Processor) Handle(ctx context.Context, delivery queue.Delivery) error {
	item := delivery.Item
	logger := p.logger.With().
		Str("processing_id", item.ProcessingID).
		Str("delivery_id", delivery.ID).
		Int("attempt", delivery.Attempt).
		Logger()

	job, err := p.repo.GetJob(ctx, item.ProcessingID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Msg("job record missing or expired, dropping delivery")
		p.discardDocument(ctx, item.DocumentRef)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", item.ProcessingID, err)
	}
	if job.Status.Terminal() {
		logger.Debug().Str("status", string(job.Status)).Msg("job already finished, acking duplicate")
		return nil
	}

	if delivery.Attempt > p.maxDeliveries {
		logger.Error().Int("max_deliveries", p.maxDeliveries).Msg("delivery attempts exhausted")
		return p.finish(ctx, item, func(job *domain.Job) error {
			return job.Fail(fmt.Sprintf("exceeded %d delivery attempts", p.maxDeliveries), p.now())
		})
	}

	if _, err := p.repo.UpdateJob(ctx, item.ProcessingID, p.claim(delivery)); err != nil {
		switch {
		case errors.Is(err, errSkip), errors.Is(err, domain.ErrNotFound):
			return nil
		case errors.Is(err, ErrAlreadyClaimed):
			return err
		default:
			return fmt.Errorf("claim job %s: %w", item.ProcessingID, err)
		}
	}
	logger.Info().Str("parser", string(item.Parser)).Msg("job claimed")

	// The job runs to a terminal state even when shutdown starts meanwhile.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()

	document, err := p.blobs.Get(jobCtx, item.DocumentRef)
	if errors.Is(err, blob.ErrNotFound) {
		logger.Error().Msg("document missing or expired")
		return p.finish(jobCtx, item, func(job *domain.Job) error {
			return job.Fail("document not found or expired", p.now())
		})
	}
	if err != nil {
		return fmt.Errorf("load document %s: %w", item.DocumentRef, err)
	}

	result, err := p.pipeline.Process(jobCtx, pipeline.Input{
		Document: document,
		Filename: item.Filename,
		Parser:   item.Parser,
	})
	if err != nil {
		logger.Error().Err(err).Msg("processing failed")
		return p.finish(jobCtx, item, func(job *domain.Job) error {
			return job.Fail(err.Error(), p.now())
		})
	}

	if err := p.finish(jobCtx, item, func(job *domain.Job) error {
		return job.Complete(result, p.now())
	}); err != nil {
		return err
	}
	logger.Info().
		Str("parser_used", string(result.ParserUsed)).
		Str("analysis_status", string(result.AnalysisStatus)).
		Float64("processing_time", result.ProcessingTime).
		Msg("job completed")
	return nil
}

// claim re-checks the stored status inside the atomic update so two consumers
// can never both move a record out of pending.
func (p *Processor) claim(delivery queue.Delivery) repository.Mutator {
	return func(job *domain.Job) error {
		switch {
		case job.Status.Terminal():
			return errSkip
		case job.Status == domain.JobStatusProcessing && delivery.Attempt <= 1:
			return ErrAlreadyClaimed
		}
		return job.Claim(p.name, p.now())
	}
}

// finish writes a terminal state and drops the document. A transition
// rejected because the job already finished counts as done.
func (p *Processor) finish(ctx context.Context, item domain.WorkItem, mutate repository.Mutator) error {
	_, err := p.repo.UpdateJob(ctx, item.ProcessingID, mutate)
	switch {
	case err == nil, errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
	default:
		return fmt.Errorf("finish job %s: %w", item.ProcessingID, err)
	}
	p.discardDocument(ctx, item.DocumentRef)
	return nil
}

func (p *Processor) discardDocument(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := p.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		p.logger.Warn().Err(err).Str("document_ref", key).Msg("discard document")
	}
}
