package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/pdf-processor-back/internal/blob"
	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/parser"
	"github.com/iago/pdf-processor-back/internal/queue"
	"github.com/iago/pdf-processor-back/internal/repository"
	"github.com/rs/zerolog"
)

// QueueInspector exposes stream depth for operators.
type QueueInspector interface {
	Info(ctx context.Context) (queue.StreamInfo, error)
}

// QueueMonitor answers health and depth queries about the queue backend.
type QueueMonitor interface {
	queue.Pinger
	QueueInspector
}

// JobsServiceConfig wires the service. Monitor defaults to the producer when it
// implements QueueMonitor.
type JobsServiceConfig struct {
	Repo     repository.JobsRepository
	Producer queue.Producer
	Blobs    blob.Store
	Monitor  QueueMonitor
	JobTTL   time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
	NewID    func() string
}

// JobsService accepts documents for processing and answers status queries.
type JobsService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	blobs    blob.Store
	pinger   queue.Pinger
	info     QueueInspector
	jobTTL   time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

func NewJobsService(config JobsServiceConfig) *JobsService {
	if config.JobTTL <= 0 {
		config.JobTTL = 24 * time.Hour
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	service := &JobsService{
		repo:     config.Repo,
		producer: config.Producer,
		blobs:    config.Blobs,
		jobTTL:   config.JobTTL,
		logger:   config.Logger,
		now:      config.Now,
		newID:    config.NewID,
	}
	if config.Monitor != nil {
		service.pinger = config.Monitor
		service.info = config.Monitor
	}
	if pinger, ok := config.Producer.(queue.Pinger); ok && service.pinger == nil {
		service.pinger = pinger
	}
	if info, ok := config.Producer.(QueueInspector); ok && service.info == nil {
		service.info = info
	}
	return service
}

type SubmitInput struct {
	Document []byte
	Filename string
	Parser   string
}

// Submit validates the upload, stores the document and the pending record and
// enqueues the work item. Nothing is left behind when a step fails.
func (s *JobsService) Submit(ctx context.Context, input SubmitInput) (*domain.Job, error) {
	kind, err := domain.ParseParserKind(input.Parser)
	if err != nil {
		return nil, err
	}
	filename := strings.TrimSpace(filepath.Base(input.Filename))
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, domain.ErrInvalidFilename
	}
	if err := parser.ValidateDocument(input.Document); err != nil {
		return nil, err
	}

	now := s.now()
	id := s.newID()
	documentRef := blob.DocumentKey(id)
	message := fmt.Sprintf("PDF uploaded and queued for processing with %s parser", kind)

	job := &domain.Job{
		ID:          id,
		Status:      domain.JobStatusPending,
		Parser:      kind,
		Filename:    filename,
		Message:     message,
		DocumentRef: documentRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.blobs.Put(ctx, documentRef, input.Document, s.jobTTL); err != nil {
		return nil, fmt.Errorf("%w: store document: %v", domain.ErrStoreUnavailable, err)
	}

	if err := s.repo.CreateJob(ctx, job, s.jobTTL); err != nil {
		cleanupCtx, cancel := cleanupContext(ctx)
		s.discardDocument(cleanupCtx, documentRef)
		cancel()
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create job: %v", domain.ErrStoreUnavailable, err)
	}

	item := domain.WorkItem{
		ProcessingID: id,
		Parser:       kind,
		Filename:     filename,
		DocumentRef:  documentRef,
		SizeBytes:    int64(len(input.Document)),
		RequestedAt:  now,
	}
	if err := s.producer.Enqueue(ctx, item); err != nil {
		// The client may be gone; the rollback still has to land.
		cleanupCtx, cancel := cleanupContext(ctx)
		s.rollbackEnqueue(cleanupCtx, id, err)
		s.discardDocument(cleanupCtx, documentRef)
		cancel()
		if errors.Is(err, domain.ErrQueueUnavailable) || errors.Is(err, queue.ErrQueueBackpressure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: enqueue job: %v", domain.ErrQueueUnavailable, err)
	}

	s.logger.Info().
		Str("processing_id", id).
		Str("parser", string(kind)).
		Str("filename", filename).
		Int("size_bytes", len(input.Document)).
		Msg("job queued")

	return job, nil
}

const cleanupTimeout = 5 * time.Second

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func (s *JobsService) rollbackEnqueue(ctx context.Context, id string, cause error) {
	_, err := s.repo.UpdateJob(ctx, id, func(job *domain.Job) error {
		return job.Fail("enqueue failed: "+cause.Error(), s.now())
	})
	if err != nil {
		s.logger.Error().Err(err).Str("processing_id", id).Msg("mark job failed after enqueue error")
	}
}

func (s *JobsService) discardDocument(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn().Err(err).Str("document_ref", key).Msg("discard document")
	}
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.GetJob(ctx, jobID)
}

// ResultsView is the flattened result served to clients once a job completed.
type ResultsView struct {
	ProcessingID   string                `json:"processing_id"`
	Markdown       string                `json:"markdown"`
	Text           string                `json:"text"`
	Summary        string                `json:"summary"`
	Analysis       *domain.Analysis      `json:"analysis,omitempty"`
	AnalysisStatus domain.AnalysisStatus `json:"analysis_status"`
	AnalysisError  string                `json:"analysis_error,omitempty"`
	PageCount      int                   `json:"page_count"`
	ParserUsed     domain.ParserKind     `json:"parser_used"`
	Fallback       bool                  `json:"fallback"`
	Filename       string                `json:"filename"`
	ProcessingTime float64               `json:"processing_time"`
}

func (s *JobsService) GetResults(ctx context.Context, jobID string) (ResultsView, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return ResultsView{}, err
	}
	if job.Status != domain.JobStatusCompleted || job.Result == nil {
		return ResultsView{}, &domain.NotReadyError{ID: job.ID, Status: job.Status, Reason: job.Error}
	}

	result := job.Result
	view := ResultsView{
		ProcessingID:   job.ID,
		Markdown:       result.Extraction.Markdown,
		Text:           result.Extraction.Text,
		AnalysisStatus: result.AnalysisStatus,
		AnalysisError:  result.AnalysisError,
		PageCount:      result.Extraction.PageCount,
		ParserUsed:     result.ParserUsed,
		Fallback:       result.Fallback,
		Filename:       result.Filename,
		ProcessingTime: result.ProcessingTime,
	}
	if result.Analysis != nil {
		analysis := *result.Analysis
		view.Analysis = &analysis
		view.Summary = analysis.Summary
	}
	return view, nil
}

// HealthReport lists each dependency as "connected" or the error it returned.
type HealthReport struct {
	Healthy    bool              `json:"-"`
	Components map[string]string `json:"components"`
}

func (s *JobsService) Health(ctx context.Context) HealthReport {
	checks := map[string]func(context.Context) error{
		"store": s.repo.Ping,
		"blobs": s.blobs.Ping,
	}
	if s.pinger != nil {
		checks["queue"] = s.pinger.Ping
	}

	report := HealthReport{Healthy: true, Components: make(map[string]string, len(checks))}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			report.Healthy = false
			report.Components[name] = err.Error()
			continue
		}
		report.Components[name] = "connected"
	}
	return report
}

func (s *JobsService) QueueInfo(ctx context.Context) (queue.StreamInfo, error) {
	if s.info == nil {
		return queue.StreamInfo{}, fmt.Errorf("%w: queue does not expose stream info", domain.ErrQueueUnavailable)
	}
	return s.info.Info(ctx)
}
