// Package pipeline runs one document through extraction and analysis and
// assembles the stored result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/parser"
	"github.com/rs/zerolog"
)

// Mode decides what an analysis failure does to the job.
type Mode string

const (
	// ModeDegrade completes the job with the extraction alone and records
	// why analysis is missing.
	ModeDegrade Mode = "extraction_only"
	// ModeStrict fails the job when analysis fails.
	ModeStrict Mode = "strict"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeDegrade:
		return ModeDegrade, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q", value)
	}
}

// Analyzer is the analysis backend seen by the pipeline.
type Analyzer interface {
	Available() bool
	Analyze(ctx context.Context, text, markdown string) (domain.Analysis, error)
}

type Config struct {
	Registry        *parser.Registry
	Analyzer        Analyzer
	Mode            Mode
	AnalysisTimeout time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
}

type Input struct {
	Document []byte
	Filename string
	Parser   domain.ParserKind
}

type Pipeline struct {
	registry        *parser.Registry
	analyzer        Analyzer
	mode            Mode
	analysisTimeout time.Duration
	logger          zerolog.Logger
	now             func() time.Time
}

func New(config Config) (*Pipeline, error) {
	if config.Registry == nil {
		return nil, errors.New("parser registry is required")
	}
	if err := config.Registry.Validate(); err != nil {
		return nil, fmt.Errorf("parser registry: %w", err)
	}
	if config.Mode == "" {
		config.Mode = ModeDegrade
	}
	if config.AnalysisTimeout <= 0 {
		config.AnalysisTimeout = 60 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Pipeline{
		registry:        config.Registry,
		analyzer:        config.Analyzer,
		mode:            config.Mode,
		analysisTimeout: config.AnalysisTimeout,
		logger:          config.Logger,
		now:             config.Now,
	}, nil
}

func (p *Pipeline) Mode() Mode {
	return p.mode
}

// Process extracts, converts and analyzes one document. Extraction failures
// are returned as *domain.ExtractionError. Analysis failures are returned as
// *domain.AnalysisError only in strict mode.
func (p *Pipeline) Process(ctx context.Context, input Input) (domain.Result, error) {
	start := p.now()

	if len(input.Document) == 0 {
		return domain.Result{}, &domain.ExtractionError{Parser: input.Parser, Err: domain.ErrEmptyDocument}
	}

	resolution, err := p.registry.Resolve(input.Parser)
	if err != nil {
		return domain.Result{}, &domain.ExtractionError{Parser: input.Parser, Err: err}
	}

	extraction, err := resolution.Backend.Extract(ctx, input.Document, input.Filename)
	if err != nil {
		var extractionErr *domain.ExtractionError
		if errors.As(err, &extractionErr) {
			return domain.Result{}, err
		}
		return domain.Result{}, &domain.ExtractionError{Parser: resolution.Used, Err: err}
	}
	extraction.ParserUsed = resolution.Used
	if resolution.Fallback {
		if extraction.Metadata == nil {
			extraction.Metadata = map[string]any{}
		}
		extraction.Metadata["fallback_from"] = string(resolution.Requested)
		extraction.Metadata["note"] = fmt.Sprintf("%s fallback to %s", resolution.Requested, resolution.Used)
		p.logger.Warn().
			Str("requested", string(resolution.Requested)).
			Str("used", string(resolution.Used)).
			Msg("parser fell back")
	}

	result := domain.Result{
		Extraction:      extraction,
		Filename:        input.Filename,
		ParserUsed:      resolution.Used,
		ParserRequested: resolution.Requested,
		Fallback:        resolution.Fallback,
	}

	if err := p.analyze(ctx, &result); err != nil {
		return domain.Result{}, err
	}

	result.ProcessingTime = p.now().Sub(start).Seconds()
	return result, nil
}

func (p *Pipeline) analyze(ctx context.Context, result *domain.Result) error {
	if p.analyzer == nil || !p.analyzer.Available() {
		if p.mode == ModeStrict {
			return &domain.AnalysisError{Err: errors.New("analysis backend not configured")}
		}
		result.AnalysisStatus = domain.AnalysisStatusSkipped
		result.AnalysisError = "analysis backend not configured"
		return nil
	}

	analysisCtx, cancel := context.WithTimeout(ctx, p.analysisTimeout)
	defer cancel()

	analysis, err := p.analyzer.Analyze(analysisCtx, result.Extraction.Text, result.Extraction.Markdown)
	if err == nil {
		result.Analysis = &analysis
		result.AnalysisStatus = domain.AnalysisStatusCompleted
		return nil
	}

	analysisErr := &domain.AnalysisError{
		Err:     err,
		Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(analysisCtx.Err(), context.DeadlineExceeded),
	}
	if p.mode == ModeStrict {
		return analysisErr
	}

	p.logger.Warn().Err(analysisErr).Bool("timeout", analysisErr.Timeout).Msg("analysis failed, keeping extraction only")
	result.Analysis = nil
	result.AnalysisStatus = domain.AnalysisStatusFailed
	result.AnalysisError = analysisErr.Error()
	return nil
}
