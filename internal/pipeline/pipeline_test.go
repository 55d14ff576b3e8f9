package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/parser"
	"github.com/iago/pdf-processor-back/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	available bool
	delay     time.Duration
	err       error
	calls     int
}

func (a *fakeAnalyzer) Available() bool { return a.available }

func (a *fakeAnalyzer) Analyze(ctx context.Context, _ string, markdown string) (domain.Analysis, error) {
	a.calls++
	if a.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.Analysis{}, ctx.Err()
		case <-time.After(a.delay):
		}
	}
	if a.err != nil {
		return domain.Analysis{}, a.err
	}
	score := 0.9
	return domain.Analysis{Summary: "summary of " + markdown[:2], KeyPoints: []string{"k"}, ConfidenceScore: &score}, nil
}

func newRegistry() *parser.Registry {
	registry := parser.NewRegistry()
	registry.Register(parser.NewTextBackend())
	registry.Register(parser.NewGeminiBackend(nil, nil))
	registry.RegisterFallback(domain.ParserMistral, domain.ParserPyPDF)
	return registry
}

func newPipeline(t *testing.T, analyzer Analyzer, mode Mode, timeout time.Duration) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Registry:        newRegistry(),
		Analyzer:        analyzer,
		Mode:            mode,
		AnalysisTimeout: timeout,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	return p
}

func threePageDocument() []byte {
	return testutil.BuildPDF([]string{"INTRODUCTION", "Body of the report.", "Conclusions:"}, "Quarterly", "Ops")
}

func TestProcessThreePageDocumentWithPyPDF(t *testing.T) {
	analyzer := &fakeAnalyzer{available: true}
	p := newPipeline(t, analyzer, ModeDegrade, time.Second)

	result, err := p.Process(context.Background(), Input{Document: threePageDocument(), Filename: "q.pdf", Parser: domain.ParserPyPDF})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Extraction.PageCount)
	assert.NotEmpty(t, result.Extraction.Markdown)
	assert.Equal(t, domain.ParserPyPDF, result.ParserUsed)
	assert.Equal(t, result.ParserUsed, result.Extraction.ParserUsed)
	assert.False(t, result.Fallback)
	assert.Equal(t, domain.AnalysisStatusCompleted, result.AnalysisStatus)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, "q.pdf", result.Filename)
	assert.GreaterOrEqual(t, result.ProcessingTime, 0.0)
}

func TestProcessMistralFallsBackVisibly(t *testing.T) {
	p := newPipeline(t, &fakeAnalyzer{available: true}, ModeDegrade, time.Second)

	result, err := p.Process(context.Background(), Input{Document: threePageDocument(), Filename: "q.pdf", Parser: domain.ParserMistral})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, domain.ParserMistral, result.ParserRequested)
	assert.Equal(t, domain.ParserPyPDF, result.ParserUsed)
	assert.Equal(t, domain.ParserPyPDF, result.Extraction.ParserUsed)
	assert.Equal(t, "mistral", result.Extraction.Metadata["fallback_from"])
}

func TestProcessAnalysisTimeoutDegradesToExtractionOnly(t *testing.T) {
	analyzer := &fakeAnalyzer{available: true, delay: time.Second}
	p := newPipeline(t, analyzer, ModeDegrade, 20*time.Millisecond)

	result, err := p.Process(context.Background(), Input{Document: threePageDocument(), Filename: "q.pdf", Parser: domain.ParserPyPDF})
	require.NoError(t, err)

	assert.Nil(t, result.Analysis)
	assert.Equal(t, domain.AnalysisStatusFailed, result.AnalysisStatus)
	assert.Contains(t, result.AnalysisError, "timed out")
	assert.Equal(t, 3, result.Extraction.PageCount)
}

func TestProcessAnalysisTimeoutFailsInStrictMode(t *testing.T) {
	analyzer := &fakeAnalyzer{available: true, delay: time.Second}
	p := newPipeline(t, analyzer, ModeStrict, 20*time.Millisecond)

	_, err := p.Process(context.Background(), Input{Document: threePageDocument(), Filename: "q.pdf", Parser: domain.ParserPyPDF})

	var analysisErr *domain.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.True(t, analysisErr.Timeout)
}

func TestProcessSkipsAnalysisWithoutBackend(t *testing.T) {
	p := newPipeline(t, nil, ModeDegrade, time.Second)

	result, err := p.Process(context.Background(), Input{Document: threePageDocument(), Filename: "q.pdf", Parser: domain.ParserPyPDF})
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusSkipped, result.AnalysisStatus)
	assert.Nil(t, result.Analysis)

	strict := newPipeline(t, &fakeAnalyzer{}, ModeStrict, time.Second)
	_, err = strict.Process(context.Background(), Input{Document: threePageDocument(), Filename: "q.pdf", Parser: domain.ParserPyPDF})
	var analysisErr *domain.AnalysisError
	assert.ErrorAs(t, err, &analysisErr)
}

func TestProcessAnalysisErrorDegrades(t *testing.T) {
	analyzer := &fakeAnalyzer{available: true, err: errors.New("quota exceeded")}
	p := newPipeline(t, analyzer, ModeDegrade, time.Second)

	result, err := p.Process(context.Background(), Input{Document: threePageDocument(), Filename: "q.pdf", Parser: domain.ParserPyPDF})
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusFailed, result.AnalysisStatus)
	assert.Contains(t, result.AnalysisError, "quota exceeded")
}

func TestProcessExtractionErrors(t *testing.T) {
	p := newPipeline(t, &fakeAnalyzer{available: true}, ModeDegrade, time.Second)
	var extractionErr *domain.ExtractionError

	_, err := p.Process(context.Background(), Input{Document: nil, Parser: domain.ParserPyPDF})
	require.ErrorAs(t, err, &extractionErr)

	_, err = p.Process(context.Background(), Input{Document: []byte("%PDF-1.4 broken"), Parser: domain.ParserPyPDF})
	require.ErrorAs(t, err, &extractionErr)

	_, err = p.Process(context.Background(), Input{Document: threePageDocument(), Parser: domain.ParserGeminiFlash})
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, domain.ParserGeminiFlash, extractionErr.Parser)
}

func TestNewRejectsIncompleteRegistry(t *testing.T) {
	registry := parser.NewRegistry()
	registry.Register(parser.NewTextBackend())

	_, err := New(Config{Registry: registry})
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDegrade, mode)

	mode, err = ParseMode(" STRICT ")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, mode)

	_, err = ParseMode("lenient")
	assert.Error(t, err)
}
