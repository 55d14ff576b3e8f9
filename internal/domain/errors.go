package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("job not found or expired")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrQueueUnavailable  = errors.New("queue unavailable")
	ErrStoreUnavailable  = errors.New("store unavailable")

	ErrValidation      = errors.New("validation failed")
	ErrEmptyDocument   = fmt.Errorf("%w: document is empty", ErrValidation)
	ErrInvalidDocument = fmt.Errorf("%w: document is not a readable PDF", ErrValidation)
	ErrInvalidFilename = fmt.Errorf("%w: only PDF files are allowed", ErrValidation)
)

// InvalidParserError is returned when a request names an unknown parser.
type InvalidParserError struct {
	Name string
}

func (e *InvalidParserError) Error() string {
	names := make([]string, 0, len(ParserKinds()))
	for _, kind := range ParserKinds() {
		names = append(names, string(kind))
	}
	return fmt.Sprintf("invalid parser %q: must be one of %s", e.Name, strings.Join(names, ", "))
}

func (e *InvalidParserError) Unwrap() error {
	return ErrValidation
}

// ExtractionError reports a parser backend failure.
type ExtractionError struct {
	Parser ParserKind
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction with %s failed: %v", e.Parser, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// AnalysisError reports an analysis backend failure or timeout.
type AnalysisError struct {
	Timeout bool
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("analysis timed out: %v", e.Err)
	}
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// NotReadyError is returned when results are requested before completion.
type NotReadyError struct {
	ID     string
	Status JobStatus
	Reason string
}

func (e *NotReadyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("job %s is %s: %s", e.ID, e.Status, e.Reason)
	}
	return fmt.Sprintf("job %s is %s", e.ID, e.Status)
}
