package domain

type AnalysisStatus string

const (
	AnalysisStatusCompleted AnalysisStatus = "completed"
	AnalysisStatusSkipped   AnalysisStatus = "skipped"
	AnalysisStatusFailed    AnalysisStatus = "failed"
)

// Extraction is what a parser backend produced for a document.
type Extraction struct {
	Text       string         `json:"text"`
	Markdown   string         `json:"markdown"`
	PageCount  int            `json:"page_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ParserUsed ParserKind     `json:"parser_used"`
}

// Analysis is the structured output of the analysis backend.
type Analysis struct {
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	Sentiment       string   `json:"sentiment,omitempty"`
	Topics          []string `json:"topics"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	ModelID         string   `json:"model_id,omitempty"`
}

// Result is stored on a completed job. ParserUsed always mirrors
// Extraction.ParserUsed.
type Result struct {
	Extraction      Extraction     `json:"extraction"`
	Analysis        *Analysis      `json:"analysis,omitempty"`
	AnalysisStatus  AnalysisStatus `json:"analysis_status"`
	AnalysisError   string         `json:"analysis_error,omitempty"`
	ProcessingTime  float64        `json:"processing_time"`
	Filename        string         `json:"filename"`
	ParserUsed      ParserKind     `json:"parser_used"`
	ParserRequested ParserKind     `json:"parser_requested"`
	Fallback        bool           `json:"fallback"`
}

func (r Result) Clone() Result {
	clone := r
	if r.Extraction.Metadata != nil {
		clone.Extraction.Metadata = make(map[string]any, len(r.Extraction.Metadata))
		for key, value := range r.Extraction.Metadata {
			clone.Extraction.Metadata[key] = value
		}
	}
	if r.Analysis != nil {
		analysis := *r.Analysis
		analysis.KeyPoints = append([]string(nil), r.Analysis.KeyPoints...)
		analysis.Topics = append([]string(nil), r.Analysis.Topics...)
		if r.Analysis.ConfidenceScore != nil {
			score := *r.Analysis.ConfidenceScore
			analysis.ConfidenceScore = &score
		}
		clone.Analysis = &analysis
	}
	return clone
}
