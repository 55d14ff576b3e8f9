package ai

import "strings"

type TaskKind string

const (
	TaskExtraction TaskKind = "extraction"
	TaskAnalysis   TaskKind = "analysis"
)

// ModelProfile is the model pair and sampling settings used for one task.
type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
	JSONOutput      bool
}

type ModelRouterConfig struct {
	ExtractionPrimary  string
	ExtractionFallback string

	AnalysisPrimary  string
	AnalysisFallback string
}

// ModelRouter maps a task to its profile. Extraction reuses the analysis
// primary model when none is configured.
type ModelRouter struct {
	profiles map[TaskKind]ModelProfile
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	analysisPrimary := orDefault(config.AnalysisPrimary, "gemini-2.0-flash")
	analysisFallback := orDefault(config.AnalysisFallback, "gemini-1.5-flash")

	return &ModelRouter{profiles: map[TaskKind]ModelProfile{
		TaskExtraction: {
			PrimaryModel:    orDefault(config.ExtractionPrimary, analysisPrimary),
			FallbackModel:   strings.TrimSpace(config.ExtractionFallback),
			MaxOutputTokens: 8192,
		},
		TaskAnalysis: {
			PrimaryModel:    analysisPrimary,
			FallbackModel:   analysisFallback,
			Temperature:     0.2,
			MaxOutputTokens: 1200,
			JSONOutput:      true,
		},
	}}
}

// Select falls back to the analysis profile for unknown tasks.
func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	if profile, ok := r.profiles[task]; ok {
		return profile
	}
	return r.profiles[TaskAnalysis]
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
