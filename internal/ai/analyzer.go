package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/iago/pdf-processor-back/internal/cache"
	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	analysisPromptVersion = "analysis-v1"
	maxAnalysisInputRunes = 8000
)

const analysisInstructions = "Return only valid JSON. Do not use markdown code fences."

const analysisSchema = `{
  "type": "object",
  "required": ["summary"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "key_points": {"type": "array", "items": {"type": "string"}},
    "sentiment": {"type": "string"},
    "topics": {"type": "array", "items": {"type": "string"}},
    "confidence_score": {"type": "number"}
  }
}`

type AnalyzerConfig struct {
	Generator TextGenerator
	Router    *ModelRouter
	Cache     *cache.AnalysisCache
	Logger    zerolog.Logger
}

// Analyzer asks a text generator for a structured analysis of a document and
// validates the answer before handing it back.
type Analyzer struct {
	generator TextGenerator
	router    *ModelRouter
	cache     *cache.AnalysisCache
	logger    zerolog.Logger
	schema    *jsonschema.Schema
}

func NewAnalyzer(config AnalyzerConfig) (*Analyzer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", strings.NewReader(analysisSchema)); err != nil {
		return nil, fmt.Errorf("add analysis schema: %w", err)
	}
	schema, err := compiler.Compile("analysis.json")
	if err != nil {
		return nil, fmt.Errorf("compile analysis schema: %w", err)
	}

	router := config.Router
	if router == nil {
		router = NewModelRouter(ModelRouterConfig{})
	}

	return &Analyzer{
		generator: config.Generator,
		router:    router,
		cache:     config.Cache,
		logger:    config.Logger,
		schema:    schema,
	}, nil
}

// Available reports whether a configured generator backs the analyzer.
func (a *Analyzer) Available() bool {
	return a != nil && a.generator != nil && a.generator.Available()
}

type analysisPayload struct {
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	Sentiment       string   `json:"sentiment"`
	Topics          []string `json:"topics"`
	ConfidenceScore *float64 `json:"confidence_score"`
}

func (a *Analyzer) Analyze(ctx context.Context, text, markdown string) (domain.Analysis, error) {
	if !a.Available() {
		return domain.Analysis{}, ErrProviderUnavailable
	}

	document := markdown
	if strings.TrimSpace(document) == "" {
		document = text
	}
	document = truncateRunes(document, maxAnalysisInputRunes)
	if strings.TrimSpace(document) == "" {
		return domain.Analysis{}, errors.New("no text to analyze")
	}

	profile := a.router.Select(TaskAnalysis)
	signature := cache.Signature(analysisPromptVersion, profile.PrimaryModel, document)
	if a.cache != nil {
		if entry, ok := a.cache.Get(signature); ok {
			var cached analysisPayload
			if err := json.Unmarshal(entry.Value, &cached); err == nil {
				a.logger.Debug().Str("cache_key", cache.KeyPrefix(signature)).Msg("analysis cache hit")
				return toDomainAnalysis(cached, entry.ModelID), nil
			}
		}
	}

	result, err := a.generateText(ctx, profile, buildAnalysisPrompt(document))
	if err != nil {
		return domain.Analysis{}, err
	}

	raw, err := extractJSON(result.Text)
	if err != nil {
		return domain.Analysis{}, err
	}
	if err := a.validate(raw); err != nil {
		return domain.Analysis{}, err
	}

	var payload analysisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	payload = normalizePayload(payload)

	if a.cache != nil {
		if encoded, err := json.Marshal(payload); err == nil {
			a.cache.Set(signature, cache.Entry{
				Value:         encoded,
				ModelID:       result.ModelID,
				PromptVersion: analysisPromptVersion,
			})
		}
	}

	a.logger.Debug().
		Str("model", result.ModelID).
		Int("input_tokens", result.Usage.InputTokens).
		Int("output_tokens", result.Usage.OutputTokens).
		Msg("analysis generated")

	return toDomainAnalysis(payload, result.ModelID), nil
}

func (a *Analyzer) generateText(ctx context.Context, profile ModelProfile, prompt string) (GenerateResult, error) {
	request := GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    analysisInstructions,
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONOutput:      profile.JSONOutput,
	}

	result, err := a.generator.Generate(ctx, request)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil || profile.FallbackModel == "" || profile.FallbackModel == profile.PrimaryModel {
		return GenerateResult{}, err
	}

	a.logger.Warn().Err(err).
		Str("primary_model", profile.PrimaryModel).
		Str("fallback_model", profile.FallbackModel).
		Msg("primary analysis model failed, trying fallback")

	request.Model = profile.FallbackModel
	fallback, fallbackErr := a.generator.Generate(ctx, request)
	if fallbackErr != nil {
		return GenerateResult{}, fmt.Errorf("primary: %v; fallback: %w", err, fallbackErr)
	}
	return fallback, nil
}

func (a *Analyzer) validate(raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("unmarshal analysis: %w", err)
	}
	if err := a.schema.Validate(value); err != nil {
		return fmt.Errorf("analysis does not match schema: %w", err)
	}
	return nil
}

func buildAnalysisPrompt(document string) string {
	var builder strings.Builder
	builder.WriteString("Analyze this document and respond in JSON format:\n")
	builder.WriteString("{\n")
	builder.WriteString("  \"summary\": \"2-3 sentence summary\",\n")
	builder.WriteString("  \"key_points\": [\"point1\", \"point2\", \"point3\"],\n")
	builder.WriteString("  \"sentiment\": \"positive/negative/neutral\",\n")
	builder.WriteString("  \"topics\": [\"topic1\", \"topic2\"],\n")
	builder.WriteString("  \"confidence_score\": 0.85\n")
	builder.WriteString("}\n\n")
	builder.WriteString("Document: ")
	builder.WriteString(document)
	return builder.String()
}

// extractJSON pulls the JSON object out of a model answer, tolerating a
// ```json fence or prose around the braces.
func extractJSON(raw string) ([]byte, error) {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "```json"); start >= 0 {
		body := text[start+len("```json"):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		text = strings.TrimSpace(body)
	}
	if json.Valid([]byte(text)) {
		return []byte(text), nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}
	return nil, errors.New("model response does not contain a JSON object")
}

func normalizePayload(payload analysisPayload) analysisPayload {
	payload.Summary = strings.TrimSpace(payload.Summary)
	payload.Sentiment = strings.ToLower(strings.TrimSpace(payload.Sentiment))
	payload.KeyPoints = compactStrings(payload.KeyPoints, false)
	payload.Topics = compactStrings(payload.Topics, true)
	if payload.ConfidenceScore != nil {
		score := *payload.ConfidenceScore
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		payload.ConfidenceScore = &score
	}
	return payload
}

// compactStrings trims entries and drops empty ones; with dedupe it also keeps
// only the first occurrence of each value.
func compactStrings(values []string, dedupe bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if dedupe {
			key := strings.ToLower(value)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, value)
	}
	return out
}

func toDomainAnalysis(payload analysisPayload, modelID string) domain.Analysis {
	analysis := domain.Analysis{
		Summary:   payload.Summary,
		KeyPoints: append([]string{}, payload.KeyPoints...),
		Sentiment: payload.Sentiment,
		Topics:    append([]string{}, payload.Topics...),
		ModelID:   modelID,
	}
	if payload.ConfidenceScore != nil {
		score := *payload.ConfidenceScore
		analysis.ConfidenceScore = &score
	}
	return analysis
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
