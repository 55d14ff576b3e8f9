package parser

import (
	"context"
	"errors"
	"strings"

	"github.com/iago/pdf-processor-back/internal/ai"
	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/markdown"
)

const extractionPrompt = "Extract all text from this PDF and format as clean markdown. Return only the markdown content."

// GeminiBackend sends the whole document to a multimodal model and keeps the
// markdown it returns. It serves the gemini_flash parser kind.
type GeminiBackend struct {
	generator ai.TextGenerator
	profile   ai.ModelProfile
}

func NewGeminiBackend(generator ai.TextGenerator, router *ai.ModelRouter) *GeminiBackend {
	if router == nil {
		router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	return &GeminiBackend{generator: generator, profile: router.Select(ai.TaskExtraction)}
}

func (b *GeminiBackend) Kind() domain.ParserKind {
	return domain.ParserGeminiFlash
}

func (b *GeminiBackend) Extract(ctx context.Context, document []byte, filename string) (domain.Extraction, error) {
	if b.generator == nil || !b.generator.Available() {
		return domain.Extraction{}, &domain.ExtractionError{Parser: b.Kind(), Err: errors.New("gemini model not available")}
	}
	if len(document) == 0 {
		return domain.Extraction{}, &domain.ExtractionError{Parser: b.Kind(), Err: domain.ErrEmptyDocument}
	}

	request := ai.GenerateRequest{
		Model:           b.profile.PrimaryModel,
		Input:           extractionPrompt,
		Attachments:     []ai.Attachment{{Filename: filename, MIMEType: "application/pdf", Data: document}},
		Temperature:     b.profile.Temperature,
		MaxOutputTokens: b.profile.MaxOutputTokens,
	}
	result, err := b.generator.Generate(ctx, request)
	if err != nil && ctx.Err() == nil && b.profile.FallbackModel != "" {
		request.Model = b.profile.FallbackModel
		result, err = b.generator.Generate(ctx, request)
	}
	if err != nil {
		return domain.Extraction{}, &domain.ExtractionError{Parser: b.Kind(), Err: err}
	}

	content := stripMarkdownFence(result.Text)
	if content == "" {
		return domain.Extraction{}, &domain.ExtractionError{Parser: b.Kind(), Err: errors.New("model returned no content")}
	}

	return domain.Extraction{
		Text:      markdown.ToText(content),
		Markdown:  content,
		PageCount: 1,
		Metadata: map[string]any{
			"extraction_method": string(domain.ParserGeminiFlash),
			"model":             result.ModelID,
		},
		ParserUsed: b.Kind(),
	}, nil
}

// stripMarkdownFence removes a ```markdown or bare ``` wrapper around the answer.
func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.Index(trimmed, "\n"); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		trimmed = ""
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
