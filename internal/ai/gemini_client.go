package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type GeminiClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// GeminiClient calls the Generative Language generateContent endpoint.
// Attachments are sent inline, base64 encoded.
type GeminiClient struct {
	apiKey  string
	baseURL string
	caller  restCaller
}

func NewGeminiClient(config GeminiClientConfig) *GeminiClient {
	baseURL := strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiClient{
		apiKey:  strings.TrimSpace(config.APIKey),
		baseURL: baseURL,
		caller:  newRestCaller("gemini", config.HTTPClient, config.Timeout, config.MaxRetries),
	}
}

func (c *GeminiClient) Available() bool {
	return c.apiKey != ""
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

func newGeminiRequest(request GenerateRequest) geminiRequest {
	parts := make([]geminiPart, 0, len(request.Attachments)+1)
	parts = append(parts, geminiPart{Text: request.Input})
	for _, attachment := range request.Attachments {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: attachment.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(attachment.Data),
		}})
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     request.Temperature,
			MaxOutputTokens: request.MaxOutputTokens,
		},
	}
	if request.JSONOutput {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: instructions}}}
	}
	return body
}

func (c *GeminiClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, fmt.Errorf("%w: gemini api key is not configured", ErrProviderUnavailable)
	}
	if err := request.validate(); err != nil {
		return GenerateResult{}, err
	}

	payload, err := json.Marshal(newGeminiRequest(request))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal gemini payload: %w", err)
	}
	endpoint := c.baseURL + "/models/" + url.PathEscape(request.Model) + ":generateContent"
	headers := http.Header{"X-Goog-Api-Key": {c.apiKey}}

	return c.caller.retry(ctx, func() (GenerateResult, error) {
		var response geminiResponse
		if err := c.caller.postJSON(ctx, endpoint, headers, payload, &response); err != nil {
			return GenerateResult{}, err
		}
		return response.result(request.Model)
	})
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// result joins the first candidate's text parts.
func (r geminiResponse) result(requestedModel string) (GenerateResult, error) {
	var text strings.Builder
	if len(r.Candidates) > 0 {
		for _, part := range r.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	joined := strings.TrimSpace(text.String())
	if joined == "" {
		if reason := r.PromptFeedback.BlockReason; reason != "" {
			return GenerateResult{}, fmt.Errorf("gemini blocked prompt: %s", reason)
		}
		return GenerateResult{}, errors.New("gemini response without text output")
	}

	return GenerateResult{
		Text:    joined,
		ModelID: firstNonEmpty(r.ModelVersion, requestedModel),
		Usage: TokenUsage{
			InputTokens:  r.UsageMetadata.PromptTokenCount,
			OutputTokens: r.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  r.UsageMetadata.TotalTokenCount,
		},
	}, nil
}
