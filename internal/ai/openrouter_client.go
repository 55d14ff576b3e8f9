package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type OpenRouterClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	// SiteURL and AppName are forwarded as HTTP-Referer and X-Title for
	// OpenRouter app attribution.
	SiteURL string
	AppName string
}

// OpenRouterClient speaks the OpenAI-compatible chat completions API exposed by
// OpenRouter. PDFs travel as file content parts.
type OpenRouterClient struct {
	apiKey  string
	baseURL string
	headers http.Header
	caller  restCaller
}

func NewOpenRouterClient(config OpenRouterClientConfig) *OpenRouterClient {
	baseURL := strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	appName := strings.TrimSpace(config.AppName)
	if appName == "" {
		appName = "PDF Processor"
	}
	apiKey := strings.TrimSpace(config.APIKey)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+apiKey)
	headers.Set("Accept", "application/json")
	headers.Set("X-Title", appName)
	if siteURL := strings.TrimSpace(config.SiteURL); siteURL != "" {
		headers.Set("HTTP-Referer", siteURL)
	}

	return &OpenRouterClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		headers: headers,
		caller:  newRestCaller("openrouter", config.HTTPClient, config.Timeout, config.MaxRetries),
	}
}

func (c *OpenRouterClient) Available() bool {
	return c.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatContentPart struct {
	Type string        `json:"type"`
	Text string        `json:"text,omitempty"`
	File *chatFilePart `json:"file,omitempty"`
}

type chatFilePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

func newChatRequest(request GenerateRequest) chatRequest {
	body := chatRequest{
		Model:       request.Model,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxOutputTokens,
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: instructions})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: chatUserContent(request)})
	if request.JSONOutput {
		body.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}
	return body
}

// chatUserContent keeps the plain string form unless files travel with the prompt.
func chatUserContent(request GenerateRequest) any {
	if len(request.Attachments) == 0 {
		return request.Input
	}
	parts := []chatContentPart{{Type: "text", Text: request.Input}}
	for _, attachment := range request.Attachments {
		parts = append(parts, chatContentPart{
			Type: "file",
			File: &chatFilePart{
				Filename: firstNonEmpty(attachment.Filename, "document.pdf"),
				FileData: fmt.Sprintf("data:%s;base64,%s", attachment.MIMEType, base64.StdEncoding.EncodeToString(attachment.Data)),
			},
		})
	}
	return parts
}

func (c *OpenRouterClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, fmt.Errorf("%w: openrouter api key is not configured", ErrProviderUnavailable)
	}
	if err := request.validate(); err != nil {
		return GenerateResult{}, err
	}

	payload, err := json.Marshal(newChatRequest(request))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal openrouter payload: %w", err)
	}

	return c.caller.retry(ctx, func() (GenerateResult, error) {
		var response chatResponse
		if err := c.caller.postJSON(ctx, c.baseURL+"/chat/completions", c.headers, payload, &response); err != nil {
			return GenerateResult{}, err
		}
		return response.result(request.Model)
	})
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (r chatResponse) result(requestedModel string) (GenerateResult, error) {
	text := ""
	if len(r.Choices) > 0 {
		text = messageText(r.Choices[0].Message.Content)
	}
	if text == "" {
		return GenerateResult{}, errors.New("openrouter response without text output")
	}
	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(r.Model, requestedModel),
		Usage: TokenUsage{
			InputTokens:  r.Usage.PromptTokens,
			OutputTokens: r.Usage.CompletionTokens,
			TotalTokens:  r.Usage.TotalTokens,
		},
	}, nil
}

// messageText accepts content either as a string or as a list of text parts.
func messageText(raw json.RawMessage) string {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		if line := strings.TrimSpace(part.Text); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
