package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrProviderUnavailable = errors.New("ai provider unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Attachment is a binary document sent alongside the prompt.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Attachments     []Attachment
	Temperature     float64
	MaxOutputTokens int
	JSONOutput      bool
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// TextGenerator is implemented by every hosted model backend.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

func (r GenerateRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Model) == "":
		return errors.New("model is required")
	case strings.TrimSpace(r.Input) == "":
		return errors.New("input is required")
	}
	return nil
}

const (
	retryBaseDelay = 300 * time.Millisecond
	retryMaxDelay  = 3 * time.Second
	maxErrorBody   = 700
)

// restCaller posts JSON to a provider endpoint with a per-attempt timeout and
// retries 429, 5xx and timeouts with doubling backoff.
type restCaller struct {
	provider   string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
}

func newRestCaller(provider string, client *http.Client, timeout time.Duration, maxRetries int) restCaller {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return restCaller{provider: provider, httpClient: client, timeout: timeout, maxRetries: maxRetries}
}

func (c restCaller) retry(ctx context.Context, attempt func() (GenerateResult, error)) (GenerateResult, error) {
	delay := retryBaseDelay
	for try := 0; ; try++ {
		result, err := attempt()
		if err == nil || try >= c.maxRetries || !isRetryableProviderError(err) {
			return result, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return GenerateResult{}, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, retryMaxDelay)
	}
}

// postJSON performs one request and decodes a 2xx body into out.
func (c restCaller) postJSON(ctx context.Context, endpoint string, headers http.Header, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", c.provider, err)
	}
	for key, values := range headers {
		for _, value := range values {
			request.Header.Add(key, value)
		}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timeout: %w", c.provider, err)
		}
		return fmt.Errorf("%s transport error: %w", c.provider, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("read %s body: %w", c.provider, err)
	}
	if response.StatusCode/100 != 2 {
		message := strings.TrimSpace(string(body))
		if len(message) > maxErrorBody {
			message = message[:maxErrorBody]
		}
		return &providerHTTPError{Provider: c.provider, StatusCode: response.StatusCode, Message: message}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return nil
}

type providerHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func isRetryableProviderError(err error) bool {
	var httpErr *providerHTTPError
	switch {
	case err == nil:
		return false
	case errors.As(err, &httpErr):
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
