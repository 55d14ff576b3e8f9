package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// apiError carries the status and error body of a non-2xx response.
type apiError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, httpClient *http.Client) *apiClient {
	return &apiClient{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

func (c *apiClient) health(ctx context.Context) (map[string]any, error) {
	var body map[string]any
	// an unhealthy service still answers with a report
	err := c.do(ctx, http.MethodGet, "/health", nil, "", &body)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && body != nil {
		return body, nil
	}
	return body, err
}

func (c *apiClient) submit(ctx context.Context, path, parser string) (map[string]any, error) {
	document, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var payload bytes.Buffer
	writer := multipart.NewWriter(&payload)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(document); err != nil {
		return nil, err
	}
	if parser != "" {
		if err := writer.WriteField("parser", parser); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var body map[string]any
	err = c.do(ctx, http.MethodPost, "/upload-pdf", &payload, writer.FormDataContentType(), &body)
	return body, err
}

func (c *apiClient) status(ctx context.Context, id string) (map[string]any, error) {
	var body map[string]any
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, "", &body)
	return body, err
}

func (c *apiClient) results(ctx context.Context, id string) (map[string]any, error) {
	var body map[string]any
	err := c.do(ctx, http.MethodGet, "/results/"+url.PathEscape(id), nil, "", &body)
	return body, err
}

func (c *apiClient) do(ctx context.Context, method, path string, payload io.Reader, contentType string, out *map[string]any) error {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response (%d): %s", response.StatusCode, strings.TrimSpace(string(raw)))
		}
	}

	if response.StatusCode >= 200 && response.StatusCode <= 299 {
		return nil
	}
	apiErr := &apiError{StatusCode: response.StatusCode}
	if errorBody, ok := (*out)["error"].(map[string]any); ok {
		apiErr.Code, _ = errorBody["code"].(string)
		apiErr.Message, _ = errorBody["message"].(string)
	}
	return apiErr
}
