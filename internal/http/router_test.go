package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iago/pdf-processor-back/internal/blob"
	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/http/handlers"
	"github.com/iago/pdf-processor-back/internal/queue"
	"github.com/iago/pdf-processor-back/internal/repository"
	"github.com/iago/pdf-processor-back/internal/service"
	"github.com/iago/pdf-processor-back/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	repo    *repository.MemoryJobsRepository
}

func newTestServer(t *testing.T, maxUpload int64) testServer {
	t.Helper()
	repo := repository.NewMemoryJobsRepository()
	jobs := service.NewJobsService(service.JobsServiceConfig{
		Repo:     repo,
		Producer: queue.NewLocalQueue(16, time.Minute, zerolog.Nop()),
		Blobs:    blob.NewMemoryStore(),
		JobTTL:   time.Hour,
		Logger:   zerolog.Nop(),
	})
	return testServer{
		handler: NewRouter(RouterDependencies{
			API:            handlers.NewAPI(jobs, maxUpload, zerolog.Nop()),
			Logger:         zerolog.Nop(),
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
			MaxBodyBytes:   maxUpload,
		}),
		repo: repo,
	}
}

func uploadRequest(t *testing.T, filename string, document []byte, parser string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(document)
	require.NoError(t, err)
	if parser != "" {
		require.NoError(t, writer.WriteField("parser", parser))
	}
	require.NoError(t, writer.Close())

	request := httptest.NewRequest(http.MethodPost, "/upload-pdf", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func (s testServer) do(request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, recorder)
	errorBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error object, got %v", body)
	return errorBody["code"].(string)
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, 1<<20)
	recorder := s.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "PDF Processor API v2.0", decodeBody(t, recorder)["message"])
}

func TestUploadStatusAndResultsFlow(t *testing.T) {
	s := newTestServer(t, 1<<20)
	document := testutil.BuildPDF([]string{"Hello"}, "", "")

	recorder := s.do(uploadRequest(t, "hello.pdf", document, "gemini_flash"))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	upload := decodeBody(t, recorder)
	assert.Equal(t, "pending", upload["status"])
	assert.Equal(t, "gemini_flash", upload["parser"])
	assert.Equal(t, "PDF uploaded and queued for processing with gemini_flash parser", upload["message"])
	id := upload["processing_id"].(string)

	recorder = s.do(httptest.NewRequest(http.MethodGet, "/status/"+id, nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	status := decodeBody(t, recorder)
	assert.Equal(t, "pending", status["status"])
	assert.Equal(t, "hello.pdf", status["filename"])

	recorder = s.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, "not_ready", errorCode(t, recorder))

	_, err := s.repo.UpdateJob(context.Background(), id, func(job *domain.Job) error {
		if err := job.Claim("w", time.Now()); err != nil {
			return err
		}
		return job.Complete(domain.Result{
			Extraction:     domain.Extraction{Text: "Hello", Markdown: "## Hello", PageCount: 1, ParserUsed: domain.ParserGeminiFlash},
			AnalysisStatus: domain.AnalysisStatusSkipped,
			Filename:       "hello.pdf",
			ParserUsed:     domain.ParserGeminiFlash,
		}, time.Now())
	})
	require.NoError(t, err)

	recorder = s.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	results := decodeBody(t, recorder)
	assert.Equal(t, "## Hello", results["markdown"])
	assert.Equal(t, "gemini_flash", results["parser_used"])
	assert.Equal(t, id, results["processing_id"])
}

func TestResultsOfFailedJob(t *testing.T) {
	s := newTestServer(t, 1<<20)
	recorder := s.do(uploadRequest(t, "a.pdf", testutil.BuildPDF([]string{"x"}, "", ""), ""))
	require.Equal(t, http.StatusOK, recorder.Code)
	id := decodeBody(t, recorder)["processing_id"].(string)

	_, err := s.repo.UpdateJob(context.Background(), id, func(job *domain.Job) error {
		return job.Fail("extraction with pypdf failed: bad xref", time.Now())
	})
	require.NoError(t, err)

	recorder = s.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	assert.Equal(t, "processing_failed", errorCode(t, recorder))
}

func TestUploadRejections(t *testing.T) {
	document := testutil.BuildPDF([]string{"Hello"}, "", "")
	tests := []struct {
		name      string
		maxUpload int64
		request   func(t *testing.T) *http.Request
		status    int
		code      string
	}{
		{
			name:      "non pdf filename",
			maxUpload: 1 << 20,
			request:   func(t *testing.T) *http.Request { return uploadRequest(t, "notes.txt", document, "") },
			status:    http.StatusBadRequest,
			code:      "invalid_request",
		},
		{
			name:      "invalid parser",
			maxUpload: 1 << 20,
			request:   func(t *testing.T) *http.Request { return uploadRequest(t, "a.pdf", document, "tesseract") },
			status:    http.StatusBadRequest,
			code:      "invalid_request",
		},
		{
			name:      "empty document",
			maxUpload: 1 << 20,
			request:   func(t *testing.T) *http.Request { return uploadRequest(t, "a.pdf", nil, "") },
			status:    http.StatusBadRequest,
			code:      "invalid_request",
		},
		{
			name:      "too large",
			maxUpload: 64,
			request:   func(t *testing.T) *http.Request { return uploadRequest(t, "a.pdf", document, "") },
			status:    http.StatusRequestEntityTooLarge,
			code:      "payload_too_large",
		},
		{
			name:      "not multipart",
			maxUpload: 1 << 20,
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/upload-pdf", bytes.NewReader(document))
			},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.maxUpload)
			recorder := s.do(tt.request(t))
			assert.Equal(t, tt.status, recorder.Code, recorder.Body.String())
			assert.Equal(t, tt.code, errorCode(t, recorder))
		})
	}
}

func TestStatusUnknownID(t *testing.T) {
	s := newTestServer(t, 1<<20)

	recorder := s.do(httptest.NewRequest(http.MethodGet, "/status/0b9a3c3e-9d55-4c1e-8a57-6f3f0f7b2f10", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("X-Request-Id"))

	recorder = s.do(httptest.NewRequest(http.MethodGet, "/results/whatever", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHealthAndQueueInfo(t *testing.T) {
	s := newTestServer(t, 1<<20)

	recorder := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	health := decodeBody(t, recorder)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "connected", health["redis"])

	recorder = s.do(httptest.NewRequest(http.MethodGet, "/queue/info", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "local", decodeBody(t, recorder)["stream"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, 1<<20)
	recorder := s.do(httptest.NewRequest(http.MethodGet, "/upload-pdf", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
