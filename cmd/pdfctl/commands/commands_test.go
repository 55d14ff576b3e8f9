package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	statusCalls atomic.Int32
	// status returned from the second poll on
	finalStatus string

	mu         sync.Mutex
	healthy    bool
	lastParser string
	lastFile   string
}

func (f *fakeAPI) setHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

func (f *fakeAPI) lastUpload() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFile, f.lastParser
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		healthy := f.healthy
		f.mu.Unlock()
		if !healthy {
			writeTestJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":     "unhealthy",
				"components": map[string]string{"queue": "connection refused"},
			})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"status":     "healthy",
			"components": map[string]string{"queue": "connected"},
		})
	})
	mux.HandleFunc("POST /upload-pdf", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		f.mu.Lock()
		f.lastFile = header.Filename
		f.lastParser = r.FormValue("parser")
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{
			"processing_id": "job-1",
			"status":        "pending",
			"parser":        "pypdf",
		})
	})
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "job-1" {
			writeTestJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]string{"code": "not_found", "message": "Processing ID not found"},
			})
			return
		}
		status := "processing"
		if f.statusCalls.Add(1) > 1 {
			status = f.finalStatus
		}
		body := map[string]any{"processing_id": "job-1", "status": status}
		if status == "failed" {
			body["error"] = "extraction with pypdf failed"
		}
		writeTestJSON(w, http.StatusOK, body)
	})
	mux.HandleFunc("GET /results/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"processing_id": r.PathValue("id"),
			"markdown":      "## Title",
			"text":          "Title",
		})
	})
	return mux
}

func writeTestJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func run(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--api-url", serverURL, "--no-color"}, args...))
	err := root.Execute()
	return stdout.String(), err
}

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n%%EOF"), 0o600))
	return path
}

func TestHealthCommand(t *testing.T) {
	api := &fakeAPI{healthy: true}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	out, err := run(t, server.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "status: healthy")
	assert.Contains(t, out, "queue: connected")

	api.setHealthy(false)
	out, err = run(t, server.URL, "health")
	require.Error(t, err)
	assert.Contains(t, out, "status: unhealthy")
	assert.Contains(t, out, "connection refused")
}

func TestSubmitWithoutWait(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	out, err := run(t, server.URL, "submit", writePDF(t), "--parser", "mistral")
	require.NoError(t, err)
	assert.Contains(t, out, `"processing_id": "job-1"`)
	file, parser := api.lastUpload()
	assert.Equal(t, "mistral", parser)
	assert.Equal(t, "report.pdf", file)
	assert.Zero(t, api.statusCalls.Load())
}

func TestSubmitWaitPrintsResults(t *testing.T) {
	api := &fakeAPI{finalStatus: "completed"}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	out, err := run(t, server.URL, "submit", writePDF(t), "--wait", "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, `"markdown": "## Title"`)
	assert.GreaterOrEqual(t, api.statusCalls.Load(), int32(2))
}

func TestSubmitWaitReportsFailure(t *testing.T) {
	api := &fakeAPI{finalStatus: "failed"}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	_, err := run(t, server.URL, "submit", writePDF(t), "--wait", "--interval", "10ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction with pypdf failed")
}

func TestSubmitMissingFile(t *testing.T) {
	server := httptest.NewServer((&fakeAPI{}).handler())
	defer server.Close()

	_, err := run(t, server.URL, "submit", filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatusAndResultsCommands(t *testing.T) {
	api := &fakeAPI{finalStatus: "completed"}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	out, err := run(t, server.URL, "status", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "processing"`)

	_, err = run(t, server.URL, "status", "nope")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	out, err = run(t, server.URL, "results", "job-1", "--markdown")
	require.NoError(t, err)
	assert.Equal(t, "## Title\n", out)
}
