package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveCORS(t *testing.T, cfg CORSConfig, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(method, "/upload-pdf", nil)
	if origin != "" {
		request.Header.Set("Origin", origin)
	}
	if method == http.MethodOptions {
		request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder, reached
}

func TestCORSPreflightFromListedOrigin(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{" http://localhost:3000 "}}
	recorder, reached := serveCORS(t, cfg, http.MethodOptions, "http://LOCALHOST:3000")

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.False(t, reached)
	assert.Equal(t, "http://LOCALHOST:3000", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", recorder.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, recorder.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	assert.Equal(t, "600", recorder.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, recorder.Header().Values("Vary"), "Access-Control-Request-Method")
}

func TestCORSSimpleRequestGetsExposedHeaders(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"*"}, MaxAge: 60}
	recorder, reached := serveCORS(t, cfg, http.MethodGet, "https://any.example")

	assert.True(t, reached)
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Retry-After, X-Request-Id", recorder.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, recorder.Header().Get("Access-Control-Max-Age"))
}

func TestCORSLeavesUnknownOriginsAlone(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}

	for _, origin := range []string{"https://evil.example", ""} {
		recorder, reached := serveCORS(t, cfg, http.MethodOptions, origin)
		assert.True(t, reached, "origin %q", origin)
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSDisabledWithoutOrigins(t *testing.T) {
	recorder, reached := serveCORS(t, CORSConfig{}, http.MethodPost, "http://localhost:3000")
	assert.True(t, reached)
	assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSCustomLists(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"POST", " "},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         30,
	}
	recorder, _ := serveCORS(t, cfg, http.MethodOptions, "http://localhost:3000")
	assert.Equal(t, "POST", recorder.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Authorization", recorder.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "30", recorder.Header().Get("Access-Control-Max-Age"))
}
