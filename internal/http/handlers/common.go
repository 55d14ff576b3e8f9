package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/http/middleware"
	"github.com/iago/pdf-processor-back/internal/queue"
	"github.com/iago/pdf-processor-back/internal/service"
	"github.com/rs/zerolog"
)

type API struct {
	jobsService    *service.JobsService
	maxUploadBytes int64
	logger         zerolog.Logger
}

func NewAPI(jobsService *service.JobsService, maxUploadBytes int64, logger zerolog.Logger) *API {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &API{
		jobsService:    jobsService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.RequestIDFrom(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps domain errors to HTTP statuses.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	var notReady *domain.NotReadyError
	switch {
	case errors.As(err, &maxBytesErr):
		writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds the upload limit")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "Results not found or expired")
	case errors.As(err, &notReady):
		if notReady.Status == domain.JobStatusFailed {
			writeError(w, r, http.StatusUnprocessableEntity, "processing_failed", notReady.Error())
			return
		}
		writeError(w, r, http.StatusConflict, "not_ready", notReady.Error())
	case errors.Is(err, queue.ErrQueueBackpressure):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "queue_busy", "queue is busy, retry shortly")
	case errors.Is(err, domain.ErrQueueUnavailable), errors.Is(err, domain.ErrStoreUnavailable):
		api.logger.Error().Err(err).Str("request_id", middleware.RequestIDFrom(r.Context())).Msg("dependency unavailable")
		writeError(w, r, http.StatusServiceUnavailable, "service_unavailable", "processing backend unavailable")
	default:
		api.logger.Error().Err(err).Str("request_id", middleware.RequestIDFrom(r.Context())).Msg("unexpected error")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
