package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/iago/pdf-processor-back/internal/service"
)

type uploadResponse struct {
	ProcessingID string            `json:"processing_id"`
	Status       domain.JobStatus  `json:"status"`
	Parser       domain.ParserKind `json:"parser"`
	Message      string            `json:"message"`
}

type statusResponse struct {
	ProcessingID string            `json:"processing_id"`
	Status       domain.JobStatus  `json:"status"`
	Message      string            `json:"message"`
	Parser       domain.ParserKind `json:"parser"`
	Filename     string            `json:"filename"`
	Result       *domain.Result    `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// UploadPDF accepts a multipart form with a "file" part and an optional
// "parser" field.
func (api *API) UploadPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, api.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.writeServiceError(w, r, err)
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", "expected multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "file is required")
		return
	}
	defer file.Close()

	if header.Size > api.maxUploadBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds the upload limit")
		return
	}
	document, err := io.ReadAll(io.LimitReader(file, api.maxUploadBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "could not read file")
		return
	}
	if int64(len(document)) > api.maxUploadBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds the upload limit")
		return
	}

	job, err := api.jobsService.Submit(r.Context(), service.SubmitInput{
		Document: document,
		Filename: header.Filename,
		Parser:   r.FormValue("parser"),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		ProcessingID: job.ID,
		Status:       job.Status,
		Parser:       job.Parser,
		Message:      job.Message,
	})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "processingID"))
	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "Processing ID not found")
			return
		}
		api.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		ProcessingID: job.ID,
		Status:       job.Status,
		Message:      job.Message,
		Parser:       job.Parser,
		Filename:     job.Filename,
		Result:       job.Result,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	})
}

func (api *API) Results(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "processingID"))
	view, err := api.jobsService.GetResults(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
