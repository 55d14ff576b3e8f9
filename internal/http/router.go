package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/iago/pdf-processor-back/internal/http/handlers"
	"github.com/iago/pdf-processor-back/internal/http/middleware"
	"github.com/rs/zerolog"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Trace(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}))
	r.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RPS:   deps.RateLimitRPS,
		Burst: deps.RateLimitBurst,
	}))
	if deps.MaxBodyBytes > 0 {
		// room for multipart framing around the file itself
		r.Use(middleware.BodyLimit(deps.MaxBodyBytes + 1<<20))
	}

	r.Get("/", deps.API.Root)
	r.Get("/health", deps.API.Health)
	r.Get("/queue/info", deps.API.QueueInfo)
	r.Post("/upload-pdf", deps.API.UploadPDF)
	r.Get("/status/{processingID}", deps.API.JobStatus)
	r.Get("/results/{processingID}", deps.API.Results)

	return r
}
