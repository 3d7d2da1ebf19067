// Package httpapi exposes the submission pipeline, reports, and location
// reference management over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sitepatrol/backend/internal/db"
	apperrors "github.com/sitepatrol/backend/internal/errors"
	"github.com/sitepatrol/backend/internal/feed"
	"github.com/sitepatrol/backend/internal/fraud"
	"github.com/sitepatrol/backend/internal/logging"
	"github.com/sitepatrol/backend/internal/ratelimit"
	"github.com/sitepatrol/backend/internal/storage"
	"github.com/sitepatrol/backend/internal/submit"
)

// DefaultReportLimit bounds the fraud report when no limit is given.
const DefaultReportLimit = 50

// Server wires the repository, assembler, and fraud engine into HTTP routes.
type Server struct {
	repo      *db.Repository
	assembler *submit.Assembler
	engine    *fraud.Engine
	feed      *feed.Feed
	photos    storage.PhotoStore
	limiter   ratelimit.Limiter
	auth      *Auth
	photoDir  string
}

// NewServer creates a Server. limiter may be nil to disable rate limiting.
func NewServer(repo *db.Repository, assembler *submit.Assembler, engine *fraud.Engine,
	changeFeed *feed.Feed, photos storage.PhotoStore, limiter ratelimit.Limiter,
	auth *Auth, photoDir string) *Server {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Server{
		repo:      repo,
		assembler: assembler,
		engine:    engine,
		feed:      changeFeed,
		photos:    photos,
		limiter:   limiter,
		auth:      auth,
		photoDir:  photoDir,
	}
}

// Router assembles the route tree. Health and media are public; everything
// under /api requires a bearer token.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(s.photoDir))))

	r.Route("/api", func(api chi.Router) {
		api.Use(s.auth.Middleware)

		api.Post("/entries", s.handleSubmit)
		api.Get("/entries", s.handleListEntries)
		api.Get("/entries/gps", s.handleListWithGPS)
		api.Get("/entries/{id}", s.handleGetEntry)
		api.Post("/entries/{id}/approve", s.handleApprove)
		api.Delete("/entries/{id}", s.handleDelete)

		api.Get("/reports/fraud", s.handleFraudReport)
		api.Get("/reports/summary", s.handleSummary)

		api.Put("/locations/{location}/ref", s.handleSetLocationRef)
		api.Get("/locations/refs", s.handleListLocationRefs)

		api.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error("failed to encode response", err, nil)
	}
}

// writeError maps application error codes to HTTP statuses and emits the
// coded error body clients switch on.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := "internal error"
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
	}

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrUnauthenticated:
		status = http.StatusUnauthorized
	case apperrors.ErrPermission:
		status = http.StatusForbidden
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrPersistenceConflict:
		status = http.StatusConflict
	case apperrors.ErrWatermarkFailed:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrRateLimit:
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		logging.Error("request failed", err, nil)
	}
	writeJSON(w, status, map[string]string{
		"code":  string(code),
		"error": message,
	})
}
