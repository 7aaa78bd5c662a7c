package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krazyness/CRBot-public/internal/health"
	"github.com/krazyness/CRBot-public/internal/runner"
)

// HealthSource reports dependency health.
type HealthSource interface {
	Status() health.Status
}

// RunSource reports episode loop progress.
type RunSource interface {
	Status() runner.Status
}

// Server exposes run progress and dependency health over HTTP.
type Server struct {
	health HealthSource
	run    RunSource
	logger zerolog.Logger
}

// NewServer constructs a Server instance.
func NewServer(healthSource HealthSource, runSource RunSource, logger zerolog.Logger) *Server {
	return &Server{health: healthSource, run: runSource, logger: logger}
}

// Routes builds the HTTP router for the bot's status API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationID)
	r.Use(RequestLogger(s.logger))

	r.Get("/healthz", s.handleLiveness)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
	})
	return r
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Status()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.run.Status())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
