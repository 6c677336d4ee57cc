package api

import (
	"encoding/json"
	"icarus/internal/quota"
	"icarus/internal/session"
	"net/http"

	"github.com/rs/zerolog"
)

type Server struct {
	sessions *session.Manager
	quota    *quota.Service
	logger   zerolog.Logger
}

func NewServer(sessions *session.Manager, quotaService *quota.Service, logger zerolog.Logger) *Server {
	return &Server{
		sessions: sessions,
		quota:    quotaService,
		logger:   logger,
	}
}

type UsageResponse struct {
	quota.Usage
	Allowed bool         `json:"allowed"`
	Reason  quota.Reason `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
}

// HandleUsage reports the shared-key usage for the caller's session.
func (s *Server) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := s.sessions.GetOrCreateSessionID(w, r)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load session")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	usage, err := s.quota.Begin(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("session", id).Msg("failed to load usage counters")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	decision := usage.Decision()
	response := UsageResponse{
		Usage:   usage,
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
		Message: decision.Message(),
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.quota.Ping(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("health check failed - counter store unavailable")
		http.Error(w, "Counter store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
