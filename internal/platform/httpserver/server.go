package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	pollengine "marquee/contexts/live-engagement/poll-engine"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "marquee/internal/platform/httpserver/docs"
)

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
	polls  pollengine.Module
}

func New(polls pollengine.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		polls:  polls,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the route table for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /api/events/{event_id}/polls", s.handleCreatePoll)
	s.mux.HandleFunc("GET /api/events/{event_id}/polls", s.handleListPolls)
	s.mux.HandleFunc("GET /api/polls/{poll_id}", s.handleGetPoll)
	s.mux.HandleFunc("PATCH /api/polls/{poll_id}", s.handleUpdatePoll)
	s.mux.HandleFunc("DELETE /api/polls/{poll_id}", s.handleDeletePoll)
	s.mux.HandleFunc("POST /api/polls/{poll_id}/close", s.handleClosePoll)
	s.mux.HandleFunc("POST /api/polls/{poll_id}/votes", s.handleSubmitVote)
	s.mux.HandleFunc("GET /api/polls/{poll_id}/results", s.handleGetResults)
	s.mux.HandleFunc("POST /api/polls/anonymous-token", s.handleAnonymousToken)
	s.mux.HandleFunc("POST /api/admin/polls/auto-close", s.handleAutoClose)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
