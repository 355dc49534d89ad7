package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/call"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/store"
)

// LiveReader is the snapshot-publisher read path over live calls.
type LiveReader interface {
	Latest(callID string) (*call.Analysis, bool)
	Messages(callID string, limit int) ([]call.Utterance, bool)
	LiveCount() int
}

// CallPipeline is the write path: ingest and finalize.
type CallPipeline interface {
	Ingest(callID string, u call.Utterance, owner uuid.UUID) (int, error)
	Finalize(ctx context.Context, callID string, owner uuid.UUID) (uuid.UUID, error)
}

// SessionReader is the read path over finalized sessions.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID, owner uuid.UUID) (*store.Record, error)
	GetByCallID(ctx context.Context, callID string) (*store.Record, error)
	ListSessions(ctx context.Context, owner uuid.UUID, limit int) ([]store.SessionSummary, error)
}

type Server struct {
	router   *chi.Mux
	port     int
	live     LiveReader
	pipeline CallPipeline
	sessions SessionReader
	logger   *slog.Logger
}

func NewServer(port int, verifier Verifier, live LiveReader, p CallPipeline, sessions SessionReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		live:     live,
		pipeline: p,
		sessions: sessions,
		logger:   logger,
	}

	router.Get("/health", s.health)

	// Live call endpoints, polled by the transport agent and sales UI.
	router.Post("/api/v1/transcriptions", s.ingestTranscription)
	router.Get("/api/v1/analysis/{callID}", s.getAnalysis)
	router.Get("/api/v1/messages/{callID}", s.getMessages)

	// Owner-scoped session endpoints.
	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(verifier))
		r.Post("/save", s.saveSession)
		r.Get("/", s.listSessions)
		r.Get("/{sessionID}", s.getSession)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"live_calls": s.live.LiveCount(),
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
