package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/call"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/pipeline"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/store"
)

// TranscriptionRequest is one spoken turn posted by the transport agent.
type TranscriptionRequest struct {
	CallID  string  `json:"call_id"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	SentTS  float64 `json:"sent_ts"`
	OwnerID string  `json:"owner_id,omitempty"`
}

// TranscriptionResponse acknowledges an ingested turn.
type TranscriptionResponse struct {
	OK          bool   `json:"ok"`
	CallID      string `json:"call_id"`
	CountInCall int    `json:"count_in_call"`
}

// AnalysisResponse carries the latest published analysis for a call.
// Analysis is null until the first inference pass succeeds.
type AnalysisResponse struct {
	CallID   string         `json:"call_id"`
	Analysis *call.Analysis `json:"analysis"`
}

// MessagesResponse carries the transcript tail for a call.
type MessagesResponse struct {
	CallID   string           `json:"call_id"`
	Messages []call.Utterance `json:"messages"`
}

// SaveSessionRequest finalizes a call into a durable session.
type SaveSessionRequest struct {
	CallID string `json:"call_id"`
}

// SaveSessionResponse reports the durable session for a finalized call.
type SaveSessionResponse struct {
	OK        bool   `json:"ok"`
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id"`
}

type sessionSummary struct {
	SessionID    string `json:"session_id"`
	CallID       string `json:"call_id"`
	MessageCount int    `json:"message_count"`
	SavedAt      string `json:"saved_at"`
}

type sessionRecord struct {
	SessionID    string           `json:"session_id"`
	CallID       string           `json:"call_id"`
	SavedAt      string           `json:"saved_at"`
	MessageCount int              `json:"message_count"`
	Messages     []call.Utterance `json:"messages"`
	Analysis     *call.Analysis   `json:"analysis"`
}

func (s *Server) ingestTranscription(w http.ResponseWriter, r *http.Request) {
	var req TranscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.CallID == "" {
		respondError(w, http.StatusUnprocessableEntity, "call_id is required")
		return
	}

	owner := uuid.Nil
	if req.OwnerID != "" {
		parsed, err := uuid.Parse(req.OwnerID)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid owner_id")
			return
		}
		owner = parsed
	}

	count, err := s.pipeline.Ingest(req.CallID, call.Utterance{
		Speaker: call.Speaker(req.Speaker),
		Text:    req.Text,
		SentTS:  req.SentTS,
	}, owner)
	if errors.Is(err, call.ErrInvalidUtterance) {
		respondError(w, http.StatusUnprocessableEntity, "empty message")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, TranscriptionResponse{
		OK:          true,
		CallID:      req.CallID,
		CountInCall: count,
	})
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	if analysis, live := s.live.Latest(callID); live {
		respondJSON(w, http.StatusOK, AnalysisResponse{CallID: callID, Analysis: analysis})
		return
	}

	rec, err := s.sessions.GetByCallID(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown call")
		return
	}
	if err != nil {
		s.logger.Error("analysis lookup failed", "call_id", callID, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, AnalysisResponse{CallID: callID, Analysis: rec.Latest})
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}

	if msgs, live := s.live.Messages(callID, limit); live {
		respondJSON(w, http.StatusOK, MessagesResponse{CallID: callID, Messages: msgs})
		return
	}

	rec, err := s.sessions.GetByCallID(r.Context(), callID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown call")
		return
	}
	if err != nil {
		s.logger.Error("messages lookup failed", "call_id", callID, "error", err)
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	msgs := rec.Transcript
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	respondJSON(w, http.StatusOK, MessagesResponse{CallID: callID, Messages: msgs})
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request) {
	var req SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.CallID == "" {
		respondError(w, http.StatusUnprocessableEntity, "call_id is required")
		return
	}

	id, err := s.pipeline.Finalize(r.Context(), req.CallID, ownerFrom(r))
	if errors.Is(err, pipeline.ErrUnknownCall) {
		respondError(w, http.StatusNotFound, "unknown call")
		return
	}
	if err != nil {
		s.logger.Error("finalize failed", "call_id", req.CallID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "save failed, retry")
		return
	}

	respondJSON(w, http.StatusOK, SaveSessionResponse{
		OK:        true,
		CallID:    req.CallID,
		SessionID: id.String(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.ListSessions(r.Context(), ownerFrom(r), 50)
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]sessionSummary, 0, len(list))
	for _, sum := range list {
		out = append(out, sessionSummary{
			SessionID:    sum.SessionID.String(),
			CallID:       sum.CallID,
			MessageCount: sum.MessageCount,
			SavedAt:      sum.SavedAt.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	rec, err := s.sessions.GetSession(r.Context(), sessionID, ownerFrom(r))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("session fetch failed", "session_id", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "fetch failed")
		return
	}

	respondJSON(w, http.StatusOK, sessionRecord{
		SessionID:    rec.SessionID.String(),
		CallID:       rec.CallID,
		SavedAt:      rec.SavedAt.UTC().Format(time.RFC3339),
		MessageCount: rec.MessageCount,
		Messages:     rec.Transcript,
		Analysis:     rec.Latest,
	})
}
