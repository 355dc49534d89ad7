package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/bus"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/call"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/store"
)

// ErrUnknownCall is returned by Finalize for a call id with no live
// session and no finalized record.
var ErrUnknownCall = errors.New("unknown call")

// SessionStore is the durable side of finalize.
type SessionStore interface {
	PutSession(ctx context.Context, rec store.Record) (uuid.UUID, error)
	SessionIDByCallID(ctx context.Context, callID string) (uuid.UUID, error)
}

// Publisher announces pipeline events. Satisfied by *bus.Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// UtteranceEvent is the transport payload for one spoken turn.
type UtteranceEvent struct {
	CallID  string  `json:"call_id"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	SentTS  float64 `json:"sent_ts"`
	OwnerID string  `json:"owner_id,omitempty"`
}

// CallEndedEvent signals call termination from the transport.
type CallEndedEvent struct {
	CallID  string `json:"call_id"`
	OwnerID string `json:"owner_id,omitempty"`
}

// Pipeline ties ingress, the per-call registry, the finalizer, and the
// event bus together.
type Pipeline struct {
	registry *call.Registry
	store    SessionStore
	bus      Publisher
	logger   *slog.Logger
}

func New(registry *call.Registry, s SessionStore, b Publisher, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		registry: registry,
		store:    s,
		bus:      b,
		logger:   logger,
	}
	registry.OnAnalysis = p.publishAnalysis
	return p
}

// Ingest appends one utterance for a call and records its owner when
// known. Inference failures never surface here.
func (p *Pipeline) Ingest(callID string, u call.Utterance, owner uuid.UUID) (int, error) {
	count, err := p.registry.Ingest(callID, u)
	if err != nil {
		return 0, err
	}
	if owner != uuid.Nil {
		p.registry.SetOwner(callID, owner)
	}
	return count, nil
}

// Finalize converts the live state of a call into a durable record and
// retires the in-memory session. Idempotent: a call already finalized
// returns its existing session id; a call never seen fails with
// ErrUnknownCall. The in-memory session survives a failed durable write
// so a retry can succeed.
func (p *Pipeline) Finalize(ctx context.Context, callID string, owner uuid.UUID) (uuid.UUID, error) {
	snap, live := p.registry.Snapshot(callID)
	if !live {
		id, err := p.store.SessionIDByCallID(ctx, callID)
		if errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, ErrUnknownCall
		}
		if err != nil {
			return uuid.Nil, err
		}
		p.logger.Info("finalize replay, session already saved", "call_id", callID, "session_id", id)
		return id, nil
	}

	if owner == uuid.Nil {
		owner = snap.Owner
	}

	id, err := p.store.PutSession(ctx, store.Record{
		CallID:     callID,
		Owner:      owner,
		Transcript: snap.Transcript,
		Latest:     snap.Latest,
	})
	if err != nil {
		// Keep the live session so a retry of finalize can succeed.
		p.logger.Error("session save failed, keeping live state", "call_id", callID, "error", err)
		return uuid.Nil, err
	}

	p.registry.Remove(callID)

	p.logger.Info("session saved",
		"call_id", callID,
		"session_id", id,
		"messages", len(snap.Transcript),
	)

	if p.bus != nil {
		if err := p.bus.Publish(bus.SubjectSessionSaved, map[string]any{
			"call_id":    callID,
			"session_id": id.String(),
			"owner_id":   owner.String(),
			"messages":   len(snap.Transcript),
		}); err != nil {
			p.logger.Warn("failed to publish session saved", "call_id", callID, "error", err)
		}
	}
	return id, nil
}

// HandleUtterance is the NATS handler for nexus.call.utterance.
func (p *Pipeline) HandleUtterance(subject string, data []byte) {
	var evt UtteranceEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse utterance event", "error", err)
		return
	}

	owner := uuid.Nil
	if evt.OwnerID != "" {
		parsed, err := uuid.Parse(evt.OwnerID)
		if err != nil {
			p.logger.Warn("invalid owner id on utterance", "call_id", evt.CallID, "owner_id", evt.OwnerID)
		} else {
			owner = parsed
		}
	}

	count, err := p.Ingest(evt.CallID, call.Utterance{
		Speaker: call.Speaker(evt.Speaker),
		Text:    evt.Text,
		SentTS:  evt.SentTS,
	}, owner)
	if err != nil {
		p.logger.Warn("dropped utterance", "call_id", evt.CallID, "error", err)
		return
	}

	p.logger.Debug("utterance ingested", "call_id", evt.CallID, "speaker", evt.Speaker, "count", count)
}

// HandleCallEnded is the NATS handler for nexus.call.ended.
func (p *Pipeline) HandleCallEnded(subject string, data []byte) {
	var evt CallEndedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse call ended event", "error", err)
		return
	}

	owner := uuid.Nil
	if evt.OwnerID != "" {
		if parsed, err := uuid.Parse(evt.OwnerID); err == nil {
			owner = parsed
		}
	}

	if _, err := p.Finalize(context.Background(), evt.CallID, owner); err != nil {
		p.logger.Error("finalize from transport failed", "call_id", evt.CallID, "error", err)
	}
}

func (p *Pipeline) publishAnalysis(callID string, a call.Analysis) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(bus.SubjectAnalysisUpdated, map[string]any{
		"call_id":  callID,
		"analysis": a,
	}); err != nil {
		p.logger.Warn("failed to publish analysis update", "call_id", callID, "error", err)
	}
}
