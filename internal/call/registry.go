package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Analyzer is the inference boundary: it takes a transcript window and
// returns a structured analysis, or fails.
type Analyzer interface {
	Analyze(ctx context.Context, window []Utterance) (*Analysis, error)
}

// Inference failure classes. Both are absorbed by the registry: they
// never surface to ingest callers, they only delay freshness.
// Rejections are logged louder since they can indicate a systematic
// prompt or format problem.
var (
	// ErrInferenceUnavailable marks a transient failure: service error,
	// timeout, rate limit.
	ErrInferenceUnavailable = errors.New("inference unavailable")

	// ErrInferenceRejected marks a failure permanent for the attempted
	// input: malformed model output or rejected input.
	ErrInferenceRejected = errors.New("inference rejected")
)

// Registry holds the live state of every active call. Each call is an
// independent unit: its own transcript, its own latest analysis, its own
// trigger flags, its own lock. There is no cross-call lock; the registry
// mutex only guards the session map itself.
type Registry struct {
	analyzer    Analyzer
	logger      *slog.Logger
	windowTurns int
	passTimeout time.Duration

	// OnAnalysis, if set before the first ingest, is called after each
	// published analysis. Invoked outside the session lock.
	OnAnalysis func(callID string, a Analysis)

	mu       sync.RWMutex
	sessions map[string]*session
}

// session is the per-call state. All fields are guarded by mu.
//
// Trigger protocol: at most one inference pass runs per call. An
// utterance arriving while a pass is in flight sets pendingRetrigger
// instead of starting a second pass; when the pass completes, a set flag
// starts exactly one follow-up pass on the then-current transcript.
type session struct {
	mu               sync.Mutex
	owner            uuid.UUID
	transcript       []Utterance
	latest           *Analysis
	publishedVersion int // transcript length the published analysis was computed from
	inFlight         bool
	pendingRetrigger bool
}

func NewRegistry(analyzer Analyzer, windowTurns int, logger *slog.Logger) *Registry {
	if windowTurns <= 0 {
		windowTurns = 40
	}
	return &Registry{
		analyzer:    analyzer,
		logger:      logger,
		windowTurns: windowTurns,
		passTimeout: 60 * time.Second,
		sessions:    make(map[string]*session),
	}
}

// Ingest appends one utterance to the call's transcript, creating the
// session on first contact, and evaluates the analysis trigger. It never
// waits on inference; failures of the pass it may start are absorbed.
// Returns the message count for the call after the append.
func (r *Registry) Ingest(callID string, u Utterance) (int, error) {
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return 0, ErrInvalidUtterance
	}
	if !u.Speaker.Valid() {
		u.Speaker = SpeakerUser
	}

	s := r.getOrCreate(callID)

	s.mu.Lock()
	s.transcript = append(s.transcript, u)
	count := len(s.transcript)

	if s.inFlight {
		s.pendingRetrigger = true
		s.mu.Unlock()
		return count, nil
	}
	s.inFlight = true
	window, version := s.windowLocked(r.windowTurns)
	s.mu.Unlock()

	go r.runPass(callID, s, window, version)
	return count, nil
}

// SetOwner records the owning identity for a live call. No-op for calls
// with no live session.
func (r *Registry) SetOwner(callID string, owner uuid.UUID) {
	r.mu.RLock()
	s, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
}

// Latest returns the most recent published analysis for a live call.
// The second return is false when the call has no live session.
func (r *Registry) Latest(callID string) (*Analysis, bool) {
	r.mu.RLock()
	s, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, true
	}
	a := *s.latest
	return &a, true
}

// Messages returns the most recent limit utterances of a live call, in
// transcript order. limit <= 0 means all.
func (r *Registry) Messages(callID string, limit int) ([]Utterance, bool) {
	r.mu.RLock()
	s, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.transcript
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Utterance, len(msgs))
	copy(out, msgs)
	return out, true
}

// Snapshot is a consistent point-in-time view of a live call, taken for
// finalize. It never waits for an in-flight pass.
type Snapshot struct {
	Owner      uuid.UUID
	Transcript []Utterance
	Latest     *Analysis
}

func (r *Registry) Snapshot(callID string) (Snapshot, bool) {
	r.mu.RLock()
	s, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Owner: s.owner}
	snap.Transcript = make([]Utterance, len(s.transcript))
	copy(snap.Transcript, s.transcript)
	if s.latest != nil {
		a := *s.latest
		snap.Latest = &a
	}
	return snap, true
}

// Remove drops the live session for a call. Called by the finalizer only
// after the durable record has been written.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	delete(r.sessions, callID)
	r.mu.Unlock()
}

// LiveCount returns the number of active calls.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) getOrCreate(callID string) *session {
	r.mu.RLock()
	s, ok := r.sessions[callID]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[callID]; ok {
		return s
	}
	s = &session{}
	r.sessions[callID] = s
	return s
}

// windowLocked returns the trailing window and the version (full
// transcript length) it represents. Caller holds s.mu.
func (s *session) windowLocked(turns int) ([]Utterance, int) {
	version := len(s.transcript)
	msgs := s.transcript
	if len(msgs) > turns {
		msgs = msgs[len(msgs)-turns:]
	}
	window := make([]Utterance, len(msgs))
	copy(window, msgs)
	return window, version
}

// runPass executes one inference pass and applies its result under the
// freshness rule: a result only publishes if its version is at least the
// version the published analysis reflects. On completion it either
// chains into the pending retrigger or goes idle.
func (r *Registry) runPass(callID string, s *session, window []Utterance, version int) {
	ctx, cancel := context.WithTimeout(context.Background(), r.passTimeout)
	analysis, err := r.analyzer.Analyze(ctx, window)
	cancel()

	var publish *Analysis

	s.mu.Lock()
	switch {
	case err != nil:
		if errors.Is(err, ErrInferenceRejected) {
			r.logger.Error("inference rejected input", "call_id", callID, "version", version, "error", err)
		} else {
			r.logger.Warn("inference unavailable", "call_id", callID, "version", version, "error", err)
		}
	case version < s.publishedVersion:
		// Stale pass completed after a fresher one already published.
		r.logger.Debug("discarding stale analysis", "call_id", callID, "version", version, "published", s.publishedVersion)
	default:
		s.latest = analysis
		s.publishedVersion = version
		a := *analysis
		publish = &a
	}

	if s.pendingRetrigger {
		s.pendingRetrigger = false
		next, nextVersion := s.windowLocked(r.windowTurns)
		s.mu.Unlock()
		if publish != nil && r.OnAnalysis != nil {
			r.OnAnalysis(callID, *publish)
		}
		go r.runPass(callID, s, next, nextVersion)
		return
	}
	s.inFlight = false
	s.mu.Unlock()

	if publish != nil && r.OnAnalysis != nil {
		r.OnAnalysis(callID, *publish)
	}
}
