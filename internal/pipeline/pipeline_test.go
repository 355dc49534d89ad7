package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/bus"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/call"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/store"
)

type fakeAnalyzer struct {
	gate chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, window []call.Utterance) (*call.Analysis, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &call.Analysis{Sentiment: call.SentimentPositive, Confidence: 0.8}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	byCall  map[string]uuid.UUID
	records map[uuid.UUID]store.Record
	failPut bool
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byCall:  make(map[string]uuid.UUID),
		records: make(map[uuid.UUID]store.Record),
	}
}

func (f *fakeStore) PutSession(ctx context.Context, rec store.Record) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPut {
		return uuid.Nil, errors.New("database unavailable")
	}
	id, ok := f.byCall[rec.CallID]
	if !ok {
		id = uuid.New()
		f.byCall[rec.CallID] = id
	}
	rec.SessionID = id
	f.records[id] = rec
	return id, nil
}

func (f *fakeStore) SessionIDByCallID(ctx context.Context, callID string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byCall[callID]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return id, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, subject)
	return nil
}

func (f *fakePublisher) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.events {
		if s == subject {
			n++
		}
	}
	return n
}

func newTestPipeline(fa call.Analyzer, fs SessionStore, pub Publisher) (*Pipeline, *call.Registry) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := call.NewRegistry(fa, 40, logger)
	return New(registry, fs, pub, logger), registry
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestFinalize_WritesRecordAndRetiresSession(t *testing.T) {
	fs := newFakeStore()
	p, registry := newTestPipeline(&fakeAnalyzer{}, fs, nil)
	owner := uuid.New()

	if _, err := p.Ingest("room-1", call.Utterance{Speaker: call.SpeakerUser, Text: "hi", SentTS: 1}, owner); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	id, err := p.Finalize(context.Background(), "room-1", owner)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected session id")
	}

	rec := fs.records[id]
	if rec.CallID != "room-1" || rec.Owner != owner {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(rec.Transcript) != 1 {
		t.Errorf("expected 1 utterance in record, got %d", len(rec.Transcript))
	}
	if registry.LiveCount() != 0 {
		t.Error("expected live session retired after durable write")
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	fs := newFakeStore()
	p, _ := newTestPipeline(&fakeAnalyzer{}, fs, nil)
	owner := uuid.New()

	if _, err := p.Ingest("room-1", call.Utterance{Speaker: call.SpeakerUser, Text: "hi", SentTS: 1}, owner); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	first, err := p.Finalize(context.Background(), "room-1", owner)
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	second, err := p.Finalize(context.Background(), "room-1", owner)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if first != second {
		t.Errorf("finalize not idempotent: %s vs %s", first, second)
	}
	if fs.puts != 1 {
		t.Errorf("expected 1 durable write, got %d", fs.puts)
	}
}

func TestFinalize_UnknownCall(t *testing.T) {
	p, _ := newTestPipeline(&fakeAnalyzer{}, newFakeStore(), nil)

	_, err := p.Finalize(context.Background(), "never-seen", uuid.New())
	if !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}

func TestFinalize_KeepsSessionOnWriteFailure(t *testing.T) {
	fs := newFakeStore()
	fs.failPut = true
	p, registry := newTestPipeline(&fakeAnalyzer{}, fs, nil)
	owner := uuid.New()

	if _, err := p.Ingest("room-1", call.Utterance{Speaker: call.SpeakerUser, Text: "hi", SentTS: 1}, owner); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := p.Finalize(context.Background(), "room-1", owner); err == nil {
		t.Fatal("expected error on failed durable write")
	}
	if registry.LiveCount() != 1 {
		t.Fatal("live session must survive a failed durable write")
	}

	// Retry succeeds once the store recovers.
	fs.failPut = false
	if _, err := p.Finalize(context.Background(), "room-1", owner); err != nil {
		t.Fatalf("retry finalize: %v", err)
	}
	if registry.LiveCount() != 0 {
		t.Error("expected session retired after successful retry")
	}
}

func TestFinalize_DoesNotWaitForInFlightInference(t *testing.T) {
	fa := &fakeAnalyzer{gate: make(chan struct{})}
	fs := newFakeStore()
	p, _ := newTestPipeline(fa, fs, nil)
	owner := uuid.New()

	if _, err := p.Ingest("room-1", call.Utterance{Speaker: call.SpeakerUser, Text: "hi", SentTS: 1}, owner); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	done := make(chan uuid.UUID, 1)
	go func() {
		id, err := p.Finalize(context.Background(), "room-1", owner)
		if err != nil {
			t.Errorf("finalize: %v", err)
		}
		done <- id
	}()

	select {
	case id := <-done:
		if fs.records[id].Latest != nil {
			t.Errorf("expected absent analysis captured, got %+v", fs.records[id].Latest)
		}
	case <-time.After(time.Second):
		t.Fatal("finalize blocked on in-flight inference")
	}
	fa.gate <- struct{}{}
}

func TestHandleUtterance_IngestsAndPublishesAnalysis(t *testing.T) {
	pub := &fakePublisher{}
	p, registry := newTestPipeline(&fakeAnalyzer{}, newFakeStore(), pub)

	evt, _ := json.Marshal(UtteranceEvent{
		CallID:  "room-1",
		Speaker: "user",
		Text:    "We need this live by Q2",
		SentTS:  1.0,
		OwnerID: uuid.New().String(),
	})
	p.HandleUtterance(bus.SubjectUtterance, evt)

	msgs, ok := registry.Messages("room-1", 0)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected 1 ingested message, got %d (ok=%v)", len(msgs), ok)
	}
	waitFor(t, func() bool { return pub.count(bus.SubjectAnalysisUpdated) == 1 }, "analysis update event")
}

func TestHandleUtterance_DropsEmptyText(t *testing.T) {
	p, registry := newTestPipeline(&fakeAnalyzer{}, newFakeStore(), nil)

	evt, _ := json.Marshal(UtteranceEvent{CallID: "room-1", Speaker: "user", Text: "   "})
	p.HandleUtterance(bus.SubjectUtterance, evt)

	if registry.LiveCount() != 0 {
		t.Error("empty utterance must not create a session")
	}
}

func TestHandleCallEnded_FinalizesAndAnnounces(t *testing.T) {
	pub := &fakePublisher{}
	fs := newFakeStore()
	p, registry := newTestPipeline(&fakeAnalyzer{}, fs, pub)
	owner := uuid.New()

	if _, err := p.Ingest("room-1", call.Utterance{Speaker: call.SpeakerUser, Text: "hi", SentTS: 1}, owner); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	evt, _ := json.Marshal(CallEndedEvent{CallID: "room-1", OwnerID: owner.String()})
	p.HandleCallEnded(bus.SubjectCallEnded, evt)

	if registry.LiveCount() != 0 {
		t.Error("expected session finalized on call ended event")
	}
	if pub.count(bus.SubjectSessionSaved) != 1 {
		t.Errorf("expected 1 session saved event, got %d", pub.count(bus.SubjectSessionSaved))
	}
	if len(fs.records) != 1 {
		t.Errorf("expected 1 durable record, got %d", len(fs.records))
	}
}
