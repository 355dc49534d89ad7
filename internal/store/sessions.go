package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/call"
)

// Record is a finalized call session. Immutable once written; replaying
// the write for the same call replaces the record under the same
// session id.
//
// Tables: call_sessions, call_messages.
type Record struct {
	SessionID    uuid.UUID
	CallID       string
	Owner        uuid.UUID
	SavedAt      time.Time
	Transcript   []call.Utterance
	Latest       *call.Analysis
	MessageCount int
}

// SessionSummary is one row of an owner's session listing.
type SessionSummary struct {
	SessionID    uuid.UUID
	CallID       string
	MessageCount int
	SavedAt      time.Time
}

// PutSession writes a finalized session. Create-or-replace keyed by
// call_id: the first write mints the session id, replays keep it stable
// and replace the transcript and analysis atomically.
func (s *Store) PutSession(ctx context.Context, rec Record) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var sentiment, recommendation *string
	var confidence *float64
	var keyPoints []string
	if rec.Latest != nil {
		sentiment = &rec.Latest.Sentiment
		confidence = &rec.Latest.Confidence
		keyPoints = rec.Latest.KeyPoints
		recommendation = &rec.Latest.Recommendation
	}

	var sessionID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO call_sessions (id, call_id, owner_id, saved_at, message_count, sentiment, confidence, key_points, recommendation)
		VALUES ($1, $2, $3, now(), $4, $5, $6, $7, $8)
		ON CONFLICT (call_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			saved_at = now(),
			message_count = EXCLUDED.message_count,
			sentiment = EXCLUDED.sentiment,
			confidence = EXCLUDED.confidence,
			key_points = EXCLUDED.key_points,
			recommendation = EXCLUDED.recommendation
		RETURNING id`,
		uuid.New(), rec.CallID, rec.Owner, len(rec.Transcript), sentiment, confidence, keyPoints, recommendation,
	).Scan(&sessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert session: %w", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM call_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("clear messages: %w", err)
	}

	for i, u := range rec.Transcript {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_messages (id, session_id, seq, speaker, text, sent_ts)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), sessionID, i, string(u.Speaker), u.Text, u.SentTS,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	return sessionID, nil
}

// SessionIDByCallID resolves a finalized call to its session id.
func (s *Store) SessionIDByCallID(ctx context.Context, callID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT id FROM call_sessions WHERE call_id = $1`, callID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup session by call: %w", err)
	}
	return id, nil
}

// GetSession fetches an owner's finalized session with its transcript.
// Returns ErrNotFound both for a missing session id and for an owner
// mismatch.
func (s *Store) GetSession(ctx context.Context, sessionID, owner uuid.UUID) (*Record, error) {
	rec := Record{SessionID: sessionID}
	var sentiment, recommendation *string
	var confidence *float64
	var keyPoints []string

	err := s.pool.QueryRow(ctx, `
		SELECT call_id, owner_id, saved_at, message_count, sentiment, confidence, key_points, recommendation
		FROM call_sessions
		WHERE id = $1 AND owner_id = $2`,
		sessionID, owner,
	).Scan(&rec.CallID, &rec.Owner, &rec.SavedAt, &rec.MessageCount, &sentiment, &confidence, &keyPoints, &recommendation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}

	if sentiment != nil {
		rec.Latest = &call.Analysis{
			Sentiment:      *sentiment,
			KeyPoints:      keyPoints,
			Recommendation: deref(recommendation),
		}
		if confidence != nil {
			rec.Latest.Confidence = *confidence
		}
	}

	rec.Transcript, err = s.sessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByCallID fetches a finalized session by call id, without owner
// scoping. Serves the live-poll read path after a call has been retired
// from memory.
func (s *Store) GetByCallID(ctx context.Context, callID string) (*Record, error) {
	rec := Record{CallID: callID}
	var sentiment, recommendation *string
	var confidence *float64
	var keyPoints []string

	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, saved_at, message_count, sentiment, confidence, key_points, recommendation
		FROM call_sessions
		WHERE call_id = $1`,
		callID,
	).Scan(&rec.SessionID, &rec.Owner, &rec.SavedAt, &rec.MessageCount, &sentiment, &confidence, &keyPoints, &recommendation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session by call: %w", err)
	}

	if sentiment != nil {
		rec.Latest = &call.Analysis{
			Sentiment:      *sentiment,
			KeyPoints:      keyPoints,
			Recommendation: deref(recommendation),
		}
		if confidence != nil {
			rec.Latest.Confidence = *confidence
		}
	}

	rec.Transcript, err = s.sessionMessages(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns an owner's finalized sessions, most recent first.
func (s *Store) ListSessions(ctx context.Context, owner uuid.UUID, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_id, message_count, saved_at
		FROM call_sessions
		WHERE owner_id = $1
		ORDER BY saved_at DESC
		LIMIT $2`,
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.CallID, &sum.MessageCount, &sum.SavedAt); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) sessionMessages(ctx context.Context, sessionID uuid.UUID) ([]call.Utterance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT speaker, text, sent_ts
		FROM call_messages
		WHERE session_id = $1
		ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	var msgs []call.Utterance
	for rows.Next() {
		var u call.Utterance
		var speaker string
		if err := rows.Scan(&speaker, &u.Text, &u.SentTS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		u.Speaker = call.Speaker(speaker)
		msgs = append(msgs, u)
	}
	return msgs, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
