// Package store persists run summaries: replay metadata and finalized
// chat streams. The hot event log lives in the checkpoint store; this is
// the queryable record that outlives a run.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/researchflow/config"
)

// Replay summarizes one finished or in-flight research run.
type Replay struct {
	ThreadID      string    `json:"thread_id"`
	ResearchTopic string    `json:"research_topic"`
	ReportStyle   string    `json:"report_style"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Summaries is the persistence surface consumed by the server.
type Summaries interface {
	UpsertReplay(ctx context.Context, threadID, topic, style string) error
	TouchReplay(ctx context.Context, threadID string, messageCount int) error
	GetReplay(ctx context.Context, threadID string) (Replay, bool, error)
	ListReplays(ctx context.Context, limit int) ([]Replay, error)

	UpsertChatStream(ctx context.Context, threadID string, events []byte) error
	GetChatStream(ctx context.Context, threadID string) ([]byte, bool, error)

	// StaleThreads returns the thread IDs of replays last touched
	// before cutoff.
	StaleThreads(ctx context.Context, cutoff time.Time) ([]string, error)

	// DeleteOlderThan removes replays and chat streams last touched
	// before cutoff, returning how many replays went away.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Store is the Postgres implementation of Summaries.
type Store struct {
	DB *sql.DB
}

func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// NewWithDB wraps an existing handle, used by sqlmock tests.
func NewWithDB(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) UpsertReplay(ctx context.Context, threadID, topic, style string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO replays (thread_id, research_topic, report_style, message_count, created_at, updated_at)
VALUES ($1, $2, $3, 0, now(), now())
ON CONFLICT (thread_id) DO UPDATE SET
  research_topic = EXCLUDED.research_topic,
  report_style = EXCLUDED.report_style,
  updated_at = now()`, threadID, topic, style)
	if err != nil {
		return fmt.Errorf("upserting replay %s: %w", threadID, err)
	}
	return nil
}

func (s *Store) TouchReplay(ctx context.Context, threadID string, messageCount int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE replays SET message_count = $2, updated_at = now() WHERE thread_id = $1`,
		threadID, messageCount)
	if err != nil {
		return fmt.Errorf("touching replay %s: %w", threadID, err)
	}
	return nil
}

func (s *Store) GetReplay(ctx context.Context, threadID string) (Replay, bool, error) {
	var r Replay
	err := s.DB.QueryRowContext(ctx,
		`SELECT thread_id, research_topic, report_style, message_count, created_at, updated_at FROM replays WHERE thread_id = $1`, threadID).
		Scan(&r.ThreadID, &r.ResearchTopic, &r.ReportStyle, &r.MessageCount, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Replay{}, false, nil
	}
	if err != nil {
		return Replay{}, false, fmt.Errorf("loading replay %s: %w", threadID, err)
	}
	return r, true, nil
}

func (s *Store) ListReplays(ctx context.Context, limit int) ([]Replay, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT thread_id, research_topic, report_style, message_count, created_at, updated_at FROM replays ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing replays: %w", err)
	}
	defer rows.Close()
	var out []Replay
	for rows.Next() {
		var r Replay
		if err := rows.Scan(&r.ThreadID, &r.ResearchTopic, &r.ReportStyle, &r.MessageCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertChatStream(ctx context.Context, threadID string, events []byte) error {
	// Bound as a string: lib/pq encodes []byte as a bytea literal, which
	// the TEXT column would store verbatim.
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO chat_streams (thread_id, events, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (thread_id) DO UPDATE SET
  events = EXCLUDED.events,
  updated_at = now()`, threadID, string(events))
	if err != nil {
		return fmt.Errorf("upserting chat stream %s: %w", threadID, err)
	}
	return nil
}

func (s *Store) GetChatStream(ctx context.Context, threadID string) ([]byte, bool, error) {
	var events string
	err := s.DB.QueryRowContext(ctx,
		`SELECT events FROM chat_streams WHERE thread_id = $1`, threadID).Scan(&events)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading chat stream %s: %w", threadID, err)
	}
	return []byte(events), true, nil
}

func (s *Store) StaleThreads(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT thread_id FROM replays WHERE updated_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale threads: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM chat_streams WHERE thread_id IN (SELECT thread_id FROM replays WHERE updated_at < $1)`, cutoff); err != nil {
		return 0, fmt.Errorf("pruning chat streams: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM replays WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning replays: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.DB.Close() }
