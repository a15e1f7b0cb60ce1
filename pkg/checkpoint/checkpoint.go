// Package checkpoint provides SQLite-backed persistence of conversation
// state, keyed by thread id, so turns survive process restarts.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"ensemble/pkg/logx"
	"ensemble/pkg/team"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id   TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	turn_count  INTEGER NOT NULL DEFAULT 0,
	next        TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
`

// ErrNotFound is returned by Load when no checkpoint exists for a thread.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists conversation state snapshots in SQLite.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the checkpoint database at dbPath with WAL mode
// and a busy timeout.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping checkpoint database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("checkpoint")
	logger.Info("Checkpoint database ready: %s", dbPath)

	return &Store{db: db, logger: logger}, nil
}

// Save upserts the state snapshot for its thread.
func (s *Store) Save(ctx context.Context, state *team.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state for thread %s: %w", state.ThreadID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, state, turn_count, next, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			turn_count = excluded.turn_count,
			next = excluded.next,
			updated_at = excluded.updated_at`,
		state.ThreadID, string(payload), state.TurnCount, state.Next, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for thread %s: %w", state.ThreadID, err)
	}
	return nil
}

// Load returns the most recent state snapshot for the thread, or ErrNotFound.
func (s *Store) Load(ctx context.Context, threadID string) (*team.State, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for thread %s: %w", threadID, err)
	}

	var state team.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint for thread %s: %w", threadID, err)
	}
	return &state, nil
}

// Delete removes the checkpoint for a thread. Deleting a missing thread is
// not an error.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoint for thread %s: %w", threadID, err)
	}
	return nil
}

// Threads lists checkpointed thread ids, most recently updated first.
func (s *Store) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id FROM checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		threads = append(threads, id)
	}
	return threads, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
