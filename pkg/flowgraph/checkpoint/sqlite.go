package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A ":memory:" database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			sequence INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			metadata TEXT NOT NULL,
			state BLOB NOT NULL,
			UNIQUE (thread_id, sequence)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, threadID string, state json.RawMessage, meta Metadata, parentID string) (string, error) {
	if threadID == "" {
		return "", ErrThreadIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if parentID != "" {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
			threadID, parentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrParentNotFound
		}
		if err != nil {
			return "", fmt.Errorf("lookup parent: %w", err)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM checkpoints WHERE thread_id = ?`,
		threadID).Scan(&seq); err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}

	cp := newCheckpoint(threadID, seq, state, meta, parentID)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, thread_id, parent_id, sequence, created_at, metadata, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cp.CheckpointID, threadID, parentID, seq, cp.CreatedAt.Format(time.RFC3339Nano), string(metaJSON), []byte(cp.State)); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return cp.CheckpointID, nil
}

const selectColumns = `SELECT checkpoint_id, thread_id, parent_id, sequence, created_at, metadata, state FROM checkpoints`

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx,
			selectColumns+` WHERE thread_id = ? ORDER BY sequence DESC LIMIT 1`, threadID)
	} else {
		row = s.db.QueryRowContext(ctx,
			selectColumns+` WHERE thread_id = ? AND checkpoint_id = ?`, threadID, checkpointID)
	}

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, threadID string, opts ListOptions) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE thread_id = ? ORDER BY sequence DESC LIMIT ? OFFSET ?`,
		threadID, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	out := []*Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE thread_id = ? AND sequence NOT IN (
			SELECT sequence FROM checkpoints WHERE thread_id = ? ORDER BY sequence DESC LIMIT ?
		)
	`, threadID, threadID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		createdAt string
		meta      string
		state     []byte
	)
	if err := row.Scan(&cp.CheckpointID, &cp.ThreadID, &cp.ParentCheckpointID, &cp.Sequence, &createdAt, &meta, &state); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &cp.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	cp.Version = Version
	cp.State = state
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &cp, nil
}
