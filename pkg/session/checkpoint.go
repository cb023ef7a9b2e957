package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cryptdrop/pkg/models"

	_ "modernc.org/sqlite"
)

// Checkpoint persists in-flight upload sessions in SQLite so they survive a
// process restart until their eviction deadline.
type Checkpoint struct {
	db *sql.DB
}

// NewCheckpoint opens (or creates) the checkpoint database at the given path.
func NewCheckpoint(dbPath string) (*Checkpoint, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	ctx := context.Background()

	// Enable foreign keys
	if _, err := database.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := database.ExecContext(ctx, Schema); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create checkpoint schema: %w", err)
	}

	return &Checkpoint{db: database}, nil
}

// Close closes the underlying database.
func (c *Checkpoint) Close() error {
	return c.db.Close()
}

// SaveSession upserts the session row. Chunks are persisted separately via
// SaveChunk.
func (c *Checkpoint) SaveSession(s *Session) error {
	_, err := c.db.ExecContext(context.Background(), `
		INSERT INTO sessions
			(id, original_name, original_size, total_size, total_chunks,
			 encryption_key, iv, salt, metadata_iv, pw_salt, pw_verifier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		s.ID, s.Meta.OriginalName, s.Meta.OriginalSize, s.Meta.TotalSize,
		s.Meta.TotalChunks, s.Meta.EncryptionKey, s.Meta.IV, s.Meta.Salt,
		s.Meta.MetadataIV, s.Meta.PwSalt, s.Meta.PwVerifier,
		s.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SaveChunk upserts one chunk row for the session.
func (c *Checkpoint) SaveChunk(sessionID string, index int, data []byte) error {
	_, err := c.db.ExecContext(context.Background(), `
		INSERT INTO chunks (session_id, idx, data) VALUES (?, ?, ?)
		ON CONFLICT(session_id, idx) DO UPDATE SET data = excluded.data`,
		sessionID, index, data)
	if err != nil {
		return fmt.Errorf("failed to save chunk: %w", err)
	}
	return nil
}

// LoadSession restores a session and its chunks. Returns (nil, nil) when no
// row exists.
func (c *Checkpoint) LoadSession(id string) (*Session, error) {
	ctx := context.Background()

	var (
		meta      models.SessionMeta
		createdAt int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT original_name, original_size, total_size, total_chunks,
		       encryption_key, iv, salt, metadata_iv, pw_salt, pw_verifier, created_at
		FROM sessions WHERE id = ?`, id).Scan(
		&meta.OriginalName, &meta.OriginalSize, &meta.TotalSize,
		&meta.TotalChunks, &meta.EncryptionKey, &meta.IV, &meta.Salt,
		&meta.MetadataIV, &meta.PwSalt, &meta.PwVerifier, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	s := &Session{
		ID:        id,
		Meta:      meta,
		Chunks:    make(map[int][]byte),
		CreatedAt: time.UnixMilli(createdAt),
	}

	rows, err := c.db.QueryContext(ctx, `SELECT idx, data FROM chunks WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			idx  int
			data []byte
		)
		if err := rows.Scan(&idx, &data); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		s.Chunks[idx] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return s, nil
}

// DeleteSession removes the session row; chunk rows go with it via the
// foreign key cascade.
func (c *Checkpoint) DeleteSession(id string) error {
	_, err := c.db.ExecContext(context.Background(), `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteOlderThan removes every session created before the cutoff and
// returns how many rows were removed.
func (c *Checkpoint) DeleteOlderThan(cutoff time.Time) (int, error) {
	res, err := c.db.ExecContext(context.Background(),
		`DELETE FROM sessions WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // rows-affected support is driver-dependent
	}
	return int(n), nil
}
