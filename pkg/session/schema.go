package session

// Schema contains the SQL statements to create the checkpoint database schema.
const Schema = `
-- Sessions table: stores upload session metadata
CREATE TABLE IF NOT EXISTS sessions (
    id             TEXT PRIMARY KEY,
    original_name  TEXT NOT NULL,
    original_size  INTEGER NOT NULL,
    total_size     INTEGER NOT NULL,
    total_chunks   INTEGER NOT NULL,
    encryption_key TEXT NOT NULL,
    iv             TEXT NOT NULL,
    salt           TEXT NOT NULL,
    metadata_iv    TEXT NOT NULL,
    pw_salt        TEXT DEFAULT '',
    pw_verifier    TEXT DEFAULT '',
    created_at     INTEGER NOT NULL
);

-- Chunks table: received byte ranges per session
CREATE TABLE IF NOT EXISTS chunks (
    session_id TEXT NOT NULL,
    idx        INTEGER NOT NULL,
    data       BLOB NOT NULL,
    PRIMARY KEY (session_id, idx),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

-- Index for eviction sweeps
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
`
