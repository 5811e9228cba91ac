package store

// Timestamps are Unix milliseconds (UTC). Cache token columns are NULL when
// the event carried none.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS usage_events (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    event_key            TEXT UNIQUE,
    timestamp_ms         INTEGER NOT NULL,
    provider_id          TEXT NOT NULL,
    model_id             TEXT NOT NULL,
    agent_id             TEXT,
    session_id           TEXT,
    input_tokens         INTEGER NOT NULL DEFAULT 0,
    output_tokens        INTEGER NOT NULL DEFAULT 0,
    cache_read_tokens    INTEGER,
    cache_write_tokens   INTEGER,
    cost_usd             REAL NOT NULL DEFAULT 0,
    project_path         TEXT
);

CREATE INDEX IF NOT EXISTS idx_usage_events_ts ON usage_events(timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_usage_events_provider ON usage_events(provider_id);
CREATE INDEX IF NOT EXISTS idx_usage_events_model ON usage_events(model_id);
CREATE INDEX IF NOT EXISTS idx_usage_events_agent ON usage_events(agent_id);
CREATE INDEX IF NOT EXISTS idx_usage_events_session ON usage_events(session_id);

CREATE TABLE IF NOT EXISTS provider_snapshots (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ms         INTEGER NOT NULL,
    provider             TEXT NOT NULL,
    plan_type            TEXT,
    used_percent         REAL,
    limit_reached        INTEGER,
    tokens_input         INTEGER,
    tokens_output        INTEGER,
    cost_usd             REAL,
    error                TEXT,
    raw_payload          TEXT
);

CREATE INDEX IF NOT EXISTS idx_provider_snapshots_provider_ts ON provider_snapshots(provider, timestamp_ms);

CREATE TABLE IF NOT EXISTS snapshot_windows (
    snapshot_id          INTEGER NOT NULL REFERENCES provider_snapshots(id) ON DELETE CASCADE,
    name                 TEXT NOT NULL,
    used_percent         REAL NOT NULL,
    resets_at_ms         INTEGER,
    PRIMARY KEY (snapshot_id, name)
);

CREATE TABLE IF NOT EXISTS hourly_rollups (
    hour                 TEXT NOT NULL,
    provider             TEXT NOT NULL,
    model                TEXT NOT NULL,
    total_input_tokens   INTEGER NOT NULL DEFAULT 0,
    total_output_tokens  INTEGER NOT NULL DEFAULT 0,
    total_cache_read     INTEGER NOT NULL DEFAULT 0,
    total_cache_write    INTEGER NOT NULL DEFAULT 0,
    total_cost_usd       REAL NOT NULL DEFAULT 0,
    request_count        INTEGER NOT NULL DEFAULT 0,
    UNIQUE (hour, provider, model)
);

CREATE TABLE IF NOT EXISTS daily_rollups (
    date                 TEXT NOT NULL,
    provider             TEXT NOT NULL,
    model                TEXT NOT NULL,
    total_input_tokens   INTEGER NOT NULL DEFAULT 0,
    total_output_tokens  INTEGER NOT NULL DEFAULT 0,
    total_cache_read     INTEGER NOT NULL DEFAULT 0,
    total_cache_write    INTEGER NOT NULL DEFAULT 0,
    total_cost_usd       REAL NOT NULL DEFAULT 0,
    request_count        INTEGER NOT NULL DEFAULT 0,
    UNIQUE (date, provider, model)
);

CREATE TABLE IF NOT EXISTS sessions (
    agent_id             TEXT NOT NULL DEFAULT '',
    session_id           TEXT NOT NULL,
    project_path         TEXT,
    started_at_ms        INTEGER NOT NULL,
    last_activity_at_ms  INTEGER NOT NULL,
    last_seen_at_ms      INTEGER NOT NULL,
    status               TEXT NOT NULL,
    input_tokens         INTEGER NOT NULL,
    output_tokens        INTEGER NOT NULL,
    cache_read_tokens    INTEGER,
    cache_write_tokens   INTEGER,
    request_count        INTEGER NOT NULL,
    cost_usd             REAL,
    updated_at_ms        INTEGER NOT NULL,
    PRIMARY KEY (agent_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity_at_ms);

CREATE TABLE IF NOT EXISTS session_streams (
    agent_id             TEXT NOT NULL,
    session_id           TEXT NOT NULL,
    provider_id          TEXT NOT NULL,
    model_id             TEXT NOT NULL,
    input_tokens         INTEGER NOT NULL,
    output_tokens        INTEGER NOT NULL,
    cache_read_tokens    INTEGER,
    cache_write_tokens   INTEGER,
    request_count        INTEGER NOT NULL,
    cost_usd             REAL,
    pricing_source       TEXT NOT NULL,
    PRIMARY KEY (agent_id, session_id, provider_id, model_id),
    FOREIGN KEY (agent_id, session_id) REFERENCES sessions(agent_id, session_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS file_tracker (
    file_path            TEXT PRIMARY KEY,
    mtime_ns             INTEGER NOT NULL,
    size_bytes           INTEGER NOT NULL
);
`
