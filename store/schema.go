package store

// schemaSQL is the base DDL. Later changes go through migrations.
const schemaSQL = `
-- One row per finished run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL DEFAULT '',
    records INTEGER NOT NULL,
    clustered INTEGER NOT NULL,
    noise INTEGER NOT NULL,
    degenerate BOOLEAN NOT NULL DEFAULT 0,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    messages JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Output rows, in emitted order
CREATE TABLE IF NOT EXISTS run_rows (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    general_topic TEXT NOT NULL,
    subtopic TEXT NOT NULL,
    sentiment TEXT NOT NULL,
    response_count INTEGER NOT NULL,
    summary TEXT NOT NULL,
    PRIMARY KEY (run_id, position)
);
`
