package buildlog

// Schema contains the DDL for the build log tables.
const Schema = `
-- One row per build run.
CREATE TABLE IF NOT EXISTS builds (
    id          TEXT PRIMARY KEY,
    source_dir  TEXT NOT NULL DEFAULT '',
    output_dir  TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'running',
    pages       INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at DESC);

-- Per-page composition outcome.
CREATE TABLE IF NOT EXISTS build_pages (
    build_id      TEXT NOT NULL,
    path          TEXT NOT NULL,
    success       INTEGER NOT NULL,
    layouts       INTEGER NOT NULL DEFAULT 0,
    components    INTEGER NOT NULL DEFAULT 0,
    warnings      TEXT NOT NULL DEFAULT '[]',
    recoverable   TEXT NOT NULL DEFAULT '[]',
    security      TEXT NOT NULL DEFAULT '[]',
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    recorded_at   INTEGER NOT NULL,
    PRIMARY KEY (build_id, path),
    FOREIGN KEY (build_id) REFERENCES builds(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_build_pages_failed ON build_pages(build_id, success);
`
