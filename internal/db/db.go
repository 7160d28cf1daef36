package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS workspace (
    id                      TEXT PRIMARY KEY,
    name                    TEXT NOT NULL,
    created_by_user_id      TEXT NOT NULL,
    created_type            TEXT NOT NULL DEFAULT 'manual',
    current_revision_number INTEGER NOT NULL DEFAULT 0,
    created_at              TEXT NOT NULL DEFAULT (datetime('now')),
    last_updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

-- The primary key is the only guard against two writers creating the same
-- revision number; a violation means "retry as a fresh revision".
CREATE TABLE IF NOT EXISTS workspace_revision (
    workspace_id       TEXT NOT NULL REFERENCES workspace(id),
    revision_number    INTEGER NOT NULL,
    created_type       TEXT NOT NULL,
    created_by_user_id TEXT NOT NULL,
    plan_id            TEXT,
    is_complete        INTEGER NOT NULL DEFAULT 0,
    is_rendered        INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (workspace_id, revision_number)
);

CREATE TABLE IF NOT EXISTS workspace_chart (
    id              TEXT NOT NULL,
    workspace_id    TEXT NOT NULL REFERENCES workspace(id),
    revision_number INTEGER NOT NULL,
    name            TEXT NOT NULL,
    PRIMARY KEY (id, revision_number)
);

CREATE TABLE IF NOT EXISTS workspace_file (
    id              TEXT NOT NULL,
    workspace_id    TEXT NOT NULL REFERENCES workspace(id),
    revision_number INTEGER NOT NULL,
    chart_id        TEXT,
    file_path       TEXT NOT NULL,
    content         TEXT NOT NULL DEFAULT '',
    content_pending TEXT,
    PRIMARY KEY (id, revision_number)
);

CREATE TABLE IF NOT EXISTS workspace_chat (
    id                                    TEXT PRIMARY KEY,
    workspace_id                          TEXT NOT NULL REFERENCES workspace(id),
    revision_number                       INTEGER NOT NULL,
    user_id                               TEXT NOT NULL,
    prompt                                TEXT NOT NULL,
    response                              TEXT,
    created_at                            TEXT NOT NULL DEFAULT (datetime('now')),
    is_canceled                           INTEGER NOT NULL DEFAULT 0,
    is_intent_complete                    INTEGER NOT NULL DEFAULT 0,
    is_dispatched                         INTEGER NOT NULL DEFAULT 0,
    is_intent_conversational              INTEGER NOT NULL DEFAULT 0,
    is_intent_plan                        INTEGER NOT NULL DEFAULT 0,
    is_intent_render                      INTEGER NOT NULL DEFAULT 0,
    is_intent_off_topic                   INTEGER NOT NULL DEFAULT 0,
    is_intent_chart_developer             INTEGER NOT NULL DEFAULT 0,
    is_intent_chart_operator              INTEGER NOT NULL DEFAULT 0,
    is_intent_proceed                     INTEGER NOT NULL DEFAULT 0,
    response_plan_id                      TEXT,
    response_render_id                    TEXT,
    response_conversion_id                TEXT,
    response_rollback_to_revision_number  INTEGER,
    followup_actions                      TEXT,
    CHECK ((response_plan_id IS NOT NULL) + (response_render_id IS NOT NULL) + (response_conversion_id IS NOT NULL) <= 1)
);

CREATE TABLE IF NOT EXISTS workspace_plan (
    id               TEXT PRIMARY KEY,
    workspace_id     TEXT NOT NULL REFERENCES workspace(id),
    chat_message_ids TEXT NOT NULL DEFAULT '[]',
    description      TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'review', 'applying', 'applied', 'ignored')),
    proceed_at       TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workspace_plan_action_file (
    plan_id    TEXT NOT NULL REFERENCES workspace_plan(id),
    path       TEXT NOT NULL,
    action     TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (plan_id, path)
);

CREATE TABLE IF NOT EXISTS workspace_conversion (
    id               TEXT PRIMARY KEY,
    workspace_id     TEXT NOT NULL REFERENCES workspace(id),
    chat_message_ids TEXT NOT NULL DEFAULT '[]',
    source_type      TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    created_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workspace_conversion_file (
    id              TEXT PRIMARY KEY,
    conversion_id   TEXT NOT NULL REFERENCES workspace_conversion(id),
    file_path       TEXT NOT NULL,
    file_content    TEXT NOT NULL,
    file_status     TEXT NOT NULL DEFAULT 'pending',
    converted_files TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS workspace_rendered (
    id              TEXT PRIMARY KEY,
    workspace_id    TEXT NOT NULL REFERENCES workspace(id),
    revision_number INTEGER NOT NULL,
    is_autorender   INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    completed_at    TEXT
);

CREATE TABLE IF NOT EXISTS workspace_rendered_chart (
    id                    TEXT PRIMARY KEY,
    workspace_render_id   TEXT NOT NULL REFERENCES workspace_rendered(id),
    chart_id              TEXT NOT NULL,
    is_success            INTEGER NOT NULL DEFAULT 0,
    dep_update_command    TEXT NOT NULL DEFAULT '',
    dep_update_stdout     TEXT NOT NULL DEFAULT '',
    dep_update_stderr     TEXT NOT NULL DEFAULT '',
    helm_template_command TEXT NOT NULL DEFAULT '',
    helm_template_stdout  TEXT NOT NULL DEFAULT '',
    helm_template_stderr  TEXT NOT NULL DEFAULT '',
    created_at            TEXT NOT NULL DEFAULT (datetime('now')),
    completed_at          TEXT
);

CREATE TABLE IF NOT EXISTS workspace_rendered_file (
    id                TEXT PRIMARY KEY,
    rendered_chart_id TEXT NOT NULL REFERENCES workspace_rendered_chart(id),
    file_path         TEXT NOT NULL,
    rendered_content  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS work_queue (
    id         TEXT PRIMARY KEY,
    channel    TEXT NOT NULL,
    payload    TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS realtime_replay (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id      TEXT NOT NULL,
    channel      TEXT NOT NULL,
    message_data TEXT NOT NULL,
    created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_workspace_chart_revision ON workspace_chart(workspace_id, revision_number);
CREATE INDEX IF NOT EXISTS idx_workspace_file_revision ON workspace_file(workspace_id, revision_number);
CREATE INDEX IF NOT EXISTS idx_workspace_chat_revision ON workspace_chat(workspace_id, revision_number);
CREATE INDEX IF NOT EXISTS idx_workspace_plan_workspace ON workspace_plan(workspace_id);
CREATE INDEX IF NOT EXISTS idx_workspace_conversion_workspace ON workspace_conversion(workspace_id);
CREATE INDEX IF NOT EXISTS idx_workspace_conversion_file_conversion ON workspace_conversion_file(conversion_id);
CREATE INDEX IF NOT EXISTS idx_workspace_rendered_revision ON workspace_rendered(workspace_id, revision_number);
CREATE INDEX IF NOT EXISTS idx_workspace_rendered_chart_render ON workspace_rendered_chart(workspace_render_id);
CREATE INDEX IF NOT EXISTS idx_work_queue_channel ON work_queue(channel);
CREATE INDEX IF NOT EXISTS idx_realtime_replay_user ON realtime_replay(user_id, created_at);
`

// DBPath returns the database location inside dataDir, creating the
// directory when needed.
func DBPath(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return filepath.Join(dataDir, "helmforge.db"), nil
}

// Open returns a pool over the SQLite database at dbPath with the schema
// applied. Write transactions begin IMMEDIATE so concurrent writers queue
// on busy_timeout instead of failing when upgrading a read lock.
func Open(dbPath string) (*sql.DB, error) {
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}
	return db, nil
}
