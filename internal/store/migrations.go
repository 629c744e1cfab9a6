package store

import (
	"github.com/fspulse/fspulse/internal/fserr"
)

// Migrate runs all pending schema migrations in order, each inside its
// own transaction, recording progress in schema_migrations so repeated
// calls are no-ops.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fserr.Storage(err, "create schema_migrations table")
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fserr.Storage(err, "read schema version")
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fserr.Storage(err, "begin migration %d", m.version)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fserr.Storage(err, "run migration %d", m.version)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fserr.Storage(err, "record migration %d", m.version)
		}

		if err := tx.Commit(); err != nil {
			return fserr.Storage(err, "commit migration %d", m.version)
		}
	}

	return nil
}

const migration001 = `
-- Registered scan boundaries.
CREATE TABLE roots (
    root_id   INTEGER PRIMARY KEY,
    root_path TEXT NOT NULL UNIQUE
);

-- Identity rows: immutable per (root_id, item_path, item_type).
CREATE TABLE items (
    item_id   INTEGER PRIMARY KEY,
    root_id   INTEGER NOT NULL REFERENCES roots(root_id) ON DELETE CASCADE,
    item_path TEXT NOT NULL,
    item_name TEXT NOT NULL,
    item_type TEXT NOT NULL CHECK (item_type IN ('File','Directory','Symlink','Unknown')),
    UNIQUE (root_id, item_path, item_type)
);

CREATE INDEX idx_items_root_path ON items(root_id, item_path COLLATE natural_path);

-- Scans: one traversal of a root.
CREATE TABLE scans (
    scan_id       INTEGER PRIMARY KEY,
    root_id       INTEGER NOT NULL REFERENCES roots(root_id) ON DELETE CASCADE,
    state         TEXT NOT NULL CHECK (state IN
                      ('Pending','Scanning','Sweeping','Analyzing','Completed','Stopped','Error')),
    hash_mode     TEXT NOT NULL CHECK (hash_mode IN ('None','New','All')),
    validate_mode TEXT NOT NULL CHECK (validate_mode IN ('None','New','All')),
    started_at    DATETIME NOT NULL,
    file_count    INTEGER NOT NULL DEFAULT 0,
    folder_count  INTEGER NOT NULL DEFAULT 0,
    error_message TEXT
);

CREATE INDEX idx_scans_root ON scans(root_id);

-- Append-only version rows.
CREATE TABLE item_versions (
    version_id      INTEGER PRIMARY KEY,
    item_id         INTEGER NOT NULL REFERENCES items(item_id) ON DELETE CASCADE,
    first_scan_id   INTEGER NOT NULL REFERENCES scans(scan_id),
    last_scan_id    INTEGER NOT NULL REFERENCES scans(scan_id),

    is_added        BOOLEAN NOT NULL,
    is_deleted      BOOLEAN NOT NULL DEFAULT 0,

    access          TEXT NOT NULL CHECK (access IN ('Ok','MetaError','ReadError')),
    mod_date        DATETIME,
    size            INTEGER,

    file_hash       TEXT,
    val             TEXT CHECK (val IN ('U','V','I','N')),
    val_error       TEXT,
    last_hash_scan  INTEGER,
    last_val_scan   INTEGER,

    add_count       INTEGER,
    modify_count    INTEGER,
    delete_count    INTEGER,
    unchanged_count INTEGER
);

CREATE INDEX idx_versions_item ON item_versions(item_id, first_scan_id DESC);
CREATE INDEX idx_versions_current ON item_versions(item_id, last_scan_id);
CREATE INDEX idx_versions_scan ON item_versions(first_scan_id);

-- Per-scan undo journal; drained on rollback, cleared on completion.
CREATE TABLE undo_log (
    undo_id            INTEGER PRIMARY KEY,
    scan_id             INTEGER NOT NULL REFERENCES scans(scan_id) ON DELETE CASCADE,
    version_id          INTEGER NOT NULL REFERENCES item_versions(version_id) ON DELETE CASCADE,
    old_last_scan_id    INTEGER NOT NULL,
    old_last_hash_scan  INTEGER,
    old_last_val_scan   INTEGER
);

CREATE INDEX idx_undo_log_scan ON undo_log(scan_id);

-- Recurrence rules producing successor task entries.
CREATE TABLE schedules (
    schedule_id   INTEGER PRIMARY KEY,
    root_id       INTEGER NOT NULL REFERENCES roots(root_id) ON DELETE CASCADE,
    enabled       BOOLEAN NOT NULL DEFAULT 1,
    schedule_name TEXT NOT NULL,
    schedule_type TEXT NOT NULL CHECK (schedule_type IN ('Daily','Weekly','Interval','Monthly')),
    time_of_day   TEXT,
    days_of_week  TEXT,
    day_of_month  INTEGER,
    interval_value INTEGER,
    interval_unit  TEXT,
    hash_mode      TEXT NOT NULL CHECK (hash_mode IN ('None','New','All')),
    validate_mode  TEXT NOT NULL CHECK (validate_mode IN ('None','New','All'))
);

-- Queue entries: manual or schedule-driven units of work.
CREATE TABLE tasks (
    task_id       INTEGER PRIMARY KEY,
    task_type     TEXT NOT NULL DEFAULT 'scan',
    status        TEXT NOT NULL CHECK (status IN
                      ('Pending','Running','Pausing','Stopping','Completed','Stopped','Error')),
    root_id       INTEGER REFERENCES roots(root_id) ON DELETE CASCADE,
    schedule_id   INTEGER REFERENCES schedules(schedule_id) ON DELETE SET NULL,
    scan_id       INTEGER REFERENCES scans(scan_id) ON DELETE SET NULL,
    run_at        DATETIME NOT NULL,
    source        TEXT NOT NULL CHECK (source IN ('Manual','Scheduled')),
    task_settings TEXT NOT NULL DEFAULT '{}',
    task_state    TEXT,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    completed_at  DATETIME
);

CREATE INDEX idx_tasks_selection ON tasks(status, source, run_at, task_id);

-- Pause state key-value store (schema version lives in schema_migrations).
CREATE TABLE meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT INTO meta (key, value) VALUES ('pause_until', '0');
`
