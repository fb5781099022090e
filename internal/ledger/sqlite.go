package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// NewSQLiteStore opens (and creates) a SQLite ledger at path
func NewSQLiteStore(path string, logger *logrus.Logger) (Ledger, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// One writer; WAL lets history queries run alongside a run
	db.SetMaxOpenConns(1)
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.WithField("path", path).Debug("sqlite ledger opened")
	return &sqlStore{db: db, logger: logger}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	plan TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	store_uri TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	dry_run BOOLEAN NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	operations INTEGER NOT NULL,
	applied INTEGER NOT NULL,
	rejected INTEGER NOT NULL,
	chunks INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	finished_at DATETIME NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS run_drains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	after_group TEXT NOT NULL DEFAULT '',
	query TEXT NOT NULL,
	outcome TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	last_count INTEGER NOT NULL,
	connection_errors INTEGER NOT NULL,
	rejected_errors INTEGER NOT NULL,
	finished_at DATETIME NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS run_rejections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	group_name TEXT NOT NULL,
	statement TEXT NOT NULL,
	error TEXT NOT NULL,
	recorded_at DATETIME NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_groups_run_id ON run_groups(run_id);
CREATE INDEX IF NOT EXISTS idx_run_drains_run_id ON run_drains(run_id);
CREATE INDEX IF NOT EXISTS idx_run_rejections_run_id ON run_rejections(run_id);
`
