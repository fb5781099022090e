package ledger

import (
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// NewPostgresStore connects to a PostgreSQL ledger and creates its tables
func NewPostgresStore(dsn string, logger *logrus.Logger) (Ledger, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Debug("postgres ledger opened")
	return &sqlStore{db: db, logger: logger}, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	plan TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	store_uri TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	dry_run BOOLEAN NOT NULL DEFAULT FALSE,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_groups (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id),
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	operations INTEGER NOT NULL,
	applied INTEGER NOT NULL,
	rejected INTEGER NOT NULL,
	chunks INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_drains (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id),
	after_group TEXT NOT NULL DEFAULT '',
	query TEXT NOT NULL,
	outcome TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	elapsed_ms BIGINT NOT NULL,
	last_count INTEGER NOT NULL,
	connection_errors INTEGER NOT NULL,
	rejected_errors INTEGER NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_rejections (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id),
	group_name TEXT NOT NULL,
	statement TEXT NOT NULL,
	error TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_groups_run_id ON run_groups(run_id);
CREATE INDEX IF NOT EXISTS idx_run_drains_run_id ON run_drains(run_id);
CREATE INDEX IF NOT EXISTS idx_run_rejections_run_id ON run_rejections(run_id);
`
