package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(dsn string) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS notifier_runs (
    id          UUID PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    state       TEXT NOT NULL,
    devices     INTEGER NOT NULL DEFAULT 0,
    candidates  INTEGER NOT NULL DEFAULT 0,
    attempted   INTEGER NOT NULL DEFAULT 0,
    succeeded   INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    digest_sent BOOLEAN NOT NULL DEFAULT FALSE,
    report_path TEXT NOT NULL DEFAULT '',
    last_error  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dispatch_outcomes (
    id         BIGSERIAL PRIMARY KEY,
    run_id     UUID NOT NULL,
    seq        INTEGER NOT NULL,
    device_id  TEXT NOT NULL,
    location   TEXT NOT NULL,
    owner      TEXT NOT NULL,
    recipient  TEXT NOT NULL,
    success    BOOLEAN NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    sent_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS dispatch_outcomes_run_id_idx ON dispatch_outcomes (run_id);
`

// EnsureSchema creates the run history tables if they do not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
