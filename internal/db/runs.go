package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"device-notifier/internal/models"
)

func (d *DB) CreateRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
        INSERT INTO notifier_runs (id, started_at, state)
        VALUES ($1, $2, $3)`
	_, err := d.Pool.Exec(ctx, query, pgtype.UUID{Bytes: id, Valid: true}, startedAt, string(models.StateFetching))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the terminal result. Runs that failed before CreateRun
// are inserted here.
func (d *DB) FinishRun(ctx context.Context, r models.RunResult) error {
	query := `
        INSERT INTO notifier_runs (
            id, started_at, finished_at, state, devices, candidates,
            attempted, succeeded, failed, digest_sent, report_path, last_error
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (id) DO UPDATE SET
            finished_at = EXCLUDED.finished_at,
            state       = EXCLUDED.state,
            devices     = EXCLUDED.devices,
            candidates  = EXCLUDED.candidates,
            attempted   = EXCLUDED.attempted,
            succeeded   = EXCLUDED.succeeded,
            failed      = EXCLUDED.failed,
            digest_sent = EXCLUDED.digest_sent,
            report_path = EXCLUDED.report_path,
            last_error  = EXCLUDED.last_error`
	_, err := d.Pool.Exec(ctx, query,
		pgtype.UUID{Bytes: r.ID, Valid: true}, r.StartedAt, r.FinishedAt, string(r.State),
		r.Devices, r.Candidates, r.Attempted, r.Succeeded, r.Failed,
		r.DigestSent, r.ReportPath, r.Error)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", r.ID, err)
	}
	return nil
}

func (d *DB) ListRuns(ctx context.Context, limit int) ([]models.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT id, started_at, finished_at, state, devices, candidates,
               attempted, succeeded, failed, digest_sent, report_path, last_error
        FROM notifier_runs
        ORDER BY started_at DESC
        LIMIT $1`
	rows, err := d.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunResult
	for rows.Next() {
		var (
			r        models.RunResult
			id       pgtype.UUID
			finished pgtype.Timestamptz
			state    string
		)
		if err := rows.Scan(&id, &r.StartedAt, &finished, &state, &r.Devices, &r.Candidates,
			&r.Attempted, &r.Succeeded, &r.Failed, &r.DigestSent, &r.ReportPath, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.ID = id.Bytes
		r.State = models.RunState(state)
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
