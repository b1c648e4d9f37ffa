package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"device-notifier/internal/models"
)

func (d *DB) InsertOutcome(ctx context.Context, o models.DispatchOutcome) error {
	query := `
        INSERT INTO dispatch_outcomes (
            run_id, seq, device_id, location, owner, recipient, success, last_error, sent_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := d.Pool.Exec(ctx, query,
		pgtype.UUID{Bytes: o.RunID, Valid: true}, o.Candidate.Seq, o.Candidate.Device.ID,
		o.Candidate.Device.Location, o.Candidate.Owner, o.Recipient, o.Success, o.Error, o.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// GetOutcomesByRunID returns the outcomes of a run in dispatch order. Only
// the device fields the outcome table keeps are filled in.
func (d *DB) GetOutcomesByRunID(ctx context.Context, runID uuid.UUID) ([]models.DispatchOutcome, error) {
	query := `
        SELECT seq, device_id, location, owner, recipient, success, last_error, sent_at
        FROM dispatch_outcomes
        WHERE run_id = $1
        ORDER BY id`
	rows, err := d.Pool.Query(ctx, query, pgtype.UUID{Bytes: runID, Valid: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get outcomes for run %s: %w", runID, err)
	}
	defer rows.Close()

	var outcomes []models.DispatchOutcome
	for rows.Next() {
		o := models.DispatchOutcome{RunID: runID}
		if err := rows.Scan(&o.Candidate.Seq, &o.Candidate.Device.ID, &o.Candidate.Device.Location,
			&o.Candidate.Owner, &o.Recipient, &o.Success, &o.Error, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get outcomes for run %s: %w", runID, err)
	}
	return outcomes, nil
}
