package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/nfc-card-store/internal/payment"
)

type postgresRetryRepository struct {
	db *pgxpool.Pool
}

func NewRetryRepository(db *pgxpool.Pool) RetryRepository {
	return &postgresRetryRepository{db: db}
}

func (r *postgresRetryRepository) Enqueue(ctx context.Context, ev payment.Event, lastErr string, nextAttemptAt time.Time) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to generate retry job ID: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to encode payment event: %w", err)
	}

	query := `
		INSERT INTO reconciliation_retries (id, event, attempts, next_attempt_at, last_error, dead, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, FALSE, $5, $5)
	`
	if _, err := r.db.Exec(ctx, query, id, payload, nextAttemptAt.UTC(), lastErr, time.Now().UTC()); err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to enqueue payment event %s: %w", ev.ID, err)
	}

	return id, nil
}

// ClaimDue pushes next_attempt_at of up to limit due jobs forward by lease
// and returns them. SKIP LOCKED lets several workers poll the same table.
func (r *postgresRetryRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]RetryJob, error) {
	query := `
		UPDATE reconciliation_retries
		SET next_attempt_at = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM reconciliation_retries
			WHERE dead = FALSE AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event, attempts, last_error, created_at
	`
	rows, err := r.db.Query(ctx, query, now.UTC(), now.Add(lease).UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to claim retry jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]RetryJob, 0)
	for rows.Next() {
		var job RetryJob
		var payload []byte
		if err := rows.Scan(&job.ID, &payload, &job.Attempts, &job.LastError, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan retry job: %w", err)
		}
		if err := json.Unmarshal(payload, &job.Event); err != nil {
			return nil, fmt.Errorf("repository: failed to decode retry job %s: %w", job.ID, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating retry jobs: %w", err)
	}

	return jobs, nil
}

func (r *postgresRetryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM reconciliation_retries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("repository: failed to delete retry job %s: %w", id, err)
	}
	return nil
}

func (r *postgresRetryRepository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	query := `
		UPDATE reconciliation_retries
		SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = $5
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, attempts, nextAttemptAt.UTC(), lastErr, time.Now().UTC()); err != nil {
		return fmt.Errorf("repository: failed to reschedule retry job %s: %w", id, err)
	}
	return nil
}

func (r *postgresRetryRepository) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	query := `
		UPDATE reconciliation_retries
		SET attempts = $2, last_error = $3, dead = TRUE, updated_at = $4
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, attempts, lastErr, time.Now().UTC()); err != nil {
		return fmt.Errorf("repository: failed to mark retry job %s dead: %w", id, err)
	}
	return nil
}
