package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
)

// CreateSyncJob inserts a queued job. A partial unique index on
// sync_jobs(integration_id) WHERE status IN ('queued','running') guarantees
// at most one non-terminal job per integration; losing the race returns
// created=false with no job row.
func (s *Store) CreateSyncJob(ctx context.Context, job *models.SyncJob) (bool, error) {
	query := `
		INSERT INTO sync_jobs (id, integration_id, status, trigger, progress, results, log, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (integration_id) WHERE status IN ('queued', 'running') DO NOTHING
	`

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.SyncStatusQueued
	job.CreatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, query,
		job.ID, job.IntegrationID, job.Status, job.Trigger,
		job.Progress, job.Results, job.Log, job.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) GetSyncJob(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	query := `SELECT * FROM sync_jobs WHERE id = $1`
	err := s.db.GetContext(ctx, &job, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &job, err
}

// FindActiveJob returns the integration's queued or running job, if any.
func (s *Store) FindActiveJob(ctx context.Context, integrationID uuid.UUID) (*models.SyncJob, error) {
	var job models.SyncJob
	query := `
		SELECT * FROM sync_jobs
		WHERE integration_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := s.db.GetContext(ctx, &job, query, integrationID, models.SyncStatusQueued, models.SyncStatusRunning)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &job, err
}

func (s *Store) ListSyncJobs(ctx context.Context, integrationID uuid.UUID, limit int) ([]models.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []models.SyncJob
	query := `
		SELECT * FROM sync_jobs
		WHERE integration_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	err := s.db.SelectContext(ctx, &jobs, query, integrationID, limit)
	return jobs, err
}

// ClaimSyncJob moves a queued job to running. The conditional update is the
// atomic half of the single-flight guarantee: only one caller observes
// claimed=true.
func (s *Store) ClaimSyncJob(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, models.SyncStatusRunning, time.Now(), id, models.SyncStatusQueued)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// UpdateSyncJobProgress persists the structured progress and interim results.
// Called on the orchestrator's flush cadence, not per item.
func (s *Store) UpdateSyncJobProgress(ctx context.Context, id uuid.UUID, progress models.SyncProgress, results models.SyncResults) error {
	query := `UPDATE sync_jobs SET progress = $1, results = $2 WHERE id = $3 AND status = $4`
	_, err := s.db.ExecContext(ctx, query, progress, results, id, models.SyncStatusRunning)
	return err
}

// AppendSyncJobLog appends one entry to the job's append-only log.
func (s *Store) AppendSyncJobLog(ctx context.Context, id uuid.UUID, level, message string) error {
	entry := models.LogEntries{{Level: level, Message: message, Timestamp: time.Now()}}
	query := `
		UPDATE sync_jobs
		SET log = COALESCE(log, '[]'::jsonb) || $1
		WHERE id = $2
	`
	_, err := s.db.ExecContext(ctx, query, entry, id)
	return err
}

// CompleteSyncJob sets the terminal status exactly once. A job already in a
// terminal state is left untouched and completed=false is returned.
func (s *Store) CompleteSyncJob(ctx context.Context, id uuid.UUID, status models.SyncStatus,
	progress models.SyncProgress, results models.SyncResults, duration time.Duration) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET status = $1, progress = $2, results = $3, completed_at = $4, duration_ms = $5
		WHERE id = $6 AND status IN ($7, $8)
	`
	res, err := s.db.ExecContext(ctx, query,
		status, progress, results, time.Now(), duration.Milliseconds(),
		id, models.SyncStatusQueued, models.SyncStatusRunning,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CancelSyncJob cancels a queued or running job. Cancellation is cooperative:
// the orchestrator observes the flipped status between iteration units.
func (s *Store) CancelSyncJob(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE sync_jobs
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`
	res, err := s.db.ExecContext(ctx, query,
		models.SyncStatusCancelled, time.Now(), id,
		models.SyncStatusQueued, models.SyncStatusRunning,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
