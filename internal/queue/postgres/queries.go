package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/forgequeue/forgequeue/pkg/models"
)

func (s *Store) Enqueue(ctx context.Context, runID string, phase models.Phase) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO jobs(run_id, phase, status, attempt, created_at, updated_at) VALUES($1, $2, 'queued', 0, $3, $3) RETURNING id`, runID, string(phase), now).Scan(&id)
	return id, err
}

// ClaimOne claims the oldest queued job with a single UPDATE...RETURNING
// statement wrapped in a transaction with an advisory-free row lock: the
// subselect's FOR UPDATE SKIP LOCKED lets multiple workers claim distinct
// rows concurrently without blocking on each other.
func (s *Store) ClaimOne(ctx context.Context) (*models.Job, error) {
	now := time.Now().UTC()
	row := s.Pool.QueryRow(ctx, `
UPDATE jobs SET status='in_progress', attempt=attempt+1, updated_at=$1
WHERE id = (
  SELECT id FROM jobs WHERE status='queued' ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED
)
RETURNING id, run_id, phase, status, attempt, created_at, updated_at, last_error`, now)
	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var phase, status string
	var lastError *string
	if err := row.Scan(&j.ID, &j.RunID, &phase, &status, &j.Attempt, &j.CreatedAt, &j.UpdatedAt, &lastError); err != nil {
		return nil, err
	}
	j.Phase = models.Phase(phase)
	j.Status = models.JobStatus(status)
	j.LastError = lastError
	return &j, nil
}

func (s *Store) Requeue(ctx context.Context, jobID int64) error {
	_, err := s.Pool.Exec(ctx, `UPDATE jobs SET status='queued', updated_at=$1 WHERE id=$2`, time.Now().UTC(), jobID)
	return err
}

func (s *Store) MarkDone(ctx context.Context, jobID int64) error {
	_, err := s.Pool.Exec(ctx, `UPDATE jobs SET status='done', updated_at=$1 WHERE id=$2`, time.Now().UTC(), jobID)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, jobID int64, lastErr string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE jobs SET status='failed', updated_at=$1, last_error=$2 WHERE id=$3`, time.Now().UTC(), lastErr, jobID)
	return err
}

func (s *Store) Touch(ctx context.Context, jobID int64) error {
	_, err := s.Pool.Exec(ctx, `UPDATE jobs SET updated_at=$1 WHERE id=$2`, time.Now().UTC(), jobID)
	return err
}

func (s *Store) CancelRun(ctx context.Context, runID string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE jobs SET status='cancelled', updated_at=$1 WHERE run_id=$2 AND status IN ('queued','in_progress')`, time.Now().UTC(), runID)
	return err
}

func (s *Store) AcquireLease(ctx context.Context, runID, owner string) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lockedAt time.Time
	err = tx.QueryRow(ctx, `SELECT locked_at FROM run_locks WHERE run_id=$1 FOR UPDATE`, runID).Scan(&lockedAt)
	now := time.Now().UTC()
	switch {
	case err == pgx.ErrNoRows:
		if _, err := tx.Exec(ctx, `INSERT INTO run_locks(run_id, locked_at, owner) VALUES($1, $2, $3)`, runID, now, owner); err != nil {
			return false, err
		}
	case err != nil:
		return false, err
	default:
		if time.Since(lockedAt) <= s.LeaseTimeout {
			return false, nil
		}
		if _, err := tx.Exec(ctx, `UPDATE run_locks SET locked_at=$1, owner=$2 WHERE run_id=$3`, now, owner, runID); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, runID, owner string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM run_locks WHERE run_id=$1 AND owner=$2`, runID, owner)
	return err
}

func (s *Store) TouchLease(ctx context.Context, runID, owner string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE run_locks SET locked_at=$1 WHERE run_id=$2 AND owner=$3`, time.Now().UTC(), runID, owner)
	return err
}

func (s *Store) ForceReleaseLease(ctx context.Context, runID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM run_locks WHERE run_id=$1`, runID)
	return err
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	row := s.Pool.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM jobs WHERE status='queued'),
  (SELECT COUNT(*) FROM jobs WHERE status='in_progress'),
  (SELECT COUNT(*) FROM run_locks)`)
	if err := row.Scan(&stats.Queued, &stats.InProgress, &stats.LeaseCount); err != nil {
		return models.Stats{}, err
	}
	return stats, nil
}

func (s *Store) RecoverStale(ctx context.Context) (models.RecoverResult, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return models.RecoverResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cutoff := time.Now().Add(-s.LeaseTimeout).UTC()

	rows, err := tx.Query(ctx, `SELECT id, run_id FROM jobs WHERE status='in_progress' AND updated_at <= $1`, cutoff)
	if err != nil {
		return models.RecoverResult{}, err
	}
	type staleJob struct {
		id    int64
		runID string
	}
	var staleJobs []staleJob
	for rows.Next() {
		var j staleJob
		if err := rows.Scan(&j.id, &j.runID); err != nil {
			rows.Close()
			return models.RecoverResult{}, err
		}
		staleJobs = append(staleJobs, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.RecoverResult{}, err
	}

	now := time.Now().UTC()
	recoveredRuns := make(map[string]bool)
	for _, j := range staleJobs {
		if _, err := tx.Exec(ctx, `UPDATE jobs SET status='queued', updated_at=$1, last_error=COALESCE(last_error, 'Recovered stale in_progress job.') WHERE id=$2`, now, j.id); err != nil {
			return models.RecoverResult{}, err
		}
		recoveredRuns[j.runID] = true
	}

	leaseRows, err := tx.Query(ctx, `SELECT run_id FROM run_locks WHERE locked_at <= $1`, cutoff)
	if err != nil {
		return models.RecoverResult{}, err
	}
	staleLeases := make(map[string]bool)
	for leaseRows.Next() {
		var runID string
		if err := leaseRows.Scan(&runID); err != nil {
			leaseRows.Close()
			return models.RecoverResult{}, err
		}
		staleLeases[runID] = true
	}
	leaseRows.Close()
	if err := leaseRows.Err(); err != nil {
		return models.RecoverResult{}, err
	}

	toDelete := make(map[string]bool)
	for runID := range recoveredRuns {
		toDelete[runID] = true
	}
	for runID := range staleLeases {
		toDelete[runID] = true
	}

	releasedLeases := 0
	for runID := range toDelete {
		tag, err := tx.Exec(ctx, `DELETE FROM run_locks WHERE run_id=$1`, runID)
		if err != nil {
			return models.RecoverResult{}, err
		}
		releasedLeases += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return models.RecoverResult{}, err
	}
	return models.RecoverResult{RequeuedJobs: len(staleJobs), ReleasedLeases: releasedLeases}, nil
}
