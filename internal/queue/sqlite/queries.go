package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/forgequeue/forgequeue/pkg/models"
)

const isoLayout = time.RFC3339Nano

// storedLayout is the fixed-width form timestamps are written in, so the
// text comparisons and ORDER BY created_at in SQL follow chronological order.
const storedLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowISO() string {
	return time.Now().UTC().Format(storedLayout)
}

// parseStaleTime parses an ISO-8601 timestamp. An unparseable timestamp is
// treated as the zero time, the safe direction for staleness checks: it
// looks infinitely old rather than infinitely fresh.
func parseStaleTime(s string) time.Time {
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) Enqueue(ctx context.Context, runID string, phase models.Phase) (int64, error) {
	now := nowISO()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO jobs(run_id, phase, status, attempt, created_at, updated_at) VALUES(?, ?, 'queued', 0, ?, ?)`, runID, string(phase), now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ClaimOne(ctx context.Context) (*models.Job, error) {
	now := nowISO()
	row := s.stmtClaim.QueryRowContext(ctx, now)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	var j models.Job
	var createdAt, updatedAt string
	var lastError sql.NullString
	var phase, status string
	if err := row.Scan(&j.ID, &j.RunID, &phase, &status, &j.Attempt, &createdAt, &updatedAt, &lastError); err != nil {
		return nil, err
	}
	j.Phase = models.Phase(phase)
	j.Status = models.JobStatus(status)
	j.CreatedAt = parseStaleTime(createdAt)
	j.UpdatedAt = parseStaleTime(updatedAt)
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}

func (s *Store) Requeue(ctx context.Context, jobID int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET status='queued', updated_at=? WHERE id=?`, nowISO(), jobID)
	return err
}

func (s *Store) MarkDone(ctx context.Context, jobID int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET status='done', updated_at=? WHERE id=?`, nowISO(), jobID)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, jobID int64, lastErr string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET status='failed', updated_at=?, last_error=? WHERE id=?`, nowISO(), lastErr, jobID)
	return err
}

func (s *Store) Touch(ctx context.Context, jobID int64) error {
	_, err := s.stmtTouch.ExecContext(ctx, nowISO(), jobID)
	return err
}

func (s *Store) CancelRun(ctx context.Context, runID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET status='cancelled', updated_at=? WHERE run_id=? AND status IN ('queued','in_progress')`, nowISO(), runID)
	return err
}

func (s *Store) AcquireLease(ctx context.Context, runID, owner string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var lockedAt, existingOwner string
	row := tx.QueryRowContext(ctx, `SELECT locked_at, owner FROM run_locks WHERE run_id=?`, runID)
	err = row.Scan(&lockedAt, &existingOwner)
	now := nowISO()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_locks(run_id, locked_at, owner) VALUES(?, ?, ?)`, runID, now, owner); err != nil {
			return false, err
		}
	case err != nil:
		return false, err
	default:
		if time.Since(parseStaleTime(lockedAt)) <= s.LeaseTimeout {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE run_locks SET locked_at=?, owner=? WHERE run_id=?`, now, owner, runID); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, runID, owner string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM run_locks WHERE run_id=? AND owner=?`, runID, owner)
	return err
}

func (s *Store) TouchLease(ctx context.Context, runID, owner string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE run_locks SET locked_at=? WHERE run_id=? AND owner=?`, nowISO(), runID, owner)
	return err
}

func (s *Store) ForceReleaseLease(ctx context.Context, runID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM run_locks WHERE run_id=?`, runID)
	return err
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	row := s.DB.QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM jobs WHERE status='queued'),
  (SELECT COUNT(*) FROM jobs WHERE status='in_progress'),
  (SELECT COUNT(*) FROM run_locks)`)
	if err := row.Scan(&stats.Queued, &stats.InProgress, &stats.LeaseCount); err != nil {
		return models.Stats{}, err
	}
	return stats, nil
}

// RecoverStale runs the sweep in one transaction: jobs stale past
// LeaseTimeout are requeued, and every lease that is either itself stale
// or belongs to a run_id whose job was just recovered is deleted. Both
// paths are checked because a lease can outlive its job (worker crashed
// after acquiring the lease but before claiming) or a job can outlive
// its lease (worker crashed after claiming but before acquiring).
func (s *Store) RecoverStale(ctx context.Context) (models.RecoverResult, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.RecoverResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-s.LeaseTimeout).UTC().Format(storedLayout)

	staleJobRows, err := tx.QueryContext(ctx, `SELECT id, run_id FROM jobs WHERE status='in_progress' AND updated_at <= ?`, cutoff)
	if err != nil {
		return models.RecoverResult{}, err
	}
	type staleJob struct {
		id    int64
		runID string
	}
	var staleJobs []staleJob
	for staleJobRows.Next() {
		var j staleJob
		if err := staleJobRows.Scan(&j.id, &j.runID); err != nil {
			_ = staleJobRows.Close()
			return models.RecoverResult{}, err
		}
		staleJobs = append(staleJobs, j)
	}
	if err := staleJobRows.Err(); err != nil {
		_ = staleJobRows.Close()
		return models.RecoverResult{}, err
	}
	_ = staleJobRows.Close()

	now := nowISO()
	recoveredRuns := make(map[string]bool)
	for _, j := range staleJobs {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status='queued', updated_at=?, last_error=COALESCE(last_error, 'Recovered stale in_progress job.') WHERE id=?`, now, j.id); err != nil {
			return models.RecoverResult{}, err
		}
		recoveredRuns[j.runID] = true
	}

	staleLeaseRows, err := tx.QueryContext(ctx, `SELECT run_id FROM run_locks WHERE locked_at <= ?`, cutoff)
	if err != nil {
		return models.RecoverResult{}, err
	}
	staleLeases := make(map[string]bool)
	for staleLeaseRows.Next() {
		var runID string
		if err := staleLeaseRows.Scan(&runID); err != nil {
			_ = staleLeaseRows.Close()
			return models.RecoverResult{}, err
		}
		staleLeases[runID] = true
	}
	if err := staleLeaseRows.Err(); err != nil {
		_ = staleLeaseRows.Close()
		return models.RecoverResult{}, err
	}
	_ = staleLeaseRows.Close()

	toDelete := make(map[string]bool)
	for runID := range recoveredRuns {
		toDelete[runID] = true
	}
	for runID := range staleLeases {
		toDelete[runID] = true
	}

	releasedLeases := 0
	for runID := range toDelete {
		res, err := tx.ExecContext(ctx, `DELETE FROM run_locks WHERE run_id=?`, runID)
		if err != nil {
			return models.RecoverResult{}, err
		}
		n, _ := res.RowsAffected()
		releasedLeases += int(n)
	}

	if err := tx.Commit(); err != nil {
		return models.RecoverResult{}, err
	}
	return models.RecoverResult{RequeuedJobs: len(staleJobs), ReleasedLeases: releasedLeases}, nil
}
