// Package queue is the durable, ACID-backed job queue and per-run lease
// store. Implementations: sqlite.Store (default) and postgres.Store (for
// multi-host deployments).
package queue

import (
	"context"

	"github.com/forgequeue/forgequeue/pkg/models"
)

// Store is the persistence interface for jobs and run leases. All operations
// are durable on commit; none retry internally. Transient errors surface to
// the caller, which is the worker loop's job to handle.
type Store interface {
	// Enqueue inserts one queued job for run_id/phase. Does not enforce "at
	// most one queued/in_progress job per run" — the caller orders enqueues
	// after the previous phase's ack.
	Enqueue(ctx context.Context, runID string, phase models.Phase) (int64, error)

	// ClaimOne selects the oldest queued job (FIFO, ties broken by id),
	// marks it in_progress with attempt+1, and returns it. Returns (nil, nil)
	// if no queued job exists.
	ClaimOne(ctx context.Context) (*models.Job, error)

	// Requeue sets a job back to queued (e.g. lease denied).
	Requeue(ctx context.Context, jobID int64) error

	// MarkDone terminally marks a job done.
	MarkDone(ctx context.Context, jobID int64) error

	// MarkFailed terminally marks a job failed, recording lastErr.
	MarkFailed(ctx context.Context, jobID int64, lastErr string) error

	// Touch bumps a job's updated_at without changing status (heartbeat).
	Touch(ctx context.Context, jobID int64) error

	// CancelRun marks every queued/in_progress job of run_id as cancelled.
	CancelRun(ctx context.Context, runID string) error

	// AcquireLease grants or steals the lease for run_id to owner. Returns
	// false if another owner currently holds an unexpired lease.
	AcquireLease(ctx context.Context, runID, owner string) (bool, error)

	// ReleaseLease deletes the lease row iff owner matches.
	ReleaseLease(ctx context.Context, runID, owner string) error

	// TouchLease bumps locked_at iff owner matches (heartbeat).
	TouchLease(ctx context.Context, runID, owner string) error

	// ForceReleaseLease unconditionally deletes the lease row (cancellation path).
	ForceReleaseLease(ctx context.Context, runID string) error

	// Stats returns queue depth and lease count.
	Stats(ctx context.Context) (models.Stats, error)

	// RecoverStale requeues in_progress jobs whose updated_at predates the
	// lease timeout and deletes leases that are stale or whose job was just
	// recovered. Running it twice in a row with no activity in between
	// returns {0,0} the second time.
	RecoverStale(ctx context.Context) (models.RecoverResult, error)

	Close() error
}
