// Package worker runs the main claim-lease-execute-ack cycle that drives
// jobs through the five-phase pipeline. Multiple Worker instances, each in
// its own OS process, poll the same queue.Store concurrently; each is
// internally single-threaded for its own critical path.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/git"
	"github.com/forgequeue/forgequeue/internal/handoff"
	"github.com/forgequeue/forgequeue/internal/otel"
	"github.com/forgequeue/forgequeue/internal/phase"
	"github.com/forgequeue/forgequeue/internal/queue"
	"github.com/forgequeue/forgequeue/pkg/models"
)

const (
	defaultPollInterval      = 1 * time.Second
	defaultRequeueSleep      = 200 * time.Millisecond
	defaultHeartbeatInterval = 15 * time.Second
)

// NewOwner returns a fresh worker identity, a UUID minted at process
// startup as spec'd for the run lease owner field.
func NewOwner() string {
	return uuid.NewString()
}

// Worker owns one poll loop over Store. Home roots the run/workspace
// directory tree; Executors maps each pipeline phase to the collaborator
// that actually performs it (a StubExecutor in tests, a SubprocessExecutor
// in production). Notify, if set, is called with the handoff when the pr
// phase completes a run, when a phase error marks a run failed, and when a
// claimed job finds its run cancelled. It is not called for a run cancelled
// while none of its jobs is claimed, nor for a job failed for exceeding
// MaxAttempts.
type Worker struct {
	Store     queue.Store
	Home      string
	Owner     string
	Executors map[models.Phase]phase.Executor

	PollInterval      time.Duration
	RequeueSleep      time.Duration
	HeartbeatInterval time.Duration

	Notify func(models.Handoff)
}

// Run executes the poll loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.Owner == "" {
		w.Owner = NewOwner()
	}
	slog.Info("worker started", "owner", w.Owner, "home", w.Home)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "owner", w.Owner)
			return
		default:
		}
		w.runOnce(ctx)
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	if res, err := w.Store.RecoverStale(ctx); err != nil {
		slog.Error("worker recover stale failed", "err", err)
	} else {
		otel.RecordRecovery(ctx, res.RequeuedJobs, res.ReleasedLeases)
		if res.RequeuedJobs > 0 || res.ReleasedLeases > 0 {
			slog.Warn("worker recovered stale work", "requeued_jobs", res.RequeuedJobs, "released_leases", res.ReleasedLeases)
		}
	}

	job, err := w.Store.ClaimOne(ctx)
	if err != nil {
		slog.Error("worker claim failed", "err", err)
		sleep(ctx, w.pollInterval())
		return
	}
	if job == nil {
		sleep(ctx, w.pollInterval())
		return
	}

	if job.Attempt > models.MaxAttempts {
		slog.Error("worker max attempts exceeded", "job_id", job.ID, "run_id", job.RunID, "attempt", job.Attempt)
		otel.RecordJobOp(ctx, "max_attempts", string(job.Phase))
		if err := w.Store.MarkFailed(ctx, job.ID, "Max attempts exceeded."); err != nil {
			slog.Error("worker mark failed (max attempts) failed", "job_id", job.ID, "err", err)
		}
		return
	}

	granted, err := w.Store.AcquireLease(ctx, job.RunID, w.Owner)
	if err != nil {
		slog.Error("worker acquire lease failed", "run_id", job.RunID, "err", err)
		return
	}
	if !granted {
		slog.Info("worker lease denied, requeuing", "run_id", job.RunID, "job_id", job.ID)
		otel.RecordLeaseDenied(ctx)
		if err := w.Store.Requeue(ctx, job.ID); err != nil {
			slog.Error("worker requeue after lease denial failed", "job_id", job.ID, "err", err)
		}
		sleep(ctx, w.requeueSleep())
		return
	}
	defer func() {
		if err := w.Store.ReleaseLease(ctx, job.RunID, w.Owner); err != nil {
			slog.Error("worker release lease failed", "run_id", job.RunID, "err", err)
		}
	}()

	w.processClaimedJob(ctx, job)
}

func (w *Worker) processClaimedJob(ctx context.Context, job *models.Job) {
	art, err := artifact.Open(w.Home, job.RunID)
	if err != nil {
		slog.Error("worker open artifact store failed", "run_id", job.RunID, "err", err)
		_ = w.Store.MarkFailed(ctx, job.ID, err.Error())
		return
	}
	h, err := art.ReadHandoff()
	if err != nil {
		slog.Error("worker read handoff failed", "run_id", job.RunID, "err", err)
		_ = w.Store.MarkFailed(ctx, job.ID, err.Error())
		return
	}
	if err := handoff.IsRunHandoff(h); err != nil {
		slog.Error("worker handoff failed validation", "run_id", job.RunID, "err", err)
		_ = w.Store.MarkFailed(ctx, job.ID, err.Error())
		return
	}

	if handoff.IsCancelled(h) {
		slog.Info("worker observed cancelled run, not dispatching", "run_id", job.RunID, "job_id", job.ID)
		_ = w.Store.MarkFailed(ctx, job.ID, "Run cancelled.")
		if w.Notify != nil {
			w.Notify(h)
		}
		return
	}

	inProgress := handoff.Advance(h, job.Phase, models.RunInProgress)
	if err := art.WriteHandoff(inProgress); err != nil {
		slog.Error("worker write in-progress handoff failed", "run_id", job.RunID, "err", err)
		_ = w.Store.MarkFailed(ctx, job.ID, err.Error())
		return
	}

	done := make(chan struct{})
	go w.heartbeat(ctx, done, job)

	start := time.Now()
	outcome, perr := w.ProcessJob(ctx, art, job, inProgress)
	close(done)
	otel.RecordJobDuration(ctx, string(job.Phase), time.Since(start))

	if perr != nil {
		otel.RecordJobOp(ctx, "failed", string(job.Phase))
		slog.Error("worker phase failed", "run_id", job.RunID, "phase", job.Phase, "err", perr)
		if err := w.Store.MarkFailed(ctx, job.ID, perr.Error()); err != nil {
			slog.Error("worker mark failed failed", "job_id", job.ID, "err", err)
		}
		if !strings.Contains(strings.ToLower(perr.Error()), "run cancelled") {
			failed := handoff.AppendHistory(outcome, job.Phase, models.RunFailed, time.Now().UTC(), "")
			failed.State.Phase = job.Phase
			failed.State.Status = models.RunFailed
			failed = handoff.WithNote(failed, perr.Error())
			failed = handoff.WithNext(failed, nil)
			if werr := art.WriteHandoff(failed); werr != nil {
				slog.Error("worker write failed handoff failed", "run_id", job.RunID, "err", werr)
			} else if w.Notify != nil {
				w.Notify(failed)
			}
		}
		return
	}

	otel.RecordJobOp(ctx, "done", string(job.Phase))
	if err := w.Store.MarkDone(ctx, job.ID); err != nil {
		slog.Error("worker mark done failed", "job_id", job.ID, "err", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, done <-chan struct{}, job *models.Job) {
	interval := w.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Store.Touch(ctx, job.ID); err != nil {
				slog.Warn("worker heartbeat touch job failed", "job_id", job.ID, "err", err)
			}
			if err := w.Store.TouchLease(ctx, job.RunID, w.Owner); err != nil {
				slog.Warn("worker heartbeat touch lease failed", "run_id", job.RunID, "err", err)
			}
		}
	}
}

// ProcessJob dispatches job to the executor configured for its phase,
// writes the phase's artifact(s), advances the handoff, and enqueues the
// next phase's job (or leaves the run terminal). The returned handoff is
// the latest state reached before any error, so the caller can append a
// failed transition to it without losing history.
func (w *Worker) ProcessJob(ctx context.Context, art *artifact.Store, job *models.Job, h models.Handoff) (models.Handoff, error) {
	if handoff.IsCancelled(h) {
		return h, errors.New("run cancelled")
	}
	switch job.Phase {
	case models.PhasePlan:
		return w.processPlan(ctx, art, h)
	case models.PhaseImplement:
		return w.processImplement(ctx, art, h)
	case models.PhaseReview:
		return w.processReview(ctx, art, h)
	case models.PhaseTest:
		return w.processTest(ctx, art, h)
	case models.PhasePR:
		return w.processPR(ctx, art, h)
	default:
		return h, errors.New("worker: unknown phase " + string(job.Phase))
	}
}

func (w *Worker) executorFor(p models.Phase) phase.Executor {
	if w.Executors == nil {
		return nil
	}
	return w.Executors[p]
}

func (w *Worker) emitter(runID string, p models.Phase) func(phase.Event) {
	return func(ev phase.Event) {
		slog.Debug("worker phase event", "run_id", runID, "phase", p, "type", ev.Type)
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return defaultPollInterval
}

func (w *Worker) requeueSleep() time.Duration {
	if w.RequeueSleep > 0 {
		return w.RequeueSleep
	}
	return defaultRequeueSleep
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// workspaceRoot returns the workspace directory a run's git operations
// happen in, falling back to deriving it from Home when the handoff
// hasn't recorded one yet (e.g. before the plan phase has run).
func (w *Worker) workspaceRoot(h models.Handoff) string {
	if h.Run.Repo.Root != "" {
		return h.Run.Repo.Root
	}
	return git.WorktreePath(w.Home, h.Run.ID)
}
