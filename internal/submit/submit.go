// Package submit creates new runs: it writes a run's initial task.json and
// handoff.json and enqueues its first plan job.
package submit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/handoff"
	"github.com/forgequeue/forgequeue/internal/queue"
	"github.com/forgequeue/forgequeue/pkg/models"
)

// Request is the input to Submit.
type Request struct {
	Task          string
	RepoURL       string
	BaseBranch    string
	KeepWorkspace bool
}

// NewRunID mints a time-ordered run identifier: a sortable UTC timestamp
// prefix followed by a short random suffix, so two runs submitted in the
// same second still never collide.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102150405"), uuid.NewString()[:8])
}

// Submit mints a run id, writes task.json and a queued handoff.json under
// home, and enqueues the run's plan job. It returns the new run id and
// reports (via the returned bool) whether no worker currently appears to be
// consuming the queue, so the caller can warn the user.
func Submit(ctx context.Context, store queue.Store, home string, req Request) (runID string, noWorker bool, err error) {
	if req.RepoURL == "" {
		return "", false, fmt.Errorf("submit: repo url is required")
	}
	if req.Task == "" {
		return "", false, fmt.Errorf("submit: task is required")
	}

	now := time.Now().UTC()
	runID = NewRunID(now)

	art, err := artifact.Open(home, runID)
	if err != nil {
		return "", false, fmt.Errorf("submit: %w", err)
	}

	task := models.TaskInfo{ID: runID, Prompt: req.Task}
	if err := art.WriteTask(task); err != nil {
		return "", false, fmt.Errorf("submit: write task: %w", err)
	}

	repo := models.RepoInfo{URL: req.RepoURL, BaseBranch: req.BaseBranch}
	h := handoff.CreateQueued(runID, repo, task, models.DefaultMaxIterations, now)
	h.Run.KeepWorkspace = req.KeepWorkspace
	h = handoff.WithNext(h, &models.NextPointer{Agent: "planner"})
	for kind, name := range map[string]string{
		"task":        models.ArtifactTask,
		"handoff":     models.ArtifactHandoff,
		"plan":        models.ArtifactPlan,
		"implementor": models.ArtifactImplementor,
		"review":      models.ArtifactReview,
		"test":        models.ArtifactTest,
		"prDraft":     models.ArtifactPRDraft,
	} {
		h = handoff.WithArtifact(h, kind, name)
	}

	if err := art.WriteHandoff(h); err != nil {
		return "", false, fmt.Errorf("submit: write handoff: %w", err)
	}

	if _, err := store.Enqueue(ctx, runID, models.PhasePlan); err != nil {
		return "", false, fmt.Errorf("submit: enqueue: %w", err)
	}

	stats, statsErr := store.Stats(ctx)
	if statsErr != nil {
		slog.Warn("submit: stats check failed", "run_id", runID, "err", statsErr)
	} else if stats.Queued > 0 && stats.InProgress == 0 && stats.LeaseCount == 0 {
		noWorker = true
		slog.Warn("no active worker detected", "run_id", runID)
	}

	return runID, noWorker, nil
}
