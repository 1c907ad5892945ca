package cancel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/handoff"
	"github.com/forgequeue/forgequeue/internal/queue/sqlite"
	"github.com/forgequeue/forgequeue/pkg/models"
)

func openTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	home := t.TempDir()
	st, err := sqlite.Open(filepath.Join(home, "queue.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, home
}

func seedRun(t *testing.T, st *sqlite.Store, home, runID string) {
	t.Helper()
	ctx := context.Background()
	h := handoff.CreateQueued(runID, models.RepoInfo{URL: "https://example.invalid/r.git"}, models.TaskInfo{ID: "t1", Prompt: "x"}, models.DefaultMaxIterations, time.Now().UTC())
	art, err := artifact.Open(home, runID)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	if err := art.WriteHandoff(h); err != nil {
		t.Fatalf("WriteHandoff: %v", err)
	}
	if _, err := st.Enqueue(ctx, runID, models.PhasePlan); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func TestCancel_marksJobsLeaseAndHandoff(t *testing.T) {
	t.Parallel()
	st, home := openTestStore(t)
	ctx := context.Background()
	runID := "run-1"
	seedRun(t, st, home, runID)

	job, err := st.ClaimOne(ctx)
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	granted, err := st.AcquireLease(ctx, runID, "worker-a")
	if err != nil || !granted {
		t.Fatalf("AcquireLease: granted=%v err=%v", granted, err)
	}

	if err := Cancel(ctx, st, home, runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.LeaseCount != 0 {
		t.Fatalf("lease should be force-released, got %d leases", stats.LeaseCount)
	}

	next, err := st.ClaimOne(ctx)
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if next != nil {
		t.Fatalf("cancelled job should not be claimable, got %+v", next)
	}
	_ = job

	art, err := artifact.Open(home, runID)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	h, err := art.ReadHandoff()
	if err != nil {
		t.Fatalf("ReadHandoff: %v", err)
	}
	if h.State.Status != models.RunCancelled {
		t.Fatalf("handoff status: got %q, want cancelled", h.State.Status)
	}
	if h.Next != nil {
		t.Fatalf("cancelled handoff should have no next pointer, got %+v", h.Next)
	}
	if len(h.Notes) == 0 || h.Notes[len(h.Notes)-1] != "Cancelled by user." {
		t.Fatalf("expected a cancellation note, got %v", h.Notes)
	}
}

func TestCancel_idempotentOnAlreadyCancelledRun(t *testing.T) {
	t.Parallel()
	st, home := openTestStore(t)
	ctx := context.Background()
	runID := "run-1"
	seedRun(t, st, home, runID)

	if err := Cancel(ctx, st, home, runID); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := Cancel(ctx, st, home, runID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestCancel_noHandoffIsNotAnError(t *testing.T) {
	t.Parallel()
	st, home := openTestStore(t)
	ctx := context.Background()
	if err := Cancel(ctx, st, home, "run-never-submitted"); err != nil {
		t.Fatalf("Cancel on unknown run: %v", err)
	}
}

func TestCancel_doesNotOverwriteCompletedHandoff(t *testing.T) {
	t.Parallel()
	st, home := openTestStore(t)
	ctx := context.Background()
	runID := "run-1"
	seedRun(t, st, home, runID)

	art, err := artifact.Open(home, runID)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	h, err := art.ReadHandoff()
	if err != nil {
		t.Fatalf("ReadHandoff: %v", err)
	}
	completed := handoff.Advance(h, models.PhasePR, models.RunCompleted)
	completed = handoff.WithNext(completed, nil)
	if err := art.WriteHandoff(completed); err != nil {
		t.Fatalf("WriteHandoff: %v", err)
	}

	if err := Cancel(ctx, st, home, runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final, err := art.ReadHandoff()
	if err != nil {
		t.Fatalf("ReadHandoff: %v", err)
	}
	if final.State.Status != models.RunCompleted {
		t.Fatalf("completed handoff was overwritten: got %q", final.State.Status)
	}
}
