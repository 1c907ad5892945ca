package handoff

import (
	"testing"
	"time"

	"github.com/forgequeue/forgequeue/pkg/models"
)

func TestCreateQueued(t *testing.T) {
	t.Parallel()
	now := time.Now()
	h := CreateQueued("run-1", models.RepoInfo{Root: "/tmp/r"}, models.TaskInfo{ID: "t1", Prompt: "do it"}, 3, now)
	if err := IsRunHandoff(h); err != nil {
		t.Fatalf("IsRunHandoff: %v", err)
	}
	if h.State.Phase != models.PhasePlan || h.State.Status != models.RunQueued {
		t.Fatalf("CreateQueued: got phase=%s status=%s", h.State.Phase, h.State.Status)
	}
	if h.State.Iteration != 1 {
		t.Fatalf("CreateQueued: want iteration 1, got %d", h.State.Iteration)
	}
	if h.Artifacts == nil {
		t.Fatal("CreateQueued: artifacts map should be initialized, not nil")
	}
}

func TestAppendHistory_doesNotMutateOriginal(t *testing.T) {
	t.Parallel()
	h := CreateQueued("run-1", models.RepoInfo{}, models.TaskInfo{ID: "t1"}, 3, time.Now())
	h2 := AppendHistory(h, models.PhasePlan, models.RunCompleted, time.Now(), "plan.json")

	if len(h.State.History) != 0 {
		t.Fatalf("original handoff mutated: %+v", h.State.History)
	}
	if len(h2.State.History) != 1 {
		t.Fatalf("AppendHistory: want 1 entry, got %d", len(h2.State.History))
	}
	if h2.State.History[0].Artifact != "plan.json" {
		t.Fatalf("AppendHistory: got %+v", h2.State.History[0])
	}
}

func TestWithArtifact_doesNotMutateOriginal(t *testing.T) {
	t.Parallel()
	h := CreateQueued("run-1", models.RepoInfo{}, models.TaskInfo{ID: "t1"}, 3, time.Now())
	h2 := WithArtifact(h, "plan", "plan.json")

	if len(h.Artifacts) != 0 {
		t.Fatalf("original handoff artifacts mutated: %+v", h.Artifacts)
	}
	if h2.Artifacts["plan"] != "plan.json" {
		t.Fatalf("WithArtifact: got %+v", h2.Artifacts)
	}
}

func TestAdvance_bumpsIterationOnReturnToPlan(t *testing.T) {
	t.Parallel()
	h := CreateQueued("run-1", models.RepoInfo{}, models.TaskInfo{ID: "t1"}, 3, time.Now())
	h = Advance(h, models.PhaseImplement, models.RunInProgress)
	if h.State.Iteration != 1 {
		t.Fatalf("Advance to implement: want iteration 1, got %d", h.State.Iteration)
	}
	h = Advance(h, models.PhasePlan, models.RunInProgress)
	if h.State.Iteration != 2 {
		t.Fatalf("Advance back to plan: want iteration 2, got %d", h.State.Iteration)
	}
}

func TestIsRunHandoff_rejectsUnknownPhaseAndStatus(t *testing.T) {
	t.Parallel()
	h := CreateQueued("run-1", models.RepoInfo{}, models.TaskInfo{ID: "t1"}, 3, time.Now())
	if err := IsRunHandoff(h); err != nil {
		t.Fatalf("valid handoff rejected: %v", err)
	}

	bad := h
	bad.State.Phase = "bogus"
	if err := IsRunHandoff(bad); err == nil {
		t.Fatal("expected error for unknown phase")
	}

	bad2 := h
	bad2.State.Status = "bogus"
	if err := IsRunHandoff(bad2); err == nil {
		t.Fatal("expected error for unknown status")
	}

	bad3 := h
	bad3.Run.ID = ""
	if err := IsRunHandoff(bad3); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestIsCancelledAndIsTerminal(t *testing.T) {
	t.Parallel()
	h := CreateQueued("run-1", models.RepoInfo{}, models.TaskInfo{ID: "t1"}, 3, time.Now())
	if IsCancelled(h) || IsTerminal(h) {
		t.Fatal("freshly queued handoff should be neither cancelled nor terminal")
	}
	h.State.Status = models.RunCancelled
	if !IsCancelled(h) || !IsTerminal(h) {
		t.Fatal("cancelled handoff should be both cancelled and terminal")
	}
	h.State.Status = models.RunCompleted
	if IsCancelled(h) {
		t.Fatal("completed handoff should not be reported cancelled")
	}
	if !IsTerminal(h) {
		t.Fatal("completed handoff should be terminal")
	}
}
