// Package handoff implements the value transforms over a run's
// handoff.json document. Every function here returns a new Handoff value;
// none mutate their argument.
package handoff

import (
	"fmt"
	"time"

	"github.com/forgequeue/forgequeue/pkg/models"
)

// CreateQueued builds the initial handoff document for a freshly submitted
// run, status queued, iteration 1, pointed at the plan phase.
func CreateQueued(runID string, repo models.RepoInfo, task models.TaskInfo, maxIterations int, createdAt time.Time) models.Handoff {
	return models.Handoff{
		Run: models.RunInfo{
			ID:        runID,
			CreatedAt: createdAt,
			Repo:      repo,
		},
		Task: task,
		State: models.StateBlock{
			Phase:         models.PhasePlan,
			Status:        models.RunQueued,
			Iteration:     1,
			MaxIterations: maxIterations,
			History:       nil,
		},
		Artifacts: map[string]string{},
		Notes:     nil,
	}
}

// AppendHistory returns a copy of h with one HistoryEntry appended,
// recording that phase ended in status at endedAt, optionally naming the
// artifact that phase produced.
func AppendHistory(h models.Handoff, phase models.Phase, status models.RunStatus, endedAt time.Time, artifact string) models.Handoff {
	out := h
	history := make([]models.HistoryEntry, len(h.State.History), len(h.State.History)+1)
	copy(history, h.State.History)
	history = append(history, models.HistoryEntry{
		Phase:    phase,
		Status:   status,
		EndedAt:  endedAt,
		Artifact: artifact,
	})
	out.State.History = history
	return out
}

// WithArtifact returns a copy of h with artifacts[name] set to relPath.
func WithArtifact(h models.Handoff, name, relPath string) models.Handoff {
	out := h
	artifacts := make(map[string]string, len(h.Artifacts)+1)
	for k, v := range h.Artifacts {
		artifacts[k] = v
	}
	artifacts[name] = relPath
	out.Artifacts = artifacts
	return out
}

// Advance returns a copy of h moved to the next phase and status, bumping
// iteration when the new phase is plan again (a retry loop back to the
// start of the pipeline).
func Advance(h models.Handoff, phase models.Phase, status models.RunStatus) models.Handoff {
	out := h
	out.State.Phase = phase
	out.State.Status = status
	if phase == models.PhasePlan && h.State.Phase != models.PhasePlan {
		out.State.Iteration = h.State.Iteration + 1
		out.State.ReviewRetries = 0
	}
	return out
}

// WithReviewRetries returns a copy of h with state.reviewRetries set to n.
func WithReviewRetries(h models.Handoff, n int) models.Handoff {
	out := h
	out.State.ReviewRetries = n
	return out
}

// WithNext returns a copy of h with its next pointer replaced.
func WithNext(h models.Handoff, next *models.NextPointer) models.Handoff {
	out := h
	out.Next = next
	return out
}

// WithNote returns a copy of h with note appended to its notes.
func WithNote(h models.Handoff, note string) models.Handoff {
	out := h
	notes := make([]string, len(h.Notes), len(h.Notes)+1)
	copy(notes, h.Notes)
	notes = append(notes, note)
	out.Notes = notes
	return out
}

// IsRunHandoff reports whether h is well-formed enough to drive the
// pipeline: a non-empty run id, a known phase, and a known status. This is
// the closed-schema validator in place of a general-purpose JSON schema
// library: the document's shape is fixed by models.Handoff, so the only
// thing left to check is that the enum-like string fields hold a value the
// state machine recognizes.
func IsRunHandoff(h models.Handoff) error {
	if h.Run.ID == "" {
		return fmt.Errorf("handoff: missing run id")
	}
	switch h.State.Phase {
	case models.PhasePlan, models.PhaseImplement, models.PhaseReview, models.PhaseTest, models.PhasePR:
	default:
		return fmt.Errorf("handoff: unknown phase %q", h.State.Phase)
	}
	switch h.State.Status {
	case models.RunQueued, models.RunInProgress, models.RunCompleted, models.RunFailed, models.RunCancelled:
	default:
		return fmt.Errorf("handoff: unknown status %q", h.State.Status)
	}
	if h.State.Iteration < 0 {
		return fmt.Errorf("handoff: negative iteration %d", h.State.Iteration)
	}
	return nil
}

// IsCancelled reports whether the run's handoff document asked for
// cooperative cancellation. Workers poll this between mutation steps.
func IsCancelled(h models.Handoff) bool {
	return h.State.Status == models.RunCancelled
}

// IsTerminal reports whether the run has reached a status from which the
// pipeline will not advance further on its own.
func IsTerminal(h models.Handoff) bool {
	switch h.State.Status {
	case models.RunCompleted, models.RunFailed, models.RunCancelled:
		return true
	default:
		return false
	}
}
