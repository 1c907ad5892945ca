// Package cancel implements run cancellation: marking a run's jobs
// cancelled, force-releasing its lease, and updating its handoff so an
// in-flight worker observes the cancellation on its next read.
package cancel

import (
	"context"
	"fmt"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/handoff"
	"github.com/forgequeue/forgequeue/internal/queue"
	"github.com/forgequeue/forgequeue/pkg/models"
)

// Cancel marks every queued/in_progress job of runID cancelled, force-
// releases its lease, and — if the run hasn't already reached a terminal
// status — rewrites its handoff to status=cancelled with no next pointer.
// Cancel is idempotent: cancelling an already-cancelled or already-terminal
// run is a no-op past the unconditional queue/lease cleanup.
func Cancel(ctx context.Context, store queue.Store, home, runID string) error {
	if err := store.CancelRun(ctx, runID); err != nil {
		return fmt.Errorf("cancel: cancel run: %w", err)
	}
	if err := store.ForceReleaseLease(ctx, runID); err != nil {
		return fmt.Errorf("cancel: release lease: %w", err)
	}

	art, err := artifact.Open(home, runID)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if !art.Exists(models.ArtifactHandoff) {
		return nil
	}
	h, err := art.ReadHandoff()
	if err != nil {
		return fmt.Errorf("cancel: read handoff: %w", err)
	}
	if handoff.IsTerminal(h) {
		return nil
	}

	h = handoff.Advance(h, h.State.Phase, models.RunCancelled)
	h = handoff.WithNext(h, nil)
	h = handoff.WithNote(h, "Cancelled by user.")
	if err := art.WriteHandoff(h); err != nil {
		return fmt.Errorf("cancel: write handoff: %w", err)
	}
	return nil
}
