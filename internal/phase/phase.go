// Package phase defines the contract a worker uses to run one step of the
// pipeline (plan, implement, review, test, or pr) and the executors that
// satisfy it.
package phase

import (
	"context"
	"time"

	"github.com/forgequeue/forgequeue/pkg/models"
)

// Event is one line of progress a phase executor may stream back while it
// runs, mirroring a subprocess's NDJSON stdout.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Phase     models.Phase   `json:"phase,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Request is what a worker hands to an executor for one phase step.
type Request struct {
	RunID        string
	Phase        models.Phase
	Handoff      models.Handoff
	WorkspaceDir string
}

// Result is what an executor hands back. Output is the phase-specific
// artifact payload (plan.json, implementor.json, review.json, test.json,
// or pr-draft.json), serialized as the worker sees fit before writing it.
type Result struct {
	Output map[string]any
}

// Executor runs one phase step. Implementations range from deterministic
// stubs (for tests) to subprocess executors that shell out to an external
// planning/coding tool.
type Executor interface {
	Name() string
	Run(ctx context.Context, req Request, emit func(Event)) (Result, error)
}
