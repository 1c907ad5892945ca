package phase

import (
	"context"
	"time"
)

// StubExecutor is a deterministic executor that emits plausible events and
// a fixed result without invoking any external tool. Used by worker tests
// and by `forgequeue doctor`-style smoke checks.
type StubExecutor struct {
	Result Result
	Err    error
}

func (StubExecutor) Name() string { return "stub" }

func (s StubExecutor) Run(ctx context.Context, req Request, emit func(Event)) (Result, error) {
	now := time.Now().UTC()
	emit(Event{Type: "phase_started", RunID: req.RunID, Phase: req.Phase, Timestamp: now})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	emit(Event{Type: "phase_ended", RunID: req.RunID, Phase: req.Phase, Timestamp: time.Now().UTC()})
	if s.Err != nil {
		return Result{}, s.Err
	}
	if s.Result.Output == nil {
		return Result{Output: map[string]any{"status": "ok"}}, nil
	}
	return s.Result, nil
}
