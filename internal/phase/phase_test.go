package phase

import (
	"context"
	"testing"

	"github.com/forgequeue/forgequeue/pkg/models"
)

func TestStubExecutor_emitsStartAndEnd(t *testing.T) {
	t.Parallel()
	var events []Event
	res, err := StubExecutor{}.Run(context.Background(), Request{RunID: "run-1", Phase: models.PhasePlan}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 2 || events[0].Type != "phase_started" || events[1].Type != "phase_ended" {
		t.Fatalf("Run: got events %+v", events)
	}
	if res.Output["status"] != "ok" {
		t.Fatalf("Run: got result %+v", res)
	}
}

func TestStubExecutor_returnsConfiguredError(t *testing.T) {
	t.Parallel()
	want := errTestFailure
	_, err := StubExecutor{Err: want}.Run(context.Background(), Request{RunID: "run-1"}, func(Event) {})
	if err != want {
		t.Fatalf("Run: got err %v, want %v", err, want)
	}
}

func TestStubExecutor_respectsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := StubExecutor{}.Run(ctx, Request{RunID: "run-1"}, func(Event) {})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestSubprocessExecutor_echo(t *testing.T) {
	t.Parallel()
	exec := SubprocessExecutor{
		Command: "sh",
		Args:    []string{"-c", `cat >/dev/null; echo '{"type":"result","data":{"status":"ok"}}'`},
	}
	var events []Event
	res, err := exec.Run(context.Background(), Request{RunID: "run-1"}, func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 1 || events[0].Type != "result" {
		t.Fatalf("Run: got events %+v", events)
	}
	if res.Output["status"] != "ok" {
		t.Fatalf("Run: got result %+v", res)
	}
}

func TestSubprocessExecutor_missingCommand(t *testing.T) {
	t.Parallel()
	_, err := SubprocessExecutor{}.Run(context.Background(), Request{}, func(Event) {})
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

var errTestFailure = &testError{"stub failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
