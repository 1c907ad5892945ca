package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgequeue/forgequeue/pkg/models"
)

type fakeSink struct {
	name     string
	messages []string
	err      error
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Notify(ctx context.Context, message string) error {
	f.messages = append(f.messages, message)
	return f.err
}

func TestOnTerminal_fansOutToAllSinks(t *testing.T) {
	t.Parallel()
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", err: context.DeadlineExceeded}
	n := &Notifier{Sinks: []Sink{a, b}}

	h := models.Handoff{
		Run:   models.RunInfo{ID: "run-1"},
		State: models.StateBlock{Phase: models.PhasePR, Status: models.RunCompleted},
	}
	n.OnTerminal(h)

	if len(a.messages) != 1 || len(b.messages) != 1 {
		t.Fatalf("expected both sinks notified once, got a=%v b=%v", a.messages, b.messages)
	}
	if a.messages[0] != "forgequeue run run-1: completed (pr)" {
		t.Fatalf("unexpected message: %q", a.messages[0])
	}
}

func TestOnTerminal_includesLatestNote(t *testing.T) {
	t.Parallel()
	a := &fakeSink{name: "a"}
	n := &Notifier{Sinks: []Sink{a}}
	h := models.Handoff{
		Run:   models.RunInfo{ID: "run-1"},
		State: models.StateBlock{Phase: models.PhaseReview, Status: models.RunFailed},
		Notes: []string{"earlier", "Review rejected and retry budget exhausted."},
	}
	n.OnTerminal(h)
	want := "forgequeue run run-1: failed (review): Review rejected and retry budget exhausted."
	if a.messages[0] != want {
		t.Fatalf("got %q, want %q", a.messages[0], want)
	}
}

func TestOnTerminal_noSinksIsNoop(t *testing.T) {
	t.Parallel()
	var n *Notifier
	n.OnTerminal(models.Handoff{Run: models.RunInfo{ID: "run-1"}})

	empty := &Notifier{}
	empty.OnTerminal(models.Handoff{Run: models.RunInfo{ID: "run-1"}})
}

func TestSlackWebhook_postsJSONPayload(t *testing.T) {
	t.Parallel()
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := SlackWebhook{WebhookURL: srv.URL, Channel: "#ci"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Notify(ctx, "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotBody == "" {
		t.Fatal("expected a request body to have been sent")
	}
}

func TestSlackWebhook_requiresURL(t *testing.T) {
	t.Parallel()
	sink := SlackWebhook{}
	if err := sink.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error with no webhook URL configured")
	}
}

func TestGitHubIssueComment_requiresFields(t *testing.T) {
	t.Parallel()
	sink := GitHubIssueComment{}
	if err := sink.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error with no token/repo/number configured")
	}
}
