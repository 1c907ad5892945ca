// Package notify delivers best-effort notifications when a run reaches a
// terminal status (completed, failed, or cancelled).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/forgequeue/forgequeue/pkg/models"
)

// Sink is one notification destination.
type Sink interface {
	Name() string
	Notify(ctx context.Context, message string) error
}

// SlackWebhook posts message text to a Slack incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": message}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// GitHubIssueComment posts message as a comment on an existing pull request
// or issue, identified by number, in OwnerRepo ("owner/repo").
type GitHubIssueComment struct {
	Token     string
	OwnerRepo string
	Number    int
}

func (g GitHubIssueComment) Name() string { return "github" }

func (g GitHubIssueComment) Notify(ctx context.Context, message string) error {
	if g.Token == "" || g.OwnerRepo == "" || g.Number == 0 {
		return fmt.Errorf("github token, owner/repo, and issue number are required")
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/issues/%d/comments", g.OwnerRepo, g.Number)
	body, err := json.Marshal(map[string]string{"body": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("github comment returned %d", resp.StatusCode)
	}
	return nil
}

// Notifier fans a terminal-status handoff out to every configured Sink,
// logging (never returning) delivery failures: a broken webhook must not
// stop the worker loop that calls it.
type Notifier struct {
	Sinks   []Sink
	Timeout time.Duration
}

// OnTerminal formats h's terminal state and notifies every sink. Suitable
// for direct assignment to worker.Worker.Notify.
func (n *Notifier) OnTerminal(h models.Handoff) {
	if n == nil || len(n.Sinks) == 0 {
		return
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	message := formatMessage(h)
	for _, sink := range n.Sinks {
		if err := sink.Notify(ctx, message); err != nil {
			slog.Warn("notify: sink delivery failed", "sink", sink.Name(), "run_id", h.Run.ID, "err", err)
		}
	}
}

func formatMessage(h models.Handoff) string {
	var note string
	if len(h.Notes) > 0 {
		note = h.Notes[len(h.Notes)-1]
	}
	msg := fmt.Sprintf("forgequeue run %s: %s (%s)", h.Run.ID, h.State.Status, h.State.Phase)
	if note != "" {
		msg += ": " + note
	}
	return msg
}
