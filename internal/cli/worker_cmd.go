package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/internal/notify"
	"github.com/forgequeue/forgequeue/internal/otel"
	"github.com/forgequeue/forgequeue/internal/queue"
	"github.com/forgequeue/forgequeue/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		dbDriver     string
		dbURL        string
		runtimeKind  string
		executorCmd  string
		executorArgs []string
		pollInterval time.Duration
		heartbeat    time.Duration
		enableOtel   bool
		slackWebhook string
		githubToken  string
		githubRepo   string
		githubIssue  int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker loop; never returns normally",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)

			store, err := queue.Open(queue.OpenOptions{Driver: dbDriver, Path: config.QueueDBPath(home), DSN: dbURL})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			executors, err := buildExecutors(runtimeKind, executorCmd, executorArgs, home)
			if err != nil {
				return err
			}

			if enableOtel {
				if _, err := otel.InitMeterProvider(ctx, "forgequeue"); err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
				if err := otel.InitMetricsWithQueueStats(ctx, func() (int64, int64, int64) {
					stats, err := store.Stats(ctx)
					if err != nil {
						return 0, 0, 0
					}
					return int64(stats.Queued), int64(stats.InProgress), int64(stats.LeaseCount)
				}); err != nil {
					return fmt.Errorf("init metrics: %w", err)
				}
			}

			if slackWebhook == "" {
				slackWebhook = os.Getenv("FORGEQUEUE_SLACK_WEBHOOK")
			}
			if githubToken == "" {
				githubToken = os.Getenv("FORGEQUEUE_GITHUB_TOKEN")
			}

			var sinks []notify.Sink
			if slackWebhook != "" {
				sinks = append(sinks, notify.SlackWebhook{WebhookURL: slackWebhook})
			}
			if githubToken != "" && githubRepo != "" && githubIssue > 0 {
				sinks = append(sinks, notify.GitHubIssueComment{Token: githubToken, OwnerRepo: githubRepo, Number: githubIssue})
			}
			notifier := &notify.Notifier{Sinks: sinks}

			w := &worker.Worker{
				Store:             store,
				Home:              home,
				Executors:         executors,
				PollInterval:      pollInterval,
				HeartbeatInterval: heartbeat,
				Notify:            notifier.OnTerminal,
			}
			w.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Queue store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "stub", "Phase executor: stub or subprocess")
	cmd.Flags().StringVar(&executorCmd, "executor-cmd", "", "Command for --runtime subprocess")
	cmd.Flags().StringSliceVar(&executorArgs, "executor-args", nil, "Args for --runtime subprocess")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "Queue poll interval when idle (default 1s)")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 0, "Lease/job heartbeat interval (default 15s)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry/Prometheus metrics")
	cmd.Flags().StringVar(&slackWebhook, "slack-webhook", "", "Slack webhook URL for terminal-run notifications (or set FORGEQUEUE_SLACK_WEBHOOK)")
	cmd.Flags().StringVar(&githubToken, "github-token", "", "GitHub token for issue-comment notifications (or set FORGEQUEUE_GITHUB_TOKEN)")
	cmd.Flags().StringVar(&githubRepo, "github-repo", "", "owner/repo for issue-comment notifications")
	cmd.Flags().IntVar(&githubIssue, "github-issue", 0, "Issue number for issue-comment notifications")
	return cmd
}
