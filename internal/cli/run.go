package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/internal/queue"
	"github.com/forgequeue/forgequeue/internal/submit"
	"github.com/forgequeue/forgequeue/internal/taskinput"
	"github.com/forgequeue/forgequeue/internal/worker"
)

func newRunCmd() *cobra.Command {
	var (
		repoURL       string
		branch        string
		keepWorkspace bool
		startWorker   bool
		dbDriver      string
		dbURL         string
		runtimeKind   string
		executorCmd   string
		executorArgs  []string
	)

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Submit a new run: writes task/handoff, enqueues plan, prints the run id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoURL == "" {
				return fmt.Errorf("--repo is required")
			}
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)

			task, err := taskinput.Resolve(args[0])
			if err != nil {
				return fmt.Errorf("resolve task: %w", err)
			}

			store, err := queue.Open(queue.OpenOptions{Driver: dbDriver, Path: config.QueueDBPath(home), DSN: dbURL})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runID, noWorker, err := submit.Submit(ctx, store, home, submit.Request{
				Task:          task,
				RepoURL:       repoURL,
				BaseBranch:    branch,
				KeepWorkspace: keepWorkspace,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), runID)
			if noWorker && !startWorker {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning: no active worker detected; run `forgequeue worker` to process this queue")
			}

			if startWorker {
				executors, err := buildExecutors(runtimeKind, executorCmd, executorArgs, home)
				if err != nil {
					return err
				}
				w := &worker.Worker{Store: store, Home: home, Executors: executors}
				w.Run(ctx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoURL, "repo", "", "Git repository URL to clone and work against")
	cmd.Flags().StringVar(&branch, "branch", "", "Base branch to branch off of (default: the clone's default branch)")
	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "Keep the cloned workspace after the pr phase instead of deleting it")
	cmd.Flags().BoolVar(&startWorker, "start-worker", false, "Run a worker loop in this process after submitting (blocks until interrupted)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Queue store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "stub", "Phase executor for --start-worker: stub or subprocess")
	cmd.Flags().StringVar(&executorCmd, "executor-cmd", "", "Command for --runtime subprocess")
	cmd.Flags().StringSliceVar(&executorArgs, "executor-args", nil, "Args for --runtime subprocess")
	return cmd
}
