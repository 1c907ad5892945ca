package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/internal/handoff"
	"github.com/forgequeue/forgequeue/internal/queue"
	"github.com/forgequeue/forgequeue/internal/submit"
	"github.com/forgequeue/forgequeue/internal/taskinput"
	"github.com/forgequeue/forgequeue/internal/worker"
	"github.com/forgequeue/forgequeue/pkg/models"
)

// newPlanCmd, newImplementCmd, newReviewCmd, newTestCmd run one pipeline
// phase directly against the configured executor instead of claiming a job
// from the queue; on success the phase body still enqueues the next phase's
// job in the configured store. They exist for manual, single-phase
// invocation during development; `forgequeue run` is the normal entry point.

func newPlanCmd() *cobra.Command {
	var (
		repoURL      string
		branch       string
		runtimeKind  string
		executorCmd  string
		executorArgs []string
		dbDriver     string
		dbURL        string
	)

	cmd := &cobra.Command{
		Use:   "plan <task>",
		Short: "Run the plan phase directly against a fresh run, without claiming a queued job",
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

			now := time.Now().UTC()
			runID := submit.NewRunID(now)
			art, err := artifact.Open(home, runID)
			if err != nil {
				return err
			}
			taskInfo := models.TaskInfo{ID: runID, Prompt: task}
			if err := art.WriteTask(taskInfo); err != nil {
				return fmt.Errorf("write task: %w", err)
			}
			repo := models.RepoInfo{URL: repoURL, BaseBranch: branch}
			h := handoff.CreateQueued(runID, repo, taskInfo, models.DefaultMaxIterations, now)

			store, err := queue.Open(queue.OpenOptions{Driver: dbDriver, Path: config.QueueDBPath(home), DSN: dbURL})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			executors, err := buildExecutors(runtimeKind, executorCmd, executorArgs, home)
			if err != nil {
				return err
			}
			w := &worker.Worker{Store: store, Home: home, Executors: executors}
			h, err = w.ProcessJob(ctx, art, &models.Job{RunID: runID, Phase: models.PhasePlan}, h)
			if werr := art.WriteHandoff(h); werr != nil && err == nil {
				err = werr
			}
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoURL, "repo", "", "Git repository URL to clone and work against")
	cmd.Flags().StringVar(&branch, "branch", "", "Base branch to branch off of (default: the clone's default branch)")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "stub", "Phase executor: stub or subprocess")
	cmd.Flags().StringVar(&executorCmd, "executor-cmd", "", "Command for --runtime subprocess")
	cmd.Flags().StringSliceVar(&executorArgs, "executor-args", nil, "Args for --runtime subprocess")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Queue store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	return cmd
}

func newPhaseRunCmd(use, short string, p models.Phase) *cobra.Command {
	var (
		runtimeKind  string
		executorCmd  string
		executorArgs []string
		dbDriver     string
		dbURL        string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := cmd.Flags().GetString("run")
			if err != nil || runID == "" {
				return fmt.Errorf("--run <runId> is required")
			}
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)

			art, err := artifact.Open(home, runID)
			if err != nil {
				return err
			}
			if !art.Exists(models.ArtifactHandoff) {
				return fmt.Errorf("run %s not found", runID)
			}
			h, err := art.ReadHandoff()
			if err != nil {
				return fmt.Errorf("read handoff: %w", err)
			}

			store, err := queue.Open(queue.OpenOptions{Driver: dbDriver, Path: config.QueueDBPath(home), DSN: dbURL})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			executors, err := buildExecutors(runtimeKind, executorCmd, executorArgs, home)
			if err != nil {
				return err
			}
			w := &worker.Worker{Store: store, Home: home, Executors: executors}
			h, err = w.ProcessJob(ctx, art, &models.Job{RunID: runID, Phase: p}, h)
			if werr := art.WriteHandoff(h); werr != nil && err == nil {
				err = werr
			}
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", runID, p, h.State.Status)
			return nil
		},
	}

	cmd.Flags().String("run", "", "Run id to operate on")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "stub", "Phase executor: stub or subprocess")
	cmd.Flags().StringVar(&executorCmd, "executor-cmd", "", "Command for --runtime subprocess")
	cmd.Flags().StringSliceVar(&executorArgs, "executor-args", nil, "Args for --runtime subprocess")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Queue store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	return cmd
}

func newImplementCmd() *cobra.Command {
	return newPhaseRunCmd("implement", "Run the implement phase directly against an existing run", models.PhaseImplement)
}

func newReviewCmd() *cobra.Command {
	return newPhaseRunCmd("review", "Run the review phase directly against an existing run", models.PhaseReview)
}

func newTestCmd() *cobra.Command {
	return newPhaseRunCmd("test", "Run the test phase directly against an existing run", models.PhaseTest)
}
