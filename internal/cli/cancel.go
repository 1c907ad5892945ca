package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/cancel"
	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/internal/queue"
)

func newCancelCmd() *cobra.Command {
	var (
		dbDriver string
		dbURL    string
	)

	cmd := &cobra.Command{
		Use:   "cancel <runId>",
		Short: "Cancel a run's queued/in-progress jobs, release its lease, and mark its handoff cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)

			store, err := queue.Open(queue.OpenOptions{Driver: dbDriver, Path: config.QueueDBPath(home), DSN: dbURL})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := cancel.Cancel(ctx, store, home, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Queue store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	return cmd
}
