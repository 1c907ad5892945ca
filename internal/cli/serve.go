package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/internal/httpapi"
	"github.com/forgequeue/forgequeue/internal/otel"
	"github.com/forgequeue/forgequeue/internal/queue"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dbDriver   string
		dbURL      string
		apiKey     string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only status HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)

			store, err := queue.Open(queue.OpenOptions{Driver: dbDriver, Path: config.QueueDBPath(home), DSN: dbURL})
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if apiKey == "" {
				apiKey = os.Getenv("FORGEQUEUE_API_KEY")
			}

			opts := httpapi.ServerOptions{
				Home:   home,
				Addr:   addr,
				APIKey: apiKey,
				Store:  store,
			}
			if enableOtel {
				handler, err := otel.InitMeterProvider(ctx, "forgequeue")
				if err != nil {
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
				opts.MetricsHandler = handler
			}

			app := httpapi.NewApp(opts)
			fmt.Fprintf(cmd.OutOrStdout(), "forgequeue status server listening on %s\n", addr)
			return app.Server.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Queue store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require X-API-Key header (or set FORGEQUEUE_API_KEY)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Expose /metrics via OpenTelemetry/Prometheus")
	return cmd
}
