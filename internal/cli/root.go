package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "forgequeue",
		Short:        "forgequeue — a durable job queue driving a plan/implement/review/test/pr pipeline",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override forgequeue home directory (default: ~/.forgequeue, env: FORGEQUEUE_HOME)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newImplementCmd())
	cmd.AddCommand(newReviewCmd())
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newIdentityCmd())
	cmd.AddCommand(newApikeyCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
