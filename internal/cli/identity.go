package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/internal/identity"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the commit identity used to attribute implement-phase commits",
	}
	cmd.AddCommand(newIdentityDetectCmd())
	return cmd
}

func newIdentityDetectCmd() *cobra.Command {
	var repoDir string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect identity from git config and cache it for future runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			id, err := identity.Resolve(home, repoDir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Detected: %s <%s> (%s)\n", id.Name, id.Email, id.Source)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cached at %s\n", identity.Path(home))
			return nil
		},
	}
	cmd.Flags().StringVar(&repoDir, "repo", "", "Git repo path to read user.name/user.email from (default: git config as seen from the current directory)")
	return cmd
}
