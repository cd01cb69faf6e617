// Package cli implements the fitsync command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// Build information, set by main.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCmd builds the fitsync command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fitsync",
		Short: "Move guest fitness data into a signed-in account",
		Long: `fitsync moves the data a user entered before signing in (profile, body
metrics, weight, preferences, goals, onboarding) from the on-device guest
namespace into their account, locally and on the account-record service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to YAML config file (default ./fitsync.yaml if present)")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("local-db", "", "Path to the on-device database (overrides FITSYNC_LOCAL_DB)")
	root.PersistentFlags().String("remote", "", "Remote store kind: http, mongo or memory (overrides FITSYNC_REMOTE_KIND)")

	root.AddCommand(
		newInventoryCmd(),
		newStatusCmd(),
		newMigrateCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newRemoteCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
