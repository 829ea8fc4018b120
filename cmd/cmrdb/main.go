package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dark4eg/Common-Metadata-Repository/cmd/cmrdb/commands"
	"github.com/dark4eg/Common-Metadata-Repository/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "cmrdb",
	Short: "cmrdb - versioned metadata catalog administration",
	Long: `cmrdb - administration entry points for the metadata catalog.

The catalog stores versioned concepts (collections, granules, services,
tags, groups, ACLs, variables, humanizers) on behalf of providers. This
tool covers the administrative surface: migrations, provider lifecycle,
and cleanup jobs. The read/write concept API is a library, not a command.

Examples:
  cmrdb db migrate                        # Apply pending schema migrations
  cmrdb provider create PROV1 --small     # Register a pooled provider
  cmrdb provider drop PROV1               # Remove a provider and its tables
  cmrdb cleanup old-revisions             # Trim concepts to the retained revision count
  cmrdb cleanup expired --provider PROV1  # Remove concepts past their delete-time`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func main() {
	defer logger.Cleanup()

	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs")

	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ProviderCmd)
	rootCmd.AddCommand(commands.CleanupCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
