package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dark4eg/Common-Metadata-Repository/concepts"
	"github.com/dark4eg/Common-Metadata-Repository/logger"
)

// CleanupCmd groups the scheduled maintenance jobs. An external scheduler
// normally invokes these; running them by hand is equivalent.
var CleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run catalog cleanup jobs",
	Long: `cleanup — Run catalog maintenance jobs

Examples:
  cmrdb cleanup old-revisions             # Trim to the configured revision count
  cmrdb cleanup expired                   # Remove concepts past their delete-time
  cmrdb cleanup expired --provider PROV1  # Scope to one provider`,
}

var cleanupProviderFlag string

var cleanupOldRevisionsCmd = &cobra.Command{
	Use:   "old-revisions",
	Short: "Remove revisions beyond the retained count",
	RunE:  runOldRevisionCleanup,
}

var cleanupExpiredCmd = &cobra.Command{
	Use:   "expired",
	Short: "Remove concepts whose delete-time has passed",
	RunE:  runExpiredCleanup,
}

func init() {
	cleanupExpiredCmd.Flags().StringVar(&cleanupProviderFlag, "provider", "",
		"Limit cleanup to one provider")
	CleanupCmd.AddCommand(cleanupOldRevisionsCmd)
	CleanupCmd.AddCommand(cleanupExpiredCmd)
}

func newCleaner() (*concepts.Cleaner, func(), error) {
	database, cfg, err := openCatalog()
	if err != nil {
		return nil, nil, err
	}

	store := concepts.NewStore(database, logger.Logger, concepts.Options{
		SaveRetries: cfg.Store.SaveRetries,
	})
	cleaner := concepts.NewCleaner(store, logger.Logger, concepts.CleanerOptions{
		RetainedRevisions: cfg.Store.RetainedRevisions,
		RatePerSecond:     cfg.Cleanup.RatePerSecond,
	})
	return cleaner, func() { database.Close() }, nil
}

func runOldRevisionCleanup(cmd *cobra.Command, args []string) error {
	cleaner, closeDB, err := newCleaner()
	if err != nil {
		return err
	}
	defer closeDB()

	affected, err := cleaner.OldRevisionCleanup(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Trimmed %d concepts\n", len(affected))
	return nil
}

func runExpiredCleanup(cmd *cobra.Command, args []string) error {
	cleaner, closeDB, err := newCleaner()
	if err != nil {
		return err
	}
	defer closeDB()

	affected, err := cleaner.ExpiredConceptCleanup(cmd.Context(), cleanupProviderFlag)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d expired concepts\n", len(affected))
	for _, conceptID := range affected {
		fmt.Println(conceptID)
	}
	return nil
}
