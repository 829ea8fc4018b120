package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dark4eg/Common-Metadata-Repository/cache"
)

// DbCmd groups database maintenance operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalog database",
	Long: `db — Manage catalog database operations

Examples:
  cmrdb db migrate   # Apply pending schema migrations
  cmrdb db stats     # Show row counts for the fixed tables`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openCatalog migrates as a side effect; reaching here means success
	database, _, err := openCatalog()
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Migrations applied")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, cfg, err := openCatalog()
	if err != nil {
		return err
	}
	defer database.Close()

	ledger, err := cache.NewSQLLedger(database, "stats", cfg.Cache.LedgerTable)
	if err != nil {
		return err
	}

	var providers, sequences, ledgerEntries int
	if err := database.QueryRow("SELECT COUNT(*) FROM providers").Scan(&providers); err != nil {
		return err
	}
	if err := database.QueryRow("SELECT COUNT(*) FROM concept_sequences").Scan(&sequences); err != nil {
		return err
	}
	if err := database.QueryRow("SELECT COUNT(*) FROM " + ledger.Table()).Scan(&ledgerEntries); err != nil {
		return err
	}

	fmt.Printf("Providers:       %d\n", providers)
	fmt.Printf("Sequences:       %d\n", sequences)
	fmt.Printf("Ledger entries:  %d\n", ledgerEntries)
	return nil
}
