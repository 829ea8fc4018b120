package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dark4eg/Common-Metadata-Repository/concepts"
	"github.com/dark4eg/Common-Metadata-Repository/errors"
	"github.com/dark4eg/Common-Metadata-Repository/logger"
)

// ProviderCmd groups provider lifecycle operations. This command is the
// provider-administration collaborator: it owns the provider registry rows
// the concept store only reads.
var ProviderCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage providers and their physical tables",
	Long: `provider — Manage provider lifecycle

Creating a provider registers it and creates one table plus one identifier
sequence per provider-owned concept type. Small providers share pooled
tables instead of owning dedicated ones.

Examples:
  cmrdb provider create PROV1           # Dedicated tables
  cmrdb provider create TINY --small    # Pooled tables
  cmrdb provider drop PROV1`,
}

var providerSmallFlag bool

var providerCreateCmd = &cobra.Command{
	Use:   "create <provider-id>",
	Short: "Register a provider and create its concept tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runProviderCreate,
}

var providerDropCmd = &cobra.Command{
	Use:   "drop <provider-id>",
	Short: "Remove a provider and its concept tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runProviderDrop,
}

func init() {
	providerCreateCmd.Flags().BoolVar(&providerSmallFlag, "small", false,
		"Pool this provider's concepts with other small providers")
	ProviderCmd.AddCommand(providerCreateCmd)
	ProviderCmd.AddCommand(providerDropCmd)
}

func runProviderCreate(cmd *cobra.Command, args []string) error {
	provider := concepts.Provider{ID: args[0], Small: providerSmallFlag}
	if err := concepts.ValidateProviderID(provider.ID); err != nil {
		return err
	}

	database, _, err := openCatalog()
	if err != nil {
		return err
	}
	defer database.Close()

	if _, err := database.Exec(
		"INSERT INTO providers (provider_id, small) VALUES (?, ?)",
		provider.ID, provider.Small,
	); err != nil {
		return errors.Wrapf(err, "register provider %s", provider.ID)
	}

	if err := concepts.CreateProviderTables(database, logger.Logger, provider); err != nil {
		return err
	}

	fmt.Printf("Provider %s created (small=%v)\n", provider.ID, provider.Small)
	return nil
}

func runProviderDrop(cmd *cobra.Command, args []string) error {
	providerID := args[0]
	if err := concepts.ValidateProviderID(providerID); err != nil {
		return err
	}

	database, _, err := openCatalog()
	if err != nil {
		return err
	}
	defer database.Close()

	var small bool
	if err := database.QueryRow(
		"SELECT small FROM providers WHERE provider_id = ?", providerID,
	).Scan(&small); err != nil {
		return errors.NewNotFound("provider %s is not registered", providerID)
	}
	provider := concepts.Provider{ID: providerID, Small: small}

	if err := concepts.DropProviderTables(database, logger.Logger, provider); err != nil {
		return err
	}

	if _, err := database.Exec(
		"DELETE FROM providers WHERE provider_id = ?", providerID,
	); err != nil {
		return errors.Wrapf(err, "deregister provider %s", providerID)
	}

	fmt.Printf("Provider %s dropped\n", providerID)
	return nil
}
