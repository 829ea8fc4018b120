package concepts

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

// ConceptIDBase is the first value handed out by every concept-id sequence.
// Large starting values keep ids visually distinct from revision numbers and
// leave room below for fixture data.
const ConceptIDBase = 1200000000

// TableName resolves the physical table for (provider, concept-type). Pure;
// no I/O. Non-provider-owned types map to their fixed global table for any
// provider. Provider-owned types map to {discriminator}_{pluralized-type},
// where the discriminator is the lowercased provider id or the pooled token
// for small providers. Provider ids are validated before they can reach a
// generated name.
func TableName(provider Provider, t ConceptType) (string, error) {
	strategy, err := StrategyFor(t)
	if err != nil {
		return "", err
	}
	if !strategy.ProviderOwned() {
		return strategy.TableBase, nil
	}
	if err := ValidateProviderID(provider.ID); err != nil {
		return "", err
	}
	return tenantDiscriminator(provider) + "_" + strategy.TableBase, nil
}

// SequenceName resolves the identifier sequence that feeds concept-ids for
// (provider, concept-type). Each physical table owns exactly one sequence,
// so pooled small-provider tables share one sequence as well.
func SequenceName(provider Provider, t ConceptType) (string, error) {
	return TableName(provider, t)
}

// commonColumns is the column set shared by every concept table, in storage
// order. Type-specific extra columns follow it.
var commonColumns = []string{
	"concept_id",
	"native_id",
	"provider_id",
	"metadata",
	"format",
	"revision_id",
	"revision_date",
	"deleted",
	"user_id",
	"transaction_id",
	"delete_time",
}

// tableDDL renders the CREATE TABLE statement for a concept table. The name
// has already passed provider-id validation; extra columns come from the
// closed strategy registry, never from input.
func tableDDL(table string, strategy *Strategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	b.WriteString("    id             INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	b.WriteString("    concept_id     TEXT NOT NULL,\n")
	b.WriteString("    native_id      TEXT NOT NULL,\n")
	b.WriteString("    provider_id    TEXT,\n")
	b.WriteString("    metadata       BLOB NOT NULL,\n")
	b.WriteString("    format         TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("    revision_id    INTEGER NOT NULL,\n")
	b.WriteString("    revision_date  TEXT NOT NULL,\n")
	b.WriteString("    deleted        INTEGER NOT NULL DEFAULT 0,\n")
	b.WriteString("    user_id        TEXT,\n")
	b.WriteString("    transaction_id INTEGER NOT NULL,\n")
	b.WriteString("    delete_time    TEXT,\n")
	for _, column := range strategy.ExtraColumns {
		fmt.Fprintf(&b, "    %s TEXT,\n", column)
	}
	b.WriteString("    UNIQUE (concept_id, revision_id)\n")
	b.WriteString(")")
	return b.String()
}

func indexDDL(table string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_native ON %s (provider_id, native_id)",
		table, table,
	)
}

// CreateProviderTables creates one table and seeds one identifier sequence
// per provider-owned concept type. For small providers the pooled tables may
// already exist; CREATE IF NOT EXISTS keeps re-runs harmless. DDL is not
// transactional in the substrate, so a mid-loop failure is surfaced as
// ErrNamespaceOperation naming the table that failed, never retried
// silently.
func CreateProviderTables(db *sql.DB, logger *zap.SugaredLogger, provider Provider) error {
	if err := ValidateProviderID(provider.ID); err != nil {
		return err
	}

	for _, t := range ProviderConceptTypes() {
		strategy, err := StrategyFor(t)
		if err != nil {
			return err
		}
		table, err := TableName(provider, t)
		if err != nil {
			return err
		}

		if _, err := db.Exec(tableDDL(table, strategy)); err != nil {
			return errors.WrapNamespaceOperation(err, "create table "+table)
		}
		if _, err := db.Exec(indexDDL(table)); err != nil {
			return errors.WrapNamespaceOperation(err, "create index for "+table)
		}
		if _, err := db.Exec(
			"INSERT OR IGNORE INTO concept_sequences (sequence_name, next_value) VALUES (?, ?)",
			table, int64(ConceptIDBase),
		); err != nil {
			return errors.WrapNamespaceOperation(err, "seed sequence "+table)
		}

		if logger != nil {
			logger.Infow("Created concept table",
				"provider", provider.ID,
				"concept_type", t,
				"table", table,
			)
		}
	}

	return nil
}

// DropProviderTables removes a provider's physical footprint, walking the
// concept types in the same order CreateProviderTables does. A dedicated
// provider's tables and sequences are dropped outright. A small provider
// shares pooled tables with other tenants, so only its rows are deleted and
// the tables and sequence stay.
func DropProviderTables(db *sql.DB, logger *zap.SugaredLogger, provider Provider) error {
	if err := ValidateProviderID(provider.ID); err != nil {
		return err
	}

	for _, t := range ProviderConceptTypes() {
		table, err := TableName(provider, t)
		if err != nil {
			return err
		}

		if provider.Small {
			if _, err := db.Exec(
				fmt.Sprintf("DELETE FROM %s WHERE provider_id = ?", table), provider.ID,
			); err != nil {
				return errors.WrapNamespaceOperation(err, "clear pooled rows in "+table)
			}
		} else {
			if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
				return errors.WrapNamespaceOperation(err, "drop table "+table)
			}
			if _, err := db.Exec(
				"DELETE FROM concept_sequences WHERE sequence_name = ?", table,
			); err != nil {
				return errors.WrapNamespaceOperation(err, "drop sequence "+table)
			}
		}

		if logger != nil {
			logger.Infow("Dropped concept table",
				"provider", provider.ID,
				"concept_type", t,
				"table", table,
				"pooled", provider.Small,
			)
		}
	}

	return nil
}
