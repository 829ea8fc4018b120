package concepts

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

// transactionSequence is the single global counter that orders revisions
// across concept types within a commit sequence.
const transactionSequence = "transactions"

// Allocator issues concept-ids from namespace-scoped sequences and
// transaction-ids from the global sequence. Revision numbers are not issued
// here: they are max+1 reads whose correctness rests on the
// (concept_id, revision_id) unique constraint, with the retry loop living in
// the store.
type Allocator struct {
	db *sql.DB
}

// NewAllocator creates an allocator over the catalog database.
func NewAllocator(db *sql.DB) *Allocator {
	return &Allocator{db: db}
}

// NextConceptID allocates the next concept-id for (provider, concept-type).
// Pooled small-provider namespaces draw from one shared sequence, so ids
// stay unique across co-located tenants by construction.
func (a *Allocator) NextConceptID(provider Provider, t ConceptType) (string, error) {
	strategy, err := StrategyFor(t)
	if err != nil {
		return "", err
	}

	sequence, err := a.sequenceForType(provider, strategy)
	if err != nil {
		return "", err
	}

	value, err := a.nextValue(sequence, ConceptIDBase)
	if err != nil {
		return "", err
	}

	tenant := provider.ID
	if !strategy.ProviderOwned() && strategy.Policy == ProviderNone {
		tenant = SyntheticProviderID
	}
	if tenant == "" {
		tenant = SyntheticProviderID
	}

	return BuildConceptID(t, value, tenant)
}

// NextTransactionID allocates the next global transaction id.
func (a *Allocator) NextTransactionID() (int64, error) {
	return a.nextValue(transactionSequence, 1)
}

func (a *Allocator) sequenceForType(provider Provider, strategy *Strategy) (string, error) {
	if !strategy.ProviderOwned() {
		return strategy.TableBase, nil
	}
	return SequenceName(provider, strategy.Type)
}

// nextValue atomically advances a counter row and returns the value it held.
// The row is created on first use. The update runs in its own transaction;
// SQLite serializes writers, so two callers never see the same value.
func (a *Allocator) nextValue(sequence string, start int64) (int64, error) {
	if _, err := a.db.Exec(
		"INSERT OR IGNORE INTO concept_sequences (sequence_name, next_value) VALUES (?, ?)",
		sequence, start,
	); err != nil {
		return 0, errors.Wrapf(err, "initialize sequence %s", sequence)
	}

	tx, err := a.db.Begin()
	if err != nil {
		return 0, errors.Wrapf(err, "begin allocation for sequence %s", sequence)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE concept_sequences SET next_value = next_value + 1 WHERE sequence_name = ?",
		sequence,
	); err != nil {
		return 0, errors.Wrapf(err, "advance sequence %s", sequence)
	}

	var next int64
	if err := tx.QueryRow(
		"SELECT next_value FROM concept_sequences WHERE sequence_name = ?",
		sequence,
	).Scan(&next); err != nil {
		return 0, errors.Wrapf(err, "read sequence %s", sequence)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(err, "commit allocation for sequence %s", sequence)
	}

	return next - 1, nil
}

// isUniqueViolation reports whether err is the substrate's unique-constraint
// signal on insert. This is the concurrency-control seam: a violation on
// (concept_id, revision_id) means another writer claimed the revision first.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint
}
