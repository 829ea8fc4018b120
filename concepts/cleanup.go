package concepts

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

// CleanerOptions tunes the cleanup jobs. Values come from configuration and
// can be swapped on reload via SetOptions.
type CleanerOptions struct {
	// RetainedRevisions is K: the newest K revisions of each concept
	// survive old-revision cleanup, plus any tombstone.
	RetainedRevisions int

	// RatePerSecond paces destructive statements. Zero means unpaced.
	RatePerSecond float64
}

// Cleaner runs the scheduled maintenance jobs: old-revision trimming and
// expired-concept removal. Jobs tolerate per-concept failures: one broken
// concept never aborts cleanup of the rest.
type Cleaner struct {
	store   *Store
	logger  *zap.SugaredLogger
	opts    CleanerOptions
	limiter *rate.Limiter
}

// NewCleaner creates a cleaner over the given store.
func NewCleaner(store *Store, logger *zap.SugaredLogger, opts CleanerOptions) *Cleaner {
	c := &Cleaner{store: store, logger: logger}
	c.SetOptions(opts)
	return c
}

// SetOptions replaces the cleaner's tuning, typically from a config reload.
func (c *Cleaner) SetOptions(opts CleanerOptions) {
	if opts.RetainedRevisions <= 0 {
		opts.RetainedRevisions = 10
	}
	c.opts = opts
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	} else {
		c.limiter = nil
	}
}

func (c *Cleaner) pace(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// allTables lists every physical concept table: the global tables plus one
// per (registered provider, provider-owned type), pooled tables once.
func (c *Cleaner) allTables(providerID string) ([]string, error) {
	var tables []string
	for _, t := range AllTypes() {
		strategy, err := StrategyFor(t)
		if err != nil {
			return nil, err
		}
		if providerID != "" && !strategy.ProviderOwned() {
			continue
		}
		found, err := c.store.searchTables(strategy, providerID)
		if err != nil {
			return nil, err
		}
		tables = append(tables, found...)
	}
	return tables, nil
}

// OldRevisionCleanup trims each concept to its newest K revisions plus any
// tombstone rows. The sole remaining revision of a concept is never removed.
// Returns the concept-ids that lost rows. Per-concept failures are logged
// and skipped.
func (c *Cleaner) OldRevisionCleanup(ctx context.Context) ([]string, error) {
	tables, err := c.allTables("")
	if err != nil {
		return nil, err
	}

	var affected []string
	for _, table := range tables {
		ids, err := c.trimTable(ctx, table)
		if err != nil {
			return affected, err
		}
		affected = append(affected, ids...)
	}

	if c.logger != nil {
		c.logger.Infow("Old revision cleanup complete",
			"retained_revisions", c.opts.RetainedRevisions,
			"concepts_trimmed", len(affected),
		)
	}
	return affected, nil
}

func (c *Cleaner) trimTable(ctx context.Context, table string) ([]string, error) {
	conceptIDs, err := c.conceptIDsIn(table)
	if err != nil {
		return nil, err
	}

	var affected []string
	for _, conceptID := range conceptIDs {
		trimmed, err := c.trimConcept(ctx, table, conceptID)
		if err != nil {
			if ctx.Err() != nil {
				return affected, ctx.Err()
			}
			// One concept's failure must not abort the rest of the job
			if c.logger != nil {
				c.logger.Errorw("Old revision cleanup failed for concept",
					"concept_id", conceptID,
					"table", table,
					"error", err,
				)
			}
			continue
		}
		if trimmed {
			affected = append(affected, conceptID)
		}
	}
	return affected, nil
}

// trimConcept deletes everything below the newest K revisions for one
// concept, keeping tombstones. Reports whether rows were removed.
func (c *Cleaner) trimConcept(ctx context.Context, table, conceptID string) (bool, error) {
	var total int
	err := c.store.db.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE concept_id = ?", table), conceptID,
	).Scan(&total)
	if err != nil {
		return false, errors.Wrapf(err, "count revisions of %s", conceptID)
	}
	if total <= 1 || total <= c.opts.RetainedRevisions {
		return false, nil
	}

	if err := c.pace(ctx); err != nil {
		return false, err
	}

	// Keep the newest K revisions and every tombstone row
	result, err := c.store.db.Exec(
		fmt.Sprintf(`DELETE FROM %s
			WHERE concept_id = ?
			  AND deleted = 0
			  AND revision_id NOT IN (
				SELECT revision_id FROM %s WHERE concept_id = ?
				ORDER BY revision_id DESC LIMIT ?
			  )`, table, table),
		conceptID, conceptID, c.opts.RetainedRevisions,
	)
	if err != nil {
		return false, errors.Wrapf(err, "trim revisions of %s", conceptID)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "read affected rows")
	}
	return removed > 0, nil
}

// ExpiredConceptCleanup removes concepts whose latest revision carries a
// delete-time that has passed, deletion state notwithstanding. All rows of
// an expired concept are removed. Optionally scoped to one provider's
// tables. Returns the removed concept-ids.
func (c *Cleaner) ExpiredConceptCleanup(ctx context.Context, providerID string) ([]string, error) {
	if providerID != "" {
		if err := ValidateProviderID(providerID); err != nil {
			return nil, err
		}
	}

	tables, err := c.allTables(providerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var affected []string
	for _, table := range tables {
		ids, err := c.expiredConceptIDs(table, now)
		if err != nil {
			return affected, err
		}

		for _, conceptID := range ids {
			if err := c.pace(ctx); err != nil {
				return affected, err
			}
			_, err := c.store.db.Exec(
				fmt.Sprintf("DELETE FROM %s WHERE concept_id = ?", table), conceptID,
			)
			if err != nil {
				if c.logger != nil {
					c.logger.Errorw("Expired concept cleanup failed for concept",
						"concept_id", conceptID,
						"table", table,
						"error", err,
					)
				}
				continue
			}
			affected = append(affected, conceptID)
		}
	}

	if c.logger != nil {
		c.logger.Infow("Expired concept cleanup complete",
			"provider", providerID,
			"concepts_removed", len(affected),
		)
	}
	return affected, nil
}

func (c *Cleaner) conceptIDsIn(table string) ([]string, error) {
	rows, err := c.store.db.Query(
		fmt.Sprintf("SELECT DISTINCT concept_id FROM %s", table),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list concepts in %s", table)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan concept id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// expiredConceptIDs finds concepts whose latest revision's delete_time has
// passed. RFC 3339 timestamps compare correctly as strings.
func (c *Cleaner) expiredConceptIDs(table, now string) ([]string, error) {
	rows, err := c.store.db.Query(
		fmt.Sprintf(`SELECT t.concept_id FROM %s t
			JOIN (SELECT concept_id cid, MAX(revision_id) rid FROM %s GROUP BY concept_id) m
			  ON t.concept_id = m.cid AND t.revision_id = m.rid
			WHERE t.delete_time IS NOT NULL AND t.delete_time < ?`, table, table),
		now,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "find expired concepts in %s", table)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan expired concept id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
