package concepts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

// SearchParams is the predicate set for bulk lookups. Zero-value fields are
// not constrained. Extra-field keys must belong to the searched type's
// declared columns.
type SearchParams struct {
	Provider    string
	NativeID    string
	ConceptIDs  []string
	ExtraFields map[string]string
}

// selectColumns renders the SELECT list for a strategy: the common columns
// followed by the type's extra columns.
func selectColumns(strategy *Strategy) string {
	columns := append([]string{}, commonColumns...)
	columns = append(columns, strategy.ExtraColumns...)
	return strings.Join(columns, ", ")
}

// buildPredicate renders the WHERE clause for SearchParams. Column names
// come only from the closed strategy registry; values are always bound
// parameters.
func buildPredicate(strategy *Strategy, params SearchParams) (string, []interface{}, error) {
	if err := strategy.ValidateExtraFields(params.ExtraFields); err != nil {
		return "", nil, err
	}

	var clauses []string
	var args []interface{}

	if params.Provider != "" {
		clauses = append(clauses, "provider_id = ?")
		args = append(args, params.Provider)
	}
	if params.NativeID != "" {
		clauses = append(clauses, "native_id = ?")
		args = append(args, params.NativeID)
	}
	if len(params.ConceptIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(params.ConceptIDs)), ",")
		clauses = append(clauses, fmt.Sprintf("concept_id IN (%s)", placeholders))
		for _, id := range params.ConceptIDs {
			args = append(args, id)
		}
	}

	// Deterministic clause order for the extra-field map
	extraKeys := make([]string, 0, len(params.ExtraFields))
	for key := range params.ExtraFields {
		extraKeys = append(extraKeys, key)
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		clauses = append(clauses, key+" = ?")
		args = append(args, params.ExtraFields[key])
	}

	if len(clauses) == 0 {
		return "1 = 1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

// searchTables lists the physical tables a search over one concept type must
// visit. Global types have exactly one. Provider-owned types have the named
// provider's table, or every registered provider's table when no provider is
// given; pooled small-provider tables are visited once.
func (s *Store) searchTables(strategy *Strategy, providerID string) ([]string, error) {
	if !strategy.ProviderOwned() {
		return []string{strategy.TableBase}, nil
	}

	if providerID != "" {
		provider, err := s.lookupProvider(providerID)
		if err != nil {
			return nil, err
		}
		table, err := TableName(provider, strategy.Type)
		if err != nil {
			return nil, err
		}
		return []string{table}, nil
	}

	rows, err := s.db.Query("SELECT provider_id, small FROM providers ORDER BY provider_id")
	if err != nil {
		return nil, errors.Wrap(err, "list providers")
	}
	defer rows.Close()

	seen := map[string]bool{}
	var tables []string
	for rows.Next() {
		var provider Provider
		if err := rows.Scan(&provider.ID, &provider.Small); err != nil {
			return nil, errors.Wrap(err, "scan provider")
		}
		table, err := TableName(provider, strategy.Type)
		if err != nil {
			return nil, err
		}
		if !seen[table] {
			seen[table] = true
			tables = append(tables, table)
		}
	}
	return tables, rows.Err()
}

// FindConcepts returns every revision matching the predicate, ordered by
// concept-id then revision-id within each table.
func (s *Store) FindConcepts(t ConceptType, params SearchParams) ([]*Concept, error) {
	strategy, err := StrategyFor(t)
	if err != nil {
		return nil, err
	}

	predicate, args, err := buildPredicate(strategy, params)
	if err != nil {
		return nil, err
	}

	tables, err := s.searchTables(strategy, params.Provider)
	if err != nil {
		return nil, err
	}

	var results []*Concept
	for _, table := range tables {
		query := fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY concept_id, revision_id",
			selectColumns(strategy), table, predicate,
		)
		concepts, err := s.queryMany(strategy, table, query, args)
		if err != nil {
			return nil, err
		}
		results = append(results, concepts...)
	}
	return results, nil
}

// FindLatest returns the highest revision per matching concept-id.
// Tombstones participate like any other revision: a concept whose latest
// revision is a tombstone appears as that tombstone.
func (s *Store) FindLatest(t ConceptType, params SearchParams) ([]*Concept, error) {
	strategy, err := StrategyFor(t)
	if err != nil {
		return nil, err
	}

	predicate, args, err := buildPredicate(strategy, params)
	if err != nil {
		return nil, err
	}

	tables, err := s.searchTables(strategy, params.Provider)
	if err != nil {
		return nil, err
	}

	var results []*Concept
	for _, table := range tables {
		query := fmt.Sprintf(
			`SELECT %s FROM %s c
			 JOIN (SELECT concept_id cid, MAX(revision_id) rid FROM %s WHERE %s GROUP BY concept_id) m
			   ON c.concept_id = m.cid AND c.revision_id = m.rid
			 ORDER BY c.concept_id`,
			selectColumns(strategy), table, table, predicate,
		)
		concepts, err := s.queryMany(strategy, table, query, args)
		if err != nil {
			return nil, err
		}
		results = append(results, concepts...)
	}
	return results, nil
}

func (s *Store) queryMany(strategy *Strategy, table, query string, args []interface{}) ([]*Concept, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "search %s", table)
	}
	defer rows.Close()

	var results []*Concept
	for rows.Next() {
		concept, err := scanConcept(strategy, rows.Scan)
		if err != nil {
			return nil, errors.Wrapf(err, "scan concept from %s", table)
		}
		results = append(results, concept)
	}
	return results, rows.Err()
}
