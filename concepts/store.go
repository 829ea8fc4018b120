package concepts

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

const defaultSaveRetries = 3

// Options tunes a Store. Values come from configuration and are threaded
// here at construction; there are no process-global toggles.
type Options struct {
	// SaveRetries bounds re-numbering attempts after a revision insert hits
	// the unique constraint.
	SaveRetries int
}

// Store is the versioned concept store. Safe for use from many processes at
// once: revision numbering is guarded by the substrate's unique constraint
// on (concept_id, revision_id), not by in-process locks.
type Store struct {
	db     *sql.DB
	alloc  *Allocator
	logger *zap.SugaredLogger
	opts   Options
}

// NewStore creates a concept store over the catalog database.
func NewStore(db *sql.DB, logger *zap.SugaredLogger, opts Options) *Store {
	if opts.SaveRetries <= 0 {
		opts.SaveRetries = defaultSaveRetries
	}
	return &Store{
		db:     db,
		alloc:  NewAllocator(db),
		logger: logger,
		opts:   opts,
	}
}

// Allocator exposes the store's identifier allocator.
func (s *Store) Allocator() *Allocator {
	return s.alloc
}

// scope resolves where rows for one (type, provider) combination live.
type scope struct {
	strategy *Strategy
	table    string
	provider Provider
}

// resolveScope validates the provider policy for the type and resolves the
// physical table. Provider-required types must name a registered provider;
// provider-less types must not name one.
func (s *Store) resolveScope(t ConceptType, providerID string) (scope, error) {
	strategy, err := StrategyFor(t)
	if err != nil {
		return scope{}, err
	}

	switch strategy.Policy {
	case ProviderRequired:
		if providerID == "" {
			return scope{}, errors.NewValidation("concept type %s requires a provider", t)
		}
		provider, err := s.lookupProvider(providerID)
		if err != nil {
			return scope{}, err
		}
		table, err := TableName(provider, t)
		if err != nil {
			return scope{}, err
		}
		return scope{strategy: strategy, table: table, provider: provider}, nil

	case ProviderOptional:
		if providerID != "" {
			if err := ValidateProviderID(providerID); err != nil {
				return scope{}, err
			}
		}
		return scope{strategy: strategy, table: strategy.TableBase, provider: Provider{ID: providerID}}, nil

	default: // ProviderNone
		if providerID != "" {
			return scope{}, errors.NewValidation("concept type %s is provider-less", t)
		}
		return scope{strategy: strategy, table: strategy.TableBase}, nil
	}
}

// scopeForConceptID resolves the physical table from a concept-id alone.
func (s *Store) scopeForConceptID(conceptID string) (scope, error) {
	t, _, tenant, err := ParseConceptID(conceptID)
	if err != nil {
		return scope{}, err
	}

	strategy, err := StrategyFor(t)
	if err != nil {
		return scope{}, err
	}

	if !strategy.ProviderOwned() {
		return scope{strategy: strategy, table: strategy.TableBase}, nil
	}

	provider, err := s.lookupProvider(tenant)
	if err != nil {
		return scope{}, err
	}
	table, err := TableName(provider, t)
	if err != nil {
		return scope{}, err
	}
	return scope{strategy: strategy, table: table, provider: provider}, nil
}

// lookupProvider reads the provider registry.
func (s *Store) lookupProvider(providerID string) (Provider, error) {
	if err := ValidateProviderID(providerID); err != nil {
		return Provider{}, err
	}

	var small bool
	err := s.db.QueryRow(
		"SELECT small FROM providers WHERE provider_id = ?", providerID,
	).Scan(&small)
	if err == sql.ErrNoRows {
		return Provider{}, errors.NewNotFound("provider %s is not registered", providerID)
	}
	if err != nil {
		return Provider{}, errors.Wrapf(err, "look up provider %s", providerID)
	}
	return Provider{ID: providerID, Small: small}, nil
}

// Save writes a new revision of a concept and returns its concept-id and
// revision-id.
//
// An unseen (provider, type, native-id) gets a freshly allocated concept-id
// and revision 1; a seen one appends current-max+1. A caller-supplied
// RevisionID must equal current-max+1 exactly or the call fails with
// ErrRevisionConflict. A caller-supplied RevisionDate in the past is allowed
// (backfill); revision-id stays the canonical order.
//
// Under concurrent writers to the same concept the insert may lose the race
// for its revision number; Save then re-reads the current max and retries,
// surfacing ErrRevisionConflict only after the bounded retry budget.
func (s *Store) Save(c *Concept) (string, int, error) {
	sc, err := s.resolveScope(c.ConceptType, c.ProviderID)
	if err != nil {
		return "", 0, err
	}

	if c.NativeID == "" {
		return "", 0, errors.NewValidation("concept of type %s has no native id", c.ConceptType)
	}
	if !c.Deleted && len(c.Metadata) == 0 {
		return "", 0, errors.NewValidation("concept %s/%s has empty metadata", c.ConceptType, c.NativeID)
	}
	if err := sc.strategy.ValidateExtraFields(c.ExtraFields); err != nil {
		return "", 0, err
	}

	conceptID := c.ConceptID
	if conceptID == "" {
		conceptID, err = s.conceptIDInTable(sc, c.ProviderID, c.NativeID)
		if errors.IsNotFound(err) {
			conceptID, err = s.alloc.NextConceptID(sc.provider, c.ConceptType)
		}
		if err != nil {
			return "", 0, err
		}
	}

	transactionID := c.TransactionID
	if transactionID == 0 {
		transactionID, err = s.alloc.NextTransactionID()
		if err != nil {
			return "", 0, err
		}
	}

	explicit := c.RevisionID > 0
	for attempt := 0; attempt <= s.opts.SaveRetries; attempt++ {
		maxRevision, err := s.maxRevision(sc.table, conceptID)
		if err != nil {
			return "", 0, err
		}

		revision := maxRevision + 1
		if explicit {
			if c.RevisionID != maxRevision+1 {
				return "", 0, errors.NewRevisionConflict(
					"concept %s expected revision %d, got %d", conceptID, maxRevision+1, c.RevisionID)
			}
			revision = c.RevisionID
		}

		err = s.insertRevision(sc, c, conceptID, revision, transactionID)
		if err == nil {
			if s.logger != nil {
				s.logger.Debugw("Saved concept revision",
					"concept_id", conceptID,
					"revision_id", revision,
					"concept_type", c.ConceptType,
					"provider", c.ProviderID,
					"deleted", c.Deleted,
				)
			}
			return conceptID, revision, nil
		}

		if !isUniqueViolation(err) {
			return "", 0, errors.Wrapf(err, "insert revision %d of %s", revision, conceptID)
		}
		if explicit {
			// The asserted revision was claimed by a concurrent writer.
			return "", 0, errors.NewRevisionConflict(
				"concept %s revision %d already written", conceptID, revision)
		}
	}

	return "", 0, errors.NewRevisionConflict(
		"concept %s: revision numbering contention after %d retries", conceptID, s.opts.SaveRetries)
}

// DeleteOptions carries the optional arguments of Delete. Zero values mean
// "assign automatically".
type DeleteOptions struct {
	RevisionID   int
	RevisionDate time.Time
	UserID       string
}

// Delete writes a tombstone revision for the concept: empty metadata,
// deleted=true, revision current-max+1 (or the asserted revision). Deleting
// an already-deleted concept returns the existing tombstone's revision
// without writing. Fails with ErrNotFound for unknown concept-ids.
func (s *Store) Delete(conceptID string, opts DeleteOptions) (int, error) {
	latest, err := s.FindByID(conceptID)
	if err != nil {
		return 0, err
	}

	if latest.Deleted {
		return latest.RevisionID, nil
	}

	tombstone := &Concept{
		ConceptID:   conceptID,
		NativeID:    latest.NativeID,
		ConceptType: latest.ConceptType,
		ProviderID:  latest.ProviderID,
		// Extra fields survive on the tombstone so the native-id reverse
		// mapping keeps working for undelete.
		ExtraFields:  latest.ExtraFields,
		RevisionID:   opts.RevisionID,
		RevisionDate: opts.RevisionDate,
		UserID:       opts.UserID,
		Deleted:      true,
	}

	_, revision, err := s.Save(tombstone)
	if err != nil {
		return 0, err
	}
	return revision, nil
}

// ForceDelete physically removes exactly one revision row. Surrounding
// revisions keep their numbers; this is the only path that may leave gaps in
// a concept's revision sequence. Fails with ErrNotFound if the revision does
// not exist.
func (s *Store) ForceDelete(conceptID string, revisionID int) error {
	if revisionID <= 0 {
		return errors.NewNotFound("concept %s has no revision %d", conceptID, revisionID)
	}

	sc, err := s.scopeForConceptID(conceptID)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE concept_id = ? AND revision_id = ?", sc.table),
		conceptID, revisionID,
	)
	if err != nil {
		return errors.Wrapf(err, "force delete %s revision %d", conceptID, revisionID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "read affected rows")
	}
	if affected == 0 {
		return errors.NewNotFound("concept %s has no revision %d", conceptID, revisionID)
	}

	if s.logger != nil {
		s.logger.Infow("Force deleted concept revision",
			"concept_id", conceptID,
			"revision_id", revisionID,
		)
	}
	return nil
}

// FindByID returns the latest revision of a concept, tombstone included.
func (s *Store) FindByID(conceptID string) (*Concept, error) {
	sc, err := s.scopeForConceptID(conceptID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE concept_id = ? ORDER BY revision_id DESC LIMIT 1",
		selectColumns(sc.strategy), sc.table,
	)
	return s.queryOne(sc, query, conceptID)
}

// FindRevision returns one exact revision of a concept. Revisions that were
// never written, including zero and negative numbers, fail with ErrNotFound.
func (s *Store) FindRevision(conceptID string, revisionID int) (*Concept, error) {
	if revisionID <= 0 {
		return nil, errors.NewNotFound("concept %s has no revision %d", conceptID, revisionID)
	}

	sc, err := s.scopeForConceptID(conceptID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE concept_id = ? AND revision_id = ?",
		selectColumns(sc.strategy), sc.table,
	)
	return s.queryOne(sc, query, conceptID, revisionID)
}

// GetConceptID resolves (type, provider, native-id) to the concept-id, the
// reverse mapping ingest uses to decide create vs. update.
func (s *Store) GetConceptID(t ConceptType, providerID, nativeID string) (string, error) {
	sc, err := s.resolveScope(t, providerID)
	if err != nil {
		return "", err
	}
	return s.conceptIDInTable(sc, providerID, nativeID)
}

// BatchGetConceptIDs translates many native-ids at once. Native-ids with no
// concept are simply absent from the result map, not errors.
func (s *Store) BatchGetConceptIDs(t ConceptType, providerID string, nativeIDs []string) (map[string]string, error) {
	if len(nativeIDs) == 0 {
		return map[string]string{}, nil
	}

	sc, err := s.resolveScope(t, providerID)
	if err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nativeIDs)), ",")
	query := fmt.Sprintf(
		"SELECT DISTINCT native_id, concept_id FROM %s WHERE %s AND native_id IN (%s)",
		sc.table, providerPredicate(providerID), placeholders,
	)

	args := providerArgs(providerID)
	for _, nativeID := range nativeIDs {
		args = append(args, nativeID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "batch translate native ids in %s", sc.table)
	}
	defer rows.Close()

	result := make(map[string]string, len(nativeIDs))
	for rows.Next() {
		var nativeID, conceptID string
		if err := rows.Scan(&nativeID, &conceptID); err != nil {
			return nil, errors.Wrap(err, "scan native id translation")
		}
		result[nativeID] = conceptID
	}
	return result, rows.Err()
}

// conceptIDInTable finds the concept-id for a native-id within one table,
// scoped by the provider discriminator.
func (s *Store) conceptIDInTable(sc scope, providerID, nativeID string) (string, error) {
	query := fmt.Sprintf(
		"SELECT concept_id FROM %s WHERE %s AND native_id = ? LIMIT 1",
		sc.table, providerPredicate(providerID),
	)
	args := append(providerArgs(providerID), nativeID)

	var conceptID string
	err := s.db.QueryRow(query, args...).Scan(&conceptID)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFound("no %s concept with native id %q", sc.strategy.Type, nativeID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "resolve native id %q in %s", nativeID, sc.table)
	}
	return conceptID, nil
}

// maxRevision returns the highest revision for a concept-id, zero when the
// concept has no rows.
func (s *Store) maxRevision(table, conceptID string) (int, error) {
	var max int
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT COALESCE(MAX(revision_id), 0) FROM %s WHERE concept_id = ?", table),
		conceptID,
	).Scan(&max)
	if err != nil {
		return 0, errors.Wrapf(err, "read max revision of %s", conceptID)
	}
	return max, nil
}

// insertRevision writes one revision row. Uniqueness of
// (concept_id, revision_id) is enforced by the table constraint; the caller
// owns the retry policy.
func (s *Store) insertRevision(sc scope, c *Concept, conceptID string, revision int, transactionID int64) error {
	columns := append([]string{}, commonColumns...)
	columns = append(columns, sc.strategy.ExtraColumns...)

	metadata := c.Metadata
	if metadata == nil {
		metadata = []byte{}
	}

	args := []interface{}{
		conceptID,
		c.NativeID,
		nullableString(c.ProviderID),
		metadata,
		c.Format,
		revision,
		normalizeRevisionDate(c.RevisionDate),
		c.Deleted,
		nullableString(c.UserID),
		transactionID,
		nullableTime(c.DeleteTime),
	}
	for _, column := range sc.strategy.ExtraColumns {
		if value, ok := c.ExtraFields[column]; ok {
			args = append(args, value)
		} else {
			args = append(args, nil)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		sc.table, strings.Join(columns, ", "), placeholders,
	)

	_, err := s.db.Exec(query, args...)
	return err
}

// queryOne runs a single-row concept query.
func (s *Store) queryOne(sc scope, query string, args ...interface{}) (*Concept, error) {
	row := s.db.QueryRow(query, args...)
	concept, err := scanConcept(sc.strategy, row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("concept matching %v not found in %s", args, sc.table)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query concept in %s", sc.table)
	}
	return concept, nil
}

// scanConcept maps a result row onto a Concept using the strategy's column
// layout: the common columns followed by the type's extra columns.
func scanConcept(strategy *Strategy, scan func(...interface{}) error) (*Concept, error) {
	var (
		conceptID     string
		nativeID      string
		providerID    sql.NullString
		metadata      []byte
		format        string
		revisionID    int
		revisionDate  string
		deleted       bool
		userID        sql.NullString
		transactionID int64
		deleteTime    sql.NullString
	)

	dest := []interface{}{
		&conceptID, &nativeID, &providerID, &metadata, &format,
		&revisionID, &revisionDate, &deleted, &userID, &transactionID, &deleteTime,
	}
	extras := make([]sql.NullString, len(strategy.ExtraColumns))
	for i := range extras {
		dest = append(dest, &extras[i])
	}

	if err := scan(dest...); err != nil {
		return nil, err
	}

	parsedDate, err := parseStoredTime(revisionDate)
	if err != nil {
		return nil, err
	}

	concept := &Concept{
		ConceptID:     conceptID,
		NativeID:      nativeID,
		ConceptType:   strategy.Type,
		ProviderID:    providerID.String,
		Metadata:      metadata,
		Format:        format,
		RevisionID:    revisionID,
		RevisionDate:  parsedDate,
		Deleted:       deleted,
		UserID:        userID.String,
		TransactionID: transactionID,
	}

	if deleteTime.Valid {
		parsed, err := parseStoredTime(deleteTime.String)
		if err != nil {
			return nil, err
		}
		concept.DeleteTime = &parsed
	}

	for i, column := range strategy.ExtraColumns {
		if extras[i].Valid {
			if concept.ExtraFields == nil {
				concept.ExtraFields = map[string]string{}
			}
			concept.ExtraFields[column] = extras[i].String
		}
	}

	return concept, nil
}

// providerPredicate scopes rows to one tenant. Provider-less rows carry
// NULL, so an empty provider id matches exactly those.
func providerPredicate(providerID string) string {
	if providerID == "" {
		return "provider_id IS NULL"
	}
	return "provider_id = ?"
}

func providerArgs(providerID string) []interface{} {
	if providerID == "" {
		return nil
	}
	return []interface{}{providerID}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
