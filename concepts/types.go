// Package concepts implements the versioned concept store: the table
// strategy that places each (provider, concept-type) pair in a physical
// table, the identifier allocator, the revision/tombstone lifecycle, and the
// cleanup jobs. Serialization to wire formats and search indexing live in
// external collaborators; this package deals in plain structured records.
package concepts

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

// ConceptType enumerates the kinds of metadata records the catalog stores.
type ConceptType string

const (
	Collection     ConceptType = "collection"
	Granule        ConceptType = "granule"
	Service        ConceptType = "service"
	Tag            ConceptType = "tag"
	TagAssociation ConceptType = "tag-association"
	AccessGroup    ConceptType = "access-group"
	ACL            ConceptType = "acl"
	Humanizer      ConceptType = "humanizer"
	Variable       ConceptType = "variable"
)

// Reserved tenant tokens. Neither may be registered as a provider id.
const (
	// SmallProviderToken is the pooled-tenant discriminator used in table
	// and sequence names for small providers.
	SmallProviderToken = "SMALL_PROV"

	// SyntheticProviderID is the display tenant carried in concept-ids of
	// provider-less types. The store itself never records it.
	SyntheticProviderID = "CMR"
)

// Provider is a tenant. Rows are owned by the provider-administration
// collaborator; the store only reads them.
type Provider struct {
	ID    string
	Small bool
}

// Concept is one revision of a versioned metadata record.
type Concept struct {
	// ConceptID is stable across all revisions of the same logical entity.
	// Empty on Save means "derive from (provider, type, native-id)".
	ConceptID string

	// NativeID is the tenant- and type-scoped business key that decides
	// create vs. update.
	NativeID string

	ConceptType ConceptType

	// ProviderID is empty for provider-less types.
	ProviderID string

	// Metadata is the opaque type-specific payload. Empty only on
	// tombstones.
	Metadata []byte

	// Format names the payload's serialization (echo10, umm-json, ...).
	// Opaque to the store.
	Format string

	// RevisionID is 1-based and strictly increasing per ConceptID. Zero on
	// Save means "assign current max + 1"; a positive value is an
	// optimistic-concurrency assertion that must equal current max + 1.
	RevisionID int

	// RevisionDate defaults to now when zero. Callers may supply a date in
	// the past for backfill; revision-id remains the canonical order.
	RevisionDate time.Time

	// Deleted marks this revision a tombstone.
	Deleted bool

	UserID        string
	TransactionID int64

	// DeleteTime, when set, makes the concept eligible for expired-concept
	// cleanup once it passes, regardless of deletion state.
	DeleteTime *time.Time

	// ExtraFields holds the type-specific structured attributes declared by
	// the type's strategy (short_name/version_id for collections, ...).
	ExtraFields map[string]string
}

// providerIDPattern is the full tenant-identifier grammar. Everything
// interpolated into DDL or table names must pass it first.
var providerIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,29}$`)

// ValidateProviderID rejects tenant identifiers that could not safely appear
// in a generated table name. Reserved tokens are rejected as well.
func ValidateProviderID(providerID string) error {
	if !providerIDPattern.MatchString(providerID) {
		return errors.NewValidation("invalid provider id %q", providerID)
	}
	if providerID == SmallProviderToken || providerID == SyntheticProviderID {
		return errors.NewValidation("provider id %q is reserved", providerID)
	}
	return nil
}

// conceptIDPattern matches <prefix><seq>-<tenant>.
var conceptIDPattern = regexp.MustCompile(`^([A-Z]+)(\d+)-([A-Z][A-Z0-9_]{0,29})$`)

// BuildConceptID renders a concept-id such as C1200000007-PROV1. The tenant
// part is the provider id, or the synthetic tenant for provider-less types.
func BuildConceptID(t ConceptType, sequence int64, tenant string) (string, error) {
	strategy, err := StrategyFor(t)
	if err != nil {
		return "", err
	}
	if tenant == "" {
		tenant = SyntheticProviderID
	}
	return strategy.IDPrefix + strconv.FormatInt(sequence, 10) + "-" + tenant, nil
}

// ParseConceptID splits a concept-id into its type, sequence number, and
// tenant token. Malformed or unknown-prefix ids fail with ErrValidation.
func ParseConceptID(conceptID string) (ConceptType, int64, string, error) {
	match := conceptIDPattern.FindStringSubmatch(conceptID)
	if match == nil {
		return "", 0, "", errors.NewValidation("malformed concept id %q", conceptID)
	}

	conceptType, ok := typeForPrefix(match[1])
	if !ok {
		return "", 0, "", errors.NewValidation("unknown concept id prefix %q", match[1])
	}

	sequence, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return "", 0, "", errors.NewValidation("concept id sequence out of range in %q", conceptID)
	}

	return conceptType, sequence, match[3], nil
}

// normalizeRevisionDate formats a revision date for storage. Zero means now.
func normalizeRevisionDate(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored timestamp %q", s)
	}
	return t, nil
}

// tenantDiscriminator is the lowercase table-name component for a provider.
func tenantDiscriminator(provider Provider) string {
	if provider.Small {
		return strings.ToLower(SmallProviderToken)
	}
	return strings.ToLower(provider.ID)
}
