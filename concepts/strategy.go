package concepts

import (
	"sort"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
)

// ProviderPolicy states whether a concept type carries a provider.
type ProviderPolicy int

const (
	// ProviderRequired types live in per-provider tables and must carry a
	// registered provider id.
	ProviderRequired ProviderPolicy = iota

	// ProviderOptional types live in a global table; rows may carry a
	// provider id as a logical scope.
	ProviderOptional

	// ProviderNone types are global and never carry a provider id.
	ProviderNone
)

// Strategy captures everything that varies by concept type. The store never
// branches on type names; it asks the registry. Adding a concept type means
// registering one new Strategy.
type Strategy struct {
	Type ConceptType

	// IDPrefix is the concept-id prefix (C1200000007-PROV1 -> "C").
	IDPrefix string

	// TableBase is the pluralized table name component. It is the full
	// table name for non-provider-owned types.
	TableBase string

	Policy ProviderPolicy

	// ExtraColumns lists the type-specific columns; they double as the
	// permitted ExtraFields keys.
	ExtraColumns []string
}

// ProviderOwned reports whether the type gets per-provider physical tables.
func (s *Strategy) ProviderOwned() bool {
	return s.Policy == ProviderRequired
}

// ValidateExtraFields rejects extra-field keys outside the type's declared
// column set before they can reach query construction.
func (s *Strategy) ValidateExtraFields(fields map[string]string) error {
	for key := range fields {
		if !s.hasExtraColumn(key) {
			return errors.NewValidation("concept type %s has no extra field %q", s.Type, key)
		}
	}
	return nil
}

func (s *Strategy) hasExtraColumn(name string) bool {
	for _, column := range s.ExtraColumns {
		if column == name {
			return true
		}
	}
	return false
}

var (
	registry    = map[ConceptType]*Strategy{}
	prefixIndex = map[string]ConceptType{}
)

// Register adds a concept-type strategy. Panics on duplicate type or prefix;
// registration happens at init time only.
func Register(s *Strategy) {
	if _, ok := registry[s.Type]; ok {
		panic("concepts: duplicate strategy for type " + string(s.Type))
	}
	if _, ok := prefixIndex[s.IDPrefix]; ok {
		panic("concepts: duplicate concept id prefix " + s.IDPrefix)
	}
	registry[s.Type] = s
	prefixIndex[s.IDPrefix] = s.Type
}

// StrategyFor resolves the strategy for a concept type. Unknown types fail
// with ErrValidation; the enumeration is closed.
func StrategyFor(t ConceptType) (*Strategy, error) {
	s, ok := registry[t]
	if !ok {
		return nil, errors.NewValidation("unknown concept type %q", t)
	}
	return s, nil
}

func typeForPrefix(prefix string) (ConceptType, bool) {
	t, ok := prefixIndex[prefix]
	return t, ok
}

// AllTypes returns every registered concept type, sorted for deterministic
// iteration.
func AllTypes() []ConceptType {
	types := make([]ConceptType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ProviderConceptTypes returns the types that get per-provider tables, in
// the fixed order namespace creation and removal walk them.
func ProviderConceptTypes() []ConceptType {
	return []ConceptType{Collection, Granule, Service}
}

func init() {
	Register(&Strategy{
		Type:         Collection,
		IDPrefix:     "C",
		TableBase:    "collections",
		Policy:       ProviderRequired,
		ExtraColumns: []string{"short_name", "version_id", "entry_title"},
	})
	Register(&Strategy{
		Type:         Granule,
		IDPrefix:     "G",
		TableBase:    "granules",
		Policy:       ProviderRequired,
		ExtraColumns: []string{"granule_ur", "parent_collection_id"},
	})
	Register(&Strategy{
		Type:         Service,
		IDPrefix:     "S",
		TableBase:    "services",
		Policy:       ProviderRequired,
		ExtraColumns: []string{"entry_title"},
	})
	Register(&Strategy{
		Type:      Tag,
		IDPrefix:  "T",
		TableBase: "tags",
		Policy:    ProviderNone,
	})
	Register(&Strategy{
		Type:         TagAssociation,
		IDPrefix:     "TA",
		TableBase:    "tag_associations",
		Policy:       ProviderOptional,
		ExtraColumns: []string{"associated_concept_id", "associated_revision_id"},
	})
	Register(&Strategy{
		Type:      AccessGroup,
		IDPrefix:  "AG",
		TableBase: "access_groups",
		Policy:    ProviderOptional,
	})
	Register(&Strategy{
		Type:         ACL,
		IDPrefix:     "ACL",
		TableBase:    "acls",
		Policy:       ProviderOptional,
		ExtraColumns: []string{"acl_identity"},
	})
	Register(&Strategy{
		Type:      Humanizer,
		IDPrefix:  "H",
		TableBase: "humanizers",
		Policy:    ProviderNone,
	})
	Register(&Strategy{
		Type:         Variable,
		IDPrefix:     "V",
		TableBase:    "variables",
		Policy:       ProviderOptional,
		ExtraColumns: []string{"variable_name"},
	})
}
