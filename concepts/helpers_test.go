package concepts

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	catalogtest "github.com/dark4eg/Common-Metadata-Repository/internal/testing"
)

// newTestStore creates a migrated in-memory catalog and a store over it.
func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	conn := catalogtest.CreateTestDB(t)
	return NewStore(conn, nil, Options{}), conn
}

// registerProvider inserts a provider row and creates its tables.
func registerProvider(t *testing.T, conn *sql.DB, id string, small bool) Provider {
	t.Helper()
	provider := Provider{ID: id, Small: small}
	_, err := conn.Exec(
		"INSERT INTO providers (provider_id, small) VALUES (?, ?)", id, small,
	)
	require.NoError(t, err)
	require.NoError(t, CreateProviderTables(conn, nil, provider))
	return provider
}

// newCollection builds a minimal valid collection concept.
func newCollection(providerID, nativeID string) *Concept {
	return &Concept{
		ConceptType: Collection,
		ProviderID:  providerID,
		NativeID:    nativeID,
		Metadata:    []byte(`{"ShortName":"MOD09GA"}`),
		Format:      "umm-json",
		UserID:      "ingest-user",
	}
}

// mustSave saves a concept and fails the test on error.
func mustSave(t *testing.T, store *Store, c *Concept) (string, int) {
	t.Helper()
	conceptID, revision, err := store.Save(c)
	require.NoError(t, err)
	return conceptID, revision
}

// futureTime returns a pointer to now+d, for delete-time fields.
func futureTime(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(d)
	return &t
}
