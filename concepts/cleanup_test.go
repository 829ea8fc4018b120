package concepts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCleaner(t *testing.T, store *Store, retained int) *Cleaner {
	t.Helper()
	return NewCleaner(store, nil, CleanerOptions{RetainedRevisions: retained})
}

func TestOldRevisionCleanupKeepsNewestK(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	cleaner := newTestCleaner(t, store, 3)

	var conceptID string
	for i := 0; i < 7; i++ {
		conceptID, _ = mustSave(t, store, newCollection("PROV1", "coll-1"))
	}

	affected, err := cleaner.OldRevisionCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{conceptID}, affected)

	remaining, err := store.FindConcepts(Collection, SearchParams{
		Provider:   "PROV1",
		ConceptIDs: []string{conceptID},
	})
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	for i, c := range remaining {
		assert.Equal(t, 5+i, c.RevisionID, "the newest 3 revisions survive")
	}
}

func TestOldRevisionCleanupKeepsTombstones(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	cleaner := newTestCleaner(t, store, 2)

	var conceptID string
	for i := 0; i < 4; i++ {
		conceptID, _ = mustSave(t, store, newCollection("PROV1", "coll-1"))
	}
	_, err := store.Delete(conceptID, DeleteOptions{})
	require.NoError(t, err)
	// Undelete and keep writing; the tombstone at revision 5 is now interior
	for i := 0; i < 3; i++ {
		mustSave(t, store, newCollection("PROV1", "coll-1"))
	}

	_, err = cleaner.OldRevisionCleanup(context.Background())
	require.NoError(t, err)

	tombstone, err := store.FindRevision(conceptID, 5)
	require.NoError(t, err, "tombstone rows survive cleanup regardless of age")
	assert.True(t, tombstone.Deleted)
}

func TestOldRevisionCleanupNeverRemovesSoleRevision(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	cleaner := newTestCleaner(t, store, 5)

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	affected, err := cleaner.OldRevisionCleanup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, affected)

	_, err = store.FindByID(conceptID)
	require.NoError(t, err)
}

func TestOldRevisionCleanupSpansTablesAndTypes(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	registerProvider(t, conn, "TINY_A", true)
	cleaner := newTestCleaner(t, store, 1)

	var dedicated, pooled, global string
	for i := 0; i < 3; i++ {
		dedicated, _ = mustSave(t, store, newCollection("PROV1", "coll-1"))
		pooled, _ = mustSave(t, store, newCollection("TINY_A", "coll-1"))
		tag := &Concept{ConceptType: Tag, NativeID: "tag-1", Metadata: []byte("{}")}
		global, _ = mustSave(t, store, tag)
	}

	affected, err := cleaner.OldRevisionCleanup(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dedicated, pooled, global}, affected)

	for _, conceptID := range []string{dedicated, pooled, global} {
		latest, err := store.FindByID(conceptID)
		require.NoError(t, err)
		assert.Equal(t, 3, latest.RevisionID, "latest revision survives for %s", conceptID)

		_, err = store.FindRevision(conceptID, 1)
		assert.Error(t, err, "old revision of %s should be gone", conceptID)
	}
}

func TestExpiredConceptCleanup(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	cleaner := newTestCleaner(t, store, 10)

	expired := newCollection("PROV1", "coll-expired")
	expired.DeleteTime = futureTime(-time.Hour)
	expiredID, _ := mustSave(t, store, expired)

	pending := newCollection("PROV1", "coll-pending")
	pending.DeleteTime = futureTime(time.Hour)
	pendingID, _ := mustSave(t, store, pending)

	unmarked := newCollection("PROV1", "coll-unmarked")
	unmarkedID, _ := mustSave(t, store, unmarked)

	affected, err := cleaner.ExpiredConceptCleanup(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{expiredID}, affected)

	_, err = store.FindByID(expiredID)
	assert.Error(t, err, "expired concept should have no rows left")

	for _, conceptID := range []string{pendingID, unmarkedID} {
		_, err = store.FindByID(conceptID)
		assert.NoError(t, err, "%s must survive", conceptID)
	}
}

func TestExpiredConceptCleanupProviderScope(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	registerProvider(t, conn, "PROV2", false)
	cleaner := newTestCleaner(t, store, 10)

	expiredA := newCollection("PROV1", "coll-1")
	expiredA.DeleteTime = futureTime(-time.Hour)
	idA, _ := mustSave(t, store, expiredA)

	expiredB := newCollection("PROV2", "coll-1")
	expiredB.DeleteTime = futureTime(-time.Hour)
	idB, _ := mustSave(t, store, expiredB)

	affected, err := cleaner.ExpiredConceptCleanup(context.Background(), "PROV2")
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, affected)

	_, err = store.FindByID(idA)
	assert.NoError(t, err, "out-of-scope provider must be untouched")
}

func TestExpiredConceptCleanupRejectsBadProvider(t *testing.T) {
	store, _ := newTestStore(t)
	cleaner := newTestCleaner(t, store, 10)

	_, err := cleaner.ExpiredConceptCleanup(context.Background(), "p; DROP TABLE providers")
	require.Error(t, err)
}

func TestTrimTableContinuesPastBrokenConcept(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewStore(mockDB, nil, Options{})
	cleaner := NewCleaner(store, nil, CleanerOptions{RetainedRevisions: 2})

	mock.ExpectQuery("SELECT DISTINCT concept_id FROM prov1_collections").
		WillReturnRows(sqlmock.NewRows([]string{"concept_id"}).
			AddRow("C1200000000-PROV1").
			AddRow("C1200000001-PROV1"))
	// First concept fails at the revision count; the job moves on
	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectExec("DELETE FROM prov1_collections").
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := cleaner.trimTable(context.Background(), "prov1_collections")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1200000001-PROV1"}, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanerSetOptionsFromReload(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	cleaner := newTestCleaner(t, store, 10)

	var conceptID string
	for i := 0; i < 5; i++ {
		conceptID, _ = mustSave(t, store, newCollection("PROV1", "coll-1"))
	}

	// At K=10 nothing is trimmed
	affected, err := cleaner.OldRevisionCleanup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, affected)

	// Tighten to K=2, as a config reload would
	cleaner.SetOptions(CleanerOptions{RetainedRevisions: 2})
	affected, err = cleaner.OldRevisionCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{conceptID}, affected)
}
