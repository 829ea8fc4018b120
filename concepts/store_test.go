package concepts

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
	catalogtest "github.com/dark4eg/Common-Metadata-Repository/internal/testing"
)

func TestSaveNewConceptStartsAtRevisionOne(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	conceptID, revision, err := store.Save(newCollection("PROV1", "coll-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, revision)
	assert.Equal(t, "C1200000000-PROV1", conceptID)
}

func TestSaveSameNativeIDAppendsRevisions(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	firstID, firstRev := mustSave(t, store, newCollection("PROV1", "coll-1"))
	secondID, secondRev := mustSave(t, store, newCollection("PROV1", "coll-1"))

	assert.Equal(t, firstID, secondID, "same native id must map to one concept id")
	assert.Equal(t, 1, firstRev)
	assert.Equal(t, 2, secondRev)
}

func TestSaveDistinctNativeIDsGetDistinctConceptIDs(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	firstID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))
	secondID, _ := mustSave(t, store, newCollection("PROV1", "coll-2"))

	assert.NotEqual(t, firstID, secondID)
}

func TestMetadataRoundTrip(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	payload := []byte("<Collection>\x00\x01binary-ish bytes\xff</Collection>")
	c := newCollection("PROV1", "coll-1")
	c.Metadata = payload
	c.Format = "echo10"

	conceptID, _ := mustSave(t, store, c)

	found, err := store.FindByID(conceptID)
	require.NoError(t, err)
	if !bytes.Equal(found.Metadata, payload) {
		t.Errorf("metadata round trip mismatch: got %q", found.Metadata)
	}
	assert.Equal(t, "echo10", found.Format)
	assert.Equal(t, "ingest-user", found.UserID)
}

func TestSaveExtraFieldsRoundTrip(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	c := newCollection("PROV1", "coll-1")
	c.ExtraFields = map[string]string{
		"short_name":  "MOD09GA",
		"version_id":  "6",
		"entry_title": "MODIS Surface Reflectance",
	}
	conceptID, _ := mustSave(t, store, c)

	found, err := store.FindByID(conceptID)
	require.NoError(t, err)
	assert.Equal(t, c.ExtraFields, found.ExtraFields)
}

func TestSaveExplicitRevisionMustMatchNext(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	// Correct assertion: current max is 1, next must be 2
	c := newCollection("PROV1", "coll-1")
	c.ConceptID = conceptID
	c.RevisionID = 2
	_, revision, err := store.Save(c)
	require.NoError(t, err)
	assert.Equal(t, 2, revision)

	// Stale assertion
	stale := newCollection("PROV1", "coll-1")
	stale.ConceptID = conceptID
	stale.RevisionID = 2
	_, _, err = store.Save(stale)
	require.Error(t, err)
	assert.True(t, errors.IsRevisionConflict(err))

	// Gapped assertion
	gapped := newCollection("PROV1", "coll-1")
	gapped.ConceptID = conceptID
	gapped.RevisionID = 9
	_, _, err = store.Save(gapped)
	require.Error(t, err)
	assert.True(t, errors.IsRevisionConflict(err))
}

func TestSaveExplicitRevisionOnNewConcept(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	c := newCollection("PROV1", "coll-1")
	c.RevisionID = 1
	_, revision, err := store.Save(c)
	require.NoError(t, err)
	assert.Equal(t, 1, revision)

	fresh := newCollection("PROV1", "coll-2")
	fresh.RevisionID = 5
	_, _, err = store.Save(fresh)
	require.Error(t, err)
	assert.True(t, errors.IsRevisionConflict(err))
}

func TestSaveBackfillRevisionDate(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	// A revision date before the previous revision's is allowed; revision-id
	// stays the canonical order
	backfill := newCollection("PROV1", "coll-1")
	backfill.RevisionDate = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	_, revision, err := store.Save(backfill)
	require.NoError(t, err)
	assert.Equal(t, 2, revision)

	found, err := store.FindRevision(conceptID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2001, found.RevisionDate.Year())
}

func TestSaveValidation(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	cases := []struct {
		name    string
		concept *Concept
		check   func(error) bool
	}{
		{
			"collection without provider",
			&Concept{ConceptType: Collection, NativeID: "x", Metadata: []byte("{}")},
			errors.IsValidation,
		},
		{
			"tag with provider",
			&Concept{ConceptType: Tag, ProviderID: "PROV1", NativeID: "x", Metadata: []byte("{}")},
			errors.IsValidation,
		},
		{
			"unknown type",
			&Concept{ConceptType: "dataset", NativeID: "x", Metadata: []byte("{}")},
			errors.IsValidation,
		},
		{
			"empty metadata",
			&Concept{ConceptType: Collection, ProviderID: "PROV1", NativeID: "x"},
			errors.IsValidation,
		},
		{
			"missing native id",
			&Concept{ConceptType: Collection, ProviderID: "PROV1", Metadata: []byte("{}")},
			errors.IsValidation,
		},
		{
			"unknown extra field",
			&Concept{
				ConceptType: Collection, ProviderID: "PROV1", NativeID: "x",
				Metadata: []byte("{}"), ExtraFields: map[string]string{"granule_ur": "y"},
			},
			errors.IsValidation,
		},
		{
			"unregistered provider",
			&Concept{ConceptType: Collection, ProviderID: "NOPE", NativeID: "x", Metadata: []byte("{}")},
			errors.IsNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := store.Save(tc.concept)
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error kind: %v", err)
		})
	}
}

func TestDeleteWritesTombstone(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))
	mustSave(t, store, newCollection("PROV1", "coll-1"))

	revision, err := store.Delete(conceptID, DeleteOptions{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 3, revision, "tombstone must be latest+1")

	tombstone, err := store.FindByID(conceptID)
	require.NoError(t, err)
	assert.True(t, tombstone.Deleted)
	assert.Empty(t, tombstone.Metadata)
	assert.Equal(t, 3, tombstone.RevisionID)
	assert.Equal(t, "coll-1", tombstone.NativeID)
	assert.Equal(t, "admin", tombstone.UserID)
}

func TestDeleteAlreadyDeletedIsIdempotent(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	first, err := store.Delete(conceptID, DeleteOptions{})
	require.NoError(t, err)

	second, err := store.Delete(conceptID, DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeat delete must not stack tombstones")
}

func TestDeleteUnknownConcept(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	_, err := store.Delete("C1200009999-PROV1", DeleteOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestUndeleteContinuesSequence(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))
	_, err := store.Delete(conceptID, DeleteOptions{})
	require.NoError(t, err)

	// Saving again after a tombstone is an undelete and simply continues
	_, revision, err := store.Save(newCollection("PROV1", "coll-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, revision)

	latest, err := store.FindByID(conceptID)
	require.NoError(t, err)
	assert.False(t, latest.Deleted)
}

func TestForceDeleteRemovesExactlyOneRevision(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))
	mustSave(t, store, newCollection("PROV1", "coll-1"))
	mustSave(t, store, newCollection("PROV1", "coll-1"))

	require.NoError(t, store.ForceDelete(conceptID, 2))

	// The removed revision is gone
	_, err := store.FindRevision(conceptID, 2)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// Surrounding revisions keep their numbers; the gap stays
	for _, revision := range []int{1, 3} {
		found, err := store.FindRevision(conceptID, revision)
		require.NoError(t, err)
		assert.Equal(t, revision, found.RevisionID)
	}

	// Repeat force-delete of the same row is NotFound
	err = store.ForceDelete(conceptID, 2)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestForceDeleteBoundaryRevisions(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	for _, revision := range []int{0, -1} {
		err := store.ForceDelete(conceptID, revision)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err), "revision %d", revision)
	}
}

func TestFindRevisionBoundaries(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)
	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	for _, revision := range []int{0, -1, 99} {
		_, err := store.FindRevision(conceptID, revision)
		require.Error(t, err, "revision %d", revision)
		assert.True(t, errors.IsNotFound(err), "revision %d should be NotFound, got %v", revision, err)
	}
}

func TestFindByIDUnknownConcept(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	// Registered provider, never-allocated id
	_, err := store.FindByID("C1200009999-PROV1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// Unregistered provider in the id
	_, err = store.FindByID("C1200000001-GHOST")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// Malformed id
	_, err = store.FindByID("not-a-concept-id")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRevisionSequenceContiguous(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	var conceptID string
	for i := 0; i < 5; i++ {
		conceptID, _ = mustSave(t, store, newCollection("PROV1", "coll-1"))
	}

	revisions, err := store.FindConcepts(Collection, SearchParams{
		Provider:   "PROV1",
		ConceptIDs: []string{conceptID},
	})
	require.NoError(t, err)
	require.Len(t, revisions, 5)
	for i, revision := range revisions {
		assert.Equal(t, i+1, revision.RevisionID, "revisions must be contiguous from 1")
	}
}

func TestGetConceptID(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	_, err := store.GetConceptID(Collection, "PROV1", "coll-1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	resolved, err := store.GetConceptID(Collection, "PROV1", "coll-1")
	require.NoError(t, err)
	assert.Equal(t, conceptID, resolved)
}

func TestBatchGetConceptIDs(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "PROV1", false)

	firstID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))
	secondID, _ := mustSave(t, store, newCollection("PROV1", "coll-2"))

	translated, err := store.BatchGetConceptIDs(Collection, "PROV1",
		[]string{"coll-1", "coll-2", "coll-unseen"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"coll-1": firstID,
		"coll-2": secondID,
	}, translated)

	empty, err := store.BatchGetConceptIDs(Collection, "PROV1", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSmallProvidersShareTableButStayScoped(t *testing.T) {
	store, conn := newTestStore(t)
	registerProvider(t, conn, "TINY_A", true)
	registerProvider(t, conn, "TINY_B", true)

	// Same native id under two pooled tenants
	idA, _ := mustSave(t, store, newCollection("TINY_A", "coll-1"))
	idB, _ := mustSave(t, store, newCollection("TINY_B", "coll-1"))

	assert.NotEqual(t, idA, idB, "pooled tenants must not share concept identity")

	foundA, err := store.FindByID(idA)
	require.NoError(t, err)
	assert.Equal(t, "TINY_A", foundA.ProviderID)

	foundB, err := store.FindByID(idB)
	require.NoError(t, err)
	assert.Equal(t, "TINY_B", foundB.ProviderID)

	// Reverse mapping stays tenant-scoped
	resolved, err := store.GetConceptID(Collection, "TINY_A", "coll-1")
	require.NoError(t, err)
	assert.Equal(t, idA, resolved)
}

func TestProviderLessConceptLifecycle(t *testing.T) {
	store, _ := newTestStore(t)

	tag := &Concept{
		ConceptType: Tag,
		NativeID:    "org.nasa.example.quality",
		Metadata:    []byte(`{"description":"quality flag"}`),
	}
	conceptID, revision, err := store.Save(tag)
	require.NoError(t, err)
	assert.Equal(t, 1, revision)
	assert.Contains(t, conceptID, "-"+SyntheticProviderID)

	found, err := store.FindByID(conceptID)
	require.NoError(t, err)
	assert.Empty(t, found.ProviderID, "the store carries no provider for provider-less types")

	tombstoneRev, err := store.Delete(conceptID, DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, tombstoneRev)
}

func TestConcurrentSavesNeverShareARevision(t *testing.T) {
	// File-backed database: concurrent goroutines draw distinct pooled
	// connections, which an in-memory database would not share
	conn, _ := catalogtest.CreateSharedTestDB(t)
	registerProvider(t, conn, "PROV1", false)
	// A generous retry budget: the point is that concurrent writers sort
	// themselves out, not that the budget is tight
	store := NewStore(conn, nil, Options{SaveRetries: 50})

	conceptID, _ := mustSave(t, store, newCollection("PROV1", "coll-1"))

	const writers = 8
	errs := make(chan error, writers)
	revisions := make(chan int, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, revision, err := store.Save(newCollection("PROV1", "coll-1"))
			if err != nil {
				errs <- err
				return
			}
			revisions <- revision
		}()
	}

	got := map[int]bool{}
	for i := 0; i < writers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("concurrent Save failed: %v", err)
		case revision := <-revisions:
			if got[revision] {
				t.Fatalf("revision %d assigned to two writers", revision)
			}
			got[revision] = true
		}
	}

	// Revisions 2..writers+1, contiguous, no duplicates
	for revision := 2; revision <= writers+1; revision++ {
		assert.True(t, got[revision], "revision %d missing", revision)
	}

	latest, err := store.FindByID(conceptID)
	require.NoError(t, err)
	assert.Equal(t, writers+1, latest.RevisionID)
}
