package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelIdentity(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "concept C1200000001-PROV1")
	assert.True(t, Is(wrapped, ErrNotFound))
	assert.False(t, Is(wrapped, ErrRevisionConflict))
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(New("unrelated")))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(Wrap(ErrNotFound, "context")))
	assert.True(t, IsNotFound(NewNotFound("concept %s revision %d", "C1-PROV1", 2)))
}

func TestIsRevisionConflict(t *testing.T) {
	err := NewRevisionConflict("expected revision %d, got %d", 3, 7)
	require.Error(t, err)
	assert.True(t, IsRevisionConflict(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "expected revision 3")
}

func TestIsValidation(t *testing.T) {
	err := NewValidation("invalid provider id %q", "small_prov; DROP TABLE")
	assert.True(t, IsValidation(err))
	assert.False(t, IsRevisionConflict(err))
}

func TestWrapNamespaceOperation(t *testing.T) {
	cause := New("table exists")
	err := WrapNamespaceOperation(cause, "create prov1_granules")
	assert.True(t, IsNamespaceOperation(err))
	assert.Contains(t, err.Error(), "create prov1_granules")
	assert.Contains(t, err.Error(), "table exists")
}

func TestWrapPreservesKindThroughLayers(t *testing.T) {
	err := Wrap(Wrap(NewNotFound("no concept"), "store"), "handler")
	assert.True(t, IsNotFound(err))
}
