package rawstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/errors"
	stratatest "github.com/stratahq/strata/internal/testing"
)

func TestPut_DeduplicatesPerOwner(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	data := []byte("invoice pdf bytes")

	first, err := store.Put(ctx, "acme", data, "application/pdf", "invoice.pdf", "upload")
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)
	assert.NotEmpty(t, first.SourceID)

	// Identical bytes from the same owner converge on the same id.
	second, err := store.Put(ctx, "acme", data, "application/pdf", "other-name.pdf", "upload")
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.SourceID, second.SourceID)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	// The stored copy's metadata wins.
	src, err := store.Get(ctx, first.SourceID)
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", src.OriginalFilename)
}

func TestPut_OwnersDoNotCollide(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	data := []byte("shared bytes")

	acme, err := store.Put(ctx, "acme", data, "text/plain", "", "")
	require.NoError(t, err)
	globex, err := store.Put(ctx, "globex", data, "text/plain", "", "")
	require.NoError(t, err)

	assert.NotEqual(t, acme.SourceID, globex.SourceID)
	assert.Equal(t, acme.ContentHash, globex.ContentHash)
	assert.False(t, globex.Deduplicated)
}

func TestSourceID_Deterministic(t *testing.T) {
	a := SourceID("acme", "deadbeef")
	b := SourceID("acme", "deadbeef")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, SourceID("globex", "deadbeef"))
	assert.True(t, len(a) > 4 && a[:4] == "src_")
}

func TestGetContent(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	data := []byte{0x00, 0x01, 0xff, 0x42}
	result, err := store.Put(ctx, "acme", data, "application/octet-stream", "", "")
	require.NoError(t, err)

	content, err := store.GetContent(ctx, result.SourceID)
	require.NoError(t, err)
	assert.Equal(t, data, content)

	assert.True(t, store.Exists(ctx, result.SourceID))
	assert.False(t, store.Exists(ctx, "src_missing"))
}

func TestGet_NotFound(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)

	_, err := store.Get(context.Background(), "src_missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
