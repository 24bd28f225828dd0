package fragment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stratatest "github.com/stratahq/strata/internal/testing"
)

func record(t *testing.T, store *Store, key, value, sourceID string) {
	t.Helper()
	err := store.Record(context.Background(), &Fragment{
		EntityType:     "invoice",
		EntityID:       "ent_1",
		FragmentKey:    key,
		FragmentValue:  value,
		SourceID:       sourceID,
		EnvelopeReason: "field not in schema",
	})
	require.NoError(t, err)
}

func TestRecord_AccumulatesFrequency(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	record(t, store, "due_date", `"2024-02-01"`, "src_a")
	record(t, store, "due_date", `"2024-02-01"`, "src_a")
	record(t, store, "due_date", `"2024-02-01"`, "src_a")

	stats, err := store.Stats(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFrequency)
	assert.Equal(t, 1, stats.DistinctSources)
}

func TestStats_CountsDistinctSources(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	record(t, store, "due_date", `"2024-02-01"`, "src_a")
	record(t, store, "due_date", `"2024-02-02"`, "src_b")
	record(t, store, "due_date", `"2024-02-03"`, "src_c")

	stats, err := store.Stats(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFrequency)
	assert.Equal(t, 3, stats.DistinctSources)
}

func TestSamples_MostFrequentFirst(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	record(t, store, "status", `"open"`, "src_a")
	record(t, store, "status", `"open"`, "src_a")
	record(t, store, "status", `"closed"`, "src_a")

	samples, err := store.Samples(ctx, "invoice", "status", "", 10)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, `"open"`, samples[0])
}

func TestListKeysAndPage(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	record(t, store, "due_date", `"2024-02-01"`, "src_a")
	record(t, store, "status", `"open"`, "src_a")
	record(t, store, "status", `"closed"`, "src_b")

	keys, err := store.ListKeys(ctx, "invoice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"due_date", "status"}, keys)

	page, err := store.Page(ctx, "invoice", []string{"status"}, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	for _, frag := range page {
		assert.Equal(t, "status", frag.FragmentKey)
		assert.Equal(t, "ent_1", frag.EntityID)
	}

	// Offset pagination.
	page, err = store.Page(ctx, "invoice", []string{"status"}, "", 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestDelete(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	record(t, store, "status", `"open"`, "src_a")
	page, err := store.Page(ctx, "invoice", []string{"status"}, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)

	require.NoError(t, store.Delete(ctx, []int64{page[0].ID}))

	page, err = store.Page(ctx, "invoice", []string{"status"}, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}
