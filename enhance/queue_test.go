package enhance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/errors"
	stratatest "github.com/stratahq/strata/internal/testing"
)

func TestQueue_EnqueueIdempotentWhileLive(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	queue := NewQueue(database, nil)
	ctx := context.Background()

	item, created, err := queue.Enqueue(ctx, "invoice", "due_date", "", 5)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPending, item.Status)

	// Crossing the threshold again returns the existing live item.
	again, created, err := queue.Enqueue(ctx, "invoice", "due_date", "", 9)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, item.ID, again.ID)

	// A different candidate gets its own item.
	other, created, err := queue.Enqueue(ctx, "invoice", "status", "", 5)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, item.ID, other.ID)
}

func TestQueue_ClaimTransitionsToProcessing(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	queue := NewQueue(database, nil)
	ctx := context.Background()

	_, _, err := queue.Enqueue(ctx, "invoice", "due_date", "", 5)
	require.NoError(t, err)

	claimed, err := queue.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, "due_date", claimed.FragmentKey)

	// The item is no longer claimable.
	next, err := queue.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestQueue_ClaimOrdersByAge(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	queue := NewQueue(database, nil)
	ctx := context.Background()

	_, _, err := queue.Enqueue(ctx, "invoice", "first", "", 5)
	require.NoError(t, err)
	_, _, err = queue.Enqueue(ctx, "invoice", "second", "", 5)
	require.NoError(t, err)

	claimed, err := queue.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "first", claimed.FragmentKey)
}

func TestQueue_MarkFailedRequeuesUntilRetryCap(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	queue := NewQueue(database, nil)
	ctx := context.Background()
	maxRetries := 3

	item, _, err := queue.Enqueue(ctx, "invoice", "due_date", "", 5)
	require.NoError(t, err)

	// Two failures keep the item retryable.
	for attempt := 1; attempt < maxRetries; attempt++ {
		claimed, err := queue.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.NoError(t, queue.MarkFailed(ctx, claimed.ID, errors.New("schema store unavailable"), maxRetries))
	}

	// The final failure is terminal.
	claimed, err := queue.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, queue.MarkFailed(ctx, claimed.ID, errors.New("schema store unavailable"), maxRetries))

	gone, err := queue.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, gone)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[StatusFailed])

	// A terminal item frees the live slot for a fresh enqueue.
	fresh, created, err := queue.Enqueue(ctx, "invoice", "due_date", "", 7)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, item.ID, fresh.ID)
}

func TestQueue_MarkCompletedAndSkipped(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	queue := NewQueue(database, nil)
	ctx := context.Background()

	a, _, err := queue.Enqueue(ctx, "invoice", "field_a", "", 5)
	require.NoError(t, err)
	b, _, err := queue.Enqueue(ctx, "invoice", "field_b", "", 5)
	require.NoError(t, err)

	require.NoError(t, queue.MarkCompleted(ctx, a.ID))
	require.NoError(t, queue.MarkSkipped(ctx, b.ID, "confidence 0.40 below threshold 0.70"))

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[StatusCompleted])
	assert.Equal(t, 1, stats[StatusSkipped])
	assert.Equal(t, 0, stats[StatusPending])
}

func TestQueue_MarkMissingItem(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	queue := NewQueue(database, nil)

	err := queue.MarkCompleted(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
