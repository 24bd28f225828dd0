package observation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/errors"
	stratatest "github.com/stratahq/strata/internal/testing"
)

func testObservation() *Observation {
	return &Observation{
		ID:               "obs_deterministic_1",
		SourceID:         "src_a",
		InterpretationID: "interp_1",
		EntityType:       "invoice",
		EntityID:         "ent_1",
		Fields:           map[string]interface{}{"invoice_number": "INV-001", "amount": float64(1000)},
		FieldHash:        "hash_1",
	}
}

func TestPut_IdempotentOnSameID(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	created, err := store.Put(ctx, testObservation())
	require.NoError(t, err)
	assert.True(t, created)

	// Re-ingesting identical evidence reproduces the same row, untouched.
	created, err = store.Put(ctx, testObservation())
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Get(ctx, "obs_deterministic_1")
	require.NoError(t, err)
	assert.Equal(t, "INV-001", got.Fields["invoice_number"])
	assert.Equal(t, float64(1000), got.Fields["amount"])
	assert.Equal(t, "src_a", got.SourceID)
}

func TestGet_NotFound(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)

	_, err := store.Get(context.Background(), "obs_missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListByEntity(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	first := testObservation()
	second := testObservation()
	second.ID = "obs_deterministic_2"
	second.Fields = map[string]interface{}{"amount": float64(2000)}

	other := testObservation()
	other.ID = "obs_other_entity"
	other.EntityID = "ent_2"

	for _, obs := range []*Observation{first, second, other} {
		_, err := store.Put(ctx, obs)
		require.NoError(t, err)
	}

	list, err := store.ListByEntity(ctx, "invoice", "ent_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, obs := range list {
		assert.Equal(t, "ent_1", obs.EntityID)
	}
}
