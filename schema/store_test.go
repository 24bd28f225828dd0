package schema

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/errors"
	stratatest "github.com/stratahq/strata/internal/testing"
)

func invoiceDefinition(version string) *Definition {
	return &Definition{
		EntityType: "invoice",
		Version:    version,
		Scope:      ScopeGlobal,
		Fields: map[string]FieldDefinition{
			"invoice_number": {Type: "string", Required: true},
			"amount":         {Type: "number"},
		},
	}
}

func TestStore_RegisterAndActivate(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, invoiceDefinition("1.0")))
	require.NoError(t, store.Activate(ctx, "invoice", ScopeGlobal, "", "1.0"))

	active, err := store.LoadActive(ctx, "invoice", "")
	require.NoError(t, err)
	assert.Equal(t, "1.0", active.Version)
	assert.True(t, active.Active)

	// Activating a newer version atomically swaps the single active pointer.
	require.NoError(t, store.Register(ctx, invoiceDefinition("1.1")))
	require.NoError(t, store.Activate(ctx, "invoice", ScopeGlobal, "", "1.1"))

	active, err = store.LoadActive(ctx, "invoice", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1", active.Version)

	versions, err := store.Versions(ctx, "invoice", ScopeGlobal, "")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	activeCount := 0
	for _, def := range versions {
		if def.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "exactly one version may be active")
}

func TestStore_ConcurrentActivateKeepsSingleActive(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	// Each pool connection to a plain :memory: database is its own empty
	// database, so concurrent activations must share the one migrated
	// connection. They still interleave at the transaction level.
	database.SetMaxOpenConns(1)
	store := NewStore(database, nil)
	ctx := context.Background()

	versions := []string{"1.0", "1.1", "1.2", "1.3"}
	for _, version := range versions {
		require.NoError(t, store.Register(ctx, invoiceDefinition(version)))
	}

	const goroutines = 16
	errs := make(chan error, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(version string) {
			defer wg.Done()
			errs <- store.Activate(ctx, "invoice", ScopeGlobal, "", version)
		}(versions[i%len(versions)])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	registered, err := store.Versions(ctx, "invoice", ScopeGlobal, "")
	require.NoError(t, err)
	require.Len(t, registered, len(versions))
	activeCount := 0
	for _, def := range registered {
		if def.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "exactly one version may be active")

	active, err := store.LoadActive(ctx, "invoice", "")
	require.NoError(t, err)
	assert.Contains(t, versions, active.Version)
}

func TestStore_RegisterDuplicateVersion(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, invoiceDefinition("1.0")))
	err := store.Register(ctx, invoiceDefinition("1.0"))
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestStore_ActivateUnknownVersion(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)

	err := store.Activate(context.Background(), "invoice", ScopeGlobal, "", "9.9")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_LoadActiveOwnerOverridesGlobal(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)
	ctx := context.Background()

	global := invoiceDefinition("1.0")
	require.NoError(t, store.Register(ctx, global))
	require.NoError(t, store.Activate(ctx, "invoice", ScopeGlobal, "", "1.0"))

	owned := invoiceDefinition("2.0")
	owned.Scope = ScopeOwner
	owned.OwnerID = "acme"
	require.NoError(t, store.Register(ctx, owned))
	require.NoError(t, store.Activate(ctx, "invoice", ScopeOwner, "acme", "2.0"))

	// The owner sees their override.
	active, err := store.LoadActive(ctx, "invoice", "acme")
	require.NoError(t, err)
	assert.Equal(t, "2.0", active.Version)

	// Everyone else still resolves the global schema.
	active, err = store.LoadActive(ctx, "invoice", "globex")
	require.NoError(t, err)
	assert.Equal(t, "1.0", active.Version)

	active, err = store.LoadActive(ctx, "invoice", "")
	require.NoError(t, err)
	assert.Equal(t, "1.0", active.Version)
}

func TestStore_LoadActiveNotFound(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	store := NewStore(database, nil)

	_, err := store.LoadActive(context.Background(), "unknown_type", "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}
