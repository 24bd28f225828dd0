package enhance

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/fragment"
	stratatest "github.com/stratahq/strata/internal/testing"
	"github.com/stratahq/strata/observation"
	"github.com/stratahq/strata/schema"
)

type testHarness struct {
	db           *sql.DB
	fragments    *fragment.Store
	observations *observation.Store
	schemas      *schema.Registry
	recs         *RecommendationStore
	service      *Service
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	database := stratatest.CreateTestDB(t)

	fragments := fragment.NewStore(database, nil)
	observations := observation.NewStore(database, nil)
	schemas := schema.NewRegistry(schema.NewStore(database, nil), nil)

	migrator := NewMigrator(fragments, observations, schemas, config.MigrationConfig{BatchSize: 100, MaxRowsPerRun: 10000}, nil)
	schemas.SetMigrator(migrator)

	checker := NewChecker(fragments, schemas, testEnhanceConfig(), nil)
	recs := NewRecommendationStore(database, nil)

	return &testHarness{
		db:           database,
		fragments:    fragments,
		observations: observations,
		schemas:      schemas,
		recs:         recs,
		service:      NewService(checker, recs, schemas, nil),
	}
}

func (h *testHarness) seedDateFragments(t *testing.T, key string, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		err := h.fragments.Record(ctx, &fragment.Fragment{
			EntityType:     "invoice",
			EntityID:       "ent_1",
			FragmentKey:    key,
			FragmentValue:  fmt.Sprintf(`"2024-0%d-15"`, i%9+1),
			SourceID:       fmt.Sprintf("src_%d", i%3),
			EnvelopeReason: "field not in schema",
		})
		require.NoError(t, err)
	}
}

func TestAutoEnhance_PromotesNewField(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.schemas.Register(ctx, &schema.Definition{
		EntityType: "invoice",
		Version:    "1.0",
		Scope:      schema.ScopeGlobal,
		Fields:     map[string]schema.FieldDefinition{"invoice_number": {Type: "string"}},
	}, true))

	h.seedDateFragments(t, "due_date", 6)

	outcome, err := h.service.AutoEnhance(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	require.True(t, outcome.Applied, "reason: %s", outcome.Reason)

	// The active schema gained the field and bumped its minor version.
	active, err := h.schemas.LoadActive(ctx, "invoice", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1", active.Version)
	require.Contains(t, active.Fields, "due_date")
	assert.Equal(t, "date", active.Fields["due_date"].Type)

	// The recommendation is recorded as auto-applied.
	rec, err := h.recs.Get(ctx, "invoice", "", "due_date")
	require.NoError(t, err)
	assert.Equal(t, RecStatusAutoApplied, rec.Status)
	assert.Equal(t, RecommendAddFields, rec.RecommendationType)
}

func TestAutoEnhance_SecondRunIsNoOp(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.schemas.Register(ctx, &schema.Definition{
		EntityType: "invoice",
		Version:    "1.0",
		Scope:      schema.ScopeGlobal,
		Fields:     map[string]schema.FieldDefinition{"invoice_number": {Type: "string"}},
	}, true))
	h.seedDateFragments(t, "due_date", 6)

	first, err := h.service.AutoEnhance(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	require.True(t, first.Applied)

	// Fragments were migrated, so the field is now declared and the evidence
	// pool is drained; the second attempt skips without a new version.
	second, err := h.service.AutoEnhance(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	assert.False(t, second.Applied)

	active, err := h.schemas.LoadActive(ctx, "invoice", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1", active.Version)
}

func TestAutoEnhance_SkipsIneligibleCandidate(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// Only two fragments: below the frequency threshold.
	require.NoError(t, h.fragments.Record(ctx, &fragment.Fragment{
		EntityType: "invoice", FragmentKey: "due_date", FragmentValue: `"2024-01-15"`, SourceID: "src_a",
	}))

	outcome, err := h.service.AutoEnhance(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.NotEmpty(t, outcome.Reason)
}

func TestAutoEnhance_MigratesFragmentsIntoObservations(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.schemas.Register(ctx, &schema.Definition{
		EntityType: "invoice",
		Version:    "1.0",
		Scope:      schema.ScopeGlobal,
		Fields:     map[string]schema.FieldDefinition{"invoice_number": {Type: "string"}},
	}, true))
	h.seedDateFragments(t, "due_date", 6)

	outcome, err := h.service.AutoEnhance(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	require.True(t, outcome.Applied)

	// Conforming fragments were promoted to observations for their entity.
	observations, err := h.observations.ListByEntity(ctx, "invoice", "ent_1")
	require.NoError(t, err)
	assert.NotEmpty(t, observations)
	for _, obs := range observations {
		assert.Contains(t, obs.Fields, "due_date")
	}

	// The promoted fragments are gone from the evidence pool.
	stats, err := h.fragments.Stats(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalFrequency)
}
