package enhance

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/fragment"
	stratatest "github.com/stratahq/strata/internal/testing"
	"github.com/stratahq/strata/schema"
	"github.com/stratahq/strata/typeinfer"
)

func testEnhanceConfig() config.EnhanceConfig {
	return config.EnhanceConfig{
		FrequencyThreshold:  5,
		ConfidenceThreshold: 0.7,
		MinDistinctSources:  2,
		FieldNameBlacklist:  []string{"tmp_*", "temp_*", "debug_*", "test_*", "*_raw", "*_tmp"},
		MaxRetries:          3,
	}
}

// seedFragments records the same field from several sources so it crosses
// the frequency and distinct-source gates.
func seedFragments(t *testing.T, fragments *fragment.Store, key string, values []string) {
	t.Helper()
	ctx := context.Background()
	for i, value := range values {
		err := fragments.Record(ctx, &fragment.Fragment{
			EntityType:     "invoice",
			EntityID:       "ent_1",
			FragmentKey:    key,
			FragmentValue:  value,
			SourceID:       fmt.Sprintf("src_%d", i%3),
			EnvelopeReason: "field not in schema",
		})
		require.NoError(t, err)
	}
}

func TestChecker_BlacklistAndNameValidity(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	fragments := fragment.NewStore(database, nil)
	schemas := schema.NewRegistry(schema.NewStore(database, nil), nil)
	checker := NewChecker(fragments, schemas, testEnhanceConfig(), nil)
	ctx := context.Background()

	for _, name := range []string{"tmp_scratch", "debug_flags", "payload_raw", "field_tmp"} {
		verdict, err := checker.Check(ctx, "invoice", name, "")
		require.NoError(t, err)
		assert.False(t, verdict.Eligible, "blacklisted name %s must not be eligible", name)
		assert.Contains(t, verdict.Reason, "blacklist")
	}

	for _, name := range []string{"_leading", "trailing_", "has space", "has-dash", "wayyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy_too_long_for_a_field"} {
		verdict, err := checker.Check(ctx, "invoice", name, "")
		require.NoError(t, err)
		assert.False(t, verdict.Eligible, "invalid name %s must not be eligible", name)
	}
}

func TestChecker_FrequencyAndSourceGates(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	fragments := fragment.NewStore(database, nil)
	schemas := schema.NewRegistry(schema.NewStore(database, nil), nil)
	checker := NewChecker(fragments, schemas, testEnhanceConfig(), nil)
	ctx := context.Background()

	// Below the frequency threshold.
	require.NoError(t, fragments.Record(ctx, &fragment.Fragment{
		EntityType: "invoice", FragmentKey: "due_date", FragmentValue: `"2024-01-15"`, SourceID: "src_a",
	}))
	verdict, err := checker.Check(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	assert.False(t, verdict.Eligible)
	assert.Contains(t, verdict.Reason, "frequency")

	// High frequency from a single source is still ineligible.
	for i := 0; i < 10; i++ {
		require.NoError(t, fragments.Record(ctx, &fragment.Fragment{
			EntityType: "invoice", FragmentKey: "due_date", FragmentValue: `"2024-01-15"`, SourceID: "src_a",
		}))
	}
	verdict, err = checker.Check(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	assert.False(t, verdict.Eligible)
	assert.Contains(t, verdict.Reason, "distinct source")
}

func TestChecker_NewFieldRecommendsAddFields(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	fragments := fragment.NewStore(database, nil)
	schemas := schema.NewRegistry(schema.NewStore(database, nil), nil)
	checker := NewChecker(fragments, schemas, testEnhanceConfig(), nil)
	ctx := context.Background()

	seedFragments(t, fragments, "due_date", []string{
		`"2024-01-15"`, `"2024-02-01"`, `"2024-03-10"`, `"2024-04-22"`, `"2024-05-30"`, `"2024-06-18"`,
	})

	verdict, err := checker.Check(ctx, "invoice", "due_date", "")
	require.NoError(t, err)
	require.True(t, verdict.Eligible, "reason: %s", verdict.Reason)
	assert.Equal(t, RecommendAddFields, verdict.RecommendationType)
	assert.Equal(t, typeinfer.KindDate, verdict.InferredType)
	assert.Nil(t, verdict.Converter)
}

func TestChecker_DeclaredFieldRecommendsConverter(t *testing.T) {
	database := stratatest.CreateTestDB(t)
	fragments := fragment.NewStore(database, nil)
	schemas := schema.NewRegistry(schema.NewStore(database, nil), nil)
	checker := NewChecker(fragments, schemas, testEnhanceConfig(), nil)
	ctx := context.Background()

	require.NoError(t, schemas.Register(ctx, &schema.Definition{
		EntityType: "invoice",
		Version:    "1.0",
		Scope:      schema.ScopeGlobal,
		Fields:     map[string]schema.FieldDefinition{"issued_date": {Type: "date"}},
	}, true))

	// Epoch-ms numbers arriving for a declared date field.
	seedFragments(t, fragments, "issued_date", []string{
		"1700000000000", "1700003600000", "1700007200000", "1700010800000", "1700014400000", "1700018000000",
	})

	verdict, err := checker.Check(ctx, "invoice", "issued_date", "")
	require.NoError(t, err)
	require.True(t, verdict.Eligible, "reason: %s", verdict.Reason)
	assert.Equal(t, RecommendAddConverters, verdict.RecommendationType)
	require.NotNil(t, verdict.Converter)
	assert.Equal(t, "epoch_ms_to_iso8601", verdict.Converter.Function)
}

func TestDetectConverterNeeded(t *testing.T) {
	tests := []struct {
		name         string
		declared     schema.FieldDefinition
		conf         Confidence
		wantFunction string
		wantFrom     string
		wantReason   string
	}{
		{
			name:       "conforming values need nothing",
			declared:   schema.FieldDefinition{Type: "string"},
			conf:       Confidence{DominantKind: typeinfer.KindString},
			wantReason: "declared type already matches observed values",
		},
		{
			name:         "epoch numbers against a declared date field",
			declared:     schema.FieldDefinition{Type: "date"},
			conf:         Confidence{DominantKind: typeinfer.KindDate, EpochUnit: "ms"},
			wantFunction: "epoch_ms_to_iso8601",
			wantFrom:     "number",
		},
		{
			name:         "numbers against a declared string field",
			declared:     schema.FieldDefinition{Type: "string"},
			conf:         Confidence{DominantKind: typeinfer.KindNumber},
			wantFunction: "number_to_string",
			wantFrom:     "number",
		},
		{
			name:       "no builtin bridges the pair",
			declared:   schema.FieldDefinition{Type: "date"},
			conf:       Confidence{DominantKind: typeinfer.KindString},
			wantReason: "no converter covers string -> date",
		},
		{
			name: "converter already declared",
			declared: schema.FieldDefinition{
				Type:       "date",
				Converters: []schema.ConverterSpec{{From: "number", To: "date", Function: "epoch_s_to_iso8601"}},
			},
			conf:       Confidence{DominantKind: typeinfer.KindDate, EpochUnit: "s"},
			wantReason: "converter already declared on field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, reason := DetectConverterNeeded(tt.declared, tt.conf)
			if tt.wantFunction == "" {
				require.Nil(t, spec)
				assert.Equal(t, tt.wantReason, reason)
				return
			}
			require.NotNil(t, spec)
			assert.Empty(t, reason)
			assert.Equal(t, tt.wantFunction, spec.Function)
			assert.Equal(t, tt.wantFrom, spec.From)
			assert.Equal(t, tt.declared.Type, spec.To)
			assert.True(t, spec.Deterministic)
		})
	}
}

func TestMatchesBlacklist(t *testing.T) {
	patterns := []string{"tmp_*", "*_raw", "exact"}
	assert.True(t, matchesBlacklist("tmp_field", patterns))
	assert.True(t, matchesBlacklist("payload_raw", patterns))
	assert.True(t, matchesBlacklist("exact", patterns))
	assert.True(t, matchesBlacklist("EXACT", patterns))
	assert.False(t, matchesBlacklist("tmpfield_x", patterns))
	assert.False(t, matchesBlacklist("raw_payload", patterns))
}

func TestValidFieldName(t *testing.T) {
	assert.True(t, validFieldName("due_date"))
	assert.True(t, validFieldName("a"))
	assert.True(t, validFieldName("field2"))
	assert.False(t, validFieldName(""))
	assert.False(t, validFieldName("_private"))
	assert.False(t, validFieldName("trailing_"))
	assert.False(t, validFieldName("has space"))
	assert.False(t, validFieldName("has.dot"))
}
