package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/errors"
)

func TestBuiltinRegistry(t *testing.T) {
	registry, err := BuiltinRegistry()
	require.NoError(t, err)

	caps := registry.List()
	require.NotEmpty(t, caps)

	invoice, err := registry.Get("store_invoice:v1")
	require.NoError(t, err)
	assert.Equal(t, "store_invoice", invoice.Intent)
	assert.Equal(t, "invoice", invoice.PrimaryEntityType)
	assert.True(t, invoice.Canonicalization.NormalizeStrings)
	require.NotEmpty(t, invoice.ExtractionRules)
	assert.Equal(t, ExtractPayloadSelf, invoice.ExtractionRules[0].Type)

	latest, err := registry.Latest("store_email")
	require.NoError(t, err)
	assert.Equal(t, "store_email:v1", latest.ID)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewRegistry()
	cap := &Capability{
		Intent:            "store_note",
		Version:           1,
		PrimaryEntityType: "note",
	}

	require.NoError(t, registry.Register(cap))
	err := registry.Register(cap)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestRegistry_LatestTracksHighestVersion(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&Capability{Intent: "store_note", Version: 1, PrimaryEntityType: "note"}))
	require.NoError(t, registry.Register(&Capability{Intent: "store_note", Version: 2, PrimaryEntityType: "note"}))

	latest, err := registry.Latest("store_note")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	// Both versions remain addressable.
	v1, err := registry.Get("store_note:v1")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
}

func TestCapability_Validate(t *testing.T) {
	// Rule types that read a field require source_field.
	invalid := &Capability{
		Intent:            "store_note",
		Version:           1,
		PrimaryEntityType: "note",
		ExtractionRules:   []ExtractionRule{{EntityType: "person", Type: ExtractFieldValue}},
	}
	assert.Error(t, invalid.Validate())

	// Mismatched id is rejected.
	mismatched := &Capability{
		ID:                "store_note:v2",
		Intent:            "store_note",
		Version:           1,
		PrimaryEntityType: "note",
	}
	assert.Error(t, mismatched.Validate())

	// Empty id is derived.
	derived := &Capability{Intent: "store_note", Version: 3, PrimaryEntityType: "note"}
	require.NoError(t, derived.Validate())
	assert.Equal(t, "store_note:v3", derived.ID)
}
