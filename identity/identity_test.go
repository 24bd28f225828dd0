package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/capability"
)

func invoiceCapability() *capability.Capability {
	return &capability.Capability{
		ID:                "store_invoice:v1",
		Intent:            "store_invoice",
		Version:           1,
		PrimaryEntityType: "invoice",
		Canonicalization: capability.Canonicalization{
			IncludedFields:   []string{"invoice_number", "amount", "currency", "vendor_name"},
			NormalizeStrings: true,
			SortArrays:       true,
		},
	}
}

func TestComputePayloadContentID_Deterministic(t *testing.T) {
	cap := invoiceCapability()
	body := map[string]interface{}{
		"invoice_number": "  INV-001  ",
		"amount":         float64(1000),
	}

	norm, err := Normalize(body, cap)
	require.NoError(t, err)

	first, err := ComputePayloadContentID(cap.ID, norm, []string{"s1"}, "v1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := ComputePayloadContentID(cap.ID, norm, []string{"s1"}, "v1")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputePayloadContentID_SourceRefOrderIndependent(t *testing.T) {
	cap := invoiceCapability()
	norm, err := Normalize(map[string]interface{}{"invoice_number": "INV-001"}, cap)
	require.NoError(t, err)

	a, err := ComputePayloadContentID(cap.ID, norm, []string{"s1", "s2"}, "v1")
	require.NoError(t, err)
	b, err := ComputePayloadContentID(cap.ID, norm, []string{"s2", "s1"}, "v1")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	single, err := ComputePayloadContentID(cap.ID, norm, []string{"s1"}, "v1")
	require.NoError(t, err)
	assert.NotEqual(t, a, single)
}

func TestComputePayloadContentID_ExtractorVersionSensitive(t *testing.T) {
	cap := invoiceCapability()
	norm, err := Normalize(map[string]interface{}{"invoice_number": "INV-001"}, cap)
	require.NoError(t, err)

	v1, err := ComputePayloadContentID(cap.ID, norm, []string{"s1"}, "v1")
	require.NoError(t, err)
	v2, err := ComputePayloadContentID(cap.ID, norm, []string{"s1"}, "v2")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestNormalize_EquivalentBodiesConverge(t *testing.T) {
	cap := invoiceCapability()

	a, err := Normalize(map[string]interface{}{
		"invoice_number": "  INV-001 ",
		"vendor_name":    "ACME",
		"ignored_field":  "noise",
	}, cap)
	require.NoError(t, err)

	b, err := Normalize(map[string]interface{}{
		"invoice_number": "inv-001",
		"vendor_name":    "acme",
	}, cap)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotContains(t, a, "ignored_field")
}

func TestNormalize_SortsArrays(t *testing.T) {
	cap := &capability.Capability{
		ID:                "store_document:v1",
		Intent:            "store_document",
		Version:           1,
		PrimaryEntityType: "document",
		Canonicalization: capability.Canonicalization{
			IncludedFields: []string{"tags"},
			SortArrays:     true,
		},
	}

	a, err := Normalize(map[string]interface{}{"tags": []interface{}{"zeta", "alpha"}}, cap)
	require.NoError(t, err)
	b, err := Normalize(map[string]interface{}{"tags": []interface{}{"alpha", "zeta"}}, cap)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNewSubmissionID_FreshPerCall(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewSubmissionID()
		assert.True(t, len(id) > 4 && id[:4] == "sub_")
		assert.False(t, seen[id], "submission id repeated: %s", id)
		seen[id] = true
	}
}

func TestComputeCanonicalHash_KeyOrderStable(t *testing.T) {
	a, err := ComputeCanonicalHash(map[string]interface{}{"x": float64(1), "y": "two"})
	require.NoError(t, err)
	b, err := ComputeCanonicalHash(map[string]interface{}{"y": "two", "x": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ComputeCanonicalHash(map[string]interface{}{"x": float64(2), "y": "two"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerateObservationID_EvidenceChain(t *testing.T) {
	base := GenerateObservationID("src_a", "interp_1", "entity_1", "hash_1")
	assert.Equal(t, base, GenerateObservationID("src_a", "interp_1", "entity_1", "hash_1"))
	assert.NotEqual(t, base, GenerateObservationID("src_b", "interp_1", "entity_1", "hash_1"))
	assert.NotEqual(t, base, GenerateObservationID("src_a", "interp_2", "entity_1", "hash_1"))
	assert.NotEqual(t, base, GenerateObservationID("src_a", "interp_1", "entity_2", "hash_1"))
	assert.NotEqual(t, base, GenerateObservationID("src_a", "interp_1", "entity_1", "hash_2"))
}
