// Package identity computes deterministic content identifiers for payloads,
// entities, and observations.
//
// Every function here is pure: same input, same identifier, forever. SHA-256
// is the only hash primitive; substituting it changes all identifiers and
// must be treated as a breaking schema change. Nothing in this package may
// consult a clock, RNG, or external state; the single exception is
// NewSubmissionID, which exists precisely to distinguish repeated submission
// attempts and is never used for content equality.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/stratahq/strata/capability"
	"github.com/stratahq/strata/errors"
)

// sep separates hash input segments. A non-printable byte keeps adjacent
// segments from colliding ("ab"+"c" vs "a"+"bc").
const sep = "\x1f"

func hashHex(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte(sep))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize canonicalizes a payload body according to the capability's
// canonicalization rules: fields outside IncludedFields are dropped, string
// values are folded when NormalizeStrings is set, and array values are sorted
// lexicographically (by canonical encoding) when SortArrays is set.
//
// The result is comparison-stable: two bodies that differ only in excluded
// fields, string case, surrounding whitespace, or array ordering normalize
// to equal maps.
func Normalize(body map[string]interface{}, cap *capability.Capability) (map[string]interface{}, error) {
	rules := cap.Canonicalization
	normalized := make(map[string]interface{}, len(rules.IncludedFields))

	for _, field := range rules.IncludedFields {
		value, ok := body[field]
		if !ok {
			continue
		}
		nv, err := normalizeValue(value, rules)
		if err != nil {
			return nil, errors.Wrapf(err, "normalize field %s", field)
		}
		normalized[field] = nv
	}
	return normalized, nil
}

func normalizeValue(value interface{}, rules capability.Canonicalization) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if rules.NormalizeStrings {
			return strings.ToLower(strings.TrimSpace(v)), nil
		}
		return v, nil
	case []interface{}:
		items := make([]interface{}, len(v))
		for i, item := range v {
			ni, err := normalizeValue(item, rules)
			if err != nil {
				return nil, err
			}
			items[i] = ni
		}
		if rules.SortArrays {
			if err := sortCanonical(items); err != nil {
				return nil, err
			}
		}
		return items, nil
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(v))
		for k, item := range v {
			ni, err := normalizeValue(item, rules)
			if err != nil {
				return nil, err
			}
			nested[k] = ni
		}
		return nested, nil
	default:
		return value, nil
	}
}

// sortCanonical orders array items by their canonical JSON encoding, which
// gives a total, type-stable ordering for heterogeneous arrays.
func sortCanonical(items []interface{}) error {
	keys := make([]string, len(items))
	for i, item := range items {
		k, err := CanonicalJSON(item)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	sort.Sort(&byCanonicalKey{keys: keys, items: items})
	return nil
}

type byCanonicalKey struct {
	keys  []string
	items []interface{}
}

func (s *byCanonicalKey) Len() int           { return len(s.keys) }
func (s *byCanonicalKey) Less(i, j int) bool { return s.keys[i] < s.keys[j] }
func (s *byCanonicalKey) Swap(i, j int) {
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
	s.items[i], s.items[j] = s.items[j], s.items[i]
}

// ComputePayloadContentID derives the deterministic content identifier of a
// payload from its capability, normalized body, source refs, and extractor
// version. Source ref ordering does not matter; everything else does.
func ComputePayloadContentID(capabilityID string, normalizedBody map[string]interface{}, sourceRefs []string, extractorVersion string) (string, error) {
	bodyJSON, err := CanonicalJSON(normalizedBody)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize payload body")
	}

	refs := make([]string, len(sourceRefs))
	copy(refs, sourceRefs)
	sort.Strings(refs)

	return hashHex(capabilityID, bodyJSON, strings.Join(refs, ","), extractorVersion), nil
}

// NewSubmissionID returns a fresh random identifier for one submission
// attempt. Two calls never return the same value; content equality is the
// content id's job, not this one's.
func NewSubmissionID() string {
	return "sub_" + uuid.NewString()
}

// ComputeCanonicalHash hashes an arbitrarily nested field map. Stable under
// key reordering, sensitive to any value change including nested structures
// and arrays.
func ComputeCanonicalHash(fields map[string]interface{}) (string, error) {
	fieldsJSON, err := CanonicalJSON(fields)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize fields")
	}
	return hashHex(fieldsJSON), nil
}

// GenerateObservationID derives the identifier of one observation from its
// full evidence chain: which bytes (source), which reading of those bytes
// (interpretation), which entity, and which field values.
func GenerateObservationID(sourceID, interpretationID, entityID, canonicalFieldHash string) string {
	return hashHex(sourceID, interpretationID, entityID, canonicalFieldHash)
}
