// Package capability defines the static catalog of payload intents.
//
// A capability is a versioned, named contract describing how a payload
// intent's body is canonicalized before identity computation and which
// entities it implies. Capabilities are immutable once registered; the
// write path only ever reads them.
package capability

import (
	"fmt"
)

// ExtractionType selects how an extraction rule derives entities from a
// payload body.
type ExtractionType string

const (
	// ExtractFieldValue derives one entity from the value of SourceField.
	ExtractFieldValue ExtractionType = "field_value"
	// ExtractPayloadSelf treats the whole payload as one entity.
	ExtractPayloadSelf ExtractionType = "payload_self"
	// ExtractArrayItems derives one entity per item of the array at SourceField.
	ExtractArrayItems ExtractionType = "array_items"
)

// Canonicalization describes how a payload body is normalized before
// identity computation.
type Canonicalization struct {
	// IncludedFields is the ordered set of body fields that participate in
	// identity. Fields not listed are dropped from the canonical body.
	IncludedFields []string `toml:"included_fields"`
	// NormalizeStrings lower-cases and trims string values.
	NormalizeStrings bool `toml:"normalize_strings"`
	// SortArrays sorts array-typed values lexicographically.
	SortArrays bool `toml:"sort_arrays"`
}

// ExtractionRule describes one entity implied by a payload.
type ExtractionRule struct {
	EntityType  string         `toml:"entity_type"`
	Type        ExtractionType `toml:"extraction_type"`
	SourceField string         `toml:"source_field,omitempty"`
}

// Capability is a published payload intent contract.
type Capability struct {
	ID                string           `toml:"id"` // intent:version, e.g. "store_invoice:v1"
	Intent            string           `toml:"intent"`
	Version           int              `toml:"version"`
	PrimaryEntityType string           `toml:"primary_entity_type"`
	SchemaVersion     string           `toml:"schema_version"`
	Canonicalization  Canonicalization `toml:"canonicalization"`
	ExtractionRules   []ExtractionRule `toml:"extraction_rules"`
}

// Validate checks structural well-formedness of a capability definition.
func (c *Capability) Validate() error {
	if c.Intent == "" {
		return fmt.Errorf("capability intent is empty")
	}
	if c.Version < 1 {
		return fmt.Errorf("capability %s: version must be >= 1", c.Intent)
	}
	expectedID := fmt.Sprintf("%s:v%d", c.Intent, c.Version)
	if c.ID == "" {
		c.ID = expectedID
	} else if c.ID != expectedID {
		return fmt.Errorf("capability id %q does not match intent/version (want %q)", c.ID, expectedID)
	}
	if c.PrimaryEntityType == "" {
		return fmt.Errorf("capability %s: primary_entity_type is empty", c.ID)
	}
	for i, rule := range c.ExtractionRules {
		switch rule.Type {
		case ExtractFieldValue, ExtractArrayItems:
			if rule.SourceField == "" {
				return fmt.Errorf("capability %s: extraction rule %d (%s) requires source_field", c.ID, i, rule.Type)
			}
		case ExtractPayloadSelf:
			// No source field needed.
		default:
			return fmt.Errorf("capability %s: extraction rule %d has unknown type %q", c.ID, i, rule.Type)
		}
		if rule.EntityType == "" {
			return fmt.Errorf("capability %s: extraction rule %d has empty entity_type", c.ID, i)
		}
	}
	return nil
}
