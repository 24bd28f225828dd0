// Package schema provides the versioned, scoped schema registry and field
// validation for observation records.
//
// Schemas form an append-only version log per (entity_type, scope, owner_id):
// rows are registered inactive and activation swaps the single active pointer
// inside one transaction. Incremental evolution only ever adds fields and
// converters; nothing is removed or mutated in place.
package schema

import (
	"time"
)

// Scope distinguishes schemas that apply to every owner from owner-specific
// overrides.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeOwner  Scope = "owner"
)

// ConverterSpec declares one converter a field will attempt, in order, when
// an incoming value does not match the declared type.
type ConverterSpec struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Function      string `json:"function"`
	Deterministic bool   `json:"deterministic"`
}

// FieldDefinition declares one schema field.
type FieldDefinition struct {
	Type       string          `json:"type"` // string|number|boolean|date|array|object
	Required   bool            `json:"required"`
	Converters []ConverterSpec `json:"converters,omitempty"`
}

// MergePolicy selects how multiple observations of the same field reduce to
// one value.
type MergePolicy struct {
	Strategy string `json:"strategy"` // last_write_wins|first_write_wins|union
}

// ReducerConfig holds per-field merge policies.
type ReducerConfig struct {
	MergePolicies map[string]MergePolicy `json:"merge_policies,omitempty"`
}

// Definition is one versioned schema row.
type Definition struct {
	EntityType string                     `json:"entity_type"`
	Version    string                     `json:"schema_version"` // dotted MAJOR.MINOR, monotonic
	Scope      Scope                      `json:"scope"`
	OwnerID    string                     `json:"owner_id,omitempty"`
	Active     bool                       `json:"active"`
	Fields     map[string]FieldDefinition `json:"fields"`
	Reducer    ReducerConfig              `json:"reducer_config"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// IncrementalUpdate describes an additive schema evolution request.
type IncrementalUpdate struct {
	EntityType      string
	OwnerID         string // "" targets the global scope
	FieldsToAdd     map[string]FieldDefinition
	ConvertersToAdd map[string][]ConverterSpec
	Activate        bool
	MigrateExisting bool
}
