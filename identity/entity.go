package identity

import (
	"strings"
)

// companyFamilyTypes are entity types whose names carry legal-form suffixes
// that must not affect identity ("Acme Corp" and "Acme Inc" are the same
// company for dedup purposes).
var companyFamilyTypes = map[string]bool{
	"company":      true,
	"organization": true,
	"vendor":       true,
	"employer":     true,
}

// legalSuffixes are stripped from company-family names, but only when they
// terminate the trimmed string. Matching is case-insensitive.
var legalSuffixes = []string{
	"incorporated",
	"corporation",
	"limited",
	"company",
	"corp",
	"inc",
	"llc",
	"ltd",
	"co",
}

// canonicalNamePreference orders the fields DeriveCanonicalNameFromFields
// consults. Stable external identifiers come strictly before anything
// derived or descriptive, so two records that share only a generic
// attribute (like a common source platform) never collapse into one entity.
var canonicalNamePreference = []string{
	"message_id",
	"external_id",
	"uuid",
	"guid",
	"id",
	"email",
	"canonical_name",
	"full_name",
	"name",
	"title",
	"subject",
}

// GenerateEntityID computes the deterministic identity of an entity from its
// type and a raw display name. Normalization is per-type: company-family
// types strip terminal legal-form suffixes, then all types collapse
// whitespace and fold case. The type participates in the hash, so
// ("company", "Acme") and ("person", "Acme") are distinct entities.
func GenerateEntityID(entityType, rawName string) string {
	return hashHex(entityType, NormalizeEntityName(entityType, rawName))
}

// NormalizeEntityName returns the canonical form of an entity name.
func NormalizeEntityName(entityType, rawName string) string {
	name := strings.TrimSpace(rawName)
	name = strings.ToLower(name)
	name = strings.Trim(name, ".,")
	name = collapseWhitespace(name)

	if companyFamilyTypes[entityType] {
		name = stripLegalSuffixes(name)
	}
	return name
}

// stripLegalSuffixes removes trailing legal-form tokens. Runs to a fixed
// point so "acme holdings co ltd" reduces to "acme holdings".
func stripLegalSuffixes(name string) string {
	for {
		stripped := false
		for _, suffix := range legalSuffixes {
			trimmed := strings.TrimSuffix(name, suffix)
			if trimmed == name {
				continue
			}
			// Suffix must be its own trailing token, not part of a word:
			// "acme corp" strips, "velocorp" does not.
			rest := strings.TrimRight(trimmed, " .,")
			if rest != "" && !strings.HasSuffix(trimmed, " ") {
				continue
			}
			name = rest
			stripped = true
			break
		}
		if !stripped || name == "" {
			return name
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DeriveCanonicalNameFromFields picks the name an entity should be keyed by
// when it is extracted from a whole payload rather than a single field. A
// stable external identifier always wins over derived or descriptive fields.
// Returns "" when no usable field exists; callers fall back to the payload
// content id in that case.
func DeriveCanonicalNameFromFields(entityType string, fields map[string]interface{}) string {
	for _, key := range canonicalNamePreference {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if s, ok := value.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
