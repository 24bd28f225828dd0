// Package enhance implements confidence-scored auto-enhancement: accumulated
// raw fragments are inspected, scored, and (above threshold) promoted into
// schema fields via incremental schema updates, with a durable work queue in
// front of the pipeline.
package enhance

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/stratahq/strata/typeinfer"
)

// Confidence score component weights. Deterministic by construction: the same
// field name and sample multiset always produce the same score.
const (
	weightTypeConsistency   = 0.5
	weightNamingPattern     = 0.3
	weightFormatConsistency = 0.2
)

// Confidence breaks a field's promotion score into its components.
type Confidence struct {
	Score             float64        `json:"score"`
	DominantKind      typeinfer.Kind `json:"dominant_kind"`
	TypeConsistency   float64        `json:"type_consistency"`
	NamingScore       float64        `json:"naming_score"`
	FormatConsistency float64        `json:"format_consistency"`

	// EpochUnit is set when the dominant representation is an epoch-shaped
	// number ("s", "ms", or "ns"), which selects the converter to suggest.
	EpochUnit string `json:"epoch_unit,omitempty"`
}

// namingPatterns maps field-name shapes to the kind they conventionally
// carry. A name that matches and agrees with the observed dominant kind is
// strong evidence; a match that disagrees is evidence against promotion.
var namingPatterns = []struct {
	prefix string
	suffix string
	kind   typeinfer.Kind
}{
	{suffix: "_date", kind: typeinfer.KindDate},
	{suffix: "_at", kind: typeinfer.KindDate},
	{suffix: "_time", kind: typeinfer.KindDate},
	{suffix: "_timestamp", kind: typeinfer.KindDate},
	{prefix: "is_", kind: typeinfer.KindBoolean},
	{prefix: "has_", kind: typeinfer.KindBoolean},
	{suffix: "_count", kind: typeinfer.KindNumber},
	{suffix: "_total", kind: typeinfer.KindNumber},
	{suffix: "_amount", kind: typeinfer.KindNumber},
	{suffix: "_id", kind: typeinfer.KindString},
	{suffix: "_name", kind: typeinfer.KindString},
	{suffix: "_email", kind: typeinfer.KindString},
}

// kindPrecedence breaks frequency ties the same way the inference precedence
// order does, so dominance is total and stable.
var kindPrecedence = map[typeinfer.Kind]int{
	typeinfer.KindDate:    0,
	typeinfer.KindNumber:  1,
	typeinfer.KindBoolean: 2,
	typeinfer.KindString:  3,
	typeinfer.KindArray:   4,
	typeinfer.KindObject:  5,
	typeinfer.KindNull:    6,
}

// CalculateFieldConfidence scores one candidate field from its stored sample
// values. Components:
//
//   - type consistency: fraction of samples whose inferred kind matches the
//     dominant kind
//   - naming pattern: whether the field name's conventional kind agrees with
//     the dominant kind (neutral 0.5 when the name matches no convention)
//   - format consistency: within the dominant kind, fraction of samples
//     sharing the most common representation (ISO vs epoch-s vs epoch-ms...)
func CalculateFieldConfidence(fieldName string, samples []string) Confidence {
	if len(samples) == 0 {
		return Confidence{DominantKind: typeinfer.KindString}
	}

	kindCounts := map[typeinfer.Kind]int{}
	reprCounts := map[string]int{}
	for _, raw := range samples {
		value := ParseFragmentValue(raw)
		kind := typeinfer.Infer(value)
		kindCounts[kind]++
		reprCounts[representation(kind, value)]++
	}

	dominant := dominantKind(kindCounts)
	conf := Confidence{
		DominantKind:    dominant,
		TypeConsistency: float64(kindCounts[dominant]) / float64(len(samples)),
	}

	dominantRepr, dominantReprCount := dominantRepresentation(reprCounts, dominant)
	conf.FormatConsistency = float64(dominantReprCount) / float64(kindCounts[dominant])
	if unit, found := strings.CutPrefix(dominantRepr, string(typeinfer.KindDate)+":epoch_"); found {
		conf.EpochUnit = unit
	}

	conf.NamingScore = namingScore(fieldName, dominant)
	conf.Score = weightTypeConsistency*conf.TypeConsistency +
		weightNamingPattern*conf.NamingScore +
		weightFormatConsistency*conf.FormatConsistency
	return conf
}

func dominantKind(counts map[typeinfer.Kind]int) typeinfer.Kind {
	best := typeinfer.KindString
	bestCount := -1
	for kind, count := range counts {
		if count > bestCount || (count == bestCount && kindPrecedence[kind] < kindPrecedence[best]) {
			best, bestCount = kind, count
		}
	}
	return best
}

func dominantRepresentation(reprCounts map[string]int, kind typeinfer.Kind) (string, int) {
	prefix := string(kind) + ":"
	best, bestCount := "", -1
	for repr, count := range reprCounts {
		if !strings.HasPrefix(repr, prefix) && repr != string(kind) {
			continue
		}
		if count > bestCount || (count == bestCount && repr < best) {
			best, bestCount = repr, count
		}
	}
	if bestCount < 0 {
		return string(kind), 0
	}
	return best, bestCount
}

// representation refines a kind with its concrete shape so format consistency
// can tell ISO date strings apart from epoch numbers of different units.
func representation(kind typeinfer.Kind, value interface{}) string {
	if kind != typeinfer.KindDate {
		return string(kind)
	}
	if f, ok := asNumeric(value); ok {
		return string(kind) + ":epoch_" + typeinfer.EpochUnit(f)
	}
	return string(kind) + ":iso8601"
}

func asNumeric(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := json.Number(strings.TrimSpace(v)).Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func namingScore(fieldName string, dominant typeinfer.Kind) float64 {
	name := strings.ToLower(fieldName)
	for _, pattern := range namingPatterns {
		matched := (pattern.prefix != "" && strings.HasPrefix(name, pattern.prefix)) ||
			(pattern.suffix != "" && strings.HasSuffix(name, pattern.suffix))
		if !matched {
			continue
		}
		if pattern.kind == dominant {
			return 1.0
		}
		return 0.2
	}
	// No convention either way.
	return 0.5
}

// ParseFragmentValue decodes a stored fragment value back into a runtime
// value. Fragment values are JSON-encoded at ingest; anything that does not
// parse is treated as the literal string it is.
func ParseFragmentValue(raw string) interface{} {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return raw
	}
	// Surface json.Number as float64 so inference and converters see the
	// same numeric representation ingest produces.
	if n, ok := value.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return value
}
