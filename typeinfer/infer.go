// Package typeinfer classifies runtime values into schema type kinds.
//
// The classifier is pure and table-driven, shared by field validation and
// auto-enhancement so both sides agree on what a value "looks like".
// Precedence order is documented and deliberate:
//
//  1. date shapes (ISO-8601 strings, epoch-range numerics)
//  2. number shapes (numeric strings, non-epoch numerics)
//  3. boolean literals
//  4. string (the residual kind)
//
// Date shapes are checked before numeric shapes so epoch timestamps are not
// misclassified as plain numbers.
package typeinfer

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the inferred schema type of a runtime value.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindDate    Kind = "date"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindNull    Kind = "null"
)

// Plausible epoch windows per unit, [1990-01-01, 2100-01-01). Values outside
// these windows are classified as plain numbers, not dates. The 1990 floor
// keeps the s/ms/ns windows pairwise disjoint; a 1970 floor would make the
// unit of a bare number ambiguous.
const (
	EpochSecondsMin = 631152000     // 1990-01-01T00:00:00Z
	EpochSecondsMax = 4102444800    // 2100-01-01T00:00:00Z
	EpochMillisMin  = EpochSecondsMin * 1000
	EpochMillisMax  = EpochSecondsMax * 1000
	EpochNanosMin   = EpochSecondsMin * int64(time.Second)
	EpochNanosMax   = EpochSecondsMax * int64(time.Second)
)

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

var booleanLiterals = map[string]bool{
	"true": true, "false": true,
	"yes": true, "no": true,
}

// Infer classifies a runtime value. Container and null kinds are structural;
// scalar kinds follow the documented precedence.
func Infer(value interface{}) Kind {
	switch v := value.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBoolean
	case []interface{}:
		return KindArray
	case map[string]interface{}:
		return KindObject
	case float64:
		return inferNumeric(v)
	case int:
		return inferNumeric(float64(v))
	case int64:
		return inferNumeric(float64(v))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return inferNumeric(f)
		}
		return KindString
	case string:
		return inferString(v)
	default:
		return KindString
	}
}

func inferNumeric(f float64) Kind {
	if IsEpochRange(f) {
		return KindDate
	}
	return KindNumber
}

func inferString(s string) Kind {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return KindString
	}

	// Date shapes first: ISO-8601 strings, then epoch-shaped numeric strings.
	if isoDatePattern.MatchString(trimmed) {
		return KindDate
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return inferNumeric(f)
	}
	if booleanLiterals[strings.ToLower(trimmed)] {
		return KindBoolean
	}
	return KindString
}

// IsEpochRange reports whether a numeric value falls inside any plausible
// epoch window (seconds, milliseconds, or nanoseconds).
func IsEpochRange(f float64) bool {
	return EpochUnit(f) != ""
}

// EpochUnit returns the epoch unit a numeric value plausibly encodes:
// "s", "ms", "ns", or "" when it is outside every window. Windows are
// disjoint (ms starts where s ends times 1000), so the answer is unique.
func EpochUnit(f float64) string {
	switch {
	case f >= EpochSecondsMin && f < EpochSecondsMax:
		return "s"
	case f >= float64(EpochMillisMin) && f < float64(EpochMillisMax):
		return "ms"
	case f >= float64(EpochNanosMin) && f < float64(EpochNanosMax):
		return "ns"
	default:
		return ""
	}
}
