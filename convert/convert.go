// Package convert provides the built-in field converter functions.
//
// Every converter is pure and total over its declared domain: the same input
// always yields the same output, or the same documented failure. Failures are
// reported through the ok return, never through panics; bad data is the
// caller's routing decision, not an exception.
package convert

import (
	"strconv"
	"strings"
	"time"

	"github.com/stratahq/strata/typeinfer"
)

// Func converts a value from one type tag to another. ok=false means the
// input is outside the converter's domain and the original value must be
// left untouched.
type Func func(value interface{}) (converted interface{}, ok bool)

// builtins maps converter function names (as referenced by schema
// FieldDefinition converter specs) to implementations.
var builtins = map[string]Func{
	"epoch_s_to_iso8601":  epochToISO8601("s"),
	"epoch_ms_to_iso8601": epochToISO8601("ms"),
	"epoch_ns_to_iso8601": epochToISO8601("ns"),
	"number_to_string":    numberToString,
	"string_to_number":    stringToNumber,
	"boolean_to_string":   booleanToString,
	"string_to_boolean":   stringToBoolean,
}

// Apply runs the named converter. ok=false when the converter does not exist
// or the value is outside its domain.
func Apply(name string, value interface{}) (interface{}, bool) {
	fn, exists := builtins[name]
	if !exists {
		return nil, false
	}
	return fn(value)
}

// Exists reports whether a converter function name is known.
func Exists(name string) bool {
	_, ok := builtins[name]
	return ok
}

// ForKinds returns the builtin converter name for a from->to kind pair, or ""
// when no builtin covers it. Used by auto-enhancement to suggest converters.
func ForKinds(from, to typeinfer.Kind, epochUnit string) string {
	switch {
	case to == typeinfer.KindDate && (from == typeinfer.KindNumber || from == typeinfer.KindDate):
		switch epochUnit {
		case "s":
			return "epoch_s_to_iso8601"
		case "ms":
			return "epoch_ms_to_iso8601"
		case "ns":
			return "epoch_ns_to_iso8601"
		}
		return ""
	case from == typeinfer.KindNumber && to == typeinfer.KindString:
		return "number_to_string"
	case from == typeinfer.KindString && to == typeinfer.KindNumber:
		return "string_to_number"
	case from == typeinfer.KindBoolean && to == typeinfer.KindString:
		return "boolean_to_string"
	case from == typeinfer.KindString && to == typeinfer.KindBoolean:
		return "string_to_boolean"
	default:
		return ""
	}
}

// epochToISO8601 builds a converter for one epoch unit. Inputs outside the
// unit's plausible window [1990-01-01, 2100-01-01) are a controlled failure.
func epochToISO8601(unit string) Func {
	return func(value interface{}) (interface{}, bool) {
		f, ok := asFloat(value)
		if !ok {
			return nil, false
		}
		if typeinfer.EpochUnit(f) != unit {
			return nil, false
		}

		var t time.Time
		switch unit {
		case "s":
			t = time.Unix(int64(f), 0).UTC()
		case "ms":
			t = time.UnixMilli(int64(f)).UTC()
		case "ns":
			t = time.Unix(0, int64(f)).UTC()
		}
		return t.Format(time.RFC3339), true
	}
}

func numberToString(value interface{}) (interface{}, bool) {
	f, ok := asFloat(value)
	if !ok {
		return nil, false
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'g', -1, 64), true
}

func stringToNumber(value interface{}) (interface{}, bool) {
	s, ok := value.(string)
	if !ok {
		return nil, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

func booleanToString(value interface{}) (interface{}, bool) {
	b, ok := value.(bool)
	if !ok {
		return nil, false
	}
	return strconv.FormatBool(b), true
}

// stringToBoolean accepts the usual truthy/falsy literals case-insensitively.
func stringToBoolean(value interface{}) (interface{}, bool) {
	s, ok := value.(string)
	if !ok {
		return nil, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return nil, false
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
