package schema

import (
	"github.com/stratahq/strata/convert"
	"github.com/stratahq/strata/typeinfer"
)

// Validation is the outcome of checking one field value against its
// definition. Exactly one of three things is true: the value matched as-is,
// a converter produced an acceptable value, or the pair should be routed to
// raw fragments. Validation never rejects a record outright: availability
// over strict validation.
type Validation struct {
	FieldName        string
	Value            interface{}
	WasConverted     bool
	OriginalValue    interface{} // set when WasConverted, for audit
	RouteToFragments bool
	Reason           string
}

// ValidateField type-checks a value against a schema field. If the runtime
// representation already matches the declared type the value is accepted
// unchanged. Otherwise the field's converters are attempted in declaration
// order; the first non-null result wins. If every converter fails (or none
// exist) the value is routed to raw fragments and the rest of the record
// proceeds untouched.
func ValidateField(name string, value interface{}, def FieldDefinition) Validation {
	if value == nil {
		// Null is absence, not a type mismatch; reducers deal with it.
		return Validation{FieldName: name, Value: nil}
	}

	if runtimeMatches(def.Type, value) {
		return Validation{FieldName: name, Value: value}
	}

	for _, spec := range def.Converters {
		converted, ok := convert.Apply(spec.Function, value)
		if !ok {
			continue
		}
		return Validation{
			FieldName:     name,
			Value:         converted,
			WasConverted:  true,
			OriginalValue: value,
		}
	}

	return Validation{
		FieldName:        name,
		Value:            value,
		RouteToFragments: true,
		Reason:           mismatchReason(def, value),
	}
}

// runtimeMatches reports whether a value's runtime representation satisfies
// a declared field type. Declared "date" means an ISO-8601 string; an
// epoch number is convertible, not conformant.
func runtimeMatches(declaredType string, value interface{}) bool {
	switch declaredType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "date":
		s, ok := value.(string)
		return ok && typeinfer.Infer(s) == typeinfer.KindDate
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return false
	}
}

func mismatchReason(def FieldDefinition, value interface{}) string {
	inferred := typeinfer.Infer(value)
	if len(def.Converters) == 0 {
		return "type mismatch (declared " + def.Type + ", inferred " + string(inferred) + "), no converters declared"
	}
	return "type mismatch (declared " + def.Type + ", inferred " + string(inferred) + "), all converters failed"
}
