package identity

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/stratahq/strata/errors"
)

// CanonicalJSON encodes a value as deterministic JSON: object keys sorted,
// no whitespace, numbers in their shortest round-trippable form. Two
// structurally equal values always produce identical bytes, regardless of
// map iteration order or how the value was decoded.
func CanonicalJSON(v interface{}) (string, error) {
	var sb strings.Builder
	if err := encodeCanonical(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func encodeCanonical(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return errors.Wrap(err, "encode string")
		}
		sb.Write(encoded)
	case float64:
		sb.WriteString(formatNumber(val))
	case int:
		sb.WriteString(strconv.Itoa(val))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case json.Number:
		sb.WriteString(val.String())
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return errors.Wrap(err, "encode key")
			}
			sb.Write(encodedKey)
			sb.WriteByte(':')
			if err := encodeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		// Fall back to a decode/re-encode round trip for struct-typed values.
		raw, err := json.Marshal(val)
		if err != nil {
			return errors.Wrapf(err, "unsupported canonical value type %T", val)
		}
		var generic interface{}
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return errors.Wrap(err, "re-decode canonical value")
		}
		return encodeCanonical(sb, generic)
	}
	return nil
}

// formatNumber renders a float64 the way encoding/json does, so canonical
// output matches what a plain json.Marshal of the same value would contain.
func formatNumber(f float64) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
