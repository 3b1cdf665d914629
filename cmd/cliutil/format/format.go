package format

import (
	"encoding/json"
	"fmt"
	"io"
)

// OutputFormat represents the format for CLI output.
type OutputFormat string

const (
	TableFormat OutputFormat = "table"
	JSONFormat  OutputFormat = "json"
)

// ParseOutputFormat parses a string into an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "table", "":
		return TableFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (valid formats: table or json)", s)
	}
}

// JSON writes data to w as indented JSON.
func JSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
