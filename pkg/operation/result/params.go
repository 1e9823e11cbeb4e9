package result

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// DateLayout is the only date format the API accepts.
const DateLayout = "2006-01-02"

// DatePattern is the JSON schema pattern advertised for date parameters.
const DatePattern = `^\d{4}-\d{2}-\d{2}$`

var datePattern = regexp.MustCompile(DatePattern)

// DateArg reads a required YYYY-MM-DD argument that must name a real date.
func DateArg(req mcp.CallToolRequest, name string) (time.Time, error) {
	value, ok := req.GetArguments()[name].(string)
	if !ok || value == "" {
		return time.Time{}, fmt.Errorf("missing required parameter '%s' (YYYY-MM-DD)", name)
	}
	if !datePattern.MatchString(value) {
		return time.Time{}, fmt.Errorf("parameter '%s' must be in YYYY-MM-DD format, got %q", name, value)
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parameter '%s' is not a valid date: %q", name, value)
	}
	return t, nil
}

// IntArg reads an optional whole-number argument within [min, max].
func IntArg(req mcp.CallToolRequest, name string, def, min, max int) (int, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return def, nil
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter '%s' must be a number", name)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter '%s' must be a whole number, got %v", name, f)
	}
	n := int(f)
	if n < min || n > max {
		return 0, fmt.Errorf("parameter '%s' must be between %d and %d, got %d", name, min, max, n)
	}
	return n, nil
}
