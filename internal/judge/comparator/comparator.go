package comparator

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Options controls how expected and actual output are matched.
type Options struct {
	// CaseInsensitive enables a case-folded string match after the exact
	// match fails.
	CaseInsensitive bool

	// AbsTolerance and RelTolerance bound the numeric match. Zero values
	// fall back to the defaults.
	AbsTolerance float64
	RelTolerance float64
}

const (
	defaultAbsTolerance = 1e-6
	defaultRelTolerance = 1e-6
)

func (o Options) absTolerance() float64 {
	if o.AbsTolerance > 0 {
		return o.AbsTolerance
	}
	return defaultAbsTolerance
}

func (o Options) relTolerance() float64 {
	if o.RelTolerance > 0 {
		return o.RelTolerance
	}
	return defaultRelTolerance
}

// Compare reports whether actual output matches expected output.
//
// Both sides are normalized first: every line is trimmed and trailing blank
// lines are stripped. Then the whole text is tried against a ladder of rules
// in order: exact match, case-folded match (when enabled), numeric match
// within tolerance, order-sensitive structural JSON equality, and finally a
// line-count match with the same ladder applied per line. A single unmatched
// line fails the comparison.
func Compare(expected, actual string, opts Options) bool {
	expectedLines := normalize(expected)
	actualLines := normalize(actual)
	return compareText(strings.Join(expectedLines, "\n"), strings.Join(actualLines, "\n"), expectedLines, actualLines, opts)
}

func compareText(expected, actual string, expectedLines, actualLines []string, opts Options) bool {
	if expected == actual {
		return true
	}
	if opts.CaseInsensitive && strings.EqualFold(expected, actual) {
		return true
	}
	if numericEqual(expected, actual, opts) {
		return true
	}
	if jsonStructuralEqual(expected, actual, opts) {
		return true
	}
	if len(expectedLines) != len(actualLines) || len(expectedLines) < 2 {
		return false
	}
	for i := range expectedLines {
		if !compareLine(expectedLines[i], actualLines[i], opts) {
			return false
		}
	}
	return true
}

// compareLine applies the same rules to a single line. Lines are atomic:
// there is no further line split to recurse into.
func compareLine(expected, actual string, opts Options) bool {
	if expected == actual {
		return true
	}
	if opts.CaseInsensitive && strings.EqualFold(expected, actual) {
		return true
	}
	if numericEqual(expected, actual, opts) {
		return true
	}
	return jsonStructuralEqual(expected, actual, opts)
}

// normalize trims each line and strips trailing blank lines.
func normalize(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func numericEqual(expected, actual string, opts Options) bool {
	expectedNum, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false
	}
	actualNum, err := strconv.ParseFloat(actual, 64)
	if err != nil {
		return false
	}
	return floatsWithinTolerance(expectedNum, actualNum, opts)
}

func floatsWithinTolerance(expected, actual float64, opts Options) bool {
	if math.IsNaN(expected) || math.IsNaN(actual) {
		return false
	}
	if math.IsInf(expected, 0) || math.IsInf(actual, 0) {
		return expected == actual
	}
	diff := math.Abs(expected - actual)
	if diff <= opts.absTolerance() {
		return true
	}
	scale := math.Max(math.Abs(expected), math.Abs(actual))
	return diff <= opts.relTolerance()*scale
}

// jsonStructuralEqual matches array/object outputs structurally. Arrays are
// order-sensitive; numbers inside are held to the same tolerance.
func jsonStructuralEqual(expected, actual string, opts Options) bool {
	if !looksLikeJSON(expected) || !looksLikeJSON(actual) {
		return false
	}
	var expectedVal, actualVal interface{}
	if err := json.Unmarshal([]byte(expected), &expectedVal); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(actual), &actualVal); err != nil {
		return false
	}
	return jsonValueEqual(expectedVal, actualVal, opts)
}

func looksLikeJSON(text string) bool {
	return strings.HasPrefix(text, "[") || strings.HasPrefix(text, "{")
}

func jsonValueEqual(expected, actual interface{}, opts Options) bool {
	switch ev := expected.(type) {
	case nil:
		return actual == nil
	case bool:
		av, ok := actual.(bool)
		return ok && ev == av
	case float64:
		av, ok := actual.(float64)
		return ok && floatsWithinTolerance(ev, av, opts)
	case string:
		av, ok := actual.(string)
		if !ok {
			return false
		}
		if ev == av {
			return true
		}
		return opts.CaseInsensitive && strings.EqualFold(ev, av)
	case []interface{}:
		av, ok := actual.([]interface{})
		if !ok || len(ev) != len(av) {
			return false
		}
		for i := range ev {
			if !jsonValueEqual(ev[i], av[i], opts) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		av, ok := actual.(map[string]interface{})
		if !ok || len(ev) != len(av) {
			return false
		}
		for key, val := range ev {
			other, present := av[key]
			if !present || !jsonValueEqual(val, other, opts) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
