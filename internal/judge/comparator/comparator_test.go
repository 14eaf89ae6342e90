package comparator_test

import (
	"fmt"
	"testing"

	"arenaoj/internal/judge/comparator"
)

func TestCompareExactAndWhitespace(t *testing.T) {
	cases := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"identical", "hello world", "hello world", true},
		{"trailing newline", "42\n", "42", true},
		{"trailing blank lines", "a\nb\n\n\n", "a\nb", true},
		{"line padding", "  a  \n  b  ", "a\nb", true},
		{"crlf", "a\r\nb\r\n", "a\nb", true},
		{"different content", "hello", "world", false},
		{"missing line", "a\nb\nc", "a\nb", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := comparator.Compare(tc.expected, tc.actual, comparator.Options{}); got != tc.want {
				t.Fatalf("Compare(%q, %q) = %v, want %v", tc.expected, tc.actual, got, tc.want)
			}
		})
	}
}

func TestCompareCaseInsensitive(t *testing.T) {
	if comparator.Compare("YES", "yes", comparator.Options{}) {
		t.Fatalf("case-folded match must be off by default")
	}
	if !comparator.Compare("YES", "yes", comparator.Options{CaseInsensitive: true}) {
		t.Fatalf("expected case-folded match when enabled")
	}
}

func TestCompareNumericTolerance(t *testing.T) {
	opts := comparator.Options{AbsTolerance: 1e-6, RelTolerance: 1e-9}
	if !comparator.Compare("1.0000000", "1.0000001", opts) {
		t.Fatalf("expected match within absolute tolerance")
	}
	if comparator.Compare("1.0", "1.1", opts) {
		t.Fatalf("expected mismatch outside tight tolerance")
	}
	if !comparator.Compare("3.14159", "3.14159", opts) {
		t.Fatalf("expected identical floats to match")
	}
	// relative tolerance carries large magnitudes
	if !comparator.Compare("1000000.0", "1000000.5", comparator.Options{AbsTolerance: 1e-9, RelTolerance: 1e-6}) {
		t.Fatalf("expected match within relative tolerance")
	}
}

func TestCompareJSONStructural(t *testing.T) {
	if !comparator.Compare(`[1, 2, 3]`, `[1,2,3]`, comparator.Options{}) {
		t.Fatalf("expected structural array match")
	}
	if comparator.Compare(`[1, 2, 3]`, `[3,2,1]`, comparator.Options{}) {
		t.Fatalf("array comparison must be order-sensitive")
	}
	if !comparator.Compare(`{"a": 1, "b": [2, 3]}`, `{"b":[2,3],"a":1}`, comparator.Options{}) {
		t.Fatalf("expected object match regardless of key order")
	}
	if !comparator.Compare(`[1.0000001]`, `[1.0]`, comparator.Options{}) {
		t.Fatalf("expected numeric tolerance inside JSON")
	}
	if comparator.Compare(`{"a": 1}`, `{"a": 1, "b": 2}`, comparator.Options{}) {
		t.Fatalf("expected extra keys to fail")
	}
}

func TestCompareLineWiseRecursion(t *testing.T) {
	expected := "case 1\n2.500000\n[1,2]"
	actual := "case 1\n2.5000001\n[1, 2]"
	if !comparator.Compare(expected, actual, comparator.Options{}) {
		t.Fatalf("expected per-line rules to apply")
	}

	// one bad line fails the whole comparison
	actual = "case 1\n2.6\n[1, 2]"
	if comparator.Compare(expected, actual, comparator.Options{}) {
		t.Fatalf("expected single unmatched line to fail")
	}
}

func TestCompareRoundTrip(t *testing.T) {
	outputs := []string{
		"42",
		"-17",
		"3.1415926535",
		"hello\nworld",
		`["a","b","c"]`,
		`{"sum": 10, "values": [1, 2, 3, 4]}`,
	}
	for i := 0; i < 50; i++ {
		outputs = append(outputs, fmt.Sprintf("%d %d\n%f", i, i*i, float64(i)/7.0))
	}
	for _, out := range outputs {
		if !comparator.Compare(out, out, comparator.Options{}) {
			t.Fatalf("round trip failed for %q", out)
		}
	}
}
