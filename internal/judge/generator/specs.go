package generator

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// Built-in problem specs. Real contests register their own; these ship so the
// registry and the hidden-test path stay exercised end to end.

// DefaultRegistry returns a registry preloaded with the built-in specs.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	for _, spec := range []*ProblemSpec{
		ArraySumSpec(),
		MaxSubarraySpec(),
		SortLinesSpec(),
	} {
		if err := registry.Register(spec); err != nil {
			panic(err)
		}
	}
	return registry
}

// ArraySumSpec sums n integers.
// Input: n on the first line, n space-separated integers on the second.
// Output: the sum.
func ArraySumSpec() *ProblemSpec {
	return &ProblemSpec{
		Slug: "array-sum",
		Constraints: Constraints{
			MinN:     1,
			MaxN:     1000,
			StressN:  100000,
			MinValue: -1_000_000_000,
			MaxValue: 1_000_000_000,
		},
		EdgeCases: func() []string {
			return []string{
				"1\n0",
				"1\n-1000000000",
				"3\n1000000000 1000000000 1000000000",
			}
		},
		Generate: func(rng *rand.Rand, c Constraints, category Category) string {
			n := caseSize(rng, c, category)
			values := make([]string, n)
			for i := range values {
				values[i] = strconv.FormatInt(caseValue(rng, c, category), 10)
			}
			return fmt.Sprintf("%d\n%s", n, strings.Join(values, " "))
		},
		ReferenceSolve: func(input string) (string, error) {
			values, err := parseIntArray(input)
			if err != nil {
				return "", err
			}
			var sum int64
			for _, v := range values {
				sum += v
			}
			return strconv.FormatInt(sum, 10), nil
		},
	}
}

// MaxSubarraySpec finds the maximum contiguous subarray sum (Kadane).
// Input format matches ArraySumSpec. Output: the maximum sum; the subarray
// must be non-empty.
func MaxSubarraySpec() *ProblemSpec {
	return &ProblemSpec{
		Slug: "max-subarray",
		Constraints: Constraints{
			MinN:     1,
			MaxN:     1000,
			StressN:  100000,
			MinValue: -10_000,
			MaxValue: 10_000,
		},
		EdgeCases: func() []string {
			return []string{
				"1\n-5",
				"4\n-1 -2 -3 -4",
				"5\n1 -1 1 -1 1",
			}
		},
		Generate: func(rng *rand.Rand, c Constraints, category Category) string {
			n := caseSize(rng, c, category)
			values := make([]string, n)
			for i := range values {
				v := caseValue(rng, c, category)
				if category == CategoryAdversarial && i%2 == 1 {
					// alternate signs to defeat greedy non-Kadane attempts
					v = -v
				}
				values[i] = strconv.FormatInt(v, 10)
			}
			return fmt.Sprintf("%d\n%s", n, strings.Join(values, " "))
		},
		ReferenceSolve: func(input string) (string, error) {
			values, err := parseIntArray(input)
			if err != nil {
				return "", err
			}
			best := values[0]
			current := values[0]
			for _, v := range values[1:] {
				if current < 0 {
					current = v
				} else {
					current += v
				}
				if current > best {
					best = current
				}
			}
			return strconv.FormatInt(best, 10), nil
		},
	}
}

// SortLinesSpec sorts n strings lexicographically.
// Input: n on the first line, then n lines. Output: the lines sorted.
func SortLinesSpec() *ProblemSpec {
	return &ProblemSpec{
		Slug: "sort-lines",
		Constraints: Constraints{
			MinN:    1,
			MaxN:    500,
			StressN: 20000,
		},
		EdgeCases: func() []string {
			return []string{
				"1\nsolo",
				"3\nbb\nbb\nbb",
				"4\nd\nc\nb\na",
			}
		},
		Generate: func(rng *rand.Rand, c Constraints, category Category) string {
			n := caseSize(rng, c, category)
			lines := make([]string, 0, n+1)
			lines = append(lines, strconv.Itoa(n))
			for i := 0; i < n; i++ {
				lines = append(lines, randomWord(rng, category))
			}
			return strings.Join(lines, "\n")
		},
		ReferenceSolve: func(input string) (string, error) {
			lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
			if len(lines) < 1 {
				return "", fmt.Errorf("empty input")
			}
			n, err := strconv.Atoi(strings.TrimSpace(lines[0]))
			if err != nil {
				return "", fmt.Errorf("invalid count: %w", err)
			}
			if len(lines)-1 < n {
				return "", fmt.Errorf("expected %d lines, got %d", n, len(lines)-1)
			}
			words := append([]string(nil), lines[1:n+1]...)
			sort.Strings(words)
			return strings.Join(words, "\n"), nil
		},
	}
}

func caseSize(rng *rand.Rand, c Constraints, category Category) int {
	min := c.MinN
	if min <= 0 {
		min = 1
	}
	max := c.MaxN
	if max < min {
		max = min
	}
	switch category {
	case CategoryStress:
		if c.StressN > 0 {
			return c.StressN
		}
		return max
	case CategoryAdversarial:
		return max
	default:
		return min + rng.Intn(max-min+1)
	}
}

func caseValue(rng *rand.Rand, c Constraints, category Category) int64 {
	min := c.MinValue
	max := c.MaxValue
	if max <= min {
		min, max = -1000, 1000
	}
	if category == CategoryAdversarial {
		// adversarial cases sit on the value boundaries
		if rng.Intn(2) == 0 {
			return min
		}
		return max
	}
	return min + rng.Int63n(max-min+1)
}

func randomWord(rng *rand.Rand, category Category) string {
	length := 1 + rng.Intn(12)
	if category == CategoryAdversarial {
		// long shared prefixes stress the comparison
		return "aaaaaaaaaa" + string(rune('a'+rng.Intn(3)))
	}
	var sb strings.Builder
	for i := 0; i < length; i++ {
		sb.WriteByte(byte('a' + rng.Intn(26)))
	}
	return sb.String()
}

func parseIntArray(input string) ([]int64, error) {
	fields := strings.Fields(input)
	if len(fields) < 1 {
		return nil, fmt.Errorf("empty input")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid count: %w", err)
	}
	if n < 1 || len(fields)-1 < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields)-1)
	}
	values := make([]int64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", fields[i+1], err)
		}
		values[i] = v
	}
	return values, nil
}
