package generator_test

import (
	"testing"

	"arenaoj/internal/judge/generator"
	appErr "arenaoj/pkg/errors"
)

func TestSeedDeterministicAndDistinct(t *testing.T) {
	a := generator.Seed(42, "sub-1")
	b := generator.Seed(42, "sub-1")
	if a != b {
		t.Fatalf("same inputs must yield the same seed: %d vs %d", a, b)
	}
	if generator.Seed(42, "sub-2") == a {
		t.Fatalf("different submissions should not share a seed")
	}
	if generator.Seed(43, "sub-1") == a {
		t.Fatalf("different users should not share a seed")
	}
}

func TestGenerateBatchDeterministic(t *testing.T) {
	registry := generator.DefaultRegistry()
	for _, slug := range registry.Slugs() {
		seed := generator.Seed(7, "deadbeef")
		first, err := registry.GenerateBatch(slug, seed, generator.DefaultBatchPlan)
		if err != nil {
			t.Fatalf("%s: generate: %v", slug, err)
		}
		second, err := registry.GenerateBatch(slug, seed, generator.DefaultBatchPlan)
		if err != nil {
			t.Fatalf("%s: regenerate: %v", slug, err)
		}
		if len(first) != len(second) {
			t.Fatalf("%s: batch sizes differ: %d vs %d", slug, len(first), len(second))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("%s: case %d differs between runs:\n%+v\n%+v", slug, i, first[i], second[i])
			}
		}
	}
}

func TestGenerateBatchLayout(t *testing.T) {
	registry := generator.DefaultRegistry()
	plan := generator.BatchPlan{Edge: 2, Random: 3, Stress: 1, Adversarial: 2}
	batch, err := registry.GenerateBatch("array-sum", 12345, plan)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(batch) != 8 {
		t.Fatalf("expected 8 cases, got %d", len(batch))
	}
	wantCategories := []generator.Category{
		generator.CategoryEdge, generator.CategoryEdge,
		generator.CategoryRandom, generator.CategoryRandom, generator.CategoryRandom,
		generator.CategoryStress,
		generator.CategoryAdversarial, generator.CategoryAdversarial,
	}
	for i, tc := range batch {
		if tc.Category != wantCategories[i] {
			t.Fatalf("case %d: category %s, want %s", i, tc.Category, wantCategories[i])
		}
		if tc.Index != i {
			t.Fatalf("case %d carries index %d", i, tc.Index)
		}
		if tc.Input == "" || tc.ExpectedOutput == "" {
			t.Fatalf("case %d incomplete: %+v", i, tc)
		}
	}
}

func TestGenerateBatchUnknownSlug(t *testing.T) {
	registry := generator.NewRegistry()
	_, err := registry.GenerateBatch("no-such-problem", 1, generator.DefaultBatchPlan)
	if err == nil || appErr.GetCode(err) != appErr.GeneratorNotFound {
		t.Fatalf("expected GeneratorNotFound, got %v", err)
	}
}

func TestArraySumReference(t *testing.T) {
	spec := generator.ArraySumSpec()
	got, err := spec.ReferenceSolve("4\n1 2 3 4")
	if err != nil || got != "10" {
		t.Fatalf("ReferenceSolve = %q, %v", got, err)
	}
	got, err = spec.ReferenceSolve("3\n1000000000 1000000000 1000000000")
	if err != nil || got != "3000000000" {
		t.Fatalf("expected 64-bit sum, got %q, %v", got, err)
	}
	if _, err := spec.ReferenceSolve("5\n1 2"); err == nil {
		t.Fatalf("expected error for short input")
	}
}

func TestMaxSubarrayReference(t *testing.T) {
	spec := generator.MaxSubarraySpec()
	cases := []struct {
		input string
		want  string
	}{
		{"9\n-2 1 -3 4 -1 2 1 -5 4", "6"},
		{"4\n-1 -2 -3 -4", "-1"},
		{"1\n-5", "-5"},
		{"5\n5 4 -1 7 8", "23"},
	}
	for _, tc := range cases {
		got, err := spec.ReferenceSolve(tc.input)
		if err != nil || got != tc.want {
			t.Fatalf("ReferenceSolve(%q) = %q, %v; want %q", tc.input, got, err, tc.want)
		}
	}
}

func TestSortLinesReference(t *testing.T) {
	spec := generator.SortLinesSpec()
	got, err := spec.ReferenceSolve("3\nbanana\napple\ncherry")
	if err != nil || got != "apple\nbanana\ncherry" {
		t.Fatalf("ReferenceSolve = %q, %v", got, err)
	}
}
