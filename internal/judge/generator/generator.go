package generator

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"

	appErr "arenaoj/pkg/errors"
)

// Category labels the intent of a generated hidden test.
type Category string

const (
	CategoryEdge        Category = "edge"
	CategoryRandom      Category = "random"
	CategoryStress      Category = "stress"
	CategoryAdversarial Category = "adversarial"
)

// Constraints bounds generated inputs for one problem.
type Constraints struct {
	MinN int
	MaxN int
	// StressN is the size used for stress cases; defaults to MaxN.
	StressN  int
	MinValue int64
	MaxValue int64
}

// ProblemSpec describes how to generate and judge hidden tests for one
// problem. Entries are plain function tables, not interfaces: a problem is
// data, not behavior to subclass.
type ProblemSpec struct {
	Slug        string
	Constraints Constraints

	// EdgeCases returns the fixed boundary inputs, judged first.
	EdgeCases func() []string

	// Generate produces one input for the category using only rng for
	// randomness, so the same seed reproduces the same batch.
	Generate func(rng *rand.Rand, c Constraints, category Category) string

	// ReferenceSolve computes the expected output for an input using the
	// trusted solution.
	ReferenceSolve func(input string) (string, error)
}

func (s *ProblemSpec) validate() error {
	if s == nil || s.Slug == "" {
		return fmt.Errorf("spec slug is required")
	}
	if s.Generate == nil {
		return fmt.Errorf("spec %q: generate function is required", s.Slug)
	}
	if s.ReferenceSolve == nil {
		return fmt.Errorf("spec %q: reference solution is required", s.Slug)
	}
	return nil
}

// TestCase is one generated hidden test. It only ever lives in memory for a
// single judging run and is reproduced from the seed when needed again.
type TestCase struct {
	Index          int
	Category       Category
	Input          string
	ExpectedOutput string
}

// BatchPlan sets how many cases of each category to generate. Edge cases are
// capped by what the spec defines.
type BatchPlan struct {
	Edge        int
	Random      int
	Stress      int
	Adversarial int
}

// DefaultBatchPlan is the standard hidden batch used when a problem does not
// override it.
var DefaultBatchPlan = BatchPlan{Edge: 3, Random: 4, Stress: 2, Adversarial: 2}

func (p BatchPlan) total() int {
	return p.Edge + p.Random + p.Stress + p.Adversarial
}

// Seed derives the deterministic generation seed for one submission.
// It never involves wall-clock time: re-judging the same submission must
// reproduce byte-identical hidden inputs.
func Seed(userID int64, submissionID string) int64 {
	hasher := fnv.New64a()
	fmt.Fprintf(hasher, "%d:%s", userID, submissionID)
	return int64(hasher.Sum64())
}

// Registry maps problem slugs to their generation specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*ProblemSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*ProblemSpec)}
}

// Register adds a spec; re-registering a slug replaces the previous spec.
func (r *Registry) Register(spec *ProblemSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.specs[spec.Slug] = spec
	r.mu.Unlock()
	return nil
}

// Get returns the spec for a slug.
func (r *Registry) Get(slug string) (*ProblemSpec, bool) {
	r.mu.RLock()
	spec, ok := r.specs[slug]
	r.mu.RUnlock()
	return spec, ok
}

// Has reports whether a slug is registered.
func (r *Registry) Has(slug string) bool {
	_, ok := r.Get(slug)
	return ok
}

// Slugs returns all registered slugs, sorted.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.specs))
	for slug := range r.specs {
		out = append(out, slug)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// GenerateBatch builds the hidden test batch for (slug, seed). The same pair
// always yields an identical batch; edge cases come first, then random,
// stress and adversarial cases in that order.
func (r *Registry) GenerateBatch(slug string, seed int64, plan BatchPlan) ([]TestCase, error) {
	spec, ok := r.Get(slug)
	if !ok {
		return nil, appErr.Newf(appErr.GeneratorNotFound, "no test generator registered for %q", slug)
	}
	if plan.total() <= 0 {
		plan = DefaultBatchPlan
	}

	rng := rand.New(rand.NewSource(seed))
	inputs := make([]TestCase, 0, plan.total())

	if spec.EdgeCases != nil && plan.Edge > 0 {
		edges := spec.EdgeCases()
		for i := 0; i < plan.Edge && i < len(edges); i++ {
			inputs = append(inputs, TestCase{Category: CategoryEdge, Input: edges[i]})
		}
	}
	for _, gen := range []struct {
		category Category
		count    int
	}{
		{CategoryRandom, plan.Random},
		{CategoryStress, plan.Stress},
		{CategoryAdversarial, plan.Adversarial},
	} {
		for i := 0; i < gen.count; i++ {
			inputs = append(inputs, TestCase{
				Category: gen.category,
				Input:    spec.Generate(rng, spec.Constraints, gen.category),
			})
		}
	}

	for i := range inputs {
		expected, err := spec.ReferenceSolve(inputs[i].Input)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.JudgeSystemError,
				"reference solution failed for %q case %d", slug, i)
		}
		inputs[i].Index = i
		inputs[i].ExpectedOutput = expected
	}
	return inputs, nil
}
