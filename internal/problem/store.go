package problem

import (
	"context"

	"arenaoj/internal/judge/comparator"
	"arenaoj/internal/judge/generator"
)

// Problem is the judging view of a problem. Authoring and admin CRUD live in
// an external service; the contest core only consumes this read surface.
type Problem struct {
	ID            int64  `json:"id"`
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	TimeLimitMs   int64  `json:"time_limit_ms"`
	MemoryLimitKB int64  `json:"memory_limit_kb"`

	// Languages lists supported language ids mapped to executor versions.
	Languages map[string]string `json:"languages"`

	// MaxCodeBytes caps submitted source size; 0 uses the pipeline default.
	MaxCodeBytes int `json:"max_code_bytes"`

	// Compare tunes the output comparator for this problem.
	Compare comparator.Options `json:"compare"`

	// GeneratorSlug names the hidden-test spec in the generator registry.
	// Empty disables hidden-test generation for the problem.
	GeneratorSlug string `json:"generator_slug"`

	// HiddenPlan overrides the default hidden batch sizes.
	HiddenPlan generator.BatchPlan `json:"hidden_plan"`
}

// SupportsLanguage returns the executor version for a language id.
func (p *Problem) SupportsLanguage(language string) (string, bool) {
	version, ok := p.Languages[language]
	return version, ok
}

// TestCase is one stored test case. Hidden stored cases keep their input and
// expected output server-side; redaction happens at the pipeline response
// boundary.
type TestCase struct {
	Index          int    `json:"index"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
	TimeLimitMs    int64  `json:"time_limit_ms"`
	Hidden         bool   `json:"hidden"`
}

// Store is the problem/test-case collaborator consumed by the judging
// pipeline and the contest service.
type Store interface {
	// GetProblem returns the judging view of one problem.
	GetProblem(ctx context.Context, problemID int64) (*Problem, error)

	// GetTestCases returns the stored cases for a problem in judge order.
	GetTestCases(ctx context.Context, problemID int64) ([]TestCase, error)
}
