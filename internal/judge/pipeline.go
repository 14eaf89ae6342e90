package judge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arenaoj/internal/contest/model"
	"arenaoj/internal/judge/comparator"
	"arenaoj/internal/judge/execclient"
	"arenaoj/internal/judge/generator"
	"arenaoj/internal/problem"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"
)

const (
	defaultMaxCodeBytes = 64 * 1024
	defaultTimeLimit    = 2 * time.Second
)

// Executor runs one piece of source against one stdin in the sandbox.
type Executor interface {
	Execute(ctx context.Context, req execclient.Request) (*execclient.Result, error)
}

var _ Executor = (*execclient.Client)(nil)

// Task is one judging request.
type Task struct {
	ProblemID    int64
	UserID       int64
	SubmissionID string
	Language     string
	Source       string

	// VisibleOnly restricts the run to non-hidden stored cases and skips
	// hidden-test generation. Used by the synchronous run endpoint.
	VisibleOnly bool
}

// TestResult is the unredacted outcome of one test. Hidden inputs and
// outputs stay in this struct only until the redaction boundary.
type TestResult struct {
	Index    int
	Hidden   bool
	Category generator.Category

	Verdict model.Verdict
	TimeMs  int64

	Stdin    string
	Expected string
	Actual   string
	Stderr   string
}

// Outcome is the aggregate judging result for one submission.
type Outcome struct {
	Verdict model.Verdict

	// TestsPassed counts every passing test; judging runs all tests rather
	// than stopping at the first failure, so partial progress is visible.
	TestsPassed int
	TestsTotal  int

	// FirstFailedTest is 1-based in judge order; 0 when everything passed.
	FirstFailedTest int

	// TimeUsedMs is the wall time of the slowest executed test.
	TimeUsedMs int64

	CompileOutput string
	Results       []TestResult
}

// PipelineConfig holds judging pipeline dependencies.
type PipelineConfig struct {
	Store      problem.Store
	Executor   Executor
	Generators *generator.Registry

	// MaxCodeBytes caps source size when the problem does not set its own.
	MaxCodeBytes int

	// TimeLimit is the fallback per-test limit when neither the case nor
	// the problem declares one.
	TimeLimit time.Duration
}

// Pipeline judges one submission end to end: validate, load stored cases,
// generate the per-user hidden batch, execute every test, aggregate. Two
// verdicts short-circuit the run: a compile error (every later test would
// fail identically) and an internal error (results after an infrastructure
// fault are meaningless).
type Pipeline struct {
	store        problem.Store
	executor     Executor
	generators   *generator.Registry
	maxCodeBytes int
	timeLimit    time.Duration
}

// NewPipeline creates a judging pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("problem store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = defaultTimeLimit
	}
	return &Pipeline{
		store:        cfg.Store,
		executor:     cfg.Executor,
		generators:   cfg.Generators,
		maxCodeBytes: cfg.MaxCodeBytes,
		timeLimit:    cfg.TimeLimit,
	}, nil
}

// Judge runs the full pipeline for one task.
func (p *Pipeline) Judge(ctx context.Context, task Task) (*Outcome, error) {
	prob, err := p.store.GetProblem(ctx, task.ProblemID)
	if err != nil {
		return nil, err
	}
	if err := p.validate(prob, task); err != nil {
		return nil, err
	}

	version, _ := prob.SupportsLanguage(task.Language)
	cases, err := p.collectCases(ctx, prob, task)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, appErr.Newf(appErr.TestDataUnavailable, "problem %d has no test cases", task.ProblemID)
	}

	outcome := &Outcome{TestsTotal: len(cases)}
	for i, tc := range cases {
		result := p.runCase(ctx, prob, task, version, tc)
		result.Index = i + 1
		outcome.Results = append(outcome.Results, result)

		if result.TimeMs > outcome.TimeUsedMs {
			outcome.TimeUsedMs = result.TimeMs
		}
		if result.Verdict == model.VerdictAccepted {
			outcome.TestsPassed++
		} else if outcome.FirstFailedTest == 0 {
			outcome.FirstFailedTest = result.Index
		}
		outcome.Verdict = model.WorseVerdict(outcome.Verdict, result.Verdict)

		if result.Verdict == model.VerdictCompileError {
			outcome.CompileOutput = result.Stderr
			break
		}
		if result.Verdict == model.VerdictInternalError {
			logger.Error(ctx, "judging aborted on internal error",
				zap.String("submission_id", task.SubmissionID),
				zap.Int64("problem_id", task.ProblemID),
				zap.Int("test", result.Index))
			break
		}
	}
	return outcome, nil
}

func (p *Pipeline) validate(prob *problem.Problem, task Task) error {
	maxBytes := prob.MaxCodeBytes
	if maxBytes <= 0 {
		maxBytes = p.maxCodeBytes
	}
	if len(task.Source) == 0 {
		return appErr.ValidationError("source", "required")
	}
	if len(task.Source) > maxBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source is %d bytes, limit is %d", len(task.Source), maxBytes)
	}
	if _, ok := prob.SupportsLanguage(task.Language); !ok {
		return appErr.Newf(appErr.LanguageNotSupported, "problem %d does not accept %q", prob.ID, task.Language)
	}
	return nil
}

// collectCases assembles the judge-order test sequence: stored cases first,
// then the deterministic per-user hidden batch.
func (p *Pipeline) collectCases(ctx context.Context, prob *problem.Problem, task Task) ([]caseToRun, error) {
	stored, err := p.store.GetTestCases(ctx, task.ProblemID)
	if err != nil {
		return nil, err
	}

	var cases []caseToRun
	for _, tc := range stored {
		if task.VisibleOnly && tc.Hidden {
			continue
		}
		cases = append(cases, caseToRun{
			stdin:       tc.Stdin,
			expected:    tc.ExpectedOutput,
			timeLimitMs: tc.TimeLimitMs,
			hidden:      tc.Hidden,
		})
	}

	if task.VisibleOnly || prob.GeneratorSlug == "" || p.generators == nil {
		return cases, nil
	}

	seed := generator.Seed(task.UserID, task.SubmissionID)
	batch, err := p.generators.GenerateBatch(prob.GeneratorSlug, seed, prob.HiddenPlan)
	if err != nil {
		return nil, err
	}
	for _, tc := range batch {
		cases = append(cases, caseToRun{
			stdin:    tc.Input,
			expected: tc.ExpectedOutput,
			hidden:   true,
			category: tc.Category,
		})
	}
	return cases, nil
}

type caseToRun struct {
	stdin       string
	expected    string
	timeLimitMs int64
	hidden      bool
	category    generator.Category
}

func (p *Pipeline) runCase(ctx context.Context, prob *problem.Problem, task Task, version string, tc caseToRun) TestResult {
	result := TestResult{
		Hidden:   tc.hidden,
		Category: tc.category,
		Stdin:    tc.stdin,
		Expected: tc.expected,
	}

	limit := time.Duration(tc.timeLimitMs) * time.Millisecond
	if limit <= 0 {
		limit = time.Duration(prob.TimeLimitMs) * time.Millisecond
	}
	if limit <= 0 {
		limit = p.timeLimit
	}

	run, err := p.executor.Execute(ctx, execclient.Request{
		Language:  task.Language,
		Version:   version,
		Source:    task.Source,
		Stdin:     tc.stdin,
		TimeLimit: limit,
	})
	if err != nil {
		result.Verdict = model.VerdictInternalError
		result.Stderr = err.Error()
		return result
	}

	result.TimeMs = run.WallTime.Milliseconds()
	result.Actual = run.Stdout
	result.Stderr = run.Stderr
	result.Verdict = classify(run, tc.expected, prob.Compare)
	if result.Verdict == model.VerdictCompileError {
		result.Stderr = run.CompileStderr
	}
	return result
}

// classify maps one sandbox result to a test verdict. Order matters: a
// compile failure masks everything, a timeout masks the exit code, and the
// OOM kill marker is checked before the generic signal path.
func classify(run *execclient.Result, expected string, opts comparator.Options) model.Verdict {
	switch {
	case run.CompileFailed():
		return model.VerdictCompileError
	case run.TimedOut:
		return model.VerdictTimeLimitExceeded
	case run.OOMKilled():
		return model.VerdictMemoryLimitExceeded
	case run.Signal != "" || run.ExitCode != 0:
		return model.VerdictRuntimeError
	case comparator.Compare(expected, run.Stdout, opts):
		return model.VerdictAccepted
	default:
		return model.VerdictWrongAnswer
	}
}
