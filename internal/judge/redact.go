package judge

import (
	"arenaoj/internal/contest/model"
)

// Viewer identifies who is looking at a judging result and when.
type Viewer struct {
	// Owner is true when the viewer submitted the code.
	Owner bool

	// ContestEnded is true once the contest reached a terminal state.
	ContestEnded bool
}

// TestCaseView is the redacted per-test result exposed to clients.
type TestCaseView struct {
	Index   int           `json:"index,omitempty"`
	Hidden  bool          `json:"hidden"`
	Verdict model.Verdict `json:"verdict"`
	TimeMs  int64         `json:"time_ms"`

	// Category is populated for hidden tests so the owner learns what kind
	// of case failed without learning the case itself.
	Category string `json:"category,omitempty"`

	// Stdin, Expected and Actual are only populated for visible tests.
	Stdin    string `json:"stdin,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// OutcomeView is the redacted submission result.
type OutcomeView struct {
	Verdict         model.Verdict  `json:"verdict"`
	TestsPassed     int            `json:"tests_passed"`
	TestsTotal      int            `json:"tests_total"`
	FirstFailedTest int            `json:"first_failed_test,omitempty"`
	TimeUsedMs      int64          `json:"time_used_ms"`
	CompileOutput   string         `json:"compile_output,omitempty"`
	Tests           []TestCaseView `json:"tests,omitempty"`
}

// Redact produces the client-safe view of an outcome. The invariant it
// protects: generated hidden inputs and expected outputs never leave the
// server, for anyone, at any time. On top of that, non-owners see only
// aggregates until the contest ends, and owners see per-test detail for
// visible cases plus pass/fail and category for hidden ones.
func Redact(outcome *Outcome, viewer Viewer) *OutcomeView {
	if outcome == nil {
		return nil
	}
	view := &OutcomeView{
		Verdict:         outcome.Verdict,
		TestsPassed:     outcome.TestsPassed,
		TestsTotal:      outcome.TestsTotal,
		FirstFailedTest: outcome.FirstFailedTest,
		TimeUsedMs:      outcome.TimeUsedMs,
	}
	// mid-contest, a failure position inside the hidden block is itself a
	// leak: it tells viewers which hidden case to target
	if !viewer.ContestEnded && firstFailedIsHidden(outcome) {
		view.FirstFailedTest = 0
	}
	if !viewer.Owner && !viewer.ContestEnded {
		return view
	}

	view.CompileOutput = outcome.CompileOutput
	for _, result := range outcome.Results {
		view.Tests = append(view.Tests, redactTest(result))
	}
	return view
}

func firstFailedIsHidden(outcome *Outcome) bool {
	if outcome.FirstFailedTest == 0 {
		return false
	}
	for _, result := range outcome.Results {
		if result.Index == outcome.FirstFailedTest {
			return result.Hidden
		}
	}
	return false
}

func redactTest(result TestResult) TestCaseView {
	test := TestCaseView{
		Hidden:  result.Hidden,
		Verdict: result.Verdict,
		TimeMs:  result.TimeMs,
	}
	if result.Hidden {
		// no index either: positions would let owners map categories to
		// reconstructed generator output
		test.Category = string(result.Category)
		return test
	}
	test.Index = result.Index
	test.Stdin = result.Stdin
	test.Expected = result.Expected
	test.Actual = result.Actual
	return test
}
