package model

import (
	"time"
)

// SubmissionStatus tracks a submission through the judging pipeline.
type SubmissionStatus string

const (
	SubmissionStatusPending SubmissionStatus = "pending"
	SubmissionStatusJudging SubmissionStatus = "judging"
	SubmissionStatusJudged  SubmissionStatus = "judged"
)

// Verdict is the final classification of a submission or of a single test run.
type Verdict string

const (
	VerdictAccepted            Verdict = "accepted"
	VerdictWrongAnswer         Verdict = "wrong_answer"
	VerdictTimeLimitExceeded   Verdict = "time_limit_exceeded"
	VerdictMemoryLimitExceeded Verdict = "memory_limit_exceeded"
	VerdictRuntimeError        Verdict = "runtime_error"
	VerdictCompileError        Verdict = "compile_error"
	VerdictInternalError       Verdict = "internal_error"
)

// verdictPriority orders verdicts for aggregation; lower value wins.
// The submission-level verdict is the worst category seen across all tests,
// not the last test's verdict.
var verdictPriority = map[Verdict]int{
	VerdictCompileError:        0,
	VerdictInternalError:       1,
	VerdictTimeLimitExceeded:   2,
	VerdictMemoryLimitExceeded: 3,
	VerdictRuntimeError:        4,
	VerdictWrongAnswer:         5,
	VerdictAccepted:            6,
}

// Priority returns the aggregation priority of the verdict; unknown verdicts
// sort as internal errors.
func (v Verdict) Priority() int {
	if p, ok := verdictPriority[v]; ok {
		return p
	}
	return verdictPriority[VerdictInternalError]
}

// IsAccepted reports whether the verdict is an acceptance.
func (v Verdict) IsAccepted() bool {
	return v == VerdictAccepted
}

// WorseVerdict returns whichever verdict ranks higher in the priority order.
func WorseVerdict(a, b Verdict) Verdict {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if b.Priority() < a.Priority() {
		return b
	}
	return a
}

// Submission is immutable once judged. It belongs to exactly one
// (contest, user, problem) triple.
type Submission struct {
	SubmissionID string `json:"submission_id"`
	ContestID    int64  `json:"contest_id"`
	ProblemID    int64  `json:"problem_id"`
	UserID       int64  `json:"user_id"`
	Language     string `json:"language"`

	SourceCode string `json:"source_code,omitempty"`
	SourceKey  string `json:"source_key"`
	SourceHash string `json:"source_hash"`

	Status  SubmissionStatus `json:"status"`
	Verdict Verdict          `json:"verdict,omitempty"`

	TestsPassed int `json:"tests_passed"`
	TestsTotal  int `json:"tests_total"`

	// FirstFailedTest is the 1-based index of the first failing test in
	// judge order; 0 when every test passed.
	FirstFailedTest int `json:"first_failed_test"`

	// TimeUsedMs is the wall time of the slowest test.
	TimeUsedMs int64 `json:"time_used_ms"`

	CreatedAt time.Time  `json:"created_at"`
	JudgedAt  *time.Time `json:"judged_at,omitempty"`
}

// IsTerminal reports whether the submission holds a final verdict.
func (s *Submission) IsTerminal() bool {
	return s.Status == SubmissionStatusJudged
}
