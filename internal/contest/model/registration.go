package model

import (
	"time"
)

// RegistrationStatus represents the participation state of one user in one contest.
type RegistrationStatus string

const (
	RegistrationStatusRegistered    RegistrationStatus = "registered"
	RegistrationStatusParticipating RegistrationStatus = "participating"
	RegistrationStatusCompleted     RegistrationStatus = "completed"
	RegistrationStatusDisqualified  RegistrationStatus = "disqualified"
)

// Registration is the authoritative per-(contest, user) record. Aggregate
// fields are monotonic accumulators mutated only on first acceptance of a
// problem; repeat submissions after a solve never change them.
type Registration struct {
	ID        int64              `json:"id"`
	ContestID int64              `json:"contest_id"`
	UserID    int64              `json:"user_id"`
	Status    RegistrationStatus `json:"status"`

	RegisteredAt time.Time  `json:"registered_at"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`

	// EffectiveStartTime is the per-user clock start: the later of the
	// contest start and this user's join time.
	EffectiveStartTime *time.Time `json:"effective_start_time,omitempty"`

	ProblemsSolved      int   `json:"problems_solved"`
	TotalTimeSeconds    int64 `json:"total_time_seconds"`
	TotalPenaltyMinutes int64 `json:"total_penalty_minutes"`
	FinalScore          int   `json:"final_score"`

	// FinalRank is assigned after the contest ends; 0 until computed.
	FinalRank int `json:"final_rank"`

	// Attempts maps problem id to the per-problem attempt record.
	Attempts map[int64]*ProblemAttempt `json:"attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProblemAttempt tracks one user's attempts on one contest problem.
type ProblemAttempt struct {
	ProblemID        int64      `json:"problem_id"`
	Attempts         int        `json:"attempts"`
	Solved           bool       `json:"solved"`
	SolvedAt         *time.Time `json:"solved_at,omitempty"`
	SolveTimeSeconds int64      `json:"solve_time_seconds"`
	PenaltyMinutes   int        `json:"penalty_minutes"`
	Score            int        `json:"score"`
	BestSubmissionID string     `json:"best_submission_id,omitempty"`
}

// EffectiveStart returns the clock start used for solve time computation,
// falling back to the contest start when the user has not joined explicitly.
func (r *Registration) EffectiveStart(contestStart time.Time) time.Time {
	if r.EffectiveStartTime != nil && r.EffectiveStartTime.After(contestStart) {
		return *r.EffectiveStartTime
	}
	return contestStart
}

// IsActive reports whether the registration permits submitting.
func (r *Registration) IsActive() bool {
	return r.Status == RegistrationStatusRegistered || r.Status == RegistrationStatusParticipating
}

// SolveSeconds computes whole seconds elapsed from the effective start to the
// solve instant. Never negative.
func SolveSeconds(effectiveStart, solvedAt time.Time) int64 {
	seconds := int64(solvedAt.Sub(effectiveStart) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}

// WrongAttemptPenalty computes the penalty minutes contributed by a solved
// problem: wrong attempts before the accepted one, times the contest's
// per-attempt penalty. Attempts after a solve never add penalty.
func WrongAttemptPenalty(attemptsBeforeAccept int, penaltyMinutes int) int {
	if attemptsBeforeAccept <= 0 || penaltyMinutes <= 0 {
		return 0
	}
	return attemptsBeforeAccept * penaltyMinutes
}
