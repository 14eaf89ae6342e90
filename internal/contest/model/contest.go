package model

import (
	"time"
)

// ContestStatus represents the lifecycle state of a contest.
type ContestStatus string

const (
	ContestStatusDraft     ContestStatus = "draft"
	ContestStatusScheduled ContestStatus = "scheduled"
	ContestStatusLive      ContestStatus = "live"
	ContestStatusEnded     ContestStatus = "ended"
	ContestStatusCancelled ContestStatus = "cancelled"
)

// MaxContestProblems bounds the problem list per contest.
const MaxContestProblems = 10

// contestTransitions lists the legal next states per state.
// Cancelled is reachable from any non-terminal state; ended and cancelled are terminal.
var contestTransitions = map[ContestStatus][]ContestStatus{
	ContestStatusDraft:     {ContestStatusScheduled, ContestStatusCancelled},
	ContestStatusScheduled: {ContestStatusLive, ContestStatusCancelled},
	ContestStatusLive:      {ContestStatusEnded, ContestStatusCancelled},
	ContestStatusEnded:     {},
	ContestStatusCancelled: {},
}

// Valid reports whether the status is a known contest status.
func (s ContestStatus) Valid() bool {
	_, ok := contestTransitions[s]
	return ok
}

// IsTerminal reports whether the status permits no further transitions.
func (s ContestStatus) IsTerminal() bool {
	return s == ContestStatusEnded || s == ContestStatusCancelled
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s ContestStatus) CanTransitionTo(next ContestStatus) bool {
	for _, allowed := range contestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Contest represents a timed competitive-programming contest.
type Contest struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	CreatorID   int64         `json:"creator_id"`
	Status      ContestStatus `json:"status"`

	// StartTime and DurationMinutes determine EndTime. EndTime is always
	// recomputed from the other two, never edited independently.
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	EndTime         time.Time `json:"end_time"`

	// PenaltyMinutes is added per wrong attempt before the accepted one.
	PenaltyMinutes int `json:"penalty_minutes"`

	// MaxParticipants caps registrations; 0 means unlimited.
	MaxParticipants int `json:"max_participants"`

	// AllowLateJoin permits joining after StartTime, up to
	// LateJoinDeadlineMinutes after the start.
	AllowLateJoin           bool `json:"allow_late_join"`
	LateJoinDeadlineMinutes int  `json:"late_join_deadline_minutes"`

	Problems []ContestProblem `json:"problems,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ContestProblem is one entry of a contest's ordered problem list.
type ContestProblem struct {
	ProblemID  int64  `json:"problem_id"`
	Label      string `json:"label"`
	Points     int    `json:"points"`
	OrderIndex int    `json:"order_index"`
}

// Duration returns the contest duration.
func (c *Contest) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// RecomputeEndTime derives EndTime from StartTime and DurationMinutes.
// Must be called whenever either field changes, including a manual start.
func (c *Contest) RecomputeEndTime() {
	c.EndTime = c.StartTime.Add(c.Duration())
}

// LateJoinDeadline returns the last instant at which a late join is accepted.
// When LateJoinDeadlineMinutes is unset, half the contest duration is used.
func (c *Contest) LateJoinDeadline() time.Time {
	deadline := c.LateJoinDeadlineMinutes
	if deadline <= 0 {
		deadline = c.DurationMinutes / 2
	}
	return c.StartTime.Add(time.Duration(deadline) * time.Minute)
}

// CanJoinLate reports whether a join at the given time is within the late
// join window. The window only applies while the contest is live.
func (c *Contest) CanJoinLate(now time.Time) bool {
	if !c.AllowLateJoin {
		return false
	}
	return now.Before(c.LateJoinDeadline())
}

// HasProblem reports whether the problem belongs to the contest.
func (c *Contest) HasProblem(problemID int64) bool {
	for _, p := range c.Problems {
		if p.ProblemID == problemID {
			return true
		}
	}
	return false
}

// ProblemByID returns the contest problem entry for the id.
func (c *Contest) ProblemByID(problemID int64) (ContestProblem, bool) {
	for _, p := range c.Problems {
		if p.ProblemID == problemID {
			return p, true
		}
	}
	return ContestProblem{}, false
}

// ShouldBeLive reports whether a scheduled contest's start time has been reached.
func (c *Contest) ShouldBeLive(now time.Time) bool {
	return c.Status == ContestStatusScheduled && !now.Before(c.StartTime)
}

// ShouldBeEnded reports whether a live contest's end time has been reached.
func (c *Contest) ShouldBeEnded(now time.Time) bool {
	return c.Status == ContestStatusLive && !now.Before(c.EndTime)
}

// ProblemLabel returns the letter label for a zero-based problem index:
// A..Z, then AA, AB, ...
func ProblemLabel(index int) string {
	if index < 0 {
		return ""
	}
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if index < len(letters) {
		return string(letters[index])
	}
	first := index/len(letters) - 1
	second := index % len(letters)
	return string(letters[first]) + string(letters[second])
}
