package model

import "time"

// JudgeTask represents the Kafka payload for queued judging work.
type JudgeTask struct {
	SubmissionID string    `json:"submission_id"`
	ContestID    int64     `json:"contest_id"`
	ProblemID    int64     `json:"problem_id"`
	UserID       int64     `json:"user_id"`
	Language     string    `json:"language"`
	SourceKey    string    `json:"source_key"`
	SourceHash   string    `json:"source_hash"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
