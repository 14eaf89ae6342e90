package repository

import (
	"context"
	"errors"
	"time"

	"arenaoj/internal/common/db"
	"arenaoj/internal/contest/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionRepository persists contest submissions. Rows move pending ->
// judging -> judged exactly once; FinalizeVerdict is conditional so redelivered
// judge messages cannot overwrite a terminal verdict.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
	MarkJudging(ctx context.Context, submissionID string) (bool, error)
	FinalizeVerdict(ctx context.Context, submissionID string, outcome VerdictOutcome) (bool, error)
	ListByContestAndUser(ctx context.Context, contestID, userID int64, limit, offset int) ([]*model.Submission, error)
	ListByContestAndProblem(ctx context.Context, contestID, problemID int64, limit, offset int) ([]*model.Submission, error)
	CountPendingByContest(ctx context.Context, contestID int64) (int64, error)
}

// VerdictOutcome is the terminal judging result written by FinalizeVerdict.
type VerdictOutcome struct {
	Verdict         model.Verdict
	TestsPassed     int
	TestsTotal      int
	FirstFailedTest int
	TimeUsedMs      int64
	JudgedAt        time.Time
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = `submission_id, contest_id, problem_id, user_id, language, source_key, source_hash,
	status, verdict, tests_passed, tests_total, first_failed_test, time_used_ms, created_at, judged_at`

// Create inserts a pending submission.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.ContestID <= 0 || submission.ProblemID <= 0 || submission.UserID <= 0 {
		return errors.New("contestID, problemID and userID are required")
	}
	if submission.Language == "" {
		return errors.New("language is required")
	}
	if submission.Status == "" {
		submission.Status = model.SubmissionStatusPending
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO contest_submissions
		(submission_id, contest_id, problem_id, user_id, language, source_key, source_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.ContestID,
		submission.ProblemID,
		submission.UserID,
		submission.Language,
		submission.SourceKey,
		submission.SourceHash,
		string(submission.Status),
		submission.CreatedAt,
	)
	return err
}

// GetByID loads one submission.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := "SELECT " + submissionColumns + " FROM contest_submissions WHERE submission_id = ? LIMIT 1"
	return scanSubmission(r.db.QueryRow(ctx, query, submissionID))
}

// MarkJudging claims a pending submission for judging. Returns false when the
// row is already claimed or judged, which makes consumer redelivery a no-op.
func (r *MySQLSubmissionRepository) MarkJudging(ctx context.Context, submissionID string) (bool, error) {
	if submissionID == "" {
		return false, errors.New("submissionID is required")
	}
	result, err := r.db.Exec(
		ctx,
		"UPDATE contest_submissions SET status = ? WHERE submission_id = ? AND status = ?",
		string(model.SubmissionStatusJudging),
		submissionID,
		string(model.SubmissionStatusPending),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FinalizeVerdict writes the terminal verdict once. A submission that already
// holds a verdict is left untouched and the call reports false.
func (r *MySQLSubmissionRepository) FinalizeVerdict(ctx context.Context, submissionID string, outcome VerdictOutcome) (bool, error) {
	if submissionID == "" {
		return false, errors.New("submissionID is required")
	}
	if outcome.Verdict == "" {
		return false, errors.New("verdict is required")
	}
	if outcome.JudgedAt.IsZero() {
		outcome.JudgedAt = time.Now()
	}

	query := `
		UPDATE contest_submissions
		SET status = ?, verdict = ?, tests_passed = ?, tests_total = ?,
		    first_failed_test = ?, time_used_ms = ?, judged_at = ?
		WHERE submission_id = ? AND status != ?
	`
	result, err := r.db.Exec(
		ctx,
		query,
		string(model.SubmissionStatusJudged),
		string(outcome.Verdict),
		outcome.TestsPassed,
		outcome.TestsTotal,
		outcome.FirstFailedTest,
		outcome.TimeUsedMs,
		outcome.JudgedAt,
		submissionID,
		string(model.SubmissionStatusJudged),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListByContestAndUser returns a user's submissions in a contest, newest first.
func (r *MySQLSubmissionRepository) ListByContestAndUser(ctx context.Context, contestID, userID int64, limit, offset int) ([]*model.Submission, error) {
	if contestID <= 0 || userID <= 0 {
		return nil, errors.New("contestID and userID are required")
	}
	limit, offset = normalizePage(limit, offset)
	query := "SELECT " + submissionColumns + ` FROM contest_submissions
		WHERE contest_id = ? AND user_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.Query(ctx, query, contestID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectSubmissions(rows)
}

// ListByContestAndProblem returns submissions for one contest problem, newest first.
func (r *MySQLSubmissionRepository) ListByContestAndProblem(ctx context.Context, contestID, problemID int64, limit, offset int) ([]*model.Submission, error) {
	if contestID <= 0 || problemID <= 0 {
		return nil, errors.New("contestID and problemID are required")
	}
	limit, offset = normalizePage(limit, offset)
	query := "SELECT " + submissionColumns + ` FROM contest_submissions
		WHERE contest_id = ? AND problem_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.Query(ctx, query, contestID, problemID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectSubmissions(rows)
}

// CountPendingByContest counts submissions not yet judged, used by the
// conclude hook to decide whether final ranking must wait for stragglers.
func (r *MySQLSubmissionRepository) CountPendingByContest(ctx context.Context, contestID int64) (int64, error) {
	if contestID <= 0 {
		return 0, errors.New("contestID is required")
	}
	var count int64
	err := r.db.QueryRow(
		ctx,
		"SELECT COUNT(*) FROM contest_submissions WHERE contest_id = ? AND status != ?",
		contestID,
		string(model.SubmissionStatusJudged),
	).Scan(&count)
	return count, err
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	submission := &model.Submission{}
	var status, verdict string
	var judgedAt *time.Time
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.ContestID,
		&submission.ProblemID,
		&submission.UserID,
		&submission.Language,
		&submission.SourceKey,
		&submission.SourceHash,
		&status,
		&verdict,
		&submission.TestsPassed,
		&submission.TestsTotal,
		&submission.FirstFailedTest,
		&submission.TimeUsedMs,
		&submission.CreatedAt,
		&judgedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	submission.Status = model.SubmissionStatus(status)
	submission.Verdict = model.Verdict(verdict)
	submission.JudgedAt = judgedAt
	return submission, nil
}

func collectSubmissions(rows db.Rows) ([]*model.Submission, error) {
	defer rows.Close()
	var submissions []*model.Submission
	for rows.Next() {
		submission := &model.Submission{}
		var status, verdict string
		var judgedAt *time.Time
		if err := rows.Scan(
			&submission.SubmissionID,
			&submission.ContestID,
			&submission.ProblemID,
			&submission.UserID,
			&submission.Language,
			&submission.SourceKey,
			&submission.SourceHash,
			&status,
			&verdict,
			&submission.TestsPassed,
			&submission.TestsTotal,
			&submission.FirstFailedTest,
			&submission.TimeUsedMs,
			&submission.CreatedAt,
			&judgedAt,
		); err != nil {
			return nil, err
		}
		submission.Status = model.SubmissionStatus(status)
		submission.Verdict = model.Verdict(verdict)
		submission.JudgedAt = judgedAt
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}
