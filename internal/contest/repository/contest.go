package repository

import (
	"context"
	"errors"
	"time"

	"arenaoj/internal/common/db"
	"arenaoj/internal/contest/model"
)

var (
	ErrContestNotFound = errors.New("contest not found")
)

// ContestRepository defines contest persistence. Status transitions go
// through UpdateStatusCAS so the scheduler's timer path and sweep path can
// race safely: exactly one of them wins the conditional update.
type ContestRepository interface {
	Create(ctx context.Context, tx db.Transaction, contest *model.Contest) error
	Update(ctx context.Context, tx db.Transaction, contest *model.Contest) error
	GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error)
	SetProblems(ctx context.Context, contestID int64, problems []model.ContestProblem) error
	UpdateStatusCAS(ctx context.Context, contestID int64, from, to model.ContestStatus) (bool, error)
	StartNowCAS(ctx context.Context, contestID int64, startTime, endTime time.Time) (bool, error)
	ListByStatus(ctx context.Context, status model.ContestStatus) ([]*model.Contest, error)
	ListDueTransitions(ctx context.Context, now time.Time) ([]*model.Contest, error)
	SoftDelete(ctx context.Context, contestID int64) error
}

// MySQLContestRepository implements ContestRepository with MySQL.
type MySQLContestRepository struct {
	db db.Database
}

// NewContestRepository creates a contest repository.
func NewContestRepository(database db.Database) ContestRepository {
	return &MySQLContestRepository{db: database}
}

const contestColumns = `id, title, description, creator_id, status, start_time, duration_minutes, end_time,
	penalty_minutes, max_participants, allow_late_join, late_join_deadline_minutes, created_at, updated_at`

// Create inserts a contest in draft status.
func (r *MySQLContestRepository) Create(ctx context.Context, tx db.Transaction, contest *model.Contest) error {
	if contest == nil {
		return errors.New("contest is nil")
	}
	if contest.Title == "" {
		return errors.New("title is required")
	}
	if contest.DurationMinutes <= 0 {
		return errors.New("duration is required")
	}
	contest.RecomputeEndTime()

	query := `
		INSERT INTO contests
		(title, description, creator_id, status, start_time, duration_minutes, end_time,
		 penalty_minutes, max_participants, allow_late_join, late_join_deadline_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		contest.Title,
		contest.Description,
		contest.CreatorID,
		string(contest.Status),
		contest.StartTime,
		contest.DurationMinutes,
		contest.EndTime,
		contest.PenaltyMinutes,
		contest.MaxParticipants,
		contest.AllowLateJoin,
		contest.LateJoinDeadlineMinutes,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	contest.ID = id
	return nil
}

// Update rewrites the mutable contest fields. EndTime is always recomputed
// from start and duration before the write, never stored independently.
func (r *MySQLContestRepository) Update(ctx context.Context, tx db.Transaction, contest *model.Contest) error {
	if contest == nil || contest.ID <= 0 {
		return errors.New("contest id is required")
	}
	contest.RecomputeEndTime()

	query := `
		UPDATE contests
		SET title = ?, description = ?, start_time = ?, duration_minutes = ?, end_time = ?,
		    penalty_minutes = ?, max_participants = ?, allow_late_join = ?, late_join_deadline_minutes = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	result, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		contest.Title,
		contest.Description,
		contest.StartTime,
		contest.DurationMinutes,
		contest.EndTime,
		contest.PenaltyMinutes,
		contest.MaxParticipants,
		contest.AllowLateJoin,
		contest.LateJoinDeadlineMinutes,
		contest.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrContestNotFound
	}
	return nil
}

// GetByID loads a contest with its ordered problem list.
func (r *MySQLContestRepository) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + contestColumns + " FROM contests WHERE id = ? AND deleted_at IS NULL LIMIT 1"
	contest, err := scanContest(db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID))
	if err != nil {
		return nil, err
	}
	problems, err := r.loadProblems(ctx, tx, contestID)
	if err != nil {
		return nil, err
	}
	contest.Problems = problems
	return contest, nil
}

// SetProblems replaces the contest's ordered problem list.
func (r *MySQLContestRepository) SetProblems(ctx context.Context, contestID int64, problems []model.ContestProblem) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	if len(problems) > model.MaxContestProblems {
		return errors.New("too many problems")
	}
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, "DELETE FROM contest_problems WHERE contest_id = ?", contestID); err != nil {
			return err
		}
		for _, p := range problems {
			_, err := tx.Exec(
				ctx,
				"INSERT INTO contest_problems (contest_id, problem_id, label, points, ord) VALUES (?, ?, ?, ?, ?)",
				contestID,
				p.ProblemID,
				p.Label,
				p.Points,
				p.OrderIndex,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateStatusCAS moves a contest between states only if it is still in the
// expected state. Returns false when another writer already transitioned it.
func (r *MySQLContestRepository) UpdateStatusCAS(ctx context.Context, contestID int64, from, to model.ContestStatus) (bool, error) {
	if contestID <= 0 {
		return false, errors.New("contestID is required")
	}
	result, err := r.db.Exec(
		ctx,
		"UPDATE contests SET status = ? WHERE id = ? AND status = ? AND deleted_at IS NULL",
		string(to),
		contestID,
		string(from),
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

// StartNowCAS implements a manual start: scheduled -> live with the start
// time rewritten to now and the end time recomputed from it.
func (r *MySQLContestRepository) StartNowCAS(ctx context.Context, contestID int64, startTime, endTime time.Time) (bool, error) {
	if contestID <= 0 {
		return false, errors.New("contestID is required")
	}
	result, err := r.db.Exec(
		ctx,
		"UPDATE contests SET status = ?, start_time = ?, end_time = ? WHERE id = ? AND status = ? AND deleted_at IS NULL",
		string(model.ContestStatusLive),
		startTime,
		endTime,
		contestID,
		string(model.ContestStatusScheduled),
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

// ListByStatus returns contests in the given state.
func (r *MySQLContestRepository) ListByStatus(ctx context.Context, status model.ContestStatus) ([]*model.Contest, error) {
	query := "SELECT " + contestColumns + " FROM contests WHERE status = ? AND deleted_at IS NULL ORDER BY start_time"
	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	return collectContests(rows)
}

// ListDueTransitions returns contests whose status disagrees with what now
// implies: scheduled past their start, or live past their end. This is the
// reconciliation sweep's authoritative query.
func (r *MySQLContestRepository) ListDueTransitions(ctx context.Context, now time.Time) ([]*model.Contest, error) {
	query := "SELECT " + contestColumns + ` FROM contests
		WHERE deleted_at IS NULL
		  AND ((status = ? AND start_time <= ?) OR (status = ? AND end_time <= ?))
		ORDER BY start_time`
	rows, err := r.db.Query(ctx, query,
		string(model.ContestStatusScheduled), now,
		string(model.ContestStatusLive), now,
	)
	if err != nil {
		return nil, err
	}
	return collectContests(rows)
}

// SoftDelete marks a contest deleted. Rows are never hard-deleted while
// submissions reference them.
func (r *MySQLContestRepository) SoftDelete(ctx context.Context, contestID int64) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	result, err := r.db.Exec(ctx, "UPDATE contests SET deleted_at = NOW() WHERE id = ? AND deleted_at IS NULL", contestID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrContestNotFound
	}
	return nil
}

func (r *MySQLContestRepository) loadProblems(ctx context.Context, tx db.Transaction, contestID int64) ([]model.ContestProblem, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(
		ctx,
		"SELECT problem_id, label, points, ord FROM contest_problems WHERE contest_id = ? ORDER BY ord",
		contestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []model.ContestProblem
	for rows.Next() {
		var p model.ContestProblem
		if err := rows.Scan(&p.ProblemID, &p.Label, &p.Points, &p.OrderIndex); err != nil {
			return nil, err
		}
		problems = append(problems, p)
	}
	return problems, rows.Err()
}

func scanContest(row db.Row) (*model.Contest, error) {
	contest := &model.Contest{}
	var status string
	if err := row.Scan(
		&contest.ID,
		&contest.Title,
		&contest.Description,
		&contest.CreatorID,
		&status,
		&contest.StartTime,
		&contest.DurationMinutes,
		&contest.EndTime,
		&contest.PenaltyMinutes,
		&contest.MaxParticipants,
		&contest.AllowLateJoin,
		&contest.LateJoinDeadlineMinutes,
		&contest.CreatedAt,
		&contest.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	contest.Status = model.ContestStatus(status)
	return contest, nil
}

func collectContests(rows db.Rows) ([]*model.Contest, error) {
	defer rows.Close()
	var contests []*model.Contest
	for rows.Next() {
		contest := &model.Contest{}
		var status string
		if err := rows.Scan(
			&contest.ID,
			&contest.Title,
			&contest.Description,
			&contest.CreatorID,
			&status,
			&contest.StartTime,
			&contest.DurationMinutes,
			&contest.EndTime,
			&contest.PenaltyMinutes,
			&contest.MaxParticipants,
			&contest.AllowLateJoin,
			&contest.LateJoinDeadlineMinutes,
			&contest.CreatedAt,
			&contest.UpdatedAt,
		); err != nil {
			return nil, err
		}
		contest.Status = model.ContestStatus(status)
		contests = append(contests, contest)
	}
	return contests, rows.Err()
}
