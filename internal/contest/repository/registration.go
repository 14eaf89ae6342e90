package repository

import (
	"context"
	"errors"
	"time"

	"arenaoj/internal/common/db"
	"arenaoj/internal/contest/model"
	appErr "arenaoj/pkg/errors"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
)

// AcceptanceResult reports the outcome of ApplyFirstAcceptance.
type AcceptanceResult struct {
	// FirstAcceptance is true when this call recorded the user's first
	// accepted submission for the problem and updated the aggregates.
	FirstAcceptance bool

	// SolvedAt is the solve instant. For a repeat acceptance it is the
	// original first-solve time, unchanged.
	SolvedAt time.Time

	// SolveTimeSeconds and PenaltyMinutes are the contributions recorded
	// on first acceptance; zero for repeats.
	SolveTimeSeconds int64
	PenaltyMinutes   int
}

// RegistrationRepository persists per-(contest, user) participation state.
type RegistrationRepository interface {
	Register(ctx context.Context, registration *model.Registration) error
	Join(ctx context.Context, contestID, userID int64, joinedAt, effectiveStart time.Time) error
	GetByContestAndUser(ctx context.Context, tx db.Transaction, contestID, userID int64) (*model.Registration, error)
	CountByContest(ctx context.Context, contestID int64) (int64, error)
	RecordFailedAttempt(ctx context.Context, contestID, userID, problemID int64) (int, error)
	ApplyFirstAcceptance(ctx context.Context, params FirstAcceptanceParams) (*AcceptanceResult, error)
	ListByContest(ctx context.Context, contestID int64) ([]*model.Registration, error)
	ListForFinalRanking(ctx context.Context, contestID int64) ([]*model.Registration, error)
	UpdateFinalRanks(ctx context.Context, contestID int64, ranks map[int64]int) error
	MarkCompleted(ctx context.Context, contestID int64) error
	Disqualify(ctx context.Context, contestID, userID int64) error
}

// FirstAcceptanceParams carries everything ApplyFirstAcceptance needs to
// record a solve.
type FirstAcceptanceParams struct {
	ContestID    int64
	UserID       int64
	ProblemID    int64
	SubmissionID string
	SolvedAt     time.Time

	// EffectiveStart is the user's clock start, already resolved by the
	// caller against the contest start time.
	EffectiveStart time.Time

	// PenaltyPerWrongAttempt is the contest's per-attempt penalty.
	PenaltyPerWrongAttempt int

	// Points is the problem's score contribution.
	Points int
}

// MySQLRegistrationRepository implements RegistrationRepository with MySQL.
type MySQLRegistrationRepository struct {
	db db.Database
}

// NewRegistrationRepository creates a registration repository.
func NewRegistrationRepository(database db.Database) RegistrationRepository {
	return &MySQLRegistrationRepository{db: database}
}

const registrationColumns = `id, contest_id, user_id, status, registered_at, joined_at, effective_start_time,
	problems_solved, total_time_seconds, total_penalty_minutes, final_score, final_rank, created_at, updated_at`

// Register inserts a registration row. A duplicate (contest, user) pair maps
// to AlreadyRegistered via the unique key.
func (r *MySQLRegistrationRepository) Register(ctx context.Context, registration *model.Registration) error {
	if registration == nil {
		return errors.New("registration is nil")
	}
	if registration.ContestID <= 0 || registration.UserID <= 0 {
		return errors.New("contestID and userID are required")
	}
	if registration.Status == "" {
		registration.Status = model.RegistrationStatusRegistered
	}
	if registration.RegisteredAt.IsZero() {
		registration.RegisteredAt = time.Now()
	}

	query := `
		INSERT INTO contest_registrations
		(contest_id, user_id, status, registered_at, joined_at, effective_start_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(
		ctx,
		query,
		registration.ContestID,
		registration.UserID,
		string(registration.Status),
		registration.RegisteredAt,
		registration.JoinedAt,
		registration.EffectiveStartTime,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return appErr.New(appErr.AlreadyRegistered).WithMessage("user already registered for contest")
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	registration.ID = id
	return nil
}

// Join stamps the user's join and effective start times and flips the
// registration to participating. Joining twice keeps the first stamp.
func (r *MySQLRegistrationRepository) Join(ctx context.Context, contestID, userID int64, joinedAt, effectiveStart time.Time) error {
	if contestID <= 0 || userID <= 0 {
		return errors.New("contestID and userID are required")
	}
	query := `
		UPDATE contest_registrations
		SET status = ?, joined_at = ?, effective_start_time = ?
		WHERE contest_id = ? AND user_id = ? AND joined_at IS NULL AND status = ?
	`
	_, err := r.db.Exec(
		ctx,
		query,
		string(model.RegistrationStatusParticipating),
		joinedAt,
		effectiveStart,
		contestID,
		userID,
		string(model.RegistrationStatusRegistered),
	)
	return err
}

// GetByContestAndUser loads one registration with its per-problem attempts.
func (r *MySQLRegistrationRepository) GetByContestAndUser(ctx context.Context, tx db.Transaction, contestID, userID int64) (*model.Registration, error) {
	if contestID <= 0 || userID <= 0 {
		return nil, errors.New("contestID and userID are required")
	}
	query := "SELECT " + registrationColumns + " FROM contest_registrations WHERE contest_id = ? AND user_id = ? LIMIT 1"
	registration, err := scanRegistration(db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID, userID))
	if err != nil {
		return nil, err
	}
	attempts, err := r.loadAttempts(ctx, tx, registration.ID)
	if err != nil {
		return nil, err
	}
	registration.Attempts = attempts
	return registration, nil
}

// CountByContest returns the number of registrations for capacity checks.
func (r *MySQLRegistrationRepository) CountByContest(ctx context.Context, contestID int64) (int64, error) {
	if contestID <= 0 {
		return 0, errors.New("contestID is required")
	}
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM contest_registrations WHERE contest_id = ?", contestID).Scan(&count)
	return count, err
}

// RecordFailedAttempt bumps the attempt counter for a non-accepted verdict
// and returns the new count. Attempts on an already-solved problem still
// count submissions but never change penalties or aggregates.
func (r *MySQLRegistrationRepository) RecordFailedAttempt(ctx context.Context, contestID, userID, problemID int64) (int, error) {
	if contestID <= 0 || userID <= 0 || problemID <= 0 {
		return 0, errors.New("contestID, userID and problemID are required")
	}
	var attempts int
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		registrationID, err := r.registrationID(ctx, tx, contestID, userID)
		if err != nil {
			return err
		}
		upsert := `
			INSERT INTO registration_attempts (registration_id, problem_id, attempts)
			VALUES (?, ?, 1)
			ON DUPLICATE KEY UPDATE attempts = attempts + 1
		`
		if _, err := tx.Exec(ctx, upsert, registrationID, problemID); err != nil {
			return err
		}
		return tx.QueryRow(
			ctx,
			"SELECT attempts FROM registration_attempts WHERE registration_id = ? AND problem_id = ?",
			registrationID,
			problemID,
		).Scan(&attempts)
	})
	return attempts, err
}

// ApplyFirstAcceptance records an accepted submission. The first acceptance
// per (registration, problem) wins via a conditional update on solved = 0;
// every later acceptance is a no-op that reports the original solve time.
// Aggregates move only on the winning call, inside the same transaction.
func (r *MySQLRegistrationRepository) ApplyFirstAcceptance(ctx context.Context, params FirstAcceptanceParams) (*AcceptanceResult, error) {
	if params.ContestID <= 0 || params.UserID <= 0 || params.ProblemID <= 0 {
		return nil, errors.New("contestID, userID and problemID are required")
	}
	if params.SubmissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	if params.SolvedAt.IsZero() {
		params.SolvedAt = time.Now()
	}

	outcome := &AcceptanceResult{}
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		registrationID, err := r.registrationID(ctx, tx, params.ContestID, params.UserID)
		if err != nil {
			return err
		}

		// ensure the attempt row exists so the conditional update below
		// has something to claim
		seed := `
			INSERT INTO registration_attempts (registration_id, problem_id, attempts)
			VALUES (?, ?, 0)
			ON DUPLICATE KEY UPDATE registration_id = registration_id
		`
		if _, err := tx.Exec(ctx, seed, registrationID, params.ProblemID); err != nil {
			return err
		}

		solveSeconds := model.SolveSeconds(params.EffectiveStart, params.SolvedAt)
		claim := `
			UPDATE registration_attempts
			SET solved = 1,
			    solved_at = ?,
			    solve_time_seconds = ?,
			    penalty_minutes = attempts * ?,
			    score = ?,
			    best_submission_id = ?,
			    attempts = attempts + 1
			WHERE registration_id = ? AND problem_id = ? AND solved = 0
		`
		result, err := tx.Exec(
			ctx,
			claim,
			params.SolvedAt,
			solveSeconds,
			params.PenaltyPerWrongAttempt,
			params.Points,
			params.SubmissionID,
			registrationID,
			params.ProblemID,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// lost the race or a repeat acceptance: report the original solve
			var solvedAt time.Time
			err := tx.QueryRow(
				ctx,
				"SELECT solved_at FROM registration_attempts WHERE registration_id = ? AND problem_id = ? AND solved = 1",
				registrationID,
				params.ProblemID,
			).Scan(&solvedAt)
			if err != nil {
				return err
			}
			outcome.FirstAcceptance = false
			outcome.SolvedAt = solvedAt
			return nil
		}

		var penalty int
		err = tx.QueryRow(
			ctx,
			"SELECT penalty_minutes FROM registration_attempts WHERE registration_id = ? AND problem_id = ?",
			registrationID,
			params.ProblemID,
		).Scan(&penalty)
		if err != nil {
			return err
		}

		aggregate := `
			UPDATE contest_registrations
			SET problems_solved = problems_solved + 1,
			    total_time_seconds = total_time_seconds + ?,
			    total_penalty_minutes = total_penalty_minutes + ?,
			    final_score = final_score + ?
			WHERE id = ?
		`
		if _, err := tx.Exec(ctx, aggregate, solveSeconds, penalty, params.Points, registrationID); err != nil {
			return err
		}

		outcome.FirstAcceptance = true
		outcome.SolvedAt = params.SolvedAt
		outcome.SolveTimeSeconds = solveSeconds
		outcome.PenaltyMinutes = penalty
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ListByContest returns all registrations of a contest with their attempts.
func (r *MySQLRegistrationRepository) ListByContest(ctx context.Context, contestID int64) ([]*model.Registration, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + registrationColumns + " FROM contest_registrations WHERE contest_id = ? ORDER BY id"
	rows, err := r.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	registrations, err := collectRegistrations(rows)
	if err != nil {
		return nil, err
	}
	for _, registration := range registrations {
		attempts, err := r.loadAttempts(ctx, nil, registration.ID)
		if err != nil {
			return nil, err
		}
		registration.Attempts = attempts
	}
	return registrations, nil
}

// ListForFinalRanking returns non-disqualified registrations in final
// standings order. Ties on every key share a rank; the caller assigns dense
// ranks by walking the order.
func (r *MySQLRegistrationRepository) ListForFinalRanking(ctx context.Context, contestID int64) ([]*model.Registration, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + registrationColumns + ` FROM contest_registrations
		WHERE contest_id = ? AND status != ?
		ORDER BY final_score DESC, problems_solved DESC, total_time_seconds ASC, total_penalty_minutes ASC, user_id ASC`
	rows, err := r.db.Query(ctx, query, contestID, string(model.RegistrationStatusDisqualified))
	if err != nil {
		return nil, err
	}
	return collectRegistrations(rows)
}

// UpdateFinalRanks writes the computed dense ranks, keyed by user id.
func (r *MySQLRegistrationRepository) UpdateFinalRanks(ctx context.Context, contestID int64, ranks map[int64]int) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		for userID, rank := range ranks {
			_, err := tx.Exec(
				ctx,
				"UPDATE contest_registrations SET final_rank = ? WHERE contest_id = ? AND user_id = ?",
				rank,
				contestID,
				userID,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkCompleted flips every active registration of an ended contest to
// completed. Disqualified rows stay disqualified.
func (r *MySQLRegistrationRepository) MarkCompleted(ctx context.Context, contestID int64) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	query := `
		UPDATE contest_registrations
		SET status = ?
		WHERE contest_id = ? AND status IN (?, ?)
	`
	_, err := r.db.Exec(
		ctx,
		query,
		string(model.RegistrationStatusCompleted),
		contestID,
		string(model.RegistrationStatusRegistered),
		string(model.RegistrationStatusParticipating),
	)
	return err
}

// Disqualify marks one registration disqualified.
func (r *MySQLRegistrationRepository) Disqualify(ctx context.Context, contestID, userID int64) error {
	if contestID <= 0 || userID <= 0 {
		return errors.New("contestID and userID are required")
	}
	result, err := r.db.Exec(
		ctx,
		"UPDATE contest_registrations SET status = ? WHERE contest_id = ? AND user_id = ?",
		string(model.RegistrationStatusDisqualified),
		contestID,
		userID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

func (r *MySQLRegistrationRepository) registrationID(ctx context.Context, tx db.Transaction, contestID, userID int64) (int64, error) {
	var id int64
	err := db.GetQuerier(r.db, tx).QueryRow(
		ctx,
		"SELECT id FROM contest_registrations WHERE contest_id = ? AND user_id = ? LIMIT 1",
		contestID,
		userID,
	).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, ErrRegistrationNotFound
		}
		return 0, err
	}
	return id, nil
}

func (r *MySQLRegistrationRepository) loadAttempts(ctx context.Context, tx db.Transaction, registrationID int64) (map[int64]*model.ProblemAttempt, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(
		ctx,
		`SELECT problem_id, attempts, solved, solved_at, solve_time_seconds, penalty_minutes, score, best_submission_id
		 FROM registration_attempts WHERE registration_id = ?`,
		registrationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make(map[int64]*model.ProblemAttempt)
	for rows.Next() {
		attempt := &model.ProblemAttempt{}
		var solvedAt *time.Time
		var bestSubmission *string
		if err := rows.Scan(
			&attempt.ProblemID,
			&attempt.Attempts,
			&attempt.Solved,
			&solvedAt,
			&attempt.SolveTimeSeconds,
			&attempt.PenaltyMinutes,
			&attempt.Score,
			&bestSubmission,
		); err != nil {
			return nil, err
		}
		attempt.SolvedAt = solvedAt
		if bestSubmission != nil {
			attempt.BestSubmissionID = *bestSubmission
		}
		attempts[attempt.ProblemID] = attempt
	}
	return attempts, rows.Err()
}

func scanRegistration(row db.Row) (*model.Registration, error) {
	registration := &model.Registration{}
	var status string
	if err := row.Scan(
		&registration.ID,
		&registration.ContestID,
		&registration.UserID,
		&status,
		&registration.RegisteredAt,
		&registration.JoinedAt,
		&registration.EffectiveStartTime,
		&registration.ProblemsSolved,
		&registration.TotalTimeSeconds,
		&registration.TotalPenaltyMinutes,
		&registration.FinalScore,
		&registration.FinalRank,
		&registration.CreatedAt,
		&registration.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	registration.Status = model.RegistrationStatus(status)
	return registration, nil
}

func collectRegistrations(rows db.Rows) ([]*model.Registration, error) {
	defer rows.Close()
	var registrations []*model.Registration
	for rows.Next() {
		registration := &model.Registration{}
		var status string
		if err := rows.Scan(
			&registration.ID,
			&registration.ContestID,
			&registration.UserID,
			&status,
			&registration.RegisteredAt,
			&registration.JoinedAt,
			&registration.EffectiveStartTime,
			&registration.ProblemsSolved,
			&registration.TotalTimeSeconds,
			&registration.TotalPenaltyMinutes,
			&registration.FinalScore,
			&registration.FinalRank,
			&registration.CreatedAt,
			&registration.UpdatedAt,
		); err != nil {
			return nil, err
		}
		registration.Status = model.RegistrationStatus(status)
		registrations = append(registrations, registration)
	}
	return registrations, rows.Err()
}
