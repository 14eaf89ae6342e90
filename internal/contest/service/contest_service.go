package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"arenaoj/internal/contest/model"
	"arenaoj/internal/contest/repository"
	"arenaoj/internal/ranking"
	"arenaoj/internal/realtime"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"
)

const (
	defaultLeaderboardPageSize = 20
	finalRankingTimeout        = 2 * time.Minute
)

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB time.Duration
}

// ContestConfig holds contest service dependencies.
type ContestConfig struct {
	ContestRepo      repository.ContestRepository
	RegistrationRepo repository.RegistrationRepository
	SubmissionRepo   repository.SubmissionRepository
	Ranking          *ranking.Engine
	Bus              *realtime.Bus
	Timeouts         TimeoutConfig
}

// ContestService owns the contest lifecycle, registration and leaderboard
// reads. The MySQL rows are the source of truth; the ranking engine and the
// event bus are projections that degrade without failing the operation that
// feeds them.
type ContestService struct {
	contestRepo      repository.ContestRepository
	registrationRepo repository.RegistrationRepository
	submissionRepo   repository.SubmissionRepository
	ranking          *ranking.Engine
	bus              *realtime.Bus
	timeouts         TimeoutConfig
}

// NewContestService creates a contest service.
func NewContestService(cfg ContestConfig) (*ContestService, error) {
	if cfg.ContestRepo == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.RegistrationRepo == nil {
		return nil, fmt.Errorf("registration repository is required")
	}
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Ranking == nil {
		return nil, fmt.Errorf("ranking engine is required")
	}
	return &ContestService{
		contestRepo:      cfg.ContestRepo,
		registrationRepo: cfg.RegistrationRepo,
		submissionRepo:   cfg.SubmissionRepo,
		ranking:          cfg.Ranking,
		bus:              cfg.Bus,
		timeouts:         cfg.Timeouts,
	}, nil
}

// CreateContestInput describes a contest to create.
type CreateContestInput struct {
	Title                   string
	Description             string
	CreatorID               int64
	StartTime               time.Time
	DurationMinutes         int
	PenaltyMinutes          int
	MaxParticipants         int
	AllowLateJoin           bool
	LateJoinDeadlineMinutes int
}

// CreateContest creates a contest in draft state.
func (s *ContestService) CreateContest(ctx context.Context, input CreateContestInput) (*model.Contest, error) {
	if input.Title == "" {
		return nil, appErr.ValidationError("title", "required")
	}
	if input.CreatorID <= 0 {
		return nil, appErr.ValidationError("creator_id", "required")
	}
	if input.DurationMinutes <= 0 {
		return nil, appErr.Newf(appErr.InvalidSchedule, "duration must be positive")
	}

	contest := &model.Contest{
		Title:                   input.Title,
		Description:             input.Description,
		CreatorID:               input.CreatorID,
		Status:                  model.ContestStatusDraft,
		StartTime:               input.StartTime,
		DurationMinutes:         input.DurationMinutes,
		PenaltyMinutes:          input.PenaltyMinutes,
		MaxParticipants:         input.MaxParticipants,
		AllowLateJoin:           input.AllowLateJoin,
		LateJoinDeadlineMinutes: input.LateJoinDeadlineMinutes,
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.contestRepo.Create(ctxDB.ctx, nil, contest); err != nil {
		return nil, appErr.Wrapf(err, appErr.ContestCreateFailed, "create contest failed")
	}
	return contest, nil
}

// UpdateContest edits a contest's schedule and settings. Only draft and
// scheduled contests are editable; a running clock is never rewritten.
func (s *ContestService) UpdateContest(ctx context.Context, input CreateContestInput, contestID int64) (*model.Contest, error) {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest.Status != model.ContestStatusDraft && contest.Status != model.ContestStatusScheduled {
		return nil, appErr.Newf(appErr.ContestNotEditable, "contest is %s", contest.Status)
	}
	if input.DurationMinutes <= 0 {
		return nil, appErr.Newf(appErr.InvalidSchedule, "duration must be positive")
	}
	if contest.Status == model.ContestStatusScheduled && !input.StartTime.After(time.Now()) {
		return nil, appErr.Newf(appErr.InvalidSchedule, "start time must be in the future")
	}

	if input.Title != "" {
		contest.Title = input.Title
	}
	contest.Description = input.Description
	contest.StartTime = input.StartTime
	contest.DurationMinutes = input.DurationMinutes
	contest.PenaltyMinutes = input.PenaltyMinutes
	contest.MaxParticipants = input.MaxParticipants
	contest.AllowLateJoin = input.AllowLateJoin
	contest.LateJoinDeadlineMinutes = input.LateJoinDeadlineMinutes

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.contestRepo.Update(ctxDB.ctx, nil, contest); err != nil {
		return nil, appErr.Wrapf(err, appErr.ContestUpdateFailed, "update contest failed")
	}
	return contest, nil
}

// SetProblems replaces the contest's problem list. Missing labels are filled
// A, B, C... in list order.
func (s *ContestService) SetProblems(ctx context.Context, contestID int64, problems []model.ContestProblem) error {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if contest.Status != model.ContestStatusDraft && contest.Status != model.ContestStatusScheduled {
		return appErr.Newf(appErr.ContestNotEditable, "contest is %s", contest.Status)
	}
	if len(problems) > model.MaxContestProblems {
		return appErr.Newf(appErr.TooManyProblems, "contest allows at most %d problems", model.MaxContestProblems)
	}
	for i := range problems {
		if problems[i].ProblemID <= 0 {
			return appErr.ValidationError("problem_id", "required")
		}
		problems[i].OrderIndex = i
		if problems[i].Label == "" {
			problems[i].Label = model.ProblemLabel(i)
		}
		if problems[i].Points <= 0 {
			problems[i].Points = 100
		}
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.contestRepo.SetProblems(ctxDB.ctx, contestID, problems); err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "set contest problems failed")
	}
	return nil
}

// GetContest loads one contest.
func (s *ContestService) GetContest(ctx context.Context, contestID int64) (*model.Contest, error) {
	if contestID <= 0 {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	contest, err := s.contestRepo.GetByID(ctxDB.ctx, nil, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, appErr.New(appErr.ContestNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	return contest, nil
}

// PublishContest moves a draft to scheduled. It requires at least one problem
// and a start time still in the future.
func (s *ContestService) PublishContest(ctx context.Context, contestID int64) error {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if !contest.Status.CanTransitionTo(model.ContestStatusScheduled) {
		return appErr.Newf(appErr.IllegalTransition, "cannot publish a %s contest", contest.Status)
	}
	if len(contest.Problems) == 0 {
		return appErr.New(appErr.ContestHasNoProblems)
	}
	if !contest.StartTime.After(time.Now()) {
		return appErr.Newf(appErr.InvalidSchedule, "start time must be in the future")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	moved, err := s.contestRepo.UpdateStatusCAS(ctxDB.ctx, contestID, model.ContestStatusDraft, model.ContestStatusScheduled)
	if err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "publish contest failed")
	}
	if !moved {
		return appErr.Newf(appErr.IllegalTransition, "contest state changed concurrently")
	}
	return nil
}

// CancelContest cancels a contest from any non-terminal state.
func (s *ContestService) CancelContest(ctx context.Context, contestID int64) error {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if !contest.Status.CanTransitionTo(model.ContestStatusCancelled) {
		return appErr.Newf(appErr.IllegalTransition, "cannot cancel a %s contest", contest.Status)
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	moved, err := s.contestRepo.UpdateStatusCAS(ctxDB.ctx, contestID, contest.Status, model.ContestStatusCancelled)
	if err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "cancel contest failed")
	}
	if !moved {
		return appErr.Newf(appErr.IllegalTransition, "contest state changed concurrently")
	}
	s.publishEvent(ctx, realtime.EventAnnouncement, contestID, 0, map[string]string{"text": "contest cancelled"})
	return nil
}

// StartContestNow starts a scheduled contest immediately, rewriting its start
// time to now.
func (s *ContestService) StartContestNow(ctx context.Context, contestID int64) error {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if contest.Status != model.ContestStatusScheduled {
		return appErr.Newf(appErr.IllegalTransition, "cannot start a %s contest", contest.Status)
	}

	now := time.Now()
	endTime := now.Add(contest.Duration())
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	moved, err := s.contestRepo.StartNowCAS(ctxDB.ctx, contestID, now, endTime)
	if err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "start contest failed")
	}
	if !moved {
		return appErr.Newf(appErr.IllegalTransition, "contest state changed concurrently")
	}
	s.onContestLive(ctx, contest, contest.Duration())
	return nil
}

// ActivateContest is the scheduler's start hook: scheduled -> live. Losing
// the CAS is not an error; the timer path and the sweep path both call this.
func (s *ContestService) ActivateContest(ctx context.Context, contestID int64) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	moved, err := s.contestRepo.UpdateStatusCAS(ctxDB.ctx, contestID, model.ContestStatusScheduled, model.ContestStatusLive)
	if err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "activate contest failed")
	}
	if !moved {
		return nil
	}
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		logger.Error(ctx, "activated contest but reload failed", zap.Int64("contest_id", contestID), zap.Error(err))
		return nil
	}
	s.onContestLive(ctx, contest, time.Until(contest.EndTime))
	return nil
}

func (s *ContestService) onContestLive(ctx context.Context, contest *model.Contest, remaining time.Duration) {
	if err := s.ranking.Initialize(ctx, contest.ID, remaining); err != nil {
		logger.Warn(ctx, "leaderboard initialization degraded", zap.Int64("contest_id", contest.ID), zap.Error(err))
	}
	s.publishEvent(ctx, realtime.EventContestStarted, contest.ID, 0, map[string]interface{}{
		"title":    contest.Title,
		"end_time": contest.EndTime,
	})
	logger.Info(ctx, "contest is live",
		zap.Int64("contest_id", contest.ID),
		zap.Time("end_time", contest.EndTime))
}

// ConcludeContest is the scheduler's end hook: live -> ended. The winner of
// the CAS freezes the leaderboard, completes registrations, announces the
// end, and computes final ranks off the request path.
func (s *ContestService) ConcludeContest(ctx context.Context, contestID int64) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	moved, err := s.contestRepo.UpdateStatusCAS(ctxDB.ctx, contestID, model.ContestStatusLive, model.ContestStatusEnded)
	if err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "conclude contest failed")
	}
	if !moved {
		return nil
	}

	if err := s.ranking.Freeze(ctx, contestID); err != nil {
		logger.Error(ctx, "leaderboard freeze failed", zap.Int64("contest_id", contestID), zap.Error(err))
	}
	if err := s.registrationRepo.MarkCompleted(ctxDB.ctx, contestID); err != nil {
		logger.Error(ctx, "mark registrations completed failed", zap.Int64("contest_id", contestID), zap.Error(err))
	}
	s.publishEvent(ctx, realtime.EventContestEnded, contestID, 0, nil)
	logger.Info(ctx, "contest ended", zap.Int64("contest_id", contestID))

	// final ranking runs detached: it must survive the caller's deadline
	go s.computeFinalRanks(contestID)
	return nil
}

// computeFinalRanks assigns dense 1-based ranks over the final standings
// order. Participants equal on every ordering key share a rank.
func (s *ContestService) computeFinalRanks(contestID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), finalRankingTimeout)
	defer cancel()

	standings, err := s.registrationRepo.ListForFinalRanking(ctx, contestID)
	if err != nil {
		logger.Error(ctx, "final ranking read failed", zap.Int64("contest_id", contestID), zap.Error(err))
		return
	}
	if len(standings) == 0 {
		return
	}

	ranks := make(map[int64]int, len(standings))
	rank := 0
	var prev *model.Registration
	for _, registration := range standings {
		if prev == nil || !sameStanding(prev, registration) {
			rank++
		}
		ranks[registration.UserID] = rank
		prev = registration
	}

	if err := s.registrationRepo.UpdateFinalRanks(ctx, contestID, ranks); err != nil {
		logger.Error(ctx, "final ranking write failed", zap.Int64("contest_id", contestID), zap.Error(err))
		return
	}
	logger.Info(ctx, "final ranking computed",
		zap.Int64("contest_id", contestID),
		zap.Int("participants", len(standings)))
}

func sameStanding(a, b *model.Registration) bool {
	return a.FinalScore == b.FinalScore &&
		a.ProblemsSolved == b.ProblemsSolved &&
		a.TotalTimeSeconds == b.TotalTimeSeconds &&
		a.TotalPenaltyMinutes == b.TotalPenaltyMinutes
}

// Register signs a user up for a contest. Registration stays open while the
// contest is scheduled, and during the late-join window of a live contest.
func (s *ContestService) Register(ctx context.Context, contestID, userID int64) (*model.Registration, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	switch contest.Status {
	case model.ContestStatusScheduled:
	case model.ContestStatusLive:
		if !contest.AllowLateJoin {
			return nil, appErr.New(appErr.LateJoinDisabled)
		}
		if !contest.CanJoinLate(now) {
			return nil, appErr.New(appErr.LateJoinDeadlinePassed)
		}
	default:
		return nil, appErr.Newf(appErr.RegistrationClosed, "contest is %s", contest.Status)
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	// an existing registration wins over every other gate: re-registering in
	// a full contest is still AlreadyRegistered, not RegistrationClosed
	if _, err := s.registrationRepo.GetByContestAndUser(ctxDB.ctx, nil, contestID, userID); err == nil {
		return nil, appErr.New(appErr.AlreadyRegistered).WithMessage("user already registered for contest")
	} else if !errors.Is(err, repository.ErrRegistrationNotFound) {
		return nil, appErr.Wrapf(err, appErr.RegistrationFailed, "load registration failed")
	}

	if contest.MaxParticipants > 0 {
		count, err := s.registrationRepo.CountByContest(ctxDB.ctx, contestID)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.RegistrationFailed, "count registrations failed")
		}
		if count >= int64(contest.MaxParticipants) {
			return nil, appErr.Newf(appErr.RegistrationClosed, "contest is full")
		}
	}

	registration := &model.Registration{
		ContestID:    contestID,
		UserID:       userID,
		Status:       model.RegistrationStatusRegistered,
		RegisteredAt: now,
	}
	if err := s.registrationRepo.Register(ctxDB.ctx, registration); err != nil {
		if appErr.GetCode(err) == appErr.AlreadyRegistered {
			return nil, err
		}
		return nil, appErr.Wrapf(err, appErr.RegistrationFailed, "register failed")
	}

	// a late registration is also a join: the clock starts now
	if contest.Status == model.ContestStatusLive {
		if _, err := s.Join(ctx, contestID, userID); err != nil {
			logger.Warn(ctx, "late-join after registration failed",
				zap.Int64("contest_id", contestID),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}
	return registration, nil
}

// Join starts a registered user's participation. Joining a live contest after
// its start is a late join: allowed only within the late-join window, with
// the per-user clock starting at the join instant.
func (s *ContestService) Join(ctx context.Context, contestID, userID int64) (*model.Registration, error) {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest.Status != model.ContestStatusLive {
		return nil, appErr.Newf(appErr.ContestNotStarted, "contest is %s", contest.Status)
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	registration, err := s.registrationRepo.GetByContestAndUser(ctxDB.ctx, nil, contestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRegistrationNotFound) {
			return nil, appErr.New(appErr.NotRegistered)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load registration failed")
	}
	if registration.Status == model.RegistrationStatusDisqualified {
		return nil, appErr.New(appErr.ParticipantDisqualified)
	}
	if registration.JoinedAt != nil {
		return registration, nil
	}

	now := time.Now()
	effectiveStart := contest.StartTime
	if now.After(contest.StartTime) {
		if !contest.AllowLateJoin {
			return nil, appErr.New(appErr.LateJoinDisabled)
		}
		if !contest.CanJoinLate(now) {
			return nil, appErr.New(appErr.LateJoinDeadlinePassed)
		}
		effectiveStart = now
	}

	if err := s.registrationRepo.Join(ctxDB.ctx, contestID, userID, now, effectiveStart); err != nil {
		return nil, appErr.Wrapf(err, appErr.RegistrationFailed, "join failed")
	}
	registration.Status = model.RegistrationStatusParticipating
	registration.JoinedAt = &now
	registration.EffectiveStartTime = &effectiveStart
	return registration, nil
}

// Disqualify removes a participant: the registration is flagged and the user
// disappears from the live board. The frozen board is never rewritten.
func (s *ContestService) Disqualify(ctx context.Context, contestID, userID int64) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.registrationRepo.Disqualify(ctxDB.ctx, contestID, userID); err != nil {
		if errors.Is(err, repository.ErrRegistrationNotFound) {
			return appErr.New(appErr.NotRegistered)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "disqualify failed")
	}
	s.ranking.RemoveParticipant(ctx, contestID, userID)
	s.publishEvent(ctx, realtime.EventAnnouncement, contestID, 0, map[string]interface{}{
		"text":    "a participant was disqualified",
		"user_id": userID,
	})
	return nil
}

// Announce broadcasts an operator message into the contest room.
func (s *ContestService) Announce(ctx context.Context, contestID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return appErr.ValidationError("text", "required")
	}
	if _, err := s.GetContest(ctx, contestID); err != nil {
		return err
	}
	s.publishEvent(ctx, realtime.EventAnnouncement, contestID, 0, map[string]string{"text": text})
	return nil
}

// Leaderboard returns one page of standings. Ended contests serve the frozen
// snapshot; everything else serves the live board.
func (s *ContestService) Leaderboard(ctx context.Context, contestID int64, page, pageSize int) ([]ranking.Entry, error) {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = defaultLeaderboardPageSize
	}
	if contest.Status == model.ContestStatusEnded {
		return s.ranking.GetFrozenPage(ctx, contestID, page, pageSize), nil
	}
	return s.ranking.GetPage(ctx, contestID, page, pageSize), nil
}

// MyRank returns the user's live rank; ok is false when the user is not on
// the board or the ranking store is unavailable.
func (s *ContestService) MyRank(ctx context.Context, contestID, userID int64) (int64, bool) {
	return s.ranking.GetRank(ctx, contestID, userID)
}

// Neighborhood returns the standings around one user.
func (s *ContestService) Neighborhood(ctx context.Context, contestID, userID int64, radius int) []ranking.Entry {
	return s.ranking.GetNeighborhood(ctx, contestID, userID, radius)
}

// ProblemSolveCounts returns acceptance counts per contest problem.
func (s *ContestService) ProblemSolveCounts(ctx context.Context, contestID int64) (map[int64]int64, error) {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int64, len(contest.Problems))
	for _, p := range contest.Problems {
		counts[p.ProblemID] = s.ranking.GetProblemSolveCount(ctx, contestID, p.ProblemID)
	}
	return counts, nil
}

// RebuildLeaderboard replays the authoritative registration aggregates into
// a fresh live board after a ranking-store outage.
func (s *ContestService) RebuildLeaderboard(ctx context.Context, contestID int64) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	registrations, err := s.registrationRepo.ListByContest(ctxDB.ctx, contestID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "load registrations failed")
	}

	participants := make(map[int64]ranking.Stats, len(registrations))
	for _, registration := range registrations {
		if registration.Status == model.RegistrationStatusDisqualified {
			continue
		}
		participants[registration.UserID] = ranking.Stats{
			ProblemsSolved:   registration.ProblemsSolved,
			TotalTimeSeconds: registration.TotalTimeSeconds,
			PenaltyMinutes:   registration.TotalPenaltyMinutes,
		}
	}
	if err := s.ranking.Rebuild(ctx, contestID, participants); err != nil {
		return appErr.Wrapf(err, appErr.RankingUnavailable, "rebuild leaderboard failed")
	}
	return nil
}

// publishEvent sends a room event, logging instead of failing: real-time
// delivery is best effort by design of the channel, not of the caller.
func (s *ContestService) publishEvent(ctx context.Context, eventType realtime.EventType, contestID, targetUserID int64, payload interface{}) {
	if s.bus == nil {
		return
	}
	event, err := realtime.NewEvent(eventType, contestID, payload)
	if err != nil {
		logger.Warn(ctx, "build room event failed", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	event.TargetUserID = targetUserID
	if err := s.bus.Publish(ctx, event); err != nil {
		logger.Warn(ctx, "publish room event failed",
			zap.String("type", string(eventType)),
			zap.Int64("contest_id", contestID),
			zap.Error(err))
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
