package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/contest/model"
	"arenaoj/internal/contest/repository"
	"arenaoj/internal/judge"
	"arenaoj/internal/ranking"
	"arenaoj/internal/realtime"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"
)

const (
	defaultSourcePrefix   = "submissions"
	defaultJudgeWorkers   = 4
	defaultLeaderboardTop = 10
	rateUserKeyPrefix     = "arena:submit:rate:"
)

// RateLimitConfig throttles submissions per user.
type RateLimitConfig struct {
	UserMax int
	Window  time.Duration
}

// SubmitTimeoutConfig holds timeout settings for the submit path.
type SubmitTimeoutConfig struct {
	DB      time.Duration
	Cache   time.Duration
	MQ      time.Duration
	Storage time.Duration
}

// SubmitConfig holds submit service dependencies.
type SubmitConfig struct {
	ContestRepo      repository.ContestRepository
	RegistrationRepo repository.RegistrationRepository
	SubmissionRepo   repository.SubmissionRepository
	Storage          storage.ObjectStorage
	MQ               mq.MessageQueue
	Cache            cache.Cache
	Pipeline         *judge.Pipeline
	Ranking          *ranking.Engine
	Bus              *realtime.Bus

	JudgeTopic      string
	SourceBucket    string
	SourceKeyPrefix string
	Workers         int
	RateLimit       RateLimitConfig
	Timeouts        SubmitTimeoutConfig
}

// SubmitService handles submission intake, the synchronous run endpoint, and
// the judge task consumer that turns verdicts into standings.
type SubmitService struct {
	contestRepo      repository.ContestRepository
	registrationRepo repository.RegistrationRepository
	submissionRepo   repository.SubmissionRepository
	storage          storage.ObjectStorage
	mq               mq.MessageQueue
	cache            cache.Cache
	pipeline         *judge.Pipeline
	ranking          *ranking.Engine
	bus              *realtime.Bus

	judgeTopic      string
	sourceBucket    string
	sourceKeyPrefix string
	rateLimit       RateLimitConfig
	timeouts        SubmitTimeoutConfig

	// sem bounds concurrent judging per instance; the external executor is
	// the scarce resource, not this process.
	sem chan struct{}
}

// NewSubmitService creates a submit service.
func NewSubmitService(cfg SubmitConfig) (*SubmitService, error) {
	if cfg.ContestRepo == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.RegistrationRepo == nil {
		return nil, fmt.Errorf("registration repository is required")
	}
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.MQ == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("judge pipeline is required")
	}
	if cfg.Ranking == nil {
		return nil, fmt.Errorf("ranking engine is required")
	}
	if cfg.JudgeTopic == "" {
		return nil, fmt.Errorf("judge topic is required")
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultJudgeWorkers
	}
	return &SubmitService{
		contestRepo:      cfg.ContestRepo,
		registrationRepo: cfg.RegistrationRepo,
		submissionRepo:   cfg.SubmissionRepo,
		storage:          cfg.Storage,
		mq:               cfg.MQ,
		cache:            cfg.Cache,
		pipeline:         cfg.Pipeline,
		ranking:          cfg.Ranking,
		bus:              cfg.Bus,
		judgeTopic:       cfg.JudgeTopic,
		sourceBucket:     cfg.SourceBucket,
		sourceKeyPrefix:  cfg.SourceKeyPrefix,
		rateLimit:        cfg.RateLimit,
		timeouts:         cfg.Timeouts,
		sem:              make(chan struct{}, cfg.Workers),
	}, nil
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	ContestID  int64
	ProblemID  int64
	UserID     int64
	Language   string
	SourceCode string
}

// Run judges code synchronously against the problem's visible tests only.
// Nothing is persisted and standings never move; it exists so participants
// can sanity-check their I/O handling before burning a scored attempt.
func (s *SubmitService) Run(ctx context.Context, input SubmitInput) (*judge.OutcomeView, error) {
	if _, _, err := s.authorize(ctx, input); err != nil {
		return nil, err
	}
	outcome, err := s.pipeline.Judge(ctx, judge.Task{
		ProblemID:    input.ProblemID,
		UserID:       input.UserID,
		SubmissionID: uuid.NewString(),
		Language:     input.Language,
		Source:       input.SourceCode,
		VisibleOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	return judge.Redact(outcome, judge.Viewer{Owner: true}), nil
}

// Submit accepts a scored submission: persist, upload the source, and queue
// the judge task. The verdict arrives asynchronously over the room channel.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (*model.Submission, error) {
	contest, _, err := s.authorize(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.UserID); err != nil {
		return nil, err
	}

	submissionID := uuid.NewString()
	sourceKey := fmt.Sprintf("%s/%d/%s/source.code", s.sourceKeyPrefix, contest.ID, submissionID)
	submission := &model.Submission{
		SubmissionID: submissionID,
		ContestID:    input.ContestID,
		ProblemID:    input.ProblemID,
		UserID:       input.UserID,
		Language:     input.Language,
		SourceKey:    sourceKey,
		SourceHash:   hashSource(input.SourceCode),
		Status:       model.SubmissionStatusPending,
		CreatedAt:    time.Now(),
	}

	if err := s.uploadSource(ctx, sourceKey, input.SourceCode); err != nil {
		return nil, err
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.Create(ctxDB.ctx, submission); err != nil {
		s.removeSource(ctx, sourceKey)
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}

	if err := s.publishJudgeTask(ctx, submission); err != nil {
		return nil, err
	}
	logger.Info(ctx, "submission queued",
		zap.String("submission_id", submissionID),
		zap.Int64("contest_id", input.ContestID),
		zap.Int64("problem_id", input.ProblemID))
	return submission, nil
}

// GetSubmission returns one submission for a viewer. Source access is
// owner-only until the contest ends.
func (s *SubmitService) GetSubmission(ctx context.Context, submissionID string, viewerID int64) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if submission.UserID != viewerID {
		contest, err := s.contestRepo.GetByID(ctxDB.ctx, nil, submission.ContestID)
		if err != nil || !contest.Status.IsTerminal() {
			submission.SourceKey = ""
			submission.SourceHash = ""
			// non-owners get aggregates only mid-contest; the stored failure
			// position may index a hidden case
			submission.FirstFailedTest = 0
		}
	}
	return submission, nil
}

// ListSubmissions returns a user's submissions in a contest, newest first.
func (s *SubmitService) ListSubmissions(ctx context.Context, contestID, userID int64, limit, offset int) ([]*model.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submissions, err := s.submissionRepo.ListByContestAndUser(ctxDB.ctx, contestID, userID, limit, offset)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	return submissions, nil
}

// HandleJudgeTask is the Kafka consumer entry point. It is idempotent under
// redelivery: claiming the submission and finalizing the verdict are both
// conditional writes, so a duplicate delivery becomes a no-op.
func (s *SubmitService) HandleJudgeTask(ctx context.Context, message *mq.Message) error {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	var task model.JudgeTask
	if err := json.Unmarshal(message.Body, &task); err != nil {
		logger.Error(ctx, "drop malformed judge task", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}

	claimed, err := s.submissionRepo.MarkJudging(ctx, task.SubmissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "claim submission failed")
	}
	if !claimed {
		existing, err := s.submissionRepo.GetByID(ctx, task.SubmissionID)
		if err == nil && existing.IsTerminal() {
			return nil
		}
		// claimed by a crashed worker: judge anyway, FinalizeVerdict
		// still guarantees a single terminal write
	}

	source, err := s.downloadSource(ctx, task.SourceKey)
	if err != nil {
		return err
	}

	outcome, err := s.pipeline.Judge(ctx, judge.Task{
		ProblemID:    task.ProblemID,
		UserID:       task.UserID,
		SubmissionID: task.SubmissionID,
		Language:     task.Language,
		Source:       source,
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "judge submission %s failed", task.SubmissionID)
	}

	judgedAt := time.Now()
	applied, err := s.submissionRepo.FinalizeVerdict(ctx, task.SubmissionID, repository.VerdictOutcome{
		Verdict:         outcome.Verdict,
		TestsPassed:     outcome.TestsPassed,
		TestsTotal:      outcome.TestsTotal,
		FirstFailedTest: outcome.FirstFailedTest,
		TimeUsedMs:      outcome.TimeUsedMs,
		JudgedAt:        judgedAt,
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize verdict failed")
	}
	if !applied {
		return nil
	}

	s.applyVerdictEffects(ctx, task, outcome, judgedAt)
	return nil
}

// applyVerdictEffects turns a terminal verdict into standings and room
// events. Failures here never bounce the message: the verdict is already
// final, and standings self-heal through RebuildLeaderboard.
func (s *SubmitService) applyVerdictEffects(ctx context.Context, task model.JudgeTask, outcome *judge.Outcome, judgedAt time.Time) {
	defer s.publishEvent(ctx, realtime.EventSubmissionResult, task.ContestID, task.UserID, map[string]interface{}{
		"submission_id": task.SubmissionID,
		"problem_id":    task.ProblemID,
		"verdict":       outcome.Verdict,
		"tests_passed":  outcome.TestsPassed,
		"tests_total":   outcome.TestsTotal,
	})

	switch outcome.Verdict {
	case model.VerdictAccepted:
		s.applyAcceptance(ctx, task, judgedAt)
	case model.VerdictWrongAnswer, model.VerdictTimeLimitExceeded,
		model.VerdictMemoryLimitExceeded, model.VerdictRuntimeError,
		model.VerdictCompileError:
		if _, err := s.registrationRepo.RecordFailedAttempt(ctx, task.ContestID, task.UserID, task.ProblemID); err != nil {
			logger.Warn(ctx, "record failed attempt degraded",
				zap.String("submission_id", task.SubmissionID),
				zap.Error(err))
		}
	default:
		// an internal error is the platform's fault, not a scored attempt
	}
}

func (s *SubmitService) applyAcceptance(ctx context.Context, task model.JudgeTask, judgedAt time.Time) {
	contest, err := s.contestRepo.GetByID(ctx, nil, task.ContestID)
	if err != nil {
		logger.Error(ctx, "load contest for acceptance failed",
			zap.String("submission_id", task.SubmissionID),
			zap.Error(err))
		return
	}
	registration, err := s.registrationRepo.GetByContestAndUser(ctx, nil, task.ContestID, task.UserID)
	if err != nil {
		logger.Error(ctx, "load registration for acceptance failed",
			zap.String("submission_id", task.SubmissionID),
			zap.Error(err))
		return
	}
	if registration.Status == model.RegistrationStatusDisqualified {
		return
	}
	points := 100
	if entry, ok := contest.ProblemByID(task.ProblemID); ok {
		points = entry.Points
	}

	result, err := s.registrationRepo.ApplyFirstAcceptance(ctx, repository.FirstAcceptanceParams{
		ContestID:              task.ContestID,
		UserID:                 task.UserID,
		ProblemID:              task.ProblemID,
		SubmissionID:           task.SubmissionID,
		SolvedAt:               judgedAt,
		EffectiveStart:         registration.EffectiveStart(contest.StartTime),
		PenaltyPerWrongAttempt: contest.PenaltyMinutes,
		Points:                 points,
	})
	if err != nil {
		logger.Error(ctx, "apply first acceptance failed",
			zap.String("submission_id", task.SubmissionID),
			zap.Error(err))
		return
	}
	if !result.FirstAcceptance {
		return
	}

	updated, err := s.registrationRepo.GetByContestAndUser(ctx, nil, task.ContestID, task.UserID)
	if err != nil {
		logger.Warn(ctx, "reload aggregates after acceptance failed",
			zap.String("submission_id", task.SubmissionID),
			zap.Error(err))
		return
	}
	s.ranking.UpdateScore(ctx, task.ContestID, task.UserID, ranking.Stats{
		ProblemsSolved:   updated.ProblemsSolved,
		TotalTimeSeconds: updated.TotalTimeSeconds,
		PenaltyMinutes:   updated.TotalPenaltyMinutes,
	})
	s.ranking.RecordSolve(ctx, task.ContestID, task.UserID, task.ProblemID, result.SolveTimeSeconds)

	// deliberately anonymous: the live board never maps users to problems,
	// so the room-wide notification must not either
	s.publishEvent(ctx, realtime.EventSolveNotification, task.ContestID, 0, map[string]interface{}{
		"problem_id": task.ProblemID,
		"solved_at":  result.SolvedAt,
	})
	s.publishEvent(ctx, realtime.EventLeaderboardUpdate, task.ContestID, 0, map[string]interface{}{
		"entries": s.ranking.GetPage(ctx, task.ContestID, 1, defaultLeaderboardTop),
	})
}

// authorize checks that a (contest, user, problem) triple may run or submit
// code right now.
func (s *SubmitService) authorize(ctx context.Context, input SubmitInput) (*model.Contest, *model.Registration, error) {
	if input.ContestID <= 0 {
		return nil, nil, appErr.ValidationError("contest_id", "required")
	}
	if input.ProblemID <= 0 {
		return nil, nil, appErr.ValidationError("problem_id", "required")
	}
	if input.UserID <= 0 {
		return nil, nil, appErr.ValidationError("user_id", "required")
	}
	if strings.TrimSpace(input.Language) == "" {
		return nil, nil, appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return nil, nil, appErr.ValidationError("source_code", "required")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	contest, err := s.contestRepo.GetByID(ctxDB.ctx, nil, input.ContestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, nil, appErr.New(appErr.ContestNotFound)
		}
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	switch contest.Status {
	case model.ContestStatusLive:
	case model.ContestStatusScheduled, model.ContestStatusDraft:
		return nil, nil, appErr.New(appErr.ContestNotStarted)
	default:
		return nil, nil, appErr.New(appErr.ContestEnded)
	}
	if !contest.HasProblem(input.ProblemID) {
		return nil, nil, appErr.New(appErr.ProblemNotInContest)
	}

	registration, err := s.registrationRepo.GetByContestAndUser(ctxDB.ctx, nil, input.ContestID, input.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrRegistrationNotFound) {
			return nil, nil, appErr.New(appErr.NotRegistered)
		}
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "load registration failed")
	}
	if registration.Status == model.RegistrationStatusDisqualified {
		return nil, nil, appErr.New(appErr.ParticipantDisqualified)
	}
	if !registration.IsActive() {
		return nil, nil, appErr.New(appErr.NotParticipating)
	}
	return contest, registration, nil
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64) error {
	if s.cache == nil || s.rateLimit.UserMax <= 0 || s.rateLimit.Window <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	key := fmt.Sprintf("%s%d", rateUserKeyPrefix, userID)
	count, err := s.cache.Incr(ctxCache.ctx, key)
	if err != nil {
		// a broken rate-limit store must not block submitting
		logger.Warn(ctx, "rate limit check degraded", zap.Error(err))
		return nil
	}
	if count == 1 {
		_ = s.cache.Expire(ctxCache.ctx, key, s.rateLimit.Window)
	}
	if int(count) > s.rateLimit.UserMax {
		return appErr.New(appErr.TooManyRequests).WithMessage("submitting too frequently")
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, objectKey, source string) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader := strings.NewReader(source)
	if err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, objectKey, reader, int64(len(source)), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return nil
}

// removeSource deletes a source object whose submission row failed to
// persist. Best effort: an orphan object is garbage, not a failure.
func (s *SubmitService) removeSource(ctx context.Context, objectKey string) {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.storage.RemoveObjects(ctxStorage.ctx, s.sourceBucket, []string{objectKey}); err != nil {
		logger.Warn(ctx, "remove orphan source failed",
			zap.String("object_key", objectKey),
			zap.Error(err))
	}
}

func (s *SubmitService) downloadSource(ctx context.Context, objectKey string) (string, error) {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader, err := s.storage.GetObject(ctxStorage.ctx, s.sourceBucket, objectKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "download source failed")
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "read source failed")
	}
	return string(raw), nil
}

func (s *SubmitService) publishJudgeTask(ctx context.Context, submission *model.Submission) error {
	body, err := json.Marshal(model.JudgeTask{
		SubmissionID: submission.SubmissionID,
		ContestID:    submission.ContestID,
		ProblemID:    submission.ProblemID,
		UserID:       submission.UserID,
		Language:     submission.Language,
		SourceKey:    submission.SourceKey,
		SourceHash:   submission.SourceHash,
		EnqueuedAt:   time.Now(),
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "encode judge task failed")
	}
	message := mq.NewMessage(body)
	message.ID = submission.SubmissionID

	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.mq.Publish(ctxMQ.ctx, s.judgeTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "publish judge task failed")
	}
	return nil
}

func (s *SubmitService) publishEvent(ctx context.Context, eventType realtime.EventType, contestID, targetUserID int64, payload interface{}) {
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

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
