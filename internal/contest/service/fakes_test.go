package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/contest/model"
	"arenaoj/internal/contest/repository"
	"arenaoj/internal/ranking"
	"arenaoj/internal/realtime"
	appErr "arenaoj/pkg/errors"
)

// ---- contest repository fake ----

type memContestRepo struct {
	mu       sync.Mutex
	seq      int64
	contests map[int64]*model.Contest
}

func newMemContestRepo() *memContestRepo {
	return &memContestRepo{contests: make(map[int64]*model.Contest)}
}

func (m *memContestRepo) Create(ctx context.Context, tx db.Transaction, contest *model.Contest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	contest.ID = m.seq
	contest.RecomputeEndTime()
	copied := *contest
	m.contests[contest.ID] = &copied
	return nil
}

func (m *memContestRepo) Update(ctx context.Context, tx db.Transaction, contest *model.Contest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.contests[contest.ID]
	if !ok {
		return repository.ErrContestNotFound
	}
	contest.RecomputeEndTime()
	copied := *contest
	copied.Status = stored.Status
	copied.Problems = stored.Problems
	m.contests[contest.ID] = &copied
	return nil
}

func (m *memContestRepo) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.contests[contestID]
	if !ok {
		return nil, repository.ErrContestNotFound
	}
	copied := *stored
	copied.Problems = append([]model.ContestProblem(nil), stored.Problems...)
	return &copied, nil
}

func (m *memContestRepo) SetProblems(ctx context.Context, contestID int64, problems []model.ContestProblem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.contests[contestID]
	if !ok {
		return repository.ErrContestNotFound
	}
	stored.Problems = append([]model.ContestProblem(nil), problems...)
	return nil
}

func (m *memContestRepo) UpdateStatusCAS(ctx context.Context, contestID int64, from, to model.ContestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.contests[contestID]
	if !ok || stored.Status != from {
		return false, nil
	}
	stored.Status = to
	return true, nil
}

func (m *memContestRepo) StartNowCAS(ctx context.Context, contestID int64, startTime, endTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.contests[contestID]
	if !ok || stored.Status != model.ContestStatusScheduled {
		return false, nil
	}
	stored.Status = model.ContestStatusLive
	stored.StartTime = startTime
	stored.EndTime = endTime
	return true, nil
}

func (m *memContestRepo) ListByStatus(ctx context.Context, status model.ContestStatus) ([]*model.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Contest
	for _, stored := range m.contests {
		if stored.Status == status {
			copied := *stored
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memContestRepo) ListDueTransitions(ctx context.Context, now time.Time) ([]*model.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Contest
	for _, stored := range m.contests {
		if stored.ShouldBeLive(now) || stored.ShouldBeEnded(now) {
			copied := *stored
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memContestRepo) SoftDelete(ctx context.Context, contestID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contests[contestID]; !ok {
		return repository.ErrContestNotFound
	}
	delete(m.contests, contestID)
	return nil
}

// ---- registration repository fake ----

type regKey struct {
	contestID int64
	userID    int64
}

type memRegistrationRepo struct {
	mu         sync.Mutex
	seq        int64
	regs       map[regKey]*model.Registration
	finalRanks map[int64]map[int64]int
}

func newMemRegistrationRepo() *memRegistrationRepo {
	return &memRegistrationRepo{
		regs:       make(map[regKey]*model.Registration),
		finalRanks: make(map[int64]map[int64]int),
	}
}

func (m *memRegistrationRepo) Register(ctx context.Context, registration *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := regKey{registration.ContestID, registration.UserID}
	if _, ok := m.regs[key]; ok {
		return appErr.New(appErr.AlreadyRegistered)
	}
	m.seq++
	registration.ID = m.seq
	copied := *registration
	copied.Attempts = make(map[int64]*model.ProblemAttempt)
	m.regs[key] = &copied
	return nil
}

func (m *memRegistrationRepo) Join(ctx context.Context, contestID, userID int64, joinedAt, effectiveStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.regs[regKey{contestID, userID}]
	if !ok {
		return repository.ErrRegistrationNotFound
	}
	if stored.JoinedAt != nil || stored.Status != model.RegistrationStatusRegistered {
		return nil
	}
	stored.Status = model.RegistrationStatusParticipating
	joined := joinedAt
	effective := effectiveStart
	stored.JoinedAt = &joined
	stored.EffectiveStartTime = &effective
	return nil
}

func (m *memRegistrationRepo) GetByContestAndUser(ctx context.Context, tx db.Transaction, contestID, userID int64) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.regs[regKey{contestID, userID}]
	if !ok {
		return nil, repository.ErrRegistrationNotFound
	}
	return copyRegistration(stored), nil
}

func (m *memRegistrationRepo) CountByContest(ctx context.Context, contestID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for key := range m.regs {
		if key.contestID == contestID {
			count++
		}
	}
	return count, nil
}

func (m *memRegistrationRepo) RecordFailedAttempt(ctx context.Context, contestID, userID, problemID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.regs[regKey{contestID, userID}]
	if !ok {
		return 0, repository.ErrRegistrationNotFound
	}
	attempt := stored.Attempts[problemID]
	if attempt == nil {
		attempt = &model.ProblemAttempt{ProblemID: problemID}
		stored.Attempts[problemID] = attempt
	}
	attempt.Attempts++
	return attempt.Attempts, nil
}

func (m *memRegistrationRepo) ApplyFirstAcceptance(ctx context.Context, params repository.FirstAcceptanceParams) (*repository.AcceptanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.regs[regKey{params.ContestID, params.UserID}]
	if !ok {
		return nil, repository.ErrRegistrationNotFound
	}
	attempt := stored.Attempts[params.ProblemID]
	if attempt == nil {
		attempt = &model.ProblemAttempt{ProblemID: params.ProblemID}
		stored.Attempts[params.ProblemID] = attempt
	}
	if attempt.Solved {
		return &repository.AcceptanceResult{FirstAcceptance: false, SolvedAt: *attempt.SolvedAt}, nil
	}

	solveSeconds := model.SolveSeconds(params.EffectiveStart, params.SolvedAt)
	penalty := model.WrongAttemptPenalty(attempt.Attempts, params.PenaltyPerWrongAttempt)
	solvedAt := params.SolvedAt
	attempt.Solved = true
	attempt.SolvedAt = &solvedAt
	attempt.SolveTimeSeconds = solveSeconds
	attempt.PenaltyMinutes = penalty
	attempt.Score = params.Points
	attempt.BestSubmissionID = params.SubmissionID
	attempt.Attempts++

	stored.ProblemsSolved++
	stored.TotalTimeSeconds += solveSeconds
	stored.TotalPenaltyMinutes += int64(penalty)
	stored.FinalScore += params.Points

	return &repository.AcceptanceResult{
		FirstAcceptance:  true,
		SolvedAt:         solvedAt,
		SolveTimeSeconds: solveSeconds,
		PenaltyMinutes:   penalty,
	}, nil
}

func (m *memRegistrationRepo) ListByContest(ctx context.Context, contestID int64) ([]*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Registration
	for key, stored := range m.regs {
		if key.contestID == contestID {
			out = append(out, copyRegistration(stored))
		}
	}
	return out, nil
}

func (m *memRegistrationRepo) ListForFinalRanking(ctx context.Context, contestID int64) ([]*model.Registration, error) {
	regs, _ := m.ListByContest(ctx, contestID)
	var out []*model.Registration
	for _, r := range regs {
		if r.Status != model.RegistrationStatusDisqualified {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.ProblemsSolved != b.ProblemsSolved {
			return a.ProblemsSolved > b.ProblemsSolved
		}
		if a.TotalTimeSeconds != b.TotalTimeSeconds {
			return a.TotalTimeSeconds < b.TotalTimeSeconds
		}
		if a.TotalPenaltyMinutes != b.TotalPenaltyMinutes {
			return a.TotalPenaltyMinutes < b.TotalPenaltyMinutes
		}
		return a.UserID < b.UserID
	})
	return out, nil
}

func (m *memRegistrationRepo) UpdateFinalRanks(ctx context.Context, contestID int64, ranks map[int64]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[int64]int, len(ranks))
	for userID, rank := range ranks {
		copied[userID] = rank
		if stored, ok := m.regs[regKey{contestID, userID}]; ok {
			stored.FinalRank = rank
		}
	}
	m.finalRanks[contestID] = copied
	return nil
}

func (m *memRegistrationRepo) MarkCompleted(ctx context.Context, contestID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, stored := range m.regs {
		if key.contestID == contestID && stored.Status != model.RegistrationStatusDisqualified {
			stored.Status = model.RegistrationStatusCompleted
		}
	}
	return nil
}

func (m *memRegistrationRepo) Disqualify(ctx context.Context, contestID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.regs[regKey{contestID, userID}]
	if !ok {
		return repository.ErrRegistrationNotFound
	}
	stored.Status = model.RegistrationStatusDisqualified
	return nil
}

func (m *memRegistrationRepo) ranksFor(contestID int64) map[int64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalRanks[contestID]
}

func copyRegistration(stored *model.Registration) *model.Registration {
	copied := *stored
	copied.Attempts = make(map[int64]*model.ProblemAttempt, len(stored.Attempts))
	for problemID, attempt := range stored.Attempts {
		attemptCopy := *attempt
		copied.Attempts[problemID] = &attemptCopy
	}
	return &copied
}

// ---- submission repository fake ----

type memSubmissionRepo struct {
	mu          sync.Mutex
	submissions map[string]*model.Submission
	failCreate  error
}

func newMemSubmissionRepo() *memSubmissionRepo {
	return &memSubmissionRepo{submissions: make(map[string]*model.Submission)}
}

func (m *memSubmissionRepo) Create(ctx context.Context, submission *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	copied := *submission
	m.submissions[submission.SubmissionID] = &copied
	return nil
}

func (m *memSubmissionRepo) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.submissions[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *stored
	return &copied, nil
}

func (m *memSubmissionRepo) MarkJudging(ctx context.Context, submissionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.submissions[submissionID]
	if !ok || stored.Status != model.SubmissionStatusPending {
		return false, nil
	}
	stored.Status = model.SubmissionStatusJudging
	return true, nil
}

func (m *memSubmissionRepo) FinalizeVerdict(ctx context.Context, submissionID string, outcome repository.VerdictOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.submissions[submissionID]
	if !ok || stored.Status == model.SubmissionStatusJudged {
		return false, nil
	}
	stored.Status = model.SubmissionStatusJudged
	stored.Verdict = outcome.Verdict
	stored.TestsPassed = outcome.TestsPassed
	stored.TestsTotal = outcome.TestsTotal
	stored.FirstFailedTest = outcome.FirstFailedTest
	stored.TimeUsedMs = outcome.TimeUsedMs
	judgedAt := outcome.JudgedAt
	stored.JudgedAt = &judgedAt
	return true, nil
}

func (m *memSubmissionRepo) ListByContestAndUser(ctx context.Context, contestID, userID int64, limit, offset int) ([]*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Submission
	for _, stored := range m.submissions {
		if stored.ContestID == contestID && stored.UserID == userID {
			copied := *stored
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memSubmissionRepo) ListByContestAndProblem(ctx context.Context, contestID, problemID int64, limit, offset int) ([]*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Submission
	for _, stored := range m.submissions {
		if stored.ContestID == contestID && stored.ProblemID == problemID {
			copied := *stored
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memSubmissionRepo) CountPendingByContest(ctx context.Context, contestID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, stored := range m.submissions {
		if stored.ContestID == contestID && stored.Status != model.SubmissionStatusJudged {
			count++
		}
	}
	return count, nil
}

// ---- message queue fake ----

type memQueue struct {
	mu       sync.Mutex
	messages map[string][]*mq.Message
}

func newMemQueue() *memQueue {
	return &memQueue{messages: make(map[string][]*mq.Message)}
}

func (m *memQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[topic] = append(m.messages[topic], message)
	return nil
}

func (m *memQueue) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, message := range messages {
		if err := m.Publish(ctx, topic, message); err != nil {
			return err
		}
	}
	return nil
}

func (m *memQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}

func (m *memQueue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (m *memQueue) Start() error                  { return nil }
func (m *memQueue) Stop() error                   { return nil }
func (m *memQueue) Pause() error                  { return nil }
func (m *memQueue) Resume() error                 { return nil }
func (m *memQueue) Ping(ctx context.Context) error { return nil }
func (m *memQueue) Close() error                  { return nil }

func (m *memQueue) published(topic string) []*mq.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mq.Message(nil), m.messages[topic]...)
}

// ---- shared wiring ----

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return redisCache
}

func newTestRanking(t *testing.T) *ranking.Engine {
	t.Helper()
	engine, err := ranking.NewEngine(ranking.Config{Cache: newTestCache(t)})
	if err != nil {
		t.Fatalf("create ranking engine: %v", err)
	}
	return engine
}

func newTestBus(t *testing.T) *realtime.Bus {
	t.Helper()
	bus, err := realtime.NewBus(newTestCache(t))
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	return bus
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}
