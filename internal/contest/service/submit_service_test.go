package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/contest/model"
	"arenaoj/internal/contest/service"
	"arenaoj/internal/judge"
	"arenaoj/internal/judge/execclient"
	"arenaoj/internal/problem"
	"arenaoj/internal/ranking"
	"arenaoj/internal/realtime"
	appErr "arenaoj/pkg/errors"
)

const judgeTopic = "arena.judge.tasks"

// ---- problem store and executor stubs ----

type stubStore struct {
	prob  *problem.Problem
	cases []problem.TestCase
}

func (s *stubStore) GetProblem(ctx context.Context, problemID int64) (*problem.Problem, error) {
	return s.prob, nil
}

func (s *stubStore) GetTestCases(ctx context.Context, problemID int64) ([]problem.TestCase, error) {
	return s.cases, nil
}

// stubExecutor answers every run with a fixed stdout and counts calls.
type stubExecutor struct {
	mu          sync.Mutex
	calls       int
	stdout      string
	compileFail bool
}

func (e *stubExecutor) Execute(ctx context.Context, req execclient.Request) (*execclient.Result, error) {
	e.mu.Lock()
	e.calls++
	compileFail := e.compileFail
	e.mu.Unlock()
	if compileFail {
		return &execclient.Result{CompileExitCode: 1, CompileStderr: "syntax error"}, nil
	}
	return &execclient.Result{Stdout: e.stdout, WallTime: 12 * time.Millisecond}, nil
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ---- object storage fake ----

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func objectKey(bucket, key string) string { return bucket + "/" + key }

func (m *memStorage) GetObject(ctx context.Context, bucket, key string) (storage.ObjectReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (m *memStorage) PutObject(ctx context.Context, bucket, key string, reader io.Reader, sizeBytes int64, contentType string) error {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = raw
	return nil
}

func (m *memStorage) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object %s not found", key)
	}
	return storage.ObjectStat{SizeBytes: int64(len(raw))}, nil
}

func (m *memStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	ch := make(chan storage.ObjectInfo)
	close(ch)
	return ch
}

func (m *memStorage) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, objectKey(bucket, key))
	}
	return nil
}

func (m *memStorage) has(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectKey(bucket, key)]
	return ok
}

func (m *memStorage) objectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// ---- wiring ----

type submitEnv struct {
	contests *memContestRepo
	regs     *memRegistrationRepo
	subs     *memSubmissionRepo
	store    *memStorage
	queue    *memQueue
	engine   *ranking.Engine
	exec     *stubExecutor
	pipeline *judge.Pipeline
	svc      *service.SubmitService
}

func newSubmitEnv(t *testing.T) *submitEnv {
	t.Helper()
	env := &submitEnv{
		contests: newMemContestRepo(),
		regs:     newMemRegistrationRepo(),
		subs:     newMemSubmissionRepo(),
		store:    newMemStorage(),
		queue:    newMemQueue(),
		engine:   newTestRanking(t),
		exec:     &stubExecutor{stdout: "ok\n"},
	}

	pipeline, err := judge.NewPipeline(judge.PipelineConfig{
		Store: &stubStore{
			prob: &problem.Problem{
				ID:        101,
				Slug:      "array-sum",
				Languages: map[string]string{"python": "3.12"},
			},
			cases: []problem.TestCase{
				{Index: 1, Stdin: "1 2\n", ExpectedOutput: "ok\n"},
				{Index: 2, Stdin: "3 4\n", ExpectedOutput: "ok\n", Hidden: true},
			},
		},
		Executor: env.exec,
	})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	env.pipeline = pipeline

	svc, err := service.NewSubmitService(service.SubmitConfig{
		ContestRepo:      env.contests,
		RegistrationRepo: env.regs,
		SubmissionRepo:   env.subs,
		Storage:          env.store,
		MQ:               env.queue,
		Pipeline:         pipeline,
		Ranking:          env.engine,
		JudgeTopic:       judgeTopic,
		SourceBucket:     "arena-sources",
	})
	if err != nil {
		t.Fatalf("create submit service: %v", err)
	}
	env.svc = svc
	return env
}

// seedParticipant registers a user as already joined from the contest start.
func (env *submitEnv) seedParticipant(t *testing.T, contest *model.Contest, userID int64) {
	t.Helper()
	joined := contest.StartTime
	reg := &model.Registration{
		ContestID:          contest.ID,
		UserID:             userID,
		Status:             model.RegistrationStatusParticipating,
		RegisteredAt:       contest.StartTime,
		JoinedAt:           &joined,
		EffectiveStartTime: &joined,
	}
	if err := env.regs.Register(context.Background(), reg); err != nil {
		t.Fatalf("seed participant: %v", err)
	}
}

func submitInput(contest *model.Contest, userID int64) service.SubmitInput {
	return service.SubmitInput{
		ContestID:  contest.ID,
		ProblemID:  101,
		UserID:     userID,
		Language:   "python",
		SourceCode: "print('ok')",
	}
}

func TestSubmitQueuesJudgeTask(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	submission, err := env.svc.Submit(ctx, submitInput(contest, 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submission.Status != model.SubmissionStatusPending {
		t.Fatalf("submission status = %s, want pending", submission.Status)
	}
	if !env.store.has("arena-sources", submission.SourceKey) {
		t.Fatalf("source not uploaded under %s", submission.SourceKey)
	}

	messages := env.queue.published(judgeTopic)
	if len(messages) != 1 {
		t.Fatalf("published %d judge tasks, want 1", len(messages))
	}
	if messages[0].ID != submission.SubmissionID {
		t.Fatalf("message id = %s, want the submission id", messages[0].ID)
	}
	var task model.JudgeTask
	if err := json.Unmarshal(messages[0].Body, &task); err != nil {
		t.Fatalf("decode judge task: %v", err)
	}
	if task.SourceKey != submission.SourceKey || task.ProblemID != 101 || task.UserID != 5 {
		t.Fatalf("judge task = %+v", task)
	}
}

func TestSubmitAuthorization(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	scheduled := liveContest(1, 0, 60)
	scheduled.Status = model.ContestStatusScheduled
	scheduled.StartTime = time.Now().Add(time.Hour)
	scheduled.RecomputeEndTime()
	env.contests.put(scheduled)
	env.seedParticipant(t, scheduled, 5)
	if _, err := env.svc.Submit(ctx, submitInput(scheduled, 5)); appErr.GetCode(err) != appErr.ContestNotStarted {
		t.Fatalf("submit before start: got %v", err)
	}

	ended := liveContest(2, 2*time.Hour, 60)
	ended.Status = model.ContestStatusEnded
	env.contests.put(ended)
	env.seedParticipant(t, ended, 5)
	if _, err := env.svc.Submit(ctx, submitInput(ended, 5)); appErr.GetCode(err) != appErr.ContestEnded {
		t.Fatalf("submit after end: got %v", err)
	}

	live := liveContest(3, 10*time.Minute, 60)
	env.contests.put(live)
	if _, err := env.svc.Submit(ctx, submitInput(live, 5)); appErr.GetCode(err) != appErr.NotRegistered {
		t.Fatalf("submit without registration: got %v", err)
	}

	env.seedParticipant(t, live, 5)
	outside := submitInput(live, 5)
	outside.ProblemID = 999
	if _, err := env.svc.Submit(ctx, outside); appErr.GetCode(err) != appErr.ProblemNotInContest {
		t.Fatalf("submit to foreign problem: got %v", err)
	}

	if err := env.regs.Disqualify(ctx, live.ID, 5); err != nil {
		t.Fatalf("disqualify: %v", err)
	}
	if _, err := env.svc.Submit(ctx, submitInput(live, 5)); appErr.GetCode(err) != appErr.ParticipantDisqualified {
		t.Fatalf("submit while disqualified: got %v", err)
	}
}

func TestHandleJudgeTaskAcceptanceMovesStandings(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	submission, err := env.svc.Submit(ctx, submitInput(contest, 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	messages := env.queue.published(judgeTopic)
	if err := env.svc.HandleJudgeTask(ctx, messages[0]); err != nil {
		t.Fatalf("handle judge task: %v", err)
	}

	judged, err := env.subs.GetByID(ctx, submission.SubmissionID)
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	if judged.Status != model.SubmissionStatusJudged || judged.Verdict != model.VerdictAccepted {
		t.Fatalf("submission after judging = %s/%s", judged.Status, judged.Verdict)
	}
	if judged.TestsPassed != 2 || judged.TestsTotal != 2 {
		t.Fatalf("tests = %d/%d, want 2/2", judged.TestsPassed, judged.TestsTotal)
	}

	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 1 || reg.FinalScore != 100 {
		t.Fatalf("aggregates after acceptance: solved=%d score=%d", reg.ProblemsSolved, reg.FinalScore)
	}
	if reg.TotalTimeSeconds <= 0 {
		t.Fatalf("solve time must count from the effective start")
	}
	if rank, ok := env.engine.GetRank(ctx, contest.ID, 5); !ok || rank != 1 {
		t.Fatalf("live rank = %d/%v, want 1/true", rank, ok)
	}
	if count := env.engine.GetProblemSolveCount(ctx, contest.ID, 101); count != 1 {
		t.Fatalf("solve count = %d, want 1", count)
	}
}

func TestHandleJudgeTaskWrongAnswerAddsPenaltyToNextSolve(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60) // 20 penalty minutes per wrong attempt
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	env.exec.stdout = "wrong\n"
	if _, err := env.svc.Submit(ctx, submitInput(contest, 5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.svc.HandleJudgeTask(ctx, env.queue.published(judgeTopic)[0]); err != nil {
		t.Fatalf("handle wrong answer: %v", err)
	}

	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 0 {
		t.Fatalf("wrong answer must not count as a solve")
	}
	if reg.Attempts[101] == nil || reg.Attempts[101].Attempts != 1 {
		t.Fatalf("failed attempt not recorded: %+v", reg.Attempts[101])
	}

	env.exec.stdout = "ok\n"
	if _, err := env.svc.Submit(ctx, submitInput(contest, 5)); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if err := env.svc.HandleJudgeTask(ctx, env.queue.published(judgeTopic)[1]); err != nil {
		t.Fatalf("handle acceptance: %v", err)
	}

	reg, _ = env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 1 {
		t.Fatalf("acceptance after a wrong attempt must count")
	}
	if reg.TotalPenaltyMinutes != 20 {
		t.Fatalf("penalty = %d, want 20 (one wrong attempt)", reg.TotalPenaltyMinutes)
	}
	if reg.Attempts[101].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2 including the accepted one", reg.Attempts[101].Attempts)
	}
}

func TestHandleJudgeTaskCompileErrorCountsAsAttempt(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60) // 20 penalty minutes per wrong attempt
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	env.exec.compileFail = true
	submission, err := env.svc.Submit(ctx, submitInput(contest, 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.svc.HandleJudgeTask(ctx, env.queue.published(judgeTopic)[0]); err != nil {
		t.Fatalf("handle compile error: %v", err)
	}

	judged, err := env.subs.GetByID(ctx, submission.SubmissionID)
	if err != nil {
		t.Fatalf("load submission: %v", err)
	}
	if judged.Verdict != model.VerdictCompileError {
		t.Fatalf("verdict = %s, want compile_error", judged.Verdict)
	}

	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 0 {
		t.Fatalf("compile error must not count as a solve")
	}
	if reg.Attempts[101] == nil || reg.Attempts[101].Attempts != 1 {
		t.Fatalf("compile error must burn an attempt: %+v", reg.Attempts[101])
	}

	// the code that failed to compile costs penalty once the problem is solved
	env.exec.compileFail = false
	if _, err := env.svc.Submit(ctx, submitInput(contest, 5)); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if err := env.svc.HandleJudgeTask(ctx, env.queue.published(judgeTopic)[1]); err != nil {
		t.Fatalf("handle acceptance: %v", err)
	}
	reg, _ = env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 1 || reg.TotalPenaltyMinutes != 20 {
		t.Fatalf("after solve: solved=%d penalty=%d, want 1/20", reg.ProblemsSolved, reg.TotalPenaltyMinutes)
	}
}

func TestHandleJudgeTaskRedeliveryIsIdempotent(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	if _, err := env.svc.Submit(ctx, submitInput(contest, 5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	message := env.queue.published(judgeTopic)[0]
	if err := env.svc.HandleJudgeTask(ctx, message); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	callsAfterFirst := env.exec.callCount()

	if err := env.svc.HandleJudgeTask(ctx, message); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if env.exec.callCount() != callsAfterFirst {
		t.Fatalf("redelivery of a judged submission must not re-run code")
	}

	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 1 || reg.FinalScore != 100 {
		t.Fatalf("aggregates moved on redelivery: solved=%d score=%d", reg.ProblemsSolved, reg.FinalScore)
	}
}

func TestRepeatAcceptanceDoesNotMoveStandings(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	for i := 0; i < 2; i++ {
		if _, err := env.svc.Submit(ctx, submitInput(contest, 5)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	for _, message := range env.queue.published(judgeTopic) {
		if err := env.svc.HandleJudgeTask(ctx, message); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 1 || reg.FinalScore != 100 {
		t.Fatalf("repeat acceptance moved aggregates: solved=%d score=%d", reg.ProblemsSolved, reg.FinalScore)
	}
	if count := env.engine.GetProblemSolveCount(ctx, contest.ID, 101); count != 1 {
		t.Fatalf("solve count = %d, want 1 after repeat acceptance", count)
	}
}

func TestConcurrentAcceptancesCountOneSolve(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	const resubmits = 8
	for i := 0; i < resubmits; i++ {
		if _, err := env.svc.Submit(ctx, submitInput(contest, 5)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	messages := env.queue.published(judgeTopic)
	var wg sync.WaitGroup
	errs := make(chan error, len(messages))
	for _, message := range messages {
		wg.Add(1)
		go func(message *mq.Message) {
			defer wg.Done()
			errs <- env.svc.HandleJudgeTask(ctx, message)
		}(message)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 1 || reg.FinalScore != 100 {
		t.Fatalf("racing acceptances: solved=%d score=%d, want 1/100", reg.ProblemsSolved, reg.FinalScore)
	}
	if reg.TotalPenaltyMinutes != 0 {
		t.Fatalf("racing acceptances must not accrue penalty, got %d", reg.TotalPenaltyMinutes)
	}
	if count := env.engine.GetProblemSolveCount(ctx, contest.ID, 101); count != 1 {
		t.Fatalf("solve count = %d, want 1", count)
	}
}

func TestSolveNotificationDoesNotIdentifyUser(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	bus := newTestBus(t)
	svc, err := service.NewSubmitService(service.SubmitConfig{
		ContestRepo:      env.contests,
		RegistrationRepo: env.regs,
		SubmissionRepo:   env.subs,
		Storage:          env.store,
		MQ:               env.queue,
		Pipeline:         env.pipeline,
		Ranking:          env.engine,
		Bus:              bus,
		JudgeTopic:       judgeTopic,
		SourceBucket:     "arena-sources",
	})
	if err != nil {
		t.Fatalf("create submit service: %v", err)
	}

	sub, err := bus.Subscribe(ctx, contest.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := svc.Submit(ctx, submitInput(contest, 5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.HandleJudgeTask(ctx, env.queue.published(judgeTopic)[0]); err != nil {
		t.Fatalf("handle: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-sub.Messages():
			var event realtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if event.Type != realtime.EventSolveNotification {
				continue
			}
			if event.TargetUserID != 0 {
				t.Fatalf("solve notification must broadcast, got target %d", event.TargetUserID)
			}
			var payload map[string]interface{}
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if _, ok := payload["user_id"]; ok {
				t.Fatalf("solve notification names the solver: %s", event.Payload)
			}
			if _, ok := payload["problem_id"]; !ok {
				t.Fatalf("solve notification missing problem_id: %s", event.Payload)
			}
			return
		case <-deadline:
			t.Fatalf("no solve_notification event received")
		}
	}
}

func TestSubmitRemovesSourceWhenCreateFails(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	env.subs.failCreate = errors.New("connection reset")
	if _, err := env.svc.Submit(ctx, submitInput(contest, 5)); appErr.GetCode(err) != appErr.SubmissionCreateFailed {
		t.Fatalf("submit with broken repository: got %v", err)
	}
	if count := env.store.objectCount(); count != 0 {
		t.Fatalf("%d orphan source objects left behind", count)
	}
	if len(env.queue.published(judgeTopic)) != 0 {
		t.Fatalf("failed submission must not queue judge work")
	}
}

func TestGetSubmissionHidesDetailFromNonOwnersMidContest(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	env.exec.stdout = "wrong\n"
	submission, err := env.svc.Submit(ctx, submitInput(contest, 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.svc.HandleJudgeTask(ctx, env.queue.published(judgeTopic)[0]); err != nil {
		t.Fatalf("handle: %v", err)
	}

	owner, err := env.svc.GetSubmission(ctx, submission.SubmissionID, 5)
	if err != nil {
		t.Fatalf("get as owner: %v", err)
	}
	if owner.SourceKey == "" || owner.FirstFailedTest != 1 {
		t.Fatalf("owner view redacted: key=%q first_failed=%d", owner.SourceKey, owner.FirstFailedTest)
	}

	stranger, err := env.svc.GetSubmission(ctx, submission.SubmissionID, 9)
	if err != nil {
		t.Fatalf("get as stranger: %v", err)
	}
	if stranger.SourceKey != "" || stranger.SourceHash != "" {
		t.Fatalf("stranger can reach the source mid-contest: %+v", stranger)
	}
	if stranger.FirstFailedTest != 0 {
		t.Fatalf("stranger sees the failure position mid-contest: %d", stranger.FirstFailedTest)
	}
	if stranger.Verdict != model.VerdictWrongAnswer || stranger.TestsTotal != 2 {
		t.Fatalf("aggregates must stay visible: %+v", stranger)
	}

	contest.Status = model.ContestStatusEnded
	after, err := env.svc.GetSubmission(ctx, submission.SubmissionID, 9)
	if err != nil {
		t.Fatalf("get after end: %v", err)
	}
	if after.SourceKey == "" || after.FirstFailedTest != 1 {
		t.Fatalf("post-contest view redacted: key=%q first_failed=%d", after.SourceKey, after.FirstFailedTest)
	}
}

func TestHandleJudgeTaskDropsMalformedMessage(t *testing.T) {
	env := newSubmitEnv(t)

	if err := env.svc.HandleJudgeTask(context.Background(), mq.NewMessage([]byte("not a judge task"))); err != nil {
		t.Fatalf("malformed message must be dropped, not retried: %v", err)
	}
	if env.exec.callCount() != 0 {
		t.Fatalf("malformed message must not reach the pipeline")
	}
}

func TestRunJudgesVisibleTestsWithoutPersisting(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	view, err := env.svc.Run(ctx, submitInput(contest, 5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if view.Verdict != model.VerdictAccepted {
		t.Fatalf("run verdict = %s, want accepted", view.Verdict)
	}
	if view.TestsTotal != 1 {
		t.Fatalf("run judged %d tests, want only the visible one", view.TestsTotal)
	}
	if env.exec.callCount() != 1 {
		t.Fatalf("executor ran %d times, want 1", env.exec.callCount())
	}

	if count, _ := env.subs.CountPendingByContest(ctx, contest.ID); count != 0 {
		t.Fatalf("run must not persist a submission")
	}
	if len(env.queue.published(judgeTopic)) != 0 {
		t.Fatalf("run must not queue judge work")
	}
	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.ProblemsSolved != 0 {
		t.Fatalf("run must not move standings")
	}
}

func TestSubmitRateLimit(t *testing.T) {
	env := newSubmitEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	env.seedParticipant(t, contest, 5)

	limited, err := service.NewSubmitService(service.SubmitConfig{
		ContestRepo:      env.contests,
		RegistrationRepo: env.regs,
		SubmissionRepo:   env.subs,
		Storage:          env.store,
		MQ:               env.queue,
		Cache:            newTestCache(t),
		Pipeline:         env.pipeline,
		Ranking:          env.engine,
		JudgeTopic:       judgeTopic,
		SourceBucket:     "arena-sources",
		RateLimit:        service.RateLimitConfig{UserMax: 2, Window: time.Minute},
	})
	if err != nil {
		t.Fatalf("create limited service: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := limited.Submit(ctx, submitInput(contest, 5)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := limited.Submit(ctx, submitInput(contest, 5)); appErr.GetCode(err) != appErr.TooManyRequests {
		t.Fatalf("third submit inside the window: got %v", err)
	}
}
