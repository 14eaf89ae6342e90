package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"arenaoj/internal/contest/model"
	"arenaoj/internal/contest/service"
	"arenaoj/internal/ranking"
	"arenaoj/internal/realtime"
	appErr "arenaoj/pkg/errors"
)

type contestEnv struct {
	contests *memContestRepo
	regs     *memRegistrationRepo
	subs     *memSubmissionRepo
	engine   *ranking.Engine
	bus      *realtime.Bus
	svc      *service.ContestService
}

func newContestEnv(t *testing.T) *contestEnv {
	t.Helper()
	env := &contestEnv{
		contests: newMemContestRepo(),
		regs:     newMemRegistrationRepo(),
		subs:     newMemSubmissionRepo(),
		engine:   newTestRanking(t),
		bus:      newTestBus(t),
	}
	svc, err := service.NewContestService(service.ContestConfig{
		ContestRepo:      env.contests,
		RegistrationRepo: env.regs,
		SubmissionRepo:   env.subs,
		Ranking:          env.engine,
		Bus:              env.bus,
	})
	if err != nil {
		t.Fatalf("create contest service: %v", err)
	}
	env.svc = svc
	return env
}

// put seeds a contest in an arbitrary state, bypassing the lifecycle.
func (m *memContestRepo) put(c *model.Contest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		m.seq++
		c.ID = m.seq
	}
	m.contests[c.ID] = c
}

func liveContest(id int64, startedAgo time.Duration, durationMin int) *model.Contest {
	c := &model.Contest{
		ID:              id,
		Title:           "weekly round",
		CreatorID:       1,
		Status:          model.ContestStatusLive,
		StartTime:       time.Now().Add(-startedAgo),
		DurationMinutes: durationMin,
		PenaltyMinutes:  20,
		Problems: []model.ContestProblem{
			{ProblemID: 101, Label: "A", Points: 100, OrderIndex: 0},
			{ProblemID: 102, Label: "B", Points: 300, OrderIndex: 1},
		},
	}
	c.RecomputeEndTime()
	return c
}

func TestCreateContestValidation(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateContest(ctx, service.CreateContestInput{CreatorID: 1, DurationMinutes: 90})
	if appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("missing title: got %v", err)
	}
	_, err = env.svc.CreateContest(ctx, service.CreateContestInput{Title: "r1", CreatorID: 1})
	if appErr.GetCode(err) != appErr.InvalidSchedule {
		t.Fatalf("zero duration: got %v", err)
	}

	contest, err := env.svc.CreateContest(ctx, service.CreateContestInput{
		Title:           "r1",
		CreatorID:       1,
		StartTime:       time.Now().Add(time.Hour),
		DurationMinutes: 90,
	})
	if err != nil {
		t.Fatalf("create contest: %v", err)
	}
	if contest.Status != model.ContestStatusDraft {
		t.Fatalf("new contest status = %s, want draft", contest.Status)
	}
	if !contest.EndTime.Equal(contest.StartTime.Add(90 * time.Minute)) {
		t.Fatalf("end time not derived from start + duration")
	}
}

func TestPublishContestRequiresProblemsAndFutureStart(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest, err := env.svc.CreateContest(ctx, service.CreateContestInput{
		Title:           "r1",
		CreatorID:       1,
		StartTime:       time.Now().Add(time.Hour),
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("create contest: %v", err)
	}

	if err := env.svc.PublishContest(ctx, contest.ID); appErr.GetCode(err) != appErr.ContestHasNoProblems {
		t.Fatalf("publish without problems: got %v", err)
	}

	if err := env.svc.SetProblems(ctx, contest.ID, []model.ContestProblem{{ProblemID: 101}}); err != nil {
		t.Fatalf("set problems: %v", err)
	}
	stored, _ := env.svc.GetContest(ctx, contest.ID)
	if stored.Problems[0].Label != "A" || stored.Problems[0].Points != 100 {
		t.Fatalf("problem defaults not filled: %+v", stored.Problems[0])
	}

	if err := env.svc.PublishContest(ctx, contest.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	stored, _ = env.svc.GetContest(ctx, contest.ID)
	if stored.Status != model.ContestStatusScheduled {
		t.Fatalf("status after publish = %s, want scheduled", stored.Status)
	}

	// already scheduled: publishing again is an illegal transition
	if err := env.svc.PublishContest(ctx, contest.ID); appErr.GetCode(err) != appErr.IllegalTransition {
		t.Fatalf("double publish: got %v", err)
	}
}

func TestPublishContestRejectsPastStart(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := &model.Contest{
		Title:           "stale",
		CreatorID:       1,
		Status:          model.ContestStatusDraft,
		StartTime:       time.Now().Add(-time.Minute),
		DurationMinutes: 60,
		Problems:        []model.ContestProblem{{ProblemID: 101, Label: "A", Points: 100}},
	}
	contest.RecomputeEndTime()
	env.contests.put(contest)

	if err := env.svc.PublishContest(ctx, contest.ID); appErr.GetCode(err) != appErr.InvalidSchedule {
		t.Fatalf("publish with past start: got %v", err)
	}
}

func TestUpdateContestOnlyBeforeLive(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 5*time.Minute, 60)
	env.contests.put(contest)

	_, err := env.svc.UpdateContest(ctx, service.CreateContestInput{
		Title:           "renamed",
		DurationMinutes: 90,
		StartTime:       time.Now().Add(time.Hour),
	}, contest.ID)
	if appErr.GetCode(err) != appErr.ContestNotEditable {
		t.Fatalf("update live contest: got %v", err)
	}
}

func TestStartContestNowRewritesClock(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := &model.Contest{
		Title:           "early",
		CreatorID:       1,
		Status:          model.ContestStatusScheduled,
		StartTime:       time.Now().Add(2 * time.Hour),
		DurationMinutes: 60,
		Problems:        []model.ContestProblem{{ProblemID: 101, Label: "A", Points: 100}},
	}
	contest.RecomputeEndTime()
	env.contests.put(contest)

	before := time.Now()
	if err := env.svc.StartContestNow(ctx, contest.ID); err != nil {
		t.Fatalf("start now: %v", err)
	}
	stored, _ := env.svc.GetContest(ctx, contest.ID)
	if stored.Status != model.ContestStatusLive {
		t.Fatalf("status = %s, want live", stored.Status)
	}
	if stored.StartTime.Before(before) {
		t.Fatalf("start time not rewritten to now")
	}
	if !stored.EndTime.Equal(stored.StartTime.Add(time.Hour)) {
		t.Fatalf("end time not derived from the new start")
	}

	if err := env.svc.StartContestNow(ctx, contest.ID); appErr.GetCode(err) != appErr.IllegalTransition {
		t.Fatalf("start a live contest: got %v", err)
	}
}

func TestActivateContestIdempotent(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := &model.Contest{
		Title:           "r1",
		CreatorID:       1,
		Status:          model.ContestStatusScheduled,
		StartTime:       time.Now(),
		DurationMinutes: 60,
		Problems:        []model.ContestProblem{{ProblemID: 101, Label: "A", Points: 100}},
	}
	contest.RecomputeEndTime()
	env.contests.put(contest)

	if err := env.svc.ActivateContest(ctx, contest.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	stored, _ := env.svc.GetContest(ctx, contest.ID)
	if stored.Status != model.ContestStatusLive {
		t.Fatalf("status = %s, want live", stored.Status)
	}

	// losing the CAS is the normal outcome of the timer/sweep race
	if err := env.svc.ActivateContest(ctx, contest.ID); err != nil {
		t.Fatalf("second activate must be a no-op, got %v", err)
	}
}

func TestConcludeContestComputesDenseFinalRanks(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 55*time.Minute, 60)
	env.contests.put(contest)

	seed := func(userID int64, score, solved int, seconds, penalty int64, status model.RegistrationStatus) {
		reg := &model.Registration{
			ContestID:           contest.ID,
			UserID:              userID,
			Status:              status,
			RegisteredAt:        contest.StartTime,
			ProblemsSolved:      solved,
			TotalTimeSeconds:    seconds,
			TotalPenaltyMinutes: penalty,
			FinalScore:          score,
		}
		if err := env.regs.Register(ctx, reg); err != nil {
			t.Fatalf("seed registration: %v", err)
		}
	}
	seed(10, 400, 3, 5000, 20, model.RegistrationStatusParticipating)
	seed(11, 400, 3, 5000, 20, model.RegistrationStatusParticipating) // ties user 10 on every key
	seed(12, 400, 3, 6000, 0, model.RegistrationStatusParticipating)
	seed(13, 100, 1, 900, 0, model.RegistrationStatusParticipating)
	seed(14, 500, 4, 100, 0, model.RegistrationStatusDisqualified) // excluded

	if err := env.svc.ConcludeContest(ctx, contest.ID); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	stored, _ := env.svc.GetContest(ctx, contest.ID)
	if stored.Status != model.ContestStatusEnded {
		t.Fatalf("status = %s, want ended", stored.Status)
	}

	waitFor(t, func() bool { return env.regs.ranksFor(contest.ID) != nil })
	ranks := env.regs.ranksFor(contest.ID)
	want := map[int64]int{10: 1, 11: 1, 12: 2, 13: 3}
	for userID, rank := range want {
		if ranks[userID] != rank {
			t.Fatalf("rank[%d] = %d, want %d (all: %v)", userID, ranks[userID], rank, ranks)
		}
	}
	if _, ok := ranks[14]; ok {
		t.Fatalf("disqualified participant must not receive a final rank")
	}

	reg, err := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 10)
	if err != nil {
		t.Fatalf("load registration: %v", err)
	}
	if reg.Status != model.RegistrationStatusCompleted {
		t.Fatalf("registration status = %s, want completed", reg.Status)
	}

	// a second conclude loses the CAS and must not recompute anything
	if err := env.svc.ConcludeContest(ctx, contest.ID); err != nil {
		t.Fatalf("second conclude must be a no-op, got %v", err)
	}
}

func TestConcludeContestPublishesEndEvent(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(7, 30*time.Minute, 30)
	env.contests.put(contest)

	sub, err := env.bus.Subscribe(ctx, contest.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := env.svc.ConcludeContest(ctx, contest.ID); err != nil {
		t.Fatalf("conclude: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		var event realtime.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != realtime.EventContestEnded {
			t.Fatalf("event type = %s, want %s", event.Type, realtime.EventContestEnded)
		}
		if event.ContestID != contest.ID {
			t.Fatalf("event contest = %d, want %d", event.ContestID, contest.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no contest_ended event received")
	}
}

func TestAnnounceBroadcastsToRoom(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(9, 10*time.Minute, 60)
	env.contests.put(contest)

	if err := env.svc.Announce(ctx, contest.ID, "  "); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("blank announcement: got %v", err)
	}
	if err := env.svc.Announce(ctx, 404, "hello"); err == nil {
		t.Fatalf("announce for missing contest should fail")
	}

	sub, err := env.bus.Subscribe(ctx, contest.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := env.svc.Announce(ctx, contest.ID, "five minutes remaining"); err != nil {
		t.Fatalf("announce: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		var event realtime.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Type != realtime.EventAnnouncement {
			t.Fatalf("event type = %s, want %s", event.Type, realtime.EventAnnouncement)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no announcement event received")
	}
}

func TestRegisterStatesAndCapacity(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	draft := &model.Contest{Title: "d", CreatorID: 1, Status: model.ContestStatusDraft, DurationMinutes: 60}
	env.contests.put(draft)
	if _, err := env.svc.Register(ctx, draft.ID, 5); appErr.GetCode(err) != appErr.RegistrationClosed {
		t.Fatalf("register for draft: got %v", err)
	}

	scheduled := &model.Contest{
		Title:           "s",
		CreatorID:       1,
		Status:          model.ContestStatusScheduled,
		StartTime:       time.Now().Add(time.Hour),
		DurationMinutes: 60,
		MaxParticipants: 1,
	}
	scheduled.RecomputeEndTime()
	env.contests.put(scheduled)

	if _, err := env.svc.Register(ctx, scheduled.ID, 5); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.svc.Register(ctx, scheduled.ID, 5); appErr.GetCode(err) != appErr.AlreadyRegistered {
		t.Fatalf("duplicate register: got %v", err)
	}
	if _, err := env.svc.Register(ctx, scheduled.ID, 6); appErr.GetCode(err) != appErr.RegistrationClosed {
		t.Fatalf("register over capacity: got %v", err)
	}
}

func TestRegisterLateJoinWindow(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	open := liveContest(1, 5*time.Minute, 60)
	open.AllowLateJoin = true
	open.LateJoinDeadlineMinutes = 30
	env.contests.put(open)

	reg, err := env.svc.Register(ctx, open.ID, 5)
	if err != nil {
		t.Fatalf("late register inside window: %v", err)
	}
	joined, err := env.regs.GetByContestAndUser(ctx, nil, open.ID, reg.UserID)
	if err != nil {
		t.Fatalf("load registration: %v", err)
	}
	if joined.JoinedAt == nil || joined.EffectiveStartTime == nil {
		t.Fatalf("late registration must join immediately: %+v", joined)
	}
	if !joined.EffectiveStartTime.After(open.StartTime) {
		t.Fatalf("late joiner clock must start at the join, not the contest start")
	}

	closed := liveContest(2, 40*time.Minute, 60)
	closed.AllowLateJoin = true
	closed.LateJoinDeadlineMinutes = 30
	env.contests.put(closed)
	if _, err := env.svc.Register(ctx, closed.ID, 5); appErr.GetCode(err) != appErr.LateJoinDeadlinePassed {
		t.Fatalf("register past the deadline: got %v", err)
	}

	strict := liveContest(3, 5*time.Minute, 60)
	strict.AllowLateJoin = false
	env.contests.put(strict)
	if _, err := env.svc.Register(ctx, strict.ID, 5); appErr.GetCode(err) != appErr.LateJoinDisabled {
		t.Fatalf("register with late join disabled: got %v", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(1, time.Minute, 60)
	contest.AllowLateJoin = true
	contest.LateJoinDeadlineMinutes = 30
	env.contests.put(contest)

	if _, err := env.svc.Register(ctx, contest.ID, 5); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, err := env.svc.Join(ctx, contest.ID, 5)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := env.svc.Join(ctx, contest.ID, 5)
	if err != nil {
		t.Fatalf("repeat join: %v", err)
	}
	if !second.JoinedAt.Equal(*first.JoinedAt) {
		t.Fatalf("repeat join must not move the join time")
	}

	if _, err := env.svc.Join(ctx, contest.ID, 99); appErr.GetCode(err) != appErr.NotRegistered {
		t.Fatalf("join without registration: got %v", err)
	}
}

func TestDisqualifyRemovesFromLiveBoardOnly(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	for _, userID := range []int64{5, 6} {
		reg := &model.Registration{
			ContestID:    contest.ID,
			UserID:       userID,
			Status:       model.RegistrationStatusParticipating,
			RegisteredAt: contest.StartTime,
		}
		if err := env.regs.Register(ctx, reg); err != nil {
			t.Fatalf("seed registration: %v", err)
		}
		env.engine.UpdateScore(ctx, contest.ID, userID, ranking.Stats{ProblemsSolved: 1, TotalTimeSeconds: 600})
	}

	if err := env.svc.Disqualify(ctx, contest.ID, 5); err != nil {
		t.Fatalf("disqualify: %v", err)
	}
	if _, ok := env.svc.MyRank(ctx, contest.ID, 5); ok {
		t.Fatalf("disqualified user still on the live board")
	}
	if rank, ok := env.svc.MyRank(ctx, contest.ID, 6); !ok || rank != 1 {
		t.Fatalf("remaining user rank = %d/%v, want 1/true", rank, ok)
	}

	reg, _ := env.regs.GetByContestAndUser(ctx, nil, contest.ID, 5)
	if reg.Status != model.RegistrationStatusDisqualified {
		t.Fatalf("registration status = %s, want disqualified", reg.Status)
	}
}

func TestLeaderboardServesFrozenBoardAfterEnd(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 59*time.Minute, 60)
	env.contests.put(contest)
	env.engine.UpdateScore(ctx, contest.ID, 5, ranking.Stats{ProblemsSolved: 2, TotalTimeSeconds: 1200})
	env.engine.UpdateScore(ctx, contest.ID, 6, ranking.Stats{ProblemsSolved: 1, TotalTimeSeconds: 300})

	if err := env.svc.ConcludeContest(ctx, contest.ID); err != nil {
		t.Fatalf("conclude: %v", err)
	}

	// post-freeze mutations touch only the live board
	env.engine.UpdateScore(ctx, contest.ID, 7, ranking.Stats{ProblemsSolved: 5, TotalTimeSeconds: 100})

	entries, err := env.svc.Leaderboard(ctx, contest.ID, 1, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("frozen board has %d entries, want 2", len(entries))
	}
	if entries[0].UserID != 5 || entries[0].Rank != 1 {
		t.Fatalf("frozen leader = %+v, want user 5 at rank 1", entries[0])
	}
}

func TestRebuildLeaderboardReplaysAggregates(t *testing.T) {
	env := newContestEnv(t)
	ctx := context.Background()

	contest := liveContest(1, 10*time.Minute, 60)
	env.contests.put(contest)
	seed := func(userID int64, solved int, seconds int64, status model.RegistrationStatus) {
		reg := &model.Registration{
			ContestID:        contest.ID,
			UserID:           userID,
			Status:           status,
			RegisteredAt:     contest.StartTime,
			ProblemsSolved:   solved,
			TotalTimeSeconds: seconds,
		}
		if err := env.regs.Register(ctx, reg); err != nil {
			t.Fatalf("seed registration: %v", err)
		}
	}
	seed(5, 2, 1200, model.RegistrationStatusParticipating)
	seed(6, 1, 300, model.RegistrationStatusParticipating)
	seed(7, 3, 100, model.RegistrationStatusDisqualified)

	if err := env.svc.RebuildLeaderboard(ctx, contest.ID); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	entries, err := env.svc.Leaderboard(ctx, contest.ID, 1, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("rebuilt board has %d entries, want 2 (disqualified excluded)", len(entries))
	}
	if entries[0].UserID != 5 {
		t.Fatalf("rebuilt leader = %d, want 5", entries[0].UserID)
	}
}
