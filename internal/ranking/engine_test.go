package ranking_test

import (
	"context"
	"testing"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/ranking"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestEngine(t *testing.T) (*ranking.Engine, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create redis cache: %v", err)
	}
	engine, err := ranking.NewEngine(ranking.Config{Cache: redisCache})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	return engine, server
}

func TestEngineRankAndPages(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	const contestID = int64(7)

	if err := engine.Initialize(ctx, contestID, time.Hour); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	engine.UpdateScore(ctx, contestID, 101, ranking.Stats{ProblemsSolved: 3, TotalTimeSeconds: 1800})
	engine.UpdateScore(ctx, contestID, 102, ranking.Stats{ProblemsSolved: 3, TotalTimeSeconds: 1200})
	engine.UpdateScore(ctx, contestID, 103, ranking.Stats{ProblemsSolved: 1, TotalTimeSeconds: 300})
	engine.UpdateScore(ctx, contestID, 104, ranking.Stats{ProblemsSolved: 2, TotalTimeSeconds: 900, PenaltyMinutes: 20})

	rank, ok := engine.GetRank(ctx, contestID, 102)
	if !ok || rank != 1 {
		t.Fatalf("expected user 102 at rank 1, got rank=%d ok=%v", rank, ok)
	}
	rank, ok = engine.GetRank(ctx, contestID, 103)
	if !ok || rank != 4 {
		t.Fatalf("expected user 103 at rank 4, got rank=%d ok=%v", rank, ok)
	}
	if _, ok := engine.GetRank(ctx, contestID, 999); ok {
		t.Fatalf("expected missing user to report no rank")
	}

	page := engine.GetPage(ctx, contestID, 1, 2)
	if len(page) != 2 || page[0].UserID != 102 || page[1].UserID != 101 {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page[0].Rank != 1 || page[1].Rank != 2 {
		t.Fatalf("unexpected page ranks: %+v", page)
	}
	if page[0].ProblemsSolved != 3 || page[0].CombinedSeconds != 1200 {
		t.Fatalf("unexpected decoded entry: %+v", page[0])
	}

	page = engine.GetPage(ctx, contestID, 2, 2)
	if len(page) != 2 || page[0].UserID != 104 || page[1].UserID != 103 {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestEngineNeighborhood(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	const contestID = int64(9)

	for i := int64(1); i <= 5; i++ {
		engine.UpdateScore(ctx, contestID, 100+i, ranking.Stats{ProblemsSolved: int(i)})
	}

	// user 103 (solved 3) sits at rank 3 of 5
	entries := engine.GetNeighborhood(ctx, contestID, 103, 1)
	if len(entries) != 3 {
		t.Fatalf("expected 3 neighborhood entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].UserID != 104 || entries[1].UserID != 103 || entries[2].UserID != 102 {
		t.Fatalf("unexpected neighborhood order: %+v", entries)
	}

	// radius clipped at the top of the board
	entries = engine.GetNeighborhood(ctx, contestID, 105, 2)
	if len(entries) != 3 || entries[0].UserID != 105 {
		t.Fatalf("unexpected clipped neighborhood: %+v", entries)
	}
}

func TestEngineFreezeIsolatesLaterMutations(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	const contestID = int64(11)

	engine.UpdateScore(ctx, contestID, 201, ranking.Stats{ProblemsSolved: 2, TotalTimeSeconds: 100})
	engine.UpdateScore(ctx, contestID, 202, ranking.Stats{ProblemsSolved: 1, TotalTimeSeconds: 100})

	if err := engine.Freeze(ctx, contestID); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	// post-freeze mutations: disqualification removes from the live board only
	engine.RemoveParticipant(ctx, contestID, 201)
	engine.UpdateScore(ctx, contestID, 202, ranking.Stats{ProblemsSolved: 5, TotalTimeSeconds: 100})

	frozen := engine.GetFrozenPage(ctx, contestID, 1, 10)
	if len(frozen) != 2 || frozen[0].UserID != 201 || frozen[1].UserID != 202 {
		t.Fatalf("frozen board changed after freeze: %+v", frozen)
	}
	if frozen[1].ProblemsSolved != 1 {
		t.Fatalf("frozen entry mutated: %+v", frozen[1])
	}

	live := engine.GetPage(ctx, contestID, 1, 10)
	if len(live) != 1 || live[0].UserID != 202 || live[0].ProblemsSolved != 5 {
		t.Fatalf("unexpected live board after mutations: %+v", live)
	}
}

func TestEngineSolveCounts(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	const contestID = int64(13)

	engine.RecordSolve(ctx, contestID, 301, 42, 120)
	engine.RecordSolve(ctx, contestID, 302, 42, 240)
	engine.RecordSolve(ctx, contestID, 301, 43, 500)

	if got := engine.GetProblemSolveCount(ctx, contestID, 42); got != 2 {
		t.Fatalf("expected 2 solves for problem 42, got %d", got)
	}
	if got := engine.GetProblemSolveCount(ctx, contestID, 43); got != 1 {
		t.Fatalf("expected 1 solve for problem 43, got %d", got)
	}
	if got := engine.GetProblemSolveCount(ctx, contestID, 44); got != 0 {
		t.Fatalf("expected 0 solves for problem 44, got %d", got)
	}
}

func TestEngineFailsOpenWhenStoreDown(t *testing.T) {
	engine, server := newTestEngine(t)
	ctx := context.Background()
	const contestID = int64(17)

	engine.UpdateScore(ctx, contestID, 401, ranking.Stats{ProblemsSolved: 1})
	server.Close()

	// writes and reads must degrade to no-ops, never propagate errors
	engine.UpdateScore(ctx, contestID, 402, ranking.Stats{ProblemsSolved: 2})
	engine.RecordSolve(ctx, contestID, 402, 1, 60)
	if rank, ok := engine.GetRank(ctx, contestID, 401); ok || rank != 0 {
		t.Fatalf("expected degraded rank read, got rank=%d ok=%v", rank, ok)
	}
	if page := engine.GetPage(ctx, contestID, 1, 10); page != nil {
		t.Fatalf("expected empty page while store is down, got %+v", page)
	}
	if entries := engine.GetNeighborhood(ctx, contestID, 401, 2); entries != nil {
		t.Fatalf("expected empty neighborhood while store is down, got %+v", entries)
	}
	if got := engine.GetProblemSolveCount(ctx, contestID, 1); got != 0 {
		t.Fatalf("expected zero solve count while store is down, got %d", got)
	}
}

func TestEngineRebuildMatchesIncrementalUpdates(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	const contestID = int64(19)

	participants := map[int64]ranking.Stats{
		501: {ProblemsSolved: 4, TotalTimeSeconds: 5000, PenaltyMinutes: 40},
		502: {ProblemsSolved: 4, TotalTimeSeconds: 4000, PenaltyMinutes: 60},
		503: {ProblemsSolved: 2, TotalTimeSeconds: 1000},
	}
	for userID, stats := range participants {
		engine.UpdateScore(ctx, contestID, userID, stats)
	}
	incremental := engine.GetPage(ctx, contestID, 1, 10)

	if err := engine.Rebuild(ctx, contestID, participants); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	rebuilt := engine.GetPage(ctx, contestID, 1, 10)

	if len(incremental) != len(rebuilt) {
		t.Fatalf("rebuild size mismatch: %d vs %d", len(incremental), len(rebuilt))
	}
	for i := range incremental {
		if incremental[i] != rebuilt[i] {
			t.Fatalf("rebuild mismatch at %d: %+v vs %+v", i, incremental[i], rebuilt[i])
		}
	}
}
