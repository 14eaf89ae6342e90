package ranking

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultKeyPrefix    = "arena:lb:"
	defaultRetentionPad = 24 * time.Hour
	defaultOpTimeout    = 2 * time.Second
	frozenSuffix        = ":frozen"
	solvesSuffix        = ":solves"
)

// Entry is one leaderboard row read back from the ranking structure.
type Entry struct {
	UserID          int64   `json:"user_id"`
	Rank            int64   `json:"rank"`
	Score           float64 `json:"score"`
	ProblemsSolved  int     `json:"problems_solved"`
	CombinedSeconds int64   `json:"combined_seconds"`
}

// Config holds ranking engine settings.
type Config struct {
	Cache        cache.Cache
	KeyPrefix    string
	RetentionPad time.Duration
	OpTimeout    time.Duration
}

// Engine maintains the per-contest leaderboard as a Redis sorted set keyed by
// the composite score. It is a read-optimized projection of Registration data:
// every operation fails open, returning empty results on store errors so the
// judging path never depends on the ranking store being healthy.
type Engine struct {
	cache        cache.Cache
	keyPrefix    string
	retentionPad time.Duration
	opTimeout    time.Duration

	mu       sync.Mutex
	expiries map[int64]time.Time
}

// NewEngine creates a ranking engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.RetentionPad <= 0 {
		cfg.RetentionPad = defaultRetentionPad
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	return &Engine{
		cache:        cfg.Cache,
		keyPrefix:    cfg.KeyPrefix,
		retentionPad: cfg.RetentionPad,
		opTimeout:    cfg.OpTimeout,
		expiries:     make(map[int64]time.Time),
	}, nil
}

func (e *Engine) liveKey(contestID int64) string {
	return e.keyPrefix + strconv.FormatInt(contestID, 10)
}

func (e *Engine) frozenKey(contestID int64) string {
	return e.liveKey(contestID) + frozenSuffix
}

func (e *Engine) solvesKey(contestID int64) string {
	return e.liveKey(contestID) + solvesSuffix
}

// Initialize prepares the leaderboard for a contest going live. Keys written
// later self-expire well after the contest end so stale boards clean
// themselves up without a sweeper.
func (e *Engine) Initialize(ctx context.Context, contestID int64, duration time.Duration) error {
	if contestID <= 0 {
		return fmt.Errorf("contestID is required")
	}
	expireAt := time.Now().Add(duration + e.retentionPad)
	e.mu.Lock()
	e.expiries[contestID] = expireAt
	e.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	// Seed the solve-count hash so its TTL is in place from the start.
	if err := e.cache.HSet(opCtx, e.solvesKey(contestID), "_init", 0); err != nil {
		logger.Warn(ctx, "ranking initialize degraded", zap.Int64("contest_id", contestID), zap.Error(err))
		return nil
	}
	e.touchTTL(opCtx, contestID, e.solvesKey(contestID))
	return nil
}

// ttlFor returns the remaining retention for a contest's keys.
func (e *Engine) ttlFor(contestID int64) time.Duration {
	e.mu.Lock()
	expireAt, ok := e.expiries[contestID]
	e.mu.Unlock()
	if !ok {
		return e.retentionPad
	}
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return ttl
}

func (e *Engine) touchTTL(ctx context.Context, contestID int64, key string) {
	if err := e.cache.Expire(ctx, key, e.ttlFor(contestID)); err != nil {
		logger.Debug(ctx, "ranking expire degraded", zap.String("key", key), zap.Error(err))
	}
}

// UpdateScore recomputes and writes the participant's composite key. Errors
// are logged and swallowed: the Registration document stays the source of
// truth and the board can be rebuilt from it at any time.
func (e *Engine) UpdateScore(ctx context.Context, contestID, userID int64, stats Stats) {
	if contestID <= 0 || userID <= 0 {
		return
	}
	score := CompositeScore(stats)
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	key := e.liveKey(contestID)
	member := strconv.FormatInt(userID, 10)
	if err := e.cache.ZAdd(opCtx, key, cache.ZMember{Score: score, Member: member}); err != nil {
		logger.Warn(ctx, "ranking update degraded",
			zap.Int64("contest_id", contestID),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}
	e.touchTTL(opCtx, contestID, key)
}

// RemoveParticipant deletes a user from the live board. The frozen board is
// never touched: what was publicly shown at freeze time stays shown.
func (e *Engine) RemoveParticipant(ctx context.Context, contestID, userID int64) {
	if contestID <= 0 || userID <= 0 {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	if err := e.cache.ZRem(opCtx, e.liveKey(contestID), strconv.FormatInt(userID, 10)); err != nil {
		logger.Warn(ctx, "ranking remove degraded",
			zap.Int64("contest_id", contestID),
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

// GetRank returns the 1-based rank of a user on the live board.
// Returns (0, false) when the user is absent or the store is unavailable.
func (e *Engine) GetRank(ctx context.Context, contestID, userID int64) (int64, bool) {
	if contestID <= 0 || userID <= 0 {
		return 0, false
	}
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	rank, err := e.cache.ZRevRank(opCtx, e.liveKey(contestID), strconv.FormatInt(userID, 10))
	if err != nil {
		logger.Warn(ctx, "ranking rank read degraded", zap.Int64("contest_id", contestID), zap.Error(err))
		return 0, false
	}
	if rank < 0 {
		return 0, false
	}
	return rank + 1, true
}

// GetPage returns one page of the live board, best first. Page is 1-based.
func (e *Engine) GetPage(ctx context.Context, contestID int64, page, pageSize int) []Entry {
	return e.readPage(ctx, e.liveKey(contestID), page, pageSize)
}

// GetFrozenPage reads from the frozen snapshot taken at contest end.
func (e *Engine) GetFrozenPage(ctx context.Context, contestID int64, page, pageSize int) []Entry {
	return e.readPage(ctx, e.frozenKey(contestID), page, pageSize)
}

func (e *Engine) readPage(ctx context.Context, key string, page, pageSize int) []Entry {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := int64(page-1) * int64(pageSize)
	stop := start + int64(pageSize) - 1

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	members, err := e.cache.ZRevRangeWithScores(opCtx, key, start, stop)
	if err != nil {
		logger.Warn(ctx, "ranking page read degraded", zap.String("key", key), zap.Error(err))
		return nil
	}
	return buildEntries(members, start)
}

// GetNeighborhood returns the entries around a user on the live board:
// up to radius above and radius below, including the user.
func (e *Engine) GetNeighborhood(ctx context.Context, contestID, userID int64, radius int) []Entry {
	if radius < 0 {
		radius = 0
	}
	rank, ok := e.GetRank(ctx, contestID, userID)
	if !ok {
		return nil
	}
	start := rank - 1 - int64(radius)
	if start < 0 {
		start = 0
	}
	stop := rank - 1 + int64(radius)

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	members, err := e.cache.ZRevRangeWithScores(opCtx, e.liveKey(contestID), start, stop)
	if err != nil {
		logger.Warn(ctx, "ranking neighborhood read degraded", zap.Int64("contest_id", contestID), zap.Error(err))
		return nil
	}
	return buildEntries(members, start)
}

// Freeze snapshots the live board into an independent frozen key. Post-contest
// mutations (disqualification, admin correction) change only the live board;
// the frozen copy is what stays publicly displayed.
func (e *Engine) Freeze(ctx context.Context, contestID int64) error {
	if contestID <= 0 {
		return fmt.Errorf("contestID is required")
	}
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	members, err := e.cache.ZRevRangeWithScores(opCtx, e.liveKey(contestID), 0, -1)
	if err != nil {
		return fmt.Errorf("read live board failed: %w", err)
	}
	frozen := e.frozenKey(contestID)
	if err := e.cache.Del(opCtx, frozen); err != nil {
		return fmt.Errorf("reset frozen board failed: %w", err)
	}
	if len(members) > 0 {
		if err := e.cache.ZAdd(opCtx, frozen, members...); err != nil {
			return fmt.Errorf("write frozen board failed: %w", err)
		}
	}
	e.touchTTL(opCtx, contestID, frozen)
	return nil
}

// RecordSolve increments the per-problem acceptance counter.
func (e *Engine) RecordSolve(ctx context.Context, contestID, userID, problemID int64, solveTimeSeconds int64) {
	if contestID <= 0 || problemID <= 0 {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	key := e.solvesKey(contestID)
	if _, err := e.cache.HIncrBy(opCtx, key, strconv.FormatInt(problemID, 10), 1); err != nil {
		logger.Warn(ctx, "ranking solve count degraded",
			zap.Int64("contest_id", contestID),
			zap.Int64("problem_id", problemID),
			zap.Error(err))
		return
	}
	e.touchTTL(opCtx, contestID, key)
}

// GetProblemSolveCount returns how many participants solved a problem.
// Returns 0 when the store is unavailable.
func (e *Engine) GetProblemSolveCount(ctx context.Context, contestID, problemID int64) int64 {
	if contestID <= 0 || problemID <= 0 {
		return 0
	}
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	raw, err := e.cache.HGet(opCtx, e.solvesKey(contestID), strconv.FormatInt(problemID, 10))
	if err != nil || raw == "" {
		return 0
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return count
}

// Rebuild replays authoritative participant aggregates into a fresh live
// board. Used after ranking-store recovery; the result must match what the
// incremental updates would have produced.
func (e *Engine) Rebuild(ctx context.Context, contestID int64, participants map[int64]Stats) error {
	if contestID <= 0 {
		return fmt.Errorf("contestID is required")
	}
	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	key := e.liveKey(contestID)
	if err := e.cache.Del(opCtx, key); err != nil {
		return fmt.Errorf("reset live board failed: %w", err)
	}
	if len(participants) == 0 {
		return nil
	}
	members := make([]cache.ZMember, 0, len(participants))
	for userID, stats := range participants {
		members = append(members, cache.ZMember{
			Score:  CompositeScore(stats),
			Member: strconv.FormatInt(userID, 10),
		})
	}
	if err := e.cache.ZAdd(opCtx, key, members...); err != nil {
		return fmt.Errorf("write live board failed: %w", err)
	}
	e.touchTTL(opCtx, contestID, key)
	return nil
}

func buildEntries(members []cache.ZMember, startRank int64) []Entry {
	entries := make([]Entry, 0, len(members))
	for i, member := range members {
		userID, err := strconv.ParseInt(member.Member, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			UserID:          userID,
			Rank:            startRank + int64(i) + 1,
			Score:           member.Score,
			ProblemsSolved:  SolvedFromScore(member.Score),
			CombinedSeconds: CombinedSecondsFromScore(member.Score),
		})
	}
	return entries
}
