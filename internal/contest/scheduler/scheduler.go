package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"arenaoj/internal/contest/model"
	"arenaoj/pkg/utils/logger"
)

const (
	defaultHorizon       = 24 * time.Hour
	defaultSweepInterval = 30 * time.Second
	transitionTimeout    = 10 * time.Second
)

// Lifecycle is the transition surface the scheduler drives. Both hooks are
// CAS-guarded in the service, so firing one twice is harmless.
type Lifecycle interface {
	ActivateContest(ctx context.Context, contestID int64) error
	ConcludeContest(ctx context.Context, contestID int64) error
}

// ContestSource supplies the contests the scheduler watches.
type ContestSource interface {
	ListByStatus(ctx context.Context, status model.ContestStatus) ([]*model.Contest, error)
	ListDueTransitions(ctx context.Context, now time.Time) ([]*model.Contest, error)
}

// Config holds scheduler settings.
type Config struct {
	Contests  ContestSource
	Lifecycle Lifecycle

	// Horizon bounds how far ahead in-process timers are armed. Contests
	// starting beyond it are picked up by a later planning pass.
	Horizon time.Duration

	// SweepInterval is the reconciliation cadence. The sweep is the
	// authority: timers only make transitions prompt.
	SweepInterval time.Duration
}

type timerKey struct {
	contestID int64
	target    model.ContestStatus
}

// Scheduler fires contest lifecycle transitions on time. Two mechanisms
// cooperate: per-contest timers for promptness, and a periodic database
// sweep that catches everything timers miss (restarts, drifted clocks,
// contests scheduled on another instance).
type Scheduler struct {
	contests  ContestSource
	lifecycle Lifecycle
	horizon   time.Duration
	interval  time.Duration

	mu     sync.Mutex
	timers map[timerKey]*time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Contests == nil {
		return nil, fmt.Errorf("contest source is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Scheduler{
		contests:  cfg.Contests,
		lifecycle: cfg.Lifecycle,
		horizon:   cfg.Horizon,
		interval:  cfg.SweepInterval,
		timers:    make(map[timerKey]*time.Timer),
	}, nil
}

// Start runs a reconciliation pass immediately, then keeps sweeping until
// Stop is called. Overdue transitions fire before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.sweep(runCtx)
	s.plan(runCtx)

	go s.loop(runCtx)
	return nil
}

// Stop cancels the sweep loop and every armed timer.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.mu.Lock()
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
			s.plan(ctx)
		}
	}
}

// sweep reconciles stored state with the clock: every contest whose status
// disagrees with what now implies is transitioned directly.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now()
	due, err := s.contests.ListDueTransitions(ctx, now)
	if err != nil {
		logger.Error(ctx, "lifecycle sweep failed", zap.Error(err))
		return
	}
	for _, contest := range due {
		switch {
		case contest.ShouldBeLive(now):
			s.fire(ctx, contest.ID, model.ContestStatusLive)
		case contest.ShouldBeEnded(now):
			s.fire(ctx, contest.ID, model.ContestStatusEnded)
		}
	}
}

// plan arms timers for upcoming transitions within the horizon.
func (s *Scheduler) plan(ctx context.Context) {
	now := time.Now()

	scheduled, err := s.contests.ListByStatus(ctx, model.ContestStatusScheduled)
	if err != nil {
		logger.Error(ctx, "list scheduled contests failed", zap.Error(err))
	} else {
		for _, contest := range scheduled {
			s.arm(ctx, contest.ID, model.ContestStatusLive, contest.StartTime.Sub(now))
		}
	}

	live, err := s.contests.ListByStatus(ctx, model.ContestStatusLive)
	if err != nil {
		logger.Error(ctx, "list live contests failed", zap.Error(err))
		return
	}
	for _, contest := range live {
		s.arm(ctx, contest.ID, model.ContestStatusEnded, contest.EndTime.Sub(now))
	}
}

// arm sets one transition timer, keeping an existing one: re-planning every
// sweep must not push deadlines back.
func (s *Scheduler) arm(ctx context.Context, contestID int64, target model.ContestStatus, wait time.Duration) {
	if wait > s.horizon {
		return
	}
	if wait < 0 {
		wait = 0
	}
	key := timerKey{contestID: contestID, target: target}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[key]; ok {
		return
	}
	s.timers[key] = time.AfterFunc(wait, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		s.fire(ctx, contestID, target)
	})
}

// fire drives one transition. Losing a CAS race inside the hook is silent;
// real failures are logged and retried by the next sweep.
func (s *Scheduler) fire(ctx context.Context, contestID int64, target model.ContestStatus) {
	opCtx, cancel := context.WithTimeout(ctx, transitionTimeout)
	defer cancel()

	var err error
	switch target {
	case model.ContestStatusLive:
		err = s.lifecycle.ActivateContest(opCtx, contestID)
	case model.ContestStatusEnded:
		err = s.lifecycle.ConcludeContest(opCtx, contestID)
	default:
		return
	}
	if err != nil {
		logger.Error(ctx, "lifecycle transition failed",
			zap.Int64("contest_id", contestID),
			zap.String("target", string(target)),
			zap.Error(err))
		return
	}

	// an activation makes the end transition due within this horizon
	if target == model.ContestStatusLive {
		s.plan(ctx)
	}
}
