// Package cron runs the low-priority background maintenance jobs described
// jobs: logging the active season goal and pruning the team bulletin's
// stale rows. This is ambient maintenance distinct from a brain's own
// idle/hostile/vitals timers (internal/brain, plain time.Tickers scoped to
// one agent); the scheduler here is process-wide and multi-agent.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/voxelbrain/internal/bulletin"
	"github.com/basket/voxelbrain/internal/memory"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

const bulletinStaleAfter = 5 * time.Minute

// AgentMemory pairs an agent name with its memory store, so the digest job
// can report every running agent's season goal in one sweep.
type AgentMemory struct {
	Agent string
	Store *memory.Store
}

// Config holds the dependencies for the maintenance scheduler.
type Config struct {
	Memories []AgentMemory
	Bulletin *bulletin.Board
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler runs the season-goal digest and bulletin sweep on a fixed
// interval, in addition to any cron expressions registered via AddJob.
type Scheduler struct {
	memories []AgentMemory
	board    *bulletin.Board
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	jobs []job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	name     string
	schedule cronlib.Schedule
	next     time.Time
	fn       func(context.Context)
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		memories: cfg.Memories,
		board:    cfg.Bulletin,
		logger:   logger,
		interval: interval,
	}
}

// AddJob registers an extra cron-scheduled job (e.g. a daily backup) beyond
// the built-in season-goal digest and bulletin sweep.
func (s *Scheduler) AddJob(name, cronExpr string, fn func(context.Context)) error {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job{name: name, schedule: sched, next: sched.Next(time.Now()), fn: fn})
	s.mu.Unlock()
	return nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.seasonGoalDigest()
	s.bulletinSweep()
	s.runDueJobs(ctx)
}

func (s *Scheduler) runDueJobs(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	var due []job
	for i := range s.jobs {
		if !s.jobs[i].next.After(now) {
			due = append(due, s.jobs[i])
			s.jobs[i].next = s.jobs[i].schedule.Next(now)
		}
	}
	s.mu.Unlock()
	for _, j := range due {
		j.fn(ctx)
		s.logger.Info("cron: job fired", "job", j.name)
	}
}

// seasonGoalDigest logs the active season goal for every tracked agent.
func (s *Scheduler) seasonGoalDigest() {
	for _, am := range s.memories {
		goal := am.Store.SeasonGoal()
		if goal == nil || *goal == "" {
			continue
		}
		s.logger.Info("season_goal_digest", "agent", am.Agent, "goal", *goal)
	}
}

// bulletinSweep prunes rows older than bulletinStaleAfter from the
// process-wide team bulletin.
func (s *Scheduler) bulletinSweep() {
	if s.board == nil {
		return
	}
	n := s.board.Prune(bulletinStaleAfter)
	if n > 0 {
		s.logger.Info("bulletin_sweep", "pruned", n)
	}
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
