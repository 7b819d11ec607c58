// Package scheduler runs the engine's periodic jobs. Each job is guarded by
// a named cross-instance advisory lock with non-blocking acquisition: when
// the lock is already held, the tick is skipped entirely. There is no
// queuing and no retry within that tick.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/openleague/market-engine/internal/joblock"
	"github.com/openleague/market-engine/internal/types"
	"github.com/rs/zerolog/log"
)

// Job is one named unit of periodic work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler drives the registered jobs on a fixed cadence.
type Scheduler struct {
	locker   joblock.Locker
	jobs     []Job
	interval time.Duration
	lockTTL  time.Duration
}

func New(locker joblock.Locker, interval, lockTTL time.Duration) *Scheduler {
	return &Scheduler{
		locker:   locker,
		interval: interval,
		lockTTL:  lockTTL,
	}
}

// Register adds a job to the schedule. Not safe to call after Start.
func (s *Scheduler) Register(name string, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, Job{Name: name, Run: run})
}

// Start begins the scheduler loop and blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "scheduler").Logger()
	logger.Info().
		Dur("interval", s.interval).
		Int("jobs", len(s.jobs)).
		Msg("starting scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down scheduler")
			return
		case <-ticker.C:
			for _, job := range s.jobs {
				s.runJob(ctx, job)
			}
		}
	}
}

// runJob executes one job under its advisory lock. Lock contention is not an
// error, it is the signal that another instance owns this tick.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	logger := log.With().
		Str("component", "scheduler").
		Str("job", job.Name).
		Logger()

	unlock, err := s.locker.TryLock(ctx, job.Name, s.lockTTL)
	if err != nil {
		if errors.Is(err, types.ErrLockHeld) {
			logger.Debug().Msg("job lock held elsewhere, skipping tick")
			return
		}
		logger.Error().Err(err).Msg("failed to acquire job lock")
		return
	}
	defer unlock()

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("job failed")
		return
	}
	logger.Debug().Dur("elapsed", time.Since(started)).Msg("job completed")
}
