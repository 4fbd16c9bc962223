package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc runs one polling cycle and returns the delay before the next one.
// Returning a zero or negative delay falls back to the base interval.
type TickFunc func(ctx context.Context, now time.Time) (time.Duration, error)

// Options tune scheduler behaviour.
type Options struct {
	BaseInterval time.Duration
	MaxRuntime   time.Duration
	StartupDelay time.Duration
}

// Scheduler drives repeated execution of polling ticks. The tick func itself
// decides the pacing, which lets the loop slow down under rate limiting and
// speed back up once sources recover.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.BaseInterval <= 0 {
		panic("scheduler base interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function until ctx is cancelled or the
// configured runtime elapses. The first tick fires after StartupDelay.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.MaxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.MaxRuntime)
		defer cancel()
	}

	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		now := time.Now().UTC()
		s.logger.Debug().Time("tick", now).Msg("executing polling tick")

		delay, err := tick(ctx, now)
		if err != nil {
			s.logger.Error().Err(err).Time("tick", now).Msg("tick execution failed")
		}
		if delay <= 0 {
			delay = s.opts.BaseInterval
		}

		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
