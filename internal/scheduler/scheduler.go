package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

var unixEpoch = time.Unix(0, 0).UTC()

// TickFunc is invoked on every aligned interval with the scheduled tick time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the epoch length. Ticks fall on Unix-time multiples of it.
	Interval time.Duration
	// Offset delays every tick past the boundary, giving sources time to
	// publish the window that just closed.
	Offset       time.Duration
	StartupDelay time.Duration
	// RunOnStart fires one tick as soon as the startup delay has passed.
	RunOnStart bool
}

// Scheduler drives epoch-aligned reporting.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at each aligned interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, time.Now().UTC())
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next epoch boundary")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.fire(ctx, tick, next)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

// nextTick returns the first boundary plus offset strictly after now.
func (s *Scheduler) nextTick(now time.Time) time.Time {
	iv := s.opts.Interval
	rel := now.Sub(unixEpoch) - s.opts.Offset
	n := rel / iv
	if rel < 0 && rel%iv != 0 {
		n--
	}
	return unixEpoch.Add((n+1)*iv + s.opts.Offset)
}
