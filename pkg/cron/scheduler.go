// Package cron repeats a job on a cron schedule without overlapping runs.
package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrScheduleRequired = errors.New("schedule expression is required")
	ErrJobRequired      = errors.New("job is required")
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one scheduled run. run counts from 1.
type Job func(ctx context.Context, run int) error

// Options configure a Scheduler.
type Options struct {
	// RunNow triggers the first run immediately instead of waiting for the
	// first tick.
	RunNow bool
	// MaxRuns stops the scheduler after that many runs. Zero means no limit.
	MaxRuns  int
	Location *time.Location
	Logger   zerolog.Logger
}

// Scheduler runs a Job on a schedule. Runs never overlap: a tick that fires
// while a run is in progress is skipped.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	opts     Options
	logger   zerolog.Logger
}

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 30m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrScheduleRequired
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// New creates a scheduler for expr.
func New(expr string, opts Options) (*Scheduler, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	if opts.MaxRuns < 0 {
		return nil, fmt.Errorf("max runs must not be negative, got %d", opts.MaxRuns)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{
		expr:     strings.TrimSpace(expr),
		schedule: sched,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "cron").Str("schedule", strings.TrimSpace(expr)).Logger(),
	}, nil
}

// Run blocks until ctx is cancelled or MaxRuns runs have finished. Job errors
// are logged and do not stop the schedule. An in-flight run is awaited before
// Run returns.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if job == nil {
		return ErrJobRequired
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		runs     atomic.Int64
		finished atomic.Int64
		doneOnce sync.Once
	)
	limitReached := make(chan struct{})

	wrapped := func() {
		if ctx.Err() != nil {
			return
		}
		n := int(runs.Add(1))
		if s.opts.MaxRuns > 0 && n > s.opts.MaxRuns {
			return
		}

		start := time.Now()
		s.logger.Info().Int("run", n).Msg("Scheduled run started")
		if err := job(ctx, n); err != nil {
			s.logger.Error().Err(err).Int("run", n).Dur("duration", time.Since(start)).Msg("Scheduled run failed")
		} else {
			s.logger.Info().Int("run", n).Dur("duration", time.Since(start)).Msg("Scheduled run finished")
		}

		if s.opts.MaxRuns > 0 && int(finished.Add(1)) >= s.opts.MaxRuns {
			doneOnce.Do(func() { close(limitReached) })
			return
		}
		s.logger.Info().Time("next_run", s.schedule.Next(time.Now().In(s.opts.Location))).Msg("Waiting for next run")
	}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	id := c.Schedule(s.schedule, cron.FuncJob(wrapped))
	c.Start()

	if s.opts.RunNow {
		c.Entry(id).WrappedJob.Run()
	} else {
		s.logger.Info().Time("next_run", s.schedule.Next(time.Now().In(s.opts.Location))).Msg("Waiting for first run")
	}

	select {
	case <-ctx.Done():
	case <-limitReached:
	}

	cancel()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
