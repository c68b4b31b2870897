package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultRunTimeout = time.Minute

// JobFunc is a unit of scheduled work.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	hour     int
	location *time.Location
	run      JobFunc
}

// Scheduler runs registered jobs until its context is cancelled.
type Scheduler struct {
	jobs       []job
	runTimeout time.Duration
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
	wg         sync.WaitGroup
}

// SchedulerOption customises the scheduler.
type SchedulerOption func(*Scheduler)

// WithRunTimeout bounds every single job run.
func WithRunTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithSchedulerClock overrides the clock used for daily jobs.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedulerLogger installs a structured logger.
func WithSchedulerLogger(logger func(ctx context.Context, event string, fields map[string]any)) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs an empty scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runTimeout: defaultRunTimeout,
		now:        time.Now,
		logger:     func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Every registers a job that runs once per interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return errors.New("scheduler: job name and func are required")
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", name)
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: fn})
	return nil
}

// Daily registers a job that runs once a day at the given hour in loc.
func (s *Scheduler) Daily(name string, hour int, loc *time.Location, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return errors.New("scheduler: job name and func are required")
	}
	if hour < 0 || hour > 23 {
		return fmt.Errorf("scheduler: job %s: hour %d out of range", name, hour)
	}
	if loc == nil {
		loc = time.UTC
	}
	s.jobs = append(s.jobs, job{name: name, hour: hour, location: loc, run: fn})
	return nil
}

// Start launches every registered job in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j job) {
			defer s.wg.Done()
			if j.interval > 0 {
				s.loopInterval(ctx, j)
				return
			}
			s.loopDaily(ctx, j)
		}(j)
	}
}

// Wait blocks until all job goroutines have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loopInterval(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) loopDaily(ctx context.Context, j job) {
	for {
		wait := time.Until(nextDailyRun(s.now(), j.hour, j.location))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			s.runOnce(ctx, j)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()
	started := s.now()
	if err := j.run(runCtx); err != nil {
		s.logger(ctx, "scheduler.job.failed", map[string]any{"job": j.name, "error": err.Error()})
		return
	}
	s.logger(ctx, "scheduler.job.completed", map[string]any{
		"job":      j.name,
		"duration": s.now().Sub(started).String(),
	})
}

// nextDailyRun returns the first instant strictly after now at hour:00 in loc.
func nextDailyRun(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}
