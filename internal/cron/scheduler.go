package cron

import (
	"context"
	"errors"
	"time"

	"news-quiz/internal/logger"
)

// Job is invoked at every fire time. Runs never overlap: the next fire time is
// computed after the previous run returns.
type Job func(ctx context.Context)

// Scheduler fires a Job on a Schedule until its context is canceled.
type Scheduler struct {
	name     string
	schedule *Schedule
	job      Job

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// NewScheduler parses expr and returns a scheduler for job.
func NewScheduler(name, expr string, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("cron: nil job")
	}
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		name:     name,
		schedule: sched,
		job:      job,
		now:      time.Now,
		after:    time.After,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Next reports the next fire time after the current clock.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(s.now())
}

// Run blocks, firing the job at each scheduled time, and returns ctx.Err()
// once ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.With("schedule", s.name)
	for {
		next := s.Next()
		if next.IsZero() {
			return errors.New("cron: schedule never fires")
		}
		wait := next.Sub(s.now())
		log.Info("next run scheduled", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(wait):
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Info("scheduled run starting")
		s.job(ctx)
	}
}
