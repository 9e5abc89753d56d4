package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of periodic work. now is the tick time.
type Job func(ctx context.Context, now time.Time) error

// Observer receives the outcome of every run.
type Observer interface {
	ObserveTick(err error, took time.Duration)
}

type Scheduler struct {
	every    time.Duration
	job      Job
	log      *slog.Logger
	now      func() time.Time
	observer Observer
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func New(every time.Duration, job Job, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if every <= 0 {
		return nil, errors.New("scheduler interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("scheduler job is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{every: every, job: job, log: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run fires the job every interval, starting one interval after Run is
// called, until ctx is done. Runs execute on this goroutine so they never
// overlap; ticks that arrive while a run is in flight are dropped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.log.Info("scheduler started", "every", s.every.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutdown")
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}

// RunOnce executes the job a single time. A panic in the job is recovered and
// reported as an error.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	runID := uuid.NewString()
	started := s.now()
	begin := time.Now()
	log := s.log.With("run_id", runID)
	log.Info("tick started", "at", started.UTC().Format(time.RFC3339))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
		took := time.Since(begin)
		if s.observer != nil {
			s.observer.ObserveTick(err, took)
		}
		if err != nil {
			log.Error("tick failed", "err", err, "took", took.String())
			return
		}
		log.Info("tick complete", "took", took.String())
	}()

	return s.job(ctx, started)
}
