package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is run on every tick. Its context is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

// Scheduler posts on a fixed cron schedule in one timezone.
type Scheduler struct {
	cron   *cron.Cron
	id     cron.EntryID
	cancel context.CancelFunc
	logger *slog.Logger
}

// New parses a standard 5-field cron spec. Nothing runs until Start.
func New(spec string, loc *time.Location, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		cancel: cancel,
		logger: logger,
	}

	id, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("scheduled run", "spec", spec)
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled run failed", "error", err, "spec", spec)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.id = id
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next", s.Next())
}

// Stop prevents further runs and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Next reports when the job fires next. It is zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.id).Next
}
