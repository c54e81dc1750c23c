package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cycle runs one archival pass and reports whether every table succeeded
type Cycle func(ctx context.Context) bool

// Scheduler repeats a cycle on a fixed interval. A tick that arrives while
// the previous cycle is still running is skipped.
type Scheduler struct {
	Interval time.Duration
	Cycle    Cycle
	Logger   *logrus.Logger

	runs atomic.Int64
}

// New creates a scheduler
func New(interval time.Duration, cycle Cycle, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		Interval: interval,
		Cycle:    cycle,
		Logger:   logger,
	}
}

// Runs returns how many cycles have completed
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Run executes a cycle immediately and then every Interval until ctx is
// cancelled. Intervals below one second are rejected. It returns once the cycle in progress, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval < time.Second {
		return errors.Errorf("invalid interval %s, the minimum is 1s", s.Interval)
	}
	if s.Cycle == nil {
		return errors.New("no cycle to schedule")
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.Logger))).
		Then(cron.FuncJob(func() { s.runCycle(ctx) }))

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(cron.Every(s.Interval), job)

	s.Logger.Infof("Archiving every %s", s.Interval)
	job.Run()
	c.Start()

	<-ctx.Done()
	s.Logger.Info("Stopping scheduler, waiting for the running cycle")
	<-c.Stop().Done()
	s.Logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	ok := s.Cycle(ctx)
	n := s.runs.Add(1)

	if ok {
		s.Logger.Infof("Archive cycle %d finished in %s", n, time.Since(start).Round(time.Millisecond))
	} else {
		s.Logger.Warnf("Archive cycle %d finished with failures in %s", n, time.Since(start).Round(time.Millisecond))
	}
}
