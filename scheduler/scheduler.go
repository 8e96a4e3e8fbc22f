// Package scheduler runs the link health sweep on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every Sunday at 03:00
const DefaultSchedule = "0 3 * * 0"

// ErrAlreadyRunning is returned by RunNow while a run is in progress
var ErrAlreadyRunning = errors.New("job already running")

// Job is the scheduled work. The context is canceled by Stop.
type Job func(ctx context.Context) error

// Validate checks a standard five-field cron expression
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler runs one job on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	job     Job
	name    string
	entryID cron.EntryID
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler for job. Times are interpreted in loc; nil means UTC.
func New(name, spec string, loc *time.Location, job Job) (*Scheduler, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		job:    job,
		name:   name,
		ctx:    ctx,
		cancel: cancel,
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		if err := s.RunNow(s.ctx); errors.Is(err, ErrAlreadyRunning) {
			slog.Warn("skipping scheduled run, previous run still active", "job", s.name)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = entryID
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "job", s.name, "next_run", s.Next())
}

// Stop stops scheduling, cancels a running job and waits for it to return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}

// Next returns the next scheduled run, or the zero time before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunNow runs the job immediately unless a run is already in progress
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.wg.Add(1)
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()

	start := time.Now()
	slog.Info("scheduled job started", "job", s.name)
	if err := s.job(ctx); err != nil {
		slog.Error("scheduled job failed", "job", s.name, "error", err, "duration", time.Since(start))
		return err
	}
	slog.Info("scheduled job finished", "job", s.name, "duration", time.Since(start))
	return nil
}
