// Package scheduler runs periodic maintenance jobs such as the stale payment
// sweep and audit retention on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/apperrors"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a five-field cron expression.
func ValidateSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

// NextRun returns the next activation of schedule after now.
func NextRun(schedule string, now time.Time) (time.Time, error) {
	sched, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

type entry struct {
	name     string
	schedule string
	job      Job
	id       cron.EntryID
	running  bool
}

// Scheduler runs named jobs. A job still running when its next tick fires is
// skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	ctx        context.Context
	cancelFunc context.CancelFunc
	isRunning  bool
	wg         sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		logger:  logger.Named("scheduler"),
		entries: make(map[string]*entry),
	}
}

// Add registers job under name. Must be called before Start.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	if err := ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", schedule, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}

	e := &entry{name: name, schedule: schedule, job: job}
	id, err := s.cron.AddFunc(schedule, func() { s.run(e) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	e.id = id
	s.entries[name] = e
	return nil
}

// Start begins firing jobs until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}

	s.ctx, s.cancelFunc = context.WithCancel(ctx)
	s.cron.Start()
	s.isRunning = true

	now := time.Now()
	for _, e := range s.entries {
		next, _ := NextRun(e.schedule, now)
		s.logger.Info("job scheduled",
			zap.String("job", e.name),
			zap.String("schedule", e.schedule),
			zap.Time("next_run", next))
	}

	go func(done <-chan struct{}) {
		<-done
		s.Stop()
	}(s.ctx.Done())
}

// Stop stops accepting ticks and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel := s.cancelFunc
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow triggers name immediately in the background.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: %w", name, apperrors.ErrNotFound)
	}
	go s.run(e)
	return nil
}

// IsRunning returns whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Scheduler) run(e *entry) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.logger.Info("previous run still in progress, skipping", zap.String("job", e.name))
		return
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	e.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	started := time.Now()
	if err := e.job(ctx); err != nil {
		s.logger.Error("job failed", zap.String("job", e.name), zap.Error(err))
		return
	}
	s.logger.Info("job finished",
		zap.String("job", e.name),
		zap.Duration("took", time.Since(started)))
}
