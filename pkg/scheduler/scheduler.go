package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNoJobsRegistered     = errors.New("scheduler has no registered jobs")
	ErrJobAlreadyRegistered = errors.New("job already registered")
)

// Job is a unit of periodic work, such as the billing sweep.
type Job func(ctx context.Context) error

// Scheduler runs registered jobs at fixed intervals from a single ticker
// loop. A job that is still running when its next slot arrives is simply
// skipped until it returns.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*scheduledJob
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

type scheduledJob struct {
	name    string
	every   time.Duration
	fn      Job
	lastRun time.Time
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets the tick granularity. Job intervals shorter than
// this are effectively rounded up to it.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*scheduledJob),
		interval: time.Minute,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers fn to run every interval. The first run happens when
// Start is called, then on every tick the interval has elapsed.
func (s *Scheduler) AddJob(name string, every time.Duration, fn Job) error {
	if name == "" || fn == nil {
		return fmt.Errorf("scheduler: job name and function are required")
	}
	if every <= 0 {
		return fmt.Errorf("scheduler: job %q needs a positive interval", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}
	s.jobs[name] = &scheduledJob{name: name, every: every, fn: fn}

	s.log.Info("registered periodic job",
		slog.String("job", name),
		slog.Duration("every", every))
	return nil
}

// Start blocks, running due jobs on every tick, until the context is
// cancelled. Returns ErrNoJobsRegistered when there is nothing to run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	if count == 0 {
		return ErrNoJobsRegistered
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runDue(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*scheduledJob
	for _, job := range s.jobs {
		if job.running {
			continue
		}
		if job.lastRun.IsZero() || now.Sub(job.lastRun) >= job.every {
			job.running = true
			job.lastRun = now
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		go s.run(ctx, job)
	}
}

func (s *Scheduler) run(ctx context.Context, job *scheduledJob) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "periodic job panicked",
				slog.String("job", job.name),
				slog.Any("panic", r))
		}
		s.mu.Lock()
		job.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	if err := job.fn(ctx); err != nil {
		s.log.ErrorContext(ctx, "periodic job failed",
			slog.String("job", job.name),
			slog.Any("error", err))
		return
	}
	s.log.InfoContext(ctx, "periodic job finished",
		slog.String("job", job.name),
		slog.Duration("took", s.now().Sub(start)))
}
