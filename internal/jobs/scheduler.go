package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is a unit of background work run on a cron schedule.
type Job interface {
	Run(ctx context.Context) error
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	NextRunTime time.Time `json:"next_run_time"`
}

type entry struct {
	job      Job
	schedule string
	handle   gocron.Job
}

// Scheduler manages and runs scheduled jobs
type Scheduler struct {
	cron gocron.Scheduler
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*entry
	running bool
}

// NewScheduler creates a scheduler evaluating cron expressions in UTC.
func NewScheduler(log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	cron, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
	}, nil
}

// Register adds a job under a five-field cron expression. Overlapping runs
// of the same job are skipped.
func (s *Scheduler) Register(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	handle, err := s.cron.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() { s.run(name, job) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %q: %w", name, err)
	}

	s.jobs[name] = &entry{job: job, schedule: schedule, handle: handle}
	s.log.Info("registered job", "job", name, "schedule", schedule)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.log.Error("job failed", "job", name, "error", err)
		return
	}
	s.log.Debug("job completed", "job", name, "duration", time.Since(start))
}

// Start begins running all registered jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info("job scheduler started", "jobs", len(s.jobs))
}

// Stop cancels in-flight jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.log.Info("job scheduler stopped")
	return nil
}

// RunNow runs a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %q not found", name)
	}
	return e.job.Run(ctx)
}

// Status lists registered jobs by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		st := JobStatus{Name: name, Schedule: e.schedule}
		if next, err := e.handle.NextRun(); err == nil {
			st.NextRunTime = next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
