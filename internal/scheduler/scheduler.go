package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RefreshJobName is the name AddRefreshJob registers under
const RefreshJobName = "refresh"

// DefaultJobTimeout bounds a single job run
const DefaultJobTimeout = 2 * time.Minute

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a scheduler. Each run gets a context bounded by timeout
// (DefaultJobTimeout when zero).
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Scheduler{
		// A refresh still running when the next tick fires is skipped, not stacked.
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:    make(map[string]cron.EntryID),
		timeout: timeout,
		logger:  logger,
	}
}

// AddJob adds a job with a cron schedule, e.g. "*/5 * * * *" or "@every 5m".
// A job with the same name is replaced.
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() { _ = s.run(name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = entryID
	s.mu.Unlock()

	s.logger.Info("added job", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// AddRefreshJob runs job every intervalMinutes minutes
func (s *Scheduler) AddRefreshJob(intervalMinutes int, job Job) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %d", intervalMinutes)
	}
	return s.AddJob(RefreshJobName, fmt.Sprintf("@every %dm", intervalMinutes), job)
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.Info("removed job", zap.String("job", name))
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.logger.Debug("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.logger.Debug("stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a job outside the schedule
func (s *Scheduler) RunNow(name string, job Job) error {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := job(ctx)
	if err != nil {
		s.logger.Warn("job failed", zap.String("job", name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	} else {
		s.logger.Info("job completed", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	}
	return err
}

// ListJobs returns info about scheduled jobs, sorted by name
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()

	s.mu.Lock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}
