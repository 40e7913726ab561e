package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScheduledHandler executes one run of a scheduled job.
type ScheduledHandler func(context.Context) error

type scheduledJob struct {
	name     string
	interval time.Duration
	handler  ScheduledHandler
}

// Scheduler runs registered jobs on fixed intervals until stopped.
// Used for maintenance work such as audit retention purges and expired key
// sweeps.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    []scheduledJob
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler builds an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Register adds a named job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, handler ScheduledHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval <= 0 || handler == nil {
		s.logger.Sugar().Errorw("invalid scheduled job ignored", "job", name, "interval", interval)
		return
	}
	s.jobs = append(s.jobs, scheduledJob{name: name, interval: interval, handler: handler})
	s.logger.Sugar().Infow("registered scheduled job", "job", name, "interval", interval)
}

// Start launches one goroutine per registered job. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.run(job)
	}
	s.started = true
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped")
}

func (s *Scheduler) run(job scheduledJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.handler(s.ctx); err != nil {
				s.logger.Sugar().Errorw("scheduled job failed",
					"job", job.name, "duration", time.Since(start), "error", err)
				continue
			}
			s.logger.Sugar().Infow("scheduled job completed",
				"job", job.name, "duration", time.Since(start))
		}
	}
}
