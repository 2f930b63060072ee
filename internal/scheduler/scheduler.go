// Package scheduler runs sync cycles on fixed intervals under a suture
// supervisor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Job is one periodic task. Run errors are logged and never stop the job.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Service runs a Job on a ticker. It implements suture.Service.
type Service struct {
	job    Job
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewService wraps job. The interval must be positive.
func NewService(job Job, clock clockwork.Clock, logger *slog.Logger) (*Service, error) {
	if job.Interval <= 0 {
		return nil, fmt.Errorf("job %q: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return nil, fmt.Errorf("job %q: no run function", job.Name)
	}
	return &Service{job: job, clock: clock, logger: logger.With("job", job.Name)}, nil
}

// Serve blocks until ctx is cancelled, running the job once per interval.
// Ticks that arrive while a run is in progress are dropped.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.Info("job scheduled", "interval", s.job.Interval.String(), "run_on_start", s.job.RunOnStart)
	if s.job.RunOnStart {
		s.runOnce(ctx)
	}

	ticker := s.clock.NewTicker(s.job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.runOnce(ctx)
		}
	}
}

func (s *Service) String() string { return s.job.Name }

func (s *Service) runOnce(ctx context.Context) {
	start := s.clock.Now()
	err := s.job.Run(ctx)
	switch {
	case err == nil:
		s.logger.Debug("job run finished", "elapsed", s.clock.Since(start).String())
	case errors.Is(err, pipeline.ErrSyncInProgress):
		s.logger.Info("job run skipped, previous run still active")
	case ctx.Err() != nil:
		s.logger.Info("job run interrupted by shutdown", "error", err)
	default:
		s.logger.Error("job run failed", "error", err)
	}
}

// SyncJob builds a Job that runs one orchestrator cycle of kind.
func SyncJob(o interface {
	Run(ctx context.Context, kind pipeline.Kind) (pipeline.CycleResult, error)
}, kind pipeline.Kind, interval time.Duration, runOnStart bool) Job {
	return Job{
		Name:       "sync-" + string(kind),
		Interval:   interval,
		RunOnStart: runOnStart,
		Run: func(ctx context.Context) error {
			_, err := o.Run(ctx, kind)
			return err
		},
	}
}

// NewSupervisor creates the root supervisor. Supervisor events are logged
// through logger.
func NewSupervisor(name string, shutdownTimeout time.Duration, logger *slog.Logger) *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: logger}
	return suture.New(name, suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}
