package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// VacuumInterval is how often the SQLite cache is compacted.
const VacuumInterval = 24 * time.Hour

// Scheduler runs the periodic housekeeping jobs of the watch command.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// ScheduleStatusReport logs the runtime status every interval and returns
// the job ID.
func (s *Scheduler) ScheduleStatusReport(interval time.Duration, rt *Runtime) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(reportStatus, s.logger, rt),
		gocron.WithName("status-report"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create status job: %w", err)
	}
	return job.ID().String(), nil
}

// ScheduleVacuum compacts the cache every interval.
func (s *Scheduler) ScheduleVacuum(interval time.Duration, vacuum func(context.Context) error) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := vacuum(ctx); err != nil {
				s.logger.Warn("cache vacuum failed", "error", err)
				return
			}
			s.logger.Debug("cache vacuumed")
		}),
		gocron.WithName("cache-vacuum"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create vacuum job: %w", err)
	}
	return job.ID().String(), nil
}

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running jobs.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// reportStatus logs one line per collection.
func reportStatus(logger *slog.Logger, rt *Runtime) {
	logger.Info("connection status",
		"state", rt.Conn.State().String(),
		"online", rt.Conn.Online(),
		"channels", rt.Subs.Channels(),
	)
	statuses := rt.Catalog.Statuses()
	for _, name := range rt.Catalog.Names() {
		st := statuses[name]
		attrs := []any{
			"collection", name,
			"quality", st.Quality.String(),
			"loading", st.IsLoading,
			"retry", st.RetryAttempt,
			"reconnects", st.ReconnectAttempts,
		}
		if !st.LastSuccessAt.IsZero() {
			attrs = append(attrs, "last_success", st.LastSuccessAt)
		}
		if st.LastError != nil {
			logger.Warn("collection degraded", append(attrs, "error", st.LastError)...)
			continue
		}
		logger.Info("collection status", attrs...)
	}
}
