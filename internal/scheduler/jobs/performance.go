package jobs

import (
	"context"
	"time"

	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

// PerformanceUpdater is the governor surface the performance job needs
type PerformanceUpdater interface {
	RunPerformanceUpdate(ctx context.Context, since time.Time) (*governor.PerformanceResult, error)
}

// PerformanceUpdateJob feeds committed outcomes to the dynamic calculator
type PerformanceUpdateJob struct {
	governor PerformanceUpdater
	schedule string
	logger   *logger.Logger
}

// NewPerformanceUpdateJob creates a new performance update job
func NewPerformanceUpdateJob(g PerformanceUpdater, schedule string, log *logger.Logger) *PerformanceUpdateJob {
	if schedule == "" {
		schedule = "0 0 18 * * 1-5"
	}
	return &PerformanceUpdateJob{
		governor: g,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *PerformanceUpdateJob) Name() string {
	return "performance_update"
}

// Schedule returns the cron schedule
func (j *PerformanceUpdateJob) Schedule() string {
	return j.schedule
}

// Run executes the update over the calculator lookback window
func (j *PerformanceUpdateJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled performance update")

	res, err := j.governor.RunPerformanceUpdate(ctx, time.Time{})
	if err != nil {
		return err
	}

	log := j.logger.WithFields(map[string]interface{}{
		"samples":     res.Metrics.SampleCount,
		"win_rate":    res.Metrics.WinRate,
		"rolled_back": res.RolledBack,
	})
	if res.Change == nil {
		log.Info("Performance update left weights unchanged")
		return nil
	}
	log.WithField("change_id", res.Change.ID).Info("Performance update committed")
	return nil
}
