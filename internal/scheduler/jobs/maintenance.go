package jobs

import (
	"context"

	"github.com/wonny/aegis/weightgov/pkg/logger"
)

// VersionCleaner prunes old weight versions
type VersionCleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// VersionCleanupJob prunes inactive weight versions beyond retention
type VersionCleanupJob struct {
	cleaner  VersionCleaner
	schedule string
	logger   *logger.Logger
}

// NewVersionCleanupJob creates a new version cleanup job
func NewVersionCleanupJob(c VersionCleaner, schedule string, log *logger.Logger) *VersionCleanupJob {
	if schedule == "" {
		schedule = "0 0 3 * * 0" // 매주 일요일 03:00
	}
	return &VersionCleanupJob{
		cleaner:  c,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *VersionCleanupJob) Name() string {
	return "version_cleanup"
}

// Schedule returns the cron schedule
func (j *VersionCleanupJob) Schedule() string {
	return j.schedule
}

// Run executes the cleanup
func (j *VersionCleanupJob) Run(ctx context.Context) error {
	j.logger.Debug("Starting scheduled version cleanup")

	count, err := j.cleaner.Cleanup(ctx)
	if err != nil {
		return err
	}

	if count > 0 {
		j.logger.WithField("removed", count).Info("Version cleanup completed")
	}

	return nil
}
