package jobs

import (
	"context"

	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

// RegimeChecker is the governor surface the regime job needs
type RegimeChecker interface {
	RunRegimeCheck(ctx context.Context, opts governor.RegimeCheckOptions) (*governor.RegimeCheckResult, error)
}

// RegimeCheckJob classifies the market and moves the regime weights
// ⭐ SSOT: 레짐 감지 스케줄은 이 Job에서만
type RegimeCheckJob struct {
	governor RegimeChecker
	schedule string
	logger   *logger.Logger
}

// NewRegimeCheckJob creates a new regime check job
func NewRegimeCheckJob(g RegimeChecker, schedule string, log *logger.Logger) *RegimeCheckJob {
	if schedule == "" {
		schedule = "0 40 15 * * 1-5" // 평일 장 마감 후
	}
	return &RegimeCheckJob{
		governor: g,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *RegimeCheckJob) Name() string {
	return "regime_check"
}

// Schedule returns the cron schedule
func (j *RegimeCheckJob) Schedule() string {
	return j.schedule
}

// Run executes one regime check on a fresh snapshot
func (j *RegimeCheckJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled regime check")

	res, err := j.governor.RunRegimeCheck(ctx, governor.RegimeCheckOptions{ForceRefresh: true})
	if err != nil {
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"regime":   res.Result.Regime,
		"decision": res.Decision,
	}).Info("Scheduled regime check completed")
	return nil
}
