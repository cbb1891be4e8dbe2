package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/governor"
	"github.com/wonny/aegis/weightgov/internal/strategy"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

type fakeGovernor struct {
	opts     governor.RegimeCheckOptions
	since    time.Time
	perf     *governor.PerformanceResult
	cleaned  int
	err      error
	regimeOK bool
}

func (f *fakeGovernor) RunRegimeCheck(ctx context.Context, opts governor.RegimeCheckOptions) (*governor.RegimeCheckResult, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	f.regimeOK = true
	return &governor.RegimeCheckResult{
		Result:   &contracts.RegimeResult{Regime: contracts.RegimeBull},
		Decision: strategy.DecisionBootstrap,
	}, nil
}

func (f *fakeGovernor) RunPerformanceUpdate(ctx context.Context, since time.Time) (*governor.PerformanceResult, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	return f.perf, nil
}

func (f *fakeGovernor) Cleanup(ctx context.Context) (int, error) {
	return f.cleaned, f.err
}

func TestRegimeCheckJob(t *testing.T) {
	g := &fakeGovernor{}
	job := NewRegimeCheckJob(g, "", logger.Nop())

	assert.Equal(t, "regime_check", job.Name())
	assert.Equal(t, "0 40 15 * * 1-5", job.Schedule())

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, g.regimeOK)
	assert.True(t, g.opts.ForceRefresh)
	assert.False(t, g.opts.ForceImmediate)

	g.err = errors.New("collector down")
	assert.Error(t, job.Run(context.Background()))
}

func TestPerformanceUpdateJob(t *testing.T) {
	tests := []struct {
		name string
		perf *governor.PerformanceResult
	}{
		{"unchanged", &governor.PerformanceResult{}},
		{"committed", &governor.PerformanceResult{Change: &contracts.WeightChangeRecord{ID: "c1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGovernor{perf: tt.perf}
			job := NewPerformanceUpdateJob(g, "@daily", logger.Nop())
			assert.Equal(t, "performance_update", job.Name())
			assert.Equal(t, "@daily", job.Schedule())
			require.NoError(t, job.Run(context.Background()))
			assert.True(t, g.since.IsZero(), "uses the calculator lookback")
		})
	}
}

func TestVersionCleanupJob(t *testing.T) {
	g := &fakeGovernor{cleaned: 3}
	job := NewVersionCleanupJob(g, "", logger.Nop())
	assert.Equal(t, "version_cleanup", job.Name())
	assert.Equal(t, "0 0 3 * * 0", job.Schedule())
	require.NoError(t, job.Run(context.Background()))

	g.err = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))
}
