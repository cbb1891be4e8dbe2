package safety

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(DefaultConfig(), nil, nil, logger.Nop(), nil)
}

func vec(m, v, q, vol, vlt, tech, ms float64) contracts.WeightVector {
	return contracts.WeightVector{
		contracts.FactorMomentum:       m,
		contracts.FactorValue:          v,
		contracts.FactorQuality:        q,
		contracts.FactorVolume:         vol,
		contracts.FactorVolatility:     vlt,
		contracts.FactorTechnical:      tech,
		contracts.FactorMarketStrength: ms,
	}
}

func assertValid(t *testing.T, e *Engine, v contracts.WeightVector) {
	t.Helper()
	ok, errs := e.Validate(v)
	require.True(t, ok, "invalid vector %s: %v", v, errs)
	for _, f := range contracts.AllFactors {
		assert.GreaterOrEqual(t, v[f], e.cfg.MinWeight-boundEpsilon)
		assert.LessOrEqual(t, v[f], e.cfg.MaxWeight+boundEpsilon)
	}
	assert.InDelta(t, 1.0, v.Sum(), e.cfg.SumTolerance)
}

func TestValidate(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name      string
		v         contracts.WeightVector
		wantOK    bool
		wantField string
	}{
		{"uniform", contracts.UniformWeights(), true, ""},
		{"preset like", vec(0.25, 0.10, 0.10, 0.15, 0.05, 0.20, 0.15), true, ""},
		{"below min", vec(0.01, 0.19, 0.20, 0.15, 0.15, 0.15, 0.15), false, "momentum"},
		{"above max", vec(0.45, 0.05, 0.10, 0.10, 0.10, 0.10, 0.10), false, "momentum"},
		{"negative", vec(-0.1, 0.3, 0.2, 0.2, 0.2, 0.1, 0.1), false, "momentum"},
		{"nan", vec(math.NaN(), 0.2, 0.2, 0.1, 0.1, 0.1, 0.1), false, "momentum"},
		{"sum off", vec(0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2), false, "sum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, errs := e.Validate(tt.v)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantField != "" {
				fields := make([]string, 0, len(errs))
				for _, err := range errs {
					fields = append(fields, err.Field)
				}
				assert.Contains(t, fields, tt.wantField)
			}
		})
	}
}

func TestValidateMissingAndUnknown(t *testing.T) {
	e := newTestEngine(t)

	v := contracts.UniformWeights()
	delete(v, contracts.FactorVolume)
	ok, _ := e.Validate(v)
	assert.False(t, ok)

	v = contracts.UniformWeights()
	v["sentiment"] = 0
	ok, errs := e.Validate(v)
	assert.False(t, ok)
	assert.Equal(t, "sentiment", errs[0].Field)
}

func TestNormalizeScenario(t *testing.T) {
	e := newTestEngine(t)

	got := e.Normalize(vec(0.50, 0, 0.30, 0, 0.20, 0, 0))
	assertValid(t, e, got)

	assert.InDelta(t, 0.40*8.0/9.0, got[contracts.FactorMomentum], 1e-9)
	assert.InDelta(t, 0.30*8.0/9.0, got[contracts.FactorQuality], 1e-9)
	assert.InDelta(t, 0.20*8.0/9.0, got[contracts.FactorVolatility], 1e-9)
	assert.InDelta(t, 0.05, got[contracts.FactorValue], 1e-12)
	assert.InDelta(t, 0.05, got[contracts.FactorMarketStrength], 1e-12)
}

func TestNormalizeReplacesInvalidEntries(t *testing.T) {
	e := newTestEngine(t)

	in := contracts.WeightVector{
		contracts.FactorMomentum: math.Inf(1),
		contracts.FactorValue:    math.NaN(),
		contracts.FactorQuality:  -3,
		"sentiment":              0.9,
	}
	got := e.Normalize(in)
	assertValid(t, e, got)
	assert.NotContains(t, got, contracts.Factor("sentiment"))
	assert.True(t, got.Equal(contracts.UniformWeights(), 1e-9))
}

func TestNormalizeSmallSum(t *testing.T) {
	e := newTestEngine(t)

	got := e.Normalize(vec(0.01, 0.01, 0.01, 0.01, 0.01, 0.01, 0.9))
	assertValid(t, e, got)
	assert.InDelta(t, 0.40, got[contracts.FactorMarketStrength], 1e-9)
}

func TestNormalizeProperties(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		v := make(contracts.WeightVector)
		for _, f := range contracts.AllFactors {
			switch rng.Intn(10) {
			case 0:
				v[f] = -rng.Float64()
			case 1:
				// missing
			default:
				v[f] = rng.Float64() * 2
			}
		}

		once := e.Normalize(v)
		assertValid(t, e, once)

		twice := e.Normalize(once)
		assert.True(t, once.Equal(twice, 1e-12), "not idempotent: %s vs %s", once, twice)
	}
}

func TestClampChangesBoundsDelta(t *testing.T) {
	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		prev := e.Normalize(vec(rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()))
		proposed := e.Normalize(vec(rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()))

		clamped := e.ClampChanges(prev, proposed)
		for _, f := range contracts.AllFactors {
			assert.LessOrEqual(t, math.Abs(clamped[f]-prev[f]), e.cfg.MaxChangeRate+1e-12)
		}

		assertValid(t, e, e.ApplyChangeLimit(prev, proposed))
	}
}

func TestApplyChangeLimit(t *testing.T) {
	e := newTestEngine(t)

	prev := vec(0.40, 0.05, 0.15, 0.10, 0.10, 0.10, 0.10)
	proposed := vec(0.05, 0.40, 0.15, 0.10, 0.10, 0.10, 0.10)

	clamped := e.ClampChanges(prev, proposed)
	assert.InDelta(t, 0.30, clamped[contracts.FactorMomentum], 1e-12)
	assert.InDelta(t, 0.15, clamped[contracts.FactorValue], 1e-12)

	got := e.ApplyChangeLimit(prev, proposed)
	assertValid(t, e, got)
	assert.InDelta(t, 0.30, got[contracts.FactorMomentum], 1e-9)
}

func TestRollback(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	vectors := []contracts.WeightVector{
		contracts.UniformWeights(),
		vec(0.25, 0.10, 0.10, 0.15, 0.05, 0.20, 0.15),
		vec(0.05, 0.20, 0.25, 0.10, 0.20, 0.10, 0.10),
		vec(0.10, 0.20, 0.15, 0.10, 0.10, 0.25, 0.10),
	}
	for i := 1; i < len(vectors); i++ {
		e.RecordChange(ctx, vectors[i-1], vectors[i], "test", contracts.ChangeUpdate)
	}

	// N=3 records; Rollback(k) is Previous of the (N-k+1)-th record
	for k := 1; k <= 3; k++ {
		got, err := e.Rollback(k)
		require.NoError(t, err)
		assert.True(t, got.Equal(vectors[3-k], 1e-12), "k=%d", k)
	}

	_, err := e.Rollback(4)
	assert.True(t, errors.Is(err, contracts.ErrInsufficientData))
	_, err = e.Rollback(0)
	assert.True(t, errors.Is(err, contracts.ErrInsufficientData))
}

func TestRollbackSkipsRegimeRecords(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	good := contracts.UniformWeights()
	bad := vec(0.25, 0.10, 0.10, 0.15, 0.05, 0.20, 0.15)
	bull := vec(0.05, 0.20, 0.25, 0.10, 0.20, 0.10, 0.10)

	_, ok := e.LatestRollbackable()
	assert.False(t, ok)

	e.RecordChange(ctx, good, bad, "update", contracts.ChangeUpdate)
	e.RecordChange(ctx, good, bull, "regime snapped", contracts.ChangeRegime)

	got, err := e.Rollback(1)
	require.NoError(t, err)
	assert.True(t, got.Equal(good, 1e-12))

	latest, ok := e.LatestRollbackable()
	require.True(t, ok)
	assert.Equal(t, contracts.ChangeUpdate, latest.Kind)

	_, err = e.Rollback(2)
	assert.ErrorIs(t, err, contracts.ErrInsufficientData)
	assert.Equal(t, 2, e.Len())
}

func TestHistoryRingBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	e := NewEngine(cfg, nil, nil, logger.Nop(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.RecordChange(ctx, contracts.UniformWeights(), contracts.UniformWeights(), string(rune('a'+i)), contracts.ChangeUpdate)
	}

	assert.Equal(t, 3, e.Len())
	h := e.History(0)
	require.Len(t, h, 3)
	assert.Equal(t, "e", h[0].Reason)
	assert.Equal(t, "c", h[2].Reason)

	assert.Len(t, e.History(2), 2)
}

func TestRecordChangeMarksValidity(t *testing.T) {
	e := newTestEngine(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.SetClock(func() time.Time { return fixed })

	prev := contracts.UniformWeights()
	rec := e.RecordChange(context.Background(), prev, vec(0.9, 0, 0, 0, 0, 0, 0.1), "bad", contracts.ChangeUpdate)
	assert.False(t, rec.Valid)
	assert.Equal(t, fixed, rec.At)
	assert.NotEmpty(t, rec.ID)

	// record holds copies
	prev[contracts.FactorMomentum] = 1
	assert.InDelta(t, 1.0/7.0, rec.Previous[contracts.FactorMomentum], 1e-12)
}

func TestRecordChangePersistsAndRestores(t *testing.T) {
	repo := NewMemoryHistoryRepository()
	e := NewEngine(DefaultConfig(), repo, nil, logger.Nop(), nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		e.SetClock(func() time.Time { return at })
		e.RecordChange(ctx, contracts.UniformWeights(), contracts.UniformWeights(), string(rune('a'+i)), contracts.ChangeUpdate)
	}

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Reason)

	restored := NewEngine(DefaultConfig(), repo, nil, logger.Nop(), nil)
	require.NoError(t, restored.Restore(ctx))
	h := restored.History(0)
	require.Len(t, h, 3)
	assert.Equal(t, "c", h[0].Reason)
	assert.Equal(t, "a", h[2].Reason)
}

func TestPersistedHistoryIsBounded(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		extra int
	}{
		{"exact", 5, 0},
		{"overflow", 5, 7},
		{"default size", 100, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryHistoryRepository()
			cfg := DefaultConfig()
			cfg.HistorySize = tt.size
			e := NewEngine(cfg, repo, nil, logger.Nop(), nil)
			ctx := context.Background()

			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			total := tt.size + tt.extra
			for i := 0; i < total; i++ {
				at := base.Add(time.Duration(i) * time.Minute)
				e.SetClock(func() time.Time { return at })
				e.RecordChange(ctx, contracts.UniformWeights(), contracts.UniformWeights(), fmt.Sprintf("r%d", i), contracts.ChangeUpdate)
			}

			assert.Equal(t, tt.size, repo.Len())
			assert.Equal(t, tt.size, e.Len())

			recent, err := repo.Recent(ctx, 0)
			require.NoError(t, err)
			require.Len(t, recent, tt.size)
			assert.Equal(t, fmt.Sprintf("r%d", total-1), recent[0].Reason)
			assert.Equal(t, fmt.Sprintf("r%d", total-tt.size), recent[tt.size-1].Reason)
		})
	}
}

func TestSafeDefault(t *testing.T) {
	e := newTestEngine(t)
	assertValid(t, e, e.SafeDefault())
}
