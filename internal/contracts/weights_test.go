package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedFactors(t *testing.T) {
	sorted := SortedFactors()
	require.Len(t, sorted, len(AllFactors))
	for i := 1; i < len(sorted); i++ {
		assert.Less(t, string(sorted[i-1]), string(sorted[i]))
	}
	// AllFactors order is untouched
	assert.Equal(t, FactorMomentum, AllFactors[0])
}

func TestWeightVector(t *testing.T) {
	v := UniformWeights()
	assert.InDelta(t, 1.0, v.Sum(), 1e-12)

	c := v.Clone()
	c[FactorValue] = 0.5
	assert.NotEqual(t, v[FactorValue], c[FactorValue])

	assert.True(t, v.Equal(UniformWeights(), 1e-12))
	assert.False(t, v.Equal(c, 1e-3))

	missing := v.Clone()
	delete(missing, FactorTechnical)
	assert.False(t, v.Equal(missing, 1))

	assert.Contains(t, v.String(), "market_strength=0.1429")
	assert.Len(t, v.ToMap(), len(AllFactors))
}

func TestIsKnownFactor(t *testing.T) {
	assert.True(t, IsKnownFactor(FactorVolume))
	assert.False(t, IsKnownFactor("sentiment"))
}

func TestRegimeIsValid(t *testing.T) {
	for _, r := range AllRegimes {
		assert.True(t, r.IsValid())
	}
	assert.False(t, Regime("crash").IsValid())
	assert.Equal(t, []string{"bull", "bear", "sideways", "volatile", "recovery"}, RegimeNames())
}

func TestIntegrityError(t *testing.T) {
	var err error = &IntegrityError{VersionID: "v1", Expected: "abcdef0123456789", Actual: "ffff"}
	wrapped := fmt.Errorf("load: %w", err)

	assert.True(t, errors.Is(wrapped, ErrIntegrity))
	assert.False(t, errors.Is(wrapped, ErrNotFound))

	var ie *IntegrityError
	require.True(t, errors.As(wrapped, &ie))
	assert.Equal(t, "v1", ie.VersionID)
	assert.Contains(t, err.Error(), "abcdef012345")
}

func TestValidationErrors(t *testing.T) {
	assert.NoError(t, ValidationErrors(nil))

	err := ValidationErrors([]ValidationError{
		{Field: "sum", Message: "1.2 outside tolerance"},
		{Field: "momentum", Message: "above max"},
	})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "sum: 1.2 outside tolerance; momentum: above max")
}

func TestMapperStateInTransition(t *testing.T) {
	assert.False(t, MapperState{Current: RegimeBull}.InTransition())
	assert.True(t, MapperState{Current: RegimeBull, Pending: RegimeBear, Progress: 0.5}.InTransition())
	assert.False(t, MapperState{Current: RegimeBear, Pending: RegimeBear, Progress: 1}.InTransition())
}
