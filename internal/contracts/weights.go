package contracts

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Factor identifies one scoring factor
// ⭐ SSOT: 팩터 이름은 여기서만 정의
type Factor string

const (
	FactorMomentum       Factor = "momentum"
	FactorValue          Factor = "value"
	FactorQuality        Factor = "quality"
	FactorVolume         Factor = "volume"
	FactorVolatility     Factor = "volatility"
	FactorTechnical      Factor = "technical"
	FactorMarketStrength Factor = "market_strength"
)

// AllFactors is the fixed factor set in canonical order
var AllFactors = []Factor{
	FactorMomentum,
	FactorValue,
	FactorQuality,
	FactorVolume,
	FactorVolatility,
	FactorTechnical,
	FactorMarketStrength,
}

// IsKnownFactor reports whether f belongs to the fixed factor set
func IsKnownFactor(f Factor) bool {
	for _, k := range AllFactors {
		if k == f {
			return true
		}
	}
	return false
}

// SortedFactors returns the factor set in lexicographic order
// (canonical serialization order)
func SortedFactors() []Factor {
	out := make([]Factor, len(AllFactors))
	copy(out, AllFactors)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WeightVector maps each factor to its weight.
// 외부로 나가는 벡터는 반드시 safety engine을 거친 것이어야 함
type WeightVector map[Factor]float64

// Clone returns an independent copy
func (v WeightVector) Clone() WeightVector {
	if v == nil {
		return nil
	}
	out := make(WeightVector, len(v))
	for k, w := range v {
		out[k] = w
	}
	return out
}

// Sum returns the total weight over the fixed factor set
func (v WeightVector) Sum() float64 {
	sum := 0.0
	for _, f := range AllFactors {
		sum += v[f]
	}
	return sum
}

// Get returns the weight of f (0 when absent)
func (v WeightVector) Get(f Factor) float64 {
	return v[f]
}

// Equal compares every factor within tol
func (v WeightVector) Equal(other WeightVector, tol float64) bool {
	for _, f := range AllFactors {
		a, okA := v[f]
		b, okB := other[f]
		if okA != okB {
			return false
		}
		if math.Abs(a-b) > tol {
			return false
		}
	}
	return true
}

// ToMap converts to a string keyed map (metrics, JSON APIs)
func (v WeightVector) ToMap() map[string]float64 {
	out := make(map[string]float64, len(v))
	for f, w := range v {
		out[string(f)] = w
	}
	return out
}

// String renders the vector in canonical factor order
func (v WeightVector) String() string {
	parts := make([]string, 0, len(AllFactors))
	for _, f := range AllFactors {
		parts = append(parts, fmt.Sprintf("%s=%.4f", f, v[f]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// UniformWeights returns 1/n for every factor
func UniformWeights() WeightVector {
	v := make(WeightVector, len(AllFactors))
	for _, f := range AllFactors {
		v[f] = 1.0 / float64(len(AllFactors))
	}
	return v
}

// ChangeKind classifies a committed weight change
type ChangeKind string

const (
	ChangeUpdate   ChangeKind = "update"
	ChangeRollback ChangeKind = "rollback"
	ChangeReset    ChangeKind = "reset"
	// ChangeRegime is a regime-driven preset move. It is listed in the
	// history but never a rollback target.
	ChangeRegime ChangeKind = "regime"
)

// Rollbackable reports whether records of kind k belong to the dynamic
// lineage that Rollback walks
func (k ChangeKind) Rollbackable() bool {
	return k != ChangeRegime
}

// WeightChangeRecord is one entry of the bounded change history
type WeightChangeRecord struct {
	ID       string       `json:"id"`
	At       time.Time    `json:"at"`
	Previous WeightVector `json:"previous"`
	New      WeightVector `json:"new"`
	Reason   string       `json:"reason"`
	Kind     ChangeKind   `json:"kind"`
	Valid    bool         `json:"valid"`
}

// PerformanceMetrics summarizes the realized performance of a weight vector
type PerformanceMetrics struct {
	WinRate     float64 `json:"win_rate"`
	AvgReturn   float64 `json:"avg_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SampleCount int     `json:"sample_count"`
}

// WeightVersion is a checksum protected snapshot of a weight vector
// ⭐ SSOT: 버전 레코드 형식
type WeightVersion struct {
	ID          string              `json:"id"`
	Weights     WeightVector        `json:"weights"`
	Checksum    string              `json:"checksum"`
	CreatedAt   time.Time           `json:"created_at"`
	Description string              `json:"description"`
	Active      bool                `json:"active"`
	Metrics     *PerformanceMetrics `json:"metrics,omitempty"`

	// Verified is set on load; a version that failed its checksum is
	// returned with Verified=false and must not be used
	Verified bool `json:"verified"`
}
