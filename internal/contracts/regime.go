package contracts

import "time"

// Regime is a discrete market state label
type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeSideways Regime = "sideways"
	RegimeVolatile Regime = "volatile"
	RegimeRecovery Regime = "recovery"
)

// AllRegimes is the fixed evaluation order (ties go to the earlier regime)
var AllRegimes = []Regime{
	RegimeBull,
	RegimeBear,
	RegimeSideways,
	RegimeVolatile,
	RegimeRecovery,
}

// IsValid reports whether r is one of the five regimes
func (r Regime) IsValid() bool {
	for _, k := range AllRegimes {
		if k == r {
			return true
		}
	}
	return false
}

// RegimeNames returns the regime labels as strings
func RegimeNames() []string {
	out := make([]string, len(AllRegimes))
	for i, r := range AllRegimes {
		out[i] = string(r)
	}
	return out
}

// MarketIndicatorSnapshot is an immutable set of market indicators
// ⭐ SSOT: 레짐 분류 입력
type MarketIndicatorSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	IndexLevel float64   `json:"index_level"`

	// 수익률 (fraction, 0.05 = +5%)
	Return1D  float64 `json:"return_1d"`
	Return5D  float64 `json:"return_5d"`
	Return20D float64 `json:"return_20d"`
	Return60D float64 `json:"return_60d"`

	// 이동평균 대비 이격 (fraction)
	MA20Offset  float64 `json:"ma20_offset"`
	MA60Offset  float64 `json:"ma60_offset"`
	MA200Offset float64 `json:"ma200_offset"`

	// Breadth
	AdvanceDeclineRatio float64 `json:"advance_decline_ratio"`
	NewHighLowRatio     float64 `json:"new_high_low_ratio"`
	PctAboveMA20        float64 `json:"pct_above_ma20"`
	PctAboveMA60        float64 `json:"pct_above_ma60"`

	// Volatility
	Volatility           float64 `json:"volatility"`
	VolatilityPercentile float64 `json:"volatility_percentile"` // 0~100

	// Sentiment / flows
	FearGreed          float64 `json:"fear_greed"` // 0~100, 50 = neutral
	ForeignNetFlow     float64 `json:"foreign_net_flow"`
	InstitutionNetFlow float64 `json:"institution_net_flow"`

	Cached bool `json:"cached"`
}

// RegimeScore is one regime hypothesis score (0~100)
type RegimeScore struct {
	Regime    Regime             `json:"regime"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// RegimeResult is the outcome of one detection
type RegimeResult struct {
	Regime     Regime        `json:"regime"`
	Confidence float64       `json:"confidence"`
	Scores     []RegimeScore `json:"scores"`
	Previous   Regime        `json:"previous,omitempty"`
	Changed    bool          `json:"changed"`
	Duration   int           `json:"duration"` // consecutive detections
	DetectedAt time.Time     `json:"detected_at"`
	SnapshotAt time.Time     `json:"snapshot_at"`
}

// RegimeState is the persisted classifier state
type RegimeState struct {
	Regime     Regime    `json:"regime"`
	Duration   int       `json:"duration"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RegimeTransitionEvent is delivered to notifiers on a confident change
type RegimeTransitionEvent struct {
	From       Regime    `json:"from"`
	To         Regime    `json:"to"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// TransitionRule controls how the mapper moves between presets
type TransitionRule struct {
	From          Regime        `json:"from" yaml:"from"`
	To            Regime        `json:"to" yaml:"to"`
	Speed         float64       `json:"speed" yaml:"speed"`                   // (0,1], progress per update
	MinConfidence float64       `json:"min_confidence" yaml:"min_confidence"` // [0,1]
	Cooldown      time.Duration `json:"cooldown" yaml:"cooldown"`
}

// MapperState is the persisted strategy mapper state
type MapperState struct {
	Current          Regime       `json:"current"`
	Pending          Regime       `json:"pending,omitempty"`
	Progress         float64      `json:"progress"`
	Weights          WeightVector `json:"weights"`
	Target           WeightVector `json:"target,omitempty"`
	Speed            float64      `json:"speed,omitempty"` // 진행 중인 전환의 속도
	LastTransitionAt time.Time    `json:"last_transition_at"`
}

// InTransition reports whether a preset transition is in flight
func (s MapperState) InTransition() bool {
	return s.Pending != "" && s.Progress < 1
}
