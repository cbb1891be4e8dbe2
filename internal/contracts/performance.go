package contracts

import "time"

// FactorScores holds the per-factor scores of a stock at entry
type FactorScores map[Factor]float64

// TradeOutcome is one committed trade with its entry factor scores
type TradeOutcome struct {
	Code      string       `json:"code"`
	EntryDate time.Time    `json:"entry_date"`
	ExitDate  time.Time    `json:"exit_date"`
	Return    float64      `json:"return"`
	Scores    FactorScores `json:"scores"`
}

// Contribution is the measured predictive power of one factor
type Contribution struct {
	Score       float64 `json:"score"` // [-1, 1]
	SampleCount int     `json:"sample_count"`
	Confidence  float64 `json:"confidence"` // [0, 1]
}

// DynamicState is the persisted dynamic calculator state
type DynamicState struct {
	Weights   WeightVector `json:"weights"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ComparisonResult is the delayed before/after analysis of an update
type ComparisonResult struct {
	ChangeID    string    `json:"change_id"`
	PreviousHit float64   `json:"previous_hit"`
	NewHit      float64   `json:"new_hit"`
	SampleCount int       `json:"sample_count"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
