package strategyconfig

import (
	"time"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// Config는 레짐별 가중치 프리셋과 전환 규칙 설정
// ⭐ SSOT: 프리셋/전환 규칙은 이 구조체로만 전달됨
type Config struct {
	Meta        Meta                                        `yaml:"meta" json:"meta"`
	Presets     map[contracts.Regime]contracts.WeightVector `yaml:"presets" json:"presets"`
	Defaults    TransitionDefaults                          `yaml:"defaults" json:"defaults"`
	Transitions []contracts.TransitionRule                  `yaml:"transitions" json:"transitions"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID  string `yaml:"strategy_id" json:"strategy_id"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// TransitionDefaults apply to regime pairs without an explicit rule
type TransitionDefaults struct {
	Speed         float64       `yaml:"speed" json:"speed"`
	MinConfidence float64       `yaml:"min_confidence" json:"min_confidence"`
	Cooldown      time.Duration `yaml:"cooldown" json:"cooldown"`
}

// DefaultStrategyID identifies the built-in preset table
const DefaultStrategyID = "builtin_regime_v1"

// Default returns the built-in presets and transition rules.
// 파일이 지정되지 않으면 이 설정을 사용
func Default() *Config {
	return &Config{
		Meta: Meta{
			StrategyID:  DefaultStrategyID,
			Version:     "1",
			Description: "built-in regime presets",
		},
		Presets: map[contracts.Regime]contracts.WeightVector{
			contracts.RegimeBull:     preset(0.25, 0.10, 0.10, 0.15, 0.05, 0.20, 0.15),
			contracts.RegimeBear:     preset(0.05, 0.20, 0.25, 0.10, 0.20, 0.10, 0.10),
			contracts.RegimeSideways: preset(0.10, 0.20, 0.15, 0.10, 0.10, 0.25, 0.10),
			contracts.RegimeVolatile: preset(0.05, 0.15, 0.25, 0.10, 0.25, 0.10, 0.10),
			contracts.RegimeRecovery: preset(0.20, 0.20, 0.10, 0.15, 0.05, 0.15, 0.15),
		},
		Defaults: TransitionDefaults{
			Speed:         0.34,
			MinConfidence: 0.6,
		},
		Transitions: []contracts.TransitionRule{
			// 하락 전환은 빠르게, 상승 복귀는 천천히
			{From: contracts.RegimeBull, To: contracts.RegimeBear, Speed: 0.6, MinConfidence: 0.7},
			{From: contracts.RegimeBull, To: contracts.RegimeVolatile, Speed: 0.5, MinConfidence: 0.65},
			{From: contracts.RegimeSideways, To: contracts.RegimeVolatile, Speed: 0.5, MinConfidence: 0.65},
			{From: contracts.RegimeBear, To: contracts.RegimeRecovery, Speed: 0.25, MinConfidence: 0.7, Cooldown: 24 * time.Hour},
			{From: contracts.RegimeBear, To: contracts.RegimeBull, Speed: 0.2, MinConfidence: 0.8, Cooldown: 72 * time.Hour},
			{From: contracts.RegimeRecovery, To: contracts.RegimeBull, Speed: 0.34, MinConfidence: 0.65},
			{From: contracts.RegimeVolatile, To: contracts.RegimeBear, Speed: 0.5, MinConfidence: 0.6},
		},
	}
}

// Preset returns a copy of the preset for r (nil if absent)
func (c *Config) Preset(r contracts.Regime) contracts.WeightVector {
	v, ok := c.Presets[r]
	if !ok {
		return nil
	}
	return v.Clone()
}

// Rule returns the explicit rule for from→to, or one built from Defaults.
func (c *Config) Rule(from, to contracts.Regime) contracts.TransitionRule {
	for _, r := range c.Transitions {
		if r.From == from && r.To == to {
			return r
		}
	}
	return contracts.TransitionRule{
		From:          from,
		To:            to,
		Speed:         c.Defaults.Speed,
		MinConfidence: c.Defaults.MinConfidence,
		Cooldown:      c.Defaults.Cooldown,
	}
}

func preset(momentum, value, quality, volume, volatility, technical, strength float64) contracts.WeightVector {
	return contracts.WeightVector{
		contracts.FactorMomentum:       momentum,
		contracts.FactorValue:          value,
		contracts.FactorQuality:        quality,
		contracts.FactorVolume:         volume,
		contracts.FactorVolatility:     volatility,
		contracts.FactorTechnical:      technical,
		contracts.FactorMarketStrength: strength,
	}
}
