package strategyconfig

import (
	"errors"
	"fmt"
	"math"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/pkg/config"
)

// boundEpsilon absorbs float noise in hand-authored presets
const boundEpsilon = 1e-9

// Validate checks all required constraints and returns the first failure
// (wrapping contracts.ErrValidation).
func Validate(cfg *Config, bounds config.SafetyBounds) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return invalid("meta.strategy_id", "required")
	}

	// === Presets ===
	for r := range cfg.Presets {
		if !r.IsValid() {
			return invalid(fmt.Sprintf("presets.%s", r), "unknown regime")
		}
	}
	for _, r := range contracts.AllRegimes {
		v, ok := cfg.Presets[r]
		if !ok {
			return invalid(fmt.Sprintf("presets.%s", r), "required")
		}
		if err := validatePreset(v, bounds); err != nil {
			return invalid(fmt.Sprintf("presets.%s.%s", r, err.Field), err.Message)
		}
	}

	// === Defaults ===
	if err := validateSpeed(cfg.Defaults.Speed); err != nil {
		return invalid("defaults.speed", err.Error())
	}
	if err := validatePctRange(cfg.Defaults.MinConfidence); err != nil {
		return invalid("defaults.min_confidence", err.Error())
	}
	if cfg.Defaults.Cooldown < 0 {
		return invalid("defaults.cooldown", "must be >= 0")
	}

	// === Transitions ===
	seen := make(map[[2]contracts.Regime]bool, len(cfg.Transitions))
	for i, rule := range cfg.Transitions {
		field := fmt.Sprintf("transitions[%d]", i)
		if !rule.From.IsValid() {
			return invalid(field+".from", fmt.Sprintf("unknown regime %q", rule.From))
		}
		if !rule.To.IsValid() {
			return invalid(field+".to", fmt.Sprintf("unknown regime %q", rule.To))
		}
		if rule.From == rule.To {
			return invalid(field, "from and to must differ")
		}
		key := [2]contracts.Regime{rule.From, rule.To}
		if seen[key] {
			return invalid(field, fmt.Sprintf("duplicate rule %s->%s", rule.From, rule.To))
		}
		seen[key] = true

		if err := validateSpeed(rule.Speed); err != nil {
			return invalid(field+".speed", err.Error())
		}
		if err := validatePctRange(rule.MinConfidence); err != nil {
			return invalid(field+".min_confidence", err.Error())
		}
		if rule.Cooldown < 0 {
			return invalid(field+".cooldown", "must be >= 0")
		}
	}

	return nil
}

// === Helper Functions ===

func invalid(field, message string) error {
	return contracts.ValidationErrors([]contracts.ValidationError{{Field: field, Message: message}})
}

// validatePreset checks one preset against the safety bounds
func validatePreset(v contracts.WeightVector, b config.SafetyBounds) *contracts.ValidationError {
	for f := range v {
		if !contracts.IsKnownFactor(f) {
			return &contracts.ValidationError{Field: string(f), Message: "unknown factor"}
		}
	}

	sum := 0.0
	for _, f := range contracts.AllFactors {
		w, ok := v[f]
		if !ok {
			return &contracts.ValidationError{Field: string(f), Message: "required"}
		}
		if math.IsNaN(w) || w < b.MinWeight-boundEpsilon || w > b.MaxWeight+boundEpsilon {
			return &contracts.ValidationError{
				Field:   string(f),
				Message: fmt.Sprintf("must be in [%.2f, %.2f], got %.4f", b.MinWeight, b.MaxWeight, w),
			}
		}
		sum += w
	}
	if math.Abs(sum-1.0) > b.SumTolerance {
		return &contracts.ValidationError{Field: "sum", Message: fmt.Sprintf("must sum to 1.00, got %.4f", sum)}
	}
	return nil
}

func validateSpeed(speed float64) error {
	if math.IsNaN(speed) || speed <= 0 || speed > 1 {
		return errors.New("must be in range (0, 1]")
	}
	return nil
}

// validatePctRange는 값이 0~1 범위인지 검증
func validatePctRange(pct float64) error {
	if math.IsNaN(pct) || pct < 0 || pct > 1 {
		return errors.New("must be in range [0, 1]")
	}
	return nil
}
