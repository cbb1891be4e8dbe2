package provider

import (
	"context"
	"fmt"
	"math"

	"github.com/wonny/aegis/weightgov/internal/contracts"
	"github.com/wonny/aegis/weightgov/internal/dynamic"
	"github.com/wonny/aegis/weightgov/internal/safety"
	"github.com/wonny/aegis/weightgov/internal/strategy"
)

// Mode selects the provider variant
type Mode string

const (
	ModeStatic  Mode = "static"
	ModeDynamic Mode = "dynamic"
	ModeRegime  Mode = "regime"
	ModeHybrid  Mode = "hybrid"
)

// New builds the provider for mode. The scorer only sees the
// contracts.WeightProvider interface.
func New(mode Mode, engine *safety.Engine, calc *dynamic.Calculator, mapper *strategy.Mapper, hybridRatio float64) (contracts.WeightProvider, error) {
	static := NewStatic(engine, nil)

	switch mode {
	case ModeStatic:
		return static, nil
	case ModeDynamic:
		if calc == nil {
			return nil, fmt.Errorf("provider %s: calculator required", mode)
		}
		return NewDynamic(calc, static), nil
	case ModeRegime:
		if mapper == nil {
			return nil, fmt.Errorf("provider %s: mapper required", mode)
		}
		return NewRegimeAware(mapper, static), nil
	case ModeHybrid:
		if calc == nil || mapper == nil {
			return nil, fmt.Errorf("provider %s: calculator and mapper required", mode)
		}
		return NewHybrid(NewDynamic(calc, static), NewRegimeAware(mapper, static), hybridRatio, engine, static)
	default:
		return nil, fmt.Errorf("unknown provider mode %q", mode)
	}
}

// Static always returns the same vector
type Static struct {
	weights contracts.WeightVector
}

// NewStatic normalizes v once (nil → safe default)
func NewStatic(engine *safety.Engine, v contracts.WeightVector) *Static {
	if v == nil {
		v = engine.SafeDefault()
	}
	return &Static{weights: engine.Normalize(v)}
}

func (s *Static) Name() string { return string(ModeStatic) }

func (s *Static) GetWeights(ctx context.Context) contracts.WeightVector {
	return s.weights.Clone()
}

func (s *Static) IsAvailable(ctx context.Context) bool { return true }

// Dynamic serves the performance driven vector
type Dynamic struct {
	calc     *dynamic.Calculator
	fallback *Static
}

// NewDynamic wraps calc, degrading to fallback until it is available
func NewDynamic(calc *dynamic.Calculator, fallback *Static) *Dynamic {
	return &Dynamic{calc: calc, fallback: fallback}
}

func (d *Dynamic) Name() string { return string(ModeDynamic) }

func (d *Dynamic) GetWeights(ctx context.Context) contracts.WeightVector {
	if !d.calc.Available() {
		return d.fallback.GetWeights(ctx)
	}
	return d.calc.Weights()
}

func (d *Dynamic) IsAvailable(ctx context.Context) bool { return d.calc.Available() }

// RegimeAware serves the regime preset (or in-flight interpolation)
type RegimeAware struct {
	mapper   *strategy.Mapper
	fallback *Static
}

// NewRegimeAware wraps mapper, degrading to fallback before the first regime
func NewRegimeAware(mapper *strategy.Mapper, fallback *Static) *RegimeAware {
	return &RegimeAware{mapper: mapper, fallback: fallback}
}

func (r *RegimeAware) Name() string { return string(ModeRegime) }

func (r *RegimeAware) GetWeights(ctx context.Context) contracts.WeightVector {
	v := r.mapper.Weights()
	if v == nil {
		return r.fallback.GetWeights(ctx)
	}
	return v
}

func (r *RegimeAware) IsAvailable(ctx context.Context) bool { return r.mapper.Ready() }

// Hybrid blends the dynamic and regime vectors:
// ratio·dynamic + (1-ratio)·regime, re-normalized.
// 한쪽만 사용 가능하면 그쪽을 그대로 사용
type Hybrid struct {
	dynamic  contracts.WeightProvider
	regime   contracts.WeightProvider
	ratio    float64
	engine   *safety.Engine
	fallback *Static
}

// NewHybrid validates the dynamic ratio
func NewHybrid(dyn, regime contracts.WeightProvider, ratio float64, engine *safety.Engine, fallback *Static) (*Hybrid, error) {
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("hybrid ratio %.3f not in [0,1]: %w", ratio, contracts.ErrValidation)
	}
	return &Hybrid{dynamic: dyn, regime: regime, ratio: ratio, engine: engine, fallback: fallback}, nil
}

func (h *Hybrid) Name() string { return string(ModeHybrid) }

func (h *Hybrid) GetWeights(ctx context.Context) contracts.WeightVector {
	dynOK := h.dynamic.IsAvailable(ctx)
	regOK := h.regime.IsAvailable(ctx)

	switch {
	case dynOK && regOK:
		d := h.dynamic.GetWeights(ctx)
		r := h.regime.GetWeights(ctx)
		blended := make(contracts.WeightVector, len(contracts.AllFactors))
		for _, f := range contracts.AllFactors {
			blended[f] = h.ratio*d[f] + (1-h.ratio)*r[f]
		}
		return h.engine.Normalize(blended)
	case dynOK:
		return h.dynamic.GetWeights(ctx)
	case regOK:
		return h.regime.GetWeights(ctx)
	default:
		return h.fallback.GetWeights(ctx)
	}
}

func (h *Hybrid) IsAvailable(ctx context.Context) bool {
	return h.dynamic.IsAvailable(ctx) || h.regime.IsAvailable(ctx)
}
