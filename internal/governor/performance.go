package governor

import (
	"math"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// Summarize computes realized performance of committed outcomes.
// Outcomes are expected oldest exit first (OutcomesSince order).
func Summarize(outcomes []contracts.TradeOutcome) contracts.PerformanceMetrics {
	n := len(outcomes)
	pm := contracts.PerformanceMetrics{SampleCount: n}
	if n == 0 {
		return pm
	}

	wins := 0
	sum := 0.0
	for _, o := range outcomes {
		if o.Return > 0 {
			wins++
		}
		sum += o.Return
	}
	mean := sum / float64(n)
	pm.WinRate = float64(wins) / float64(n)
	pm.AvgReturn = mean

	if n > 1 {
		ss := 0.0
		for _, o := range outcomes {
			d := o.Return - mean
			ss += d * d
		}
		if std := math.Sqrt(ss / float64(n-1)); std > 0 {
			pm.Sharpe = mean / std
		}
	}

	// 청산 순서대로 복리 누적 후 고점 대비 최대 낙폭
	equity, peak := 1.0, 1.0
	for _, o := range outcomes {
		equity *= 1 + o.Return
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > pm.MaxDrawdown {
			pm.MaxDrawdown = dd
		}
	}
	return pm
}

// HitRate is the share of outcomes where the vector's composite score
// ranked the trade on the right side: above-average composite with a
// positive return, or below-average with a non-positive one.
func HitRate(v contracts.WeightVector, outcomes []contracts.TradeOutcome) float64 {
	n := len(outcomes)
	if n == 0 {
		return 0
	}

	composite := make([]float64, n)
	mean := 0.0
	for i, o := range outcomes {
		s := 0.0
		for _, f := range contracts.AllFactors {
			s += v[f] * o.Scores[f]
		}
		composite[i] = s
		mean += s
	}
	mean /= float64(n)

	hits := 0
	for i, o := range outcomes {
		if (composite[i] >= mean) == (o.Return > 0) {
			hits++
		}
	}
	return float64(hits) / float64(n)
}
