package dynamic

import (
	"fmt"
	"math"
	"sort"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

const (
	// cohortFraction is the top/bottom share compared by the return spread
	cohortFraction = 0.30

	// spreadScale maps a return spread (fraction) onto [-1, 1]
	spreadScale = 10.0

	// varianceEpsilon treats a series as constant (correlation 0)
	varianceEpsilon = 1e-12

	// fullConfidenceSamples is the sample count at which confidence is 1
	fullConfidenceSamples = 100.0

	// 기여도 가중합 계수
	returnCorrWeight = 0.4
	winCorrWeight    = 0.3
	spreadWeight     = 0.3

	// ProposeWeights: raw = max(rawFloor, rawBase + score·rawSlope)
	rawFloor = 0.10
	rawBase  = 0.55
	rawSlope = 0.45
)

// AnalyzeContributions measures how predictive each factor's entry score was
// of the realized trade return. factorScores[i] belongs to outcomes[i].
// Below MinSamples every factor is neutral (score 0, confidence 0).
func (c *Calculator) AnalyzeContributions(outcomes []contracts.TradeOutcome, factorScores []contracts.FactorScores) (map[contracts.Factor]contracts.Contribution, error) {
	if len(outcomes) != len(factorScores) {
		return nil, fmt.Errorf("%d outcomes vs %d score sets: %w", len(outcomes), len(factorScores), contracts.ErrLengthMismatch)
	}

	n := len(outcomes)
	out := make(map[contracts.Factor]contracts.Contribution, len(contracts.AllFactors))
	if n < c.cfg.MinSamples || n < 2 {
		for _, f := range contracts.AllFactors {
			out[f] = contracts.Contribution{SampleCount: n}
		}
		return out, nil
	}

	returns := make([]float64, n)
	wins := make([]float64, n)
	for i, o := range outcomes {
		returns[i] = o.Return
		if o.Return > 0 {
			wins[i] = 1
		}
	}

	confidence := math.Min(1, float64(n)/fullConfidenceSamples)
	scores := make([]float64, n)
	for _, f := range contracts.AllFactors {
		for i := range factorScores {
			scores[i] = factorScores[i][f]
		}

		returnCorr := pearson(scores, returns)
		winCorr := pearson(scores, wins)
		spread := clamp(cohortSpread(scores, returns)*spreadScale, -1, 1)

		out[f] = contracts.Contribution{
			Score:       clamp(returnCorrWeight*returnCorr+winCorrWeight*winCorr+spreadWeight*spread, -1, 1),
			SampleCount: n,
			Confidence:  confidence,
		}
	}
	return out, nil
}

// ProposeWeights turns contributions into a normalized vector.
// Low confidence factors are pulled toward the uniform weight.
func (c *Calculator) ProposeWeights(contributions map[contracts.Factor]contracts.Contribution) contracts.WeightVector {
	uniform := 1.0 / float64(len(contracts.AllFactors))
	proposed := make(contracts.WeightVector, len(contracts.AllFactors))
	for _, f := range contracts.AllFactors {
		raw := math.Max(rawFloor, rawBase+contributions[f].Score*rawSlope)
		// raw 값 자체를 1/n 쪽으로 섞고, 비율화는 Normalize가 담당
		if conf := contributions[f].Confidence; conf < 0.5 {
			blend := conf * 2
			raw = blend*raw + (1-blend)*uniform
		}
		proposed[f] = raw
	}
	return c.engine.Normalize(proposed)
}

// pearson returns the correlation of x and y, or 0 when either series is
// (nearly) constant.
func pearson(x, y []float64) float64 {
	n := float64(len(x))
	if n < 2 {
		return 0
	}

	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx/n < varianceEpsilon || vy/n < varianceEpsilon {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	if math.IsNaN(r) {
		return 0
	}
	return clamp(r, -1, 1)
}

// cohortSpread is mean return of the top 30% by score minus the bottom 30%
func cohortSpread(scores, returns []float64) float64 {
	n := len(scores)
	k := int(float64(n) * cohortFraction)
	if k < 1 {
		return 0
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	// 점수가 모두 같으면 코호트 구분이 무의미
	if scores[idx[n-1]]-scores[idx[0]] < varianceEpsilon {
		return 0
	}

	var bottom, top float64
	for i := 0; i < k; i++ {
		bottom += returns[idx[i]]
		top += returns[idx[n-1-i]]
	}
	return (top - bottom) / float64(k)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
