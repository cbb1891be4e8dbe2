package regime

import (
	"math"

	"github.com/wonny/aegis/weightgov/internal/contracts"
)

// 각 가설 점수는 독립적으로 캡이 걸린 하위 점수의 합 (최대 100)
const (
	maxScore = 100.0

	// confidence separation scale: a 30 point lead counts as full separation
	separationScale = 30.0
)

// ScoreAll evaluates every hypothesis in AllRegimes order
func ScoreAll(s *contracts.MarketIndicatorSnapshot) []contracts.RegimeScore {
	scorers := map[contracts.Regime]func(*contracts.MarketIndicatorSnapshot) map[string]float64{
		contracts.RegimeBull:     scoreBull,
		contracts.RegimeBear:     scoreBear,
		contracts.RegimeSideways: scoreSideways,
		contracts.RegimeVolatile: scoreVolatile,
		contracts.RegimeRecovery: scoreRecovery,
	}

	out := make([]contracts.RegimeScore, 0, len(contracts.AllRegimes))
	for _, r := range contracts.AllRegimes {
		breakdown := scorers[r](s)
		total := 0.0
		for _, v := range breakdown {
			total += v
		}
		out = append(out, contracts.RegimeScore{
			Regime:    r,
			Score:     math.Min(maxScore, total),
			Breakdown: breakdown,
		})
	}
	return out
}

// Select returns the top hypothesis (ties keep the earlier one) and the
// confidence 0.5·top/100 + 0.5·min(1, (top−second)/30)
func Select(scores []contracts.RegimeScore) (contracts.Regime, float64) {
	if len(scores) == 0 {
		return "", 0
	}

	top := 0
	for i := 1; i < len(scores); i++ {
		if scores[i].Score > scores[top].Score {
			top = i
		}
	}

	second := 0.0
	for i, s := range scores {
		if i != top && s.Score > second {
			second = s.Score
		}
	}

	topScore := scores[top].Score
	conf := 0.5*(topScore/maxScore) + 0.5*math.Min(1, (topScore-second)/separationScale)
	return scores[top].Regime, clamp01(conf)
}

func scoreBull(s *contracts.MarketIndicatorSnapshot) map[string]float64 {
	trend := 0.0
	switch {
	case s.Return20D >= 0.05:
		trend += 25
	case s.Return20D >= 0.02:
		trend += 15
	case s.Return20D > 0:
		trend += 5
	}
	switch {
	case s.Return60D >= 0.10:
		trend += 15
	case s.Return60D >= 0.03:
		trend += 10
	case s.Return60D > 0:
		trend += 5
	}

	ma := 0.0
	if s.MA20Offset > 0 {
		ma += 7
	}
	if s.MA60Offset > 0 {
		ma += 7
	}
	if s.MA200Offset > 0 {
		ma += 6
	}

	breadth := 0.0
	switch {
	case s.AdvanceDeclineRatio >= 1.5:
		breadth += 15
	case s.AdvanceDeclineRatio >= 1.2:
		breadth += 10
	case s.AdvanceDeclineRatio >= 1.0:
		breadth += 5
	}
	if s.NewHighLowRatio >= 2 {
		breadth += 5
	}

	sentiment := 0.0
	switch {
	case s.FearGreed >= 60:
		sentiment += 15
	case s.FearGreed > 50:
		sentiment += 8
	}
	if s.ForeignNetFlow+s.InstitutionNetFlow > 0 {
		sentiment += 5
	}

	return map[string]float64{
		"trend":     math.Min(40, trend),
		"ma":        math.Min(20, ma),
		"breadth":   math.Min(20, breadth),
		"sentiment": math.Min(20, sentiment),
	}
}

func scoreBear(s *contracts.MarketIndicatorSnapshot) map[string]float64 {
	trend := 0.0
	switch {
	case s.Return20D <= -0.05:
		trend += 25
	case s.Return20D <= -0.02:
		trend += 15
	case s.Return20D < 0:
		trend += 5
	}
	switch {
	case s.Return60D <= -0.10:
		trend += 15
	case s.Return60D <= -0.03:
		trend += 10
	case s.Return60D < 0:
		trend += 5
	}

	ma := 0.0
	if s.MA20Offset < 0 {
		ma += 7
	}
	if s.MA60Offset < 0 {
		ma += 7
	}
	if s.MA200Offset < 0 {
		ma += 6
	}

	// 0 은 "데이터 없음"으로 취급
	breadth := 0.0
	if s.AdvanceDeclineRatio > 0 {
		switch {
		case s.AdvanceDeclineRatio <= 0.67:
			breadth += 15
		case s.AdvanceDeclineRatio <= 0.83:
			breadth += 10
		case s.AdvanceDeclineRatio < 1.0:
			breadth += 5
		}
	}
	if s.NewHighLowRatio > 0 && s.NewHighLowRatio <= 0.5 {
		breadth += 5
	}

	sentiment := 0.0
	switch {
	case s.FearGreed <= 40:
		sentiment += 15
	case s.FearGreed < 50:
		sentiment += 8
	}
	if s.ForeignNetFlow+s.InstitutionNetFlow < 0 {
		sentiment += 5
	}

	return map[string]float64{
		"trend":     math.Min(40, trend),
		"ma":        math.Min(20, ma),
		"breadth":   math.Min(20, breadth),
		"sentiment": math.Min(20, sentiment),
	}
}

func scoreSideways(s *contracts.MarketIndicatorSnapshot) map[string]float64 {
	trend := 0.0
	switch r := math.Abs(s.Return20D); {
	case r <= 0.02:
		trend += 30
	case r <= 0.04:
		trend += 15
	}
	switch r := math.Abs(s.Return60D); {
	case r <= 0.05:
		trend += 20
	case r <= 0.10:
		trend += 10
	}

	vol := 0.0
	switch {
	case s.VolatilityPercentile <= 40:
		vol = 25
	case s.VolatilityPercentile <= 60:
		vol = 10
	}

	ma := 0.0
	if math.Abs(s.MA20Offset) <= 0.02 {
		ma = 15
	}

	breadth := 0.0
	if s.AdvanceDeclineRatio >= 0.8 && s.AdvanceDeclineRatio <= 1.25 {
		breadth = 10
	}

	return map[string]float64{
		"trend":      trend,
		"volatility": vol,
		"ma":         ma,
		"breadth":    breadth,
	}
}

func scoreVolatile(s *contracts.MarketIndicatorSnapshot) map[string]float64 {
	vol := 0.0
	switch {
	case s.VolatilityPercentile >= 80:
		vol = 40
	case s.VolatilityPercentile >= 65:
		vol = 25
	case s.VolatilityPercentile >= 50:
		vol = 10
	}

	sentiment := 0.0
	switch d := math.Abs(s.FearGreed - 50); {
	case d >= 30:
		sentiment = 25
	case d >= 20:
		sentiment = 15
	case d >= 10:
		sentiment = 5
	}

	swings := 0.0
	switch r := math.Abs(s.Return1D); {
	case r >= 0.03:
		swings += 15
	case r >= 0.015:
		swings += 8
	}
	switch r := math.Abs(s.Return5D); {
	case r >= 0.06:
		swings += 20
	case r >= 0.03:
		swings += 10
	}

	return map[string]float64{
		"volatility": vol,
		"sentiment":  sentiment,
		"swings":     swings,
	}
}

func scoreRecovery(s *contracts.MarketIndicatorSnapshot) map[string]float64 {
	trend := 0.0
	switch {
	case s.Return20D > 0.03 && s.Return60D < 0:
		trend += 35
	case s.Return20D > 0 && s.Return60D < 0:
		trend += 20
	}
	switch {
	case s.Return5D > 0.02:
		trend += 15
	case s.Return5D > 0:
		trend += 8
	}

	ma := 0.0
	switch {
	case s.MA20Offset > 0 && s.MA200Offset < 0:
		ma = 20
	case s.MA20Offset > 0:
		ma = 8
	}

	breadth := 0.0
	switch {
	case s.AdvanceDeclineRatio >= 1.2:
		breadth = 15
	case s.AdvanceDeclineRatio >= 1.0:
		breadth = 8
	}

	sentiment := 0.0
	if s.FearGreed >= 30 && s.FearGreed <= 55 {
		sentiment = 15
	}

	return map[string]float64{
		"trend":     trend,
		"ma":        ma,
		"breadth":   breadth,
		"sentiment": sentiment,
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
