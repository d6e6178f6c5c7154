package enrich

import (
	"context"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
)

// HeuristicScorer is the built-in Predictor used when no external scoring
// service is wired. It derives coarse signals from the window summary alone,
// deterministically, so replayed windows enrich identically.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

func (s *HeuristicScorer) Predict(_ context.Context, result *stats.Result) (map[string]interface{}, error) {
	minV, _ := result.Summary.Min.Float64()
	maxV, _ := result.Summary.Max.Float64()
	avg, _ := result.Summary.Avg.Float64()

	spread := maxV - minV
	delta := spread
	if avg < (minV+maxV)/2 {
		delta = -spread // mass of the window sits low: trending down
	}

	// Volatility relative to the window's own scale, clamped to [0, 1].
	risk := 0.0
	if maxV != 0 {
		risk = spread / maxV
		if risk < 0 {
			risk = -risk
		}
		if risk > 1 {
			risk = 1
		}
	}

	trend := 0.0
	if avg != 0 {
		trend = delta / avg
	}

	return map[string]interface{}{
		"risk_score":  risk,
		"risk_trend":  trend,
		"score_delta": delta,
		"model":       "heuristic-v1",
	}, nil
}
