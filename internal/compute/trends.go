package compute

import "eisenbahn/internal/knowledge"

const trendFlatEpsilon = 0.02

// DetectTrend compares a metric's current value against a baseline mean
// and classifies its direction and magnitude (§4.6). A relative change
// within trendFlatEpsilon of the baseline is considered Flat.
func DetectTrend(metric string, current, baselineMean float64) knowledge.Trend {
	magnitude := current - baselineMean
	direction := knowledge.TrendFlat

	threshold := trendFlatEpsilon * absFloat(baselineMean)
	if threshold == 0 {
		threshold = trendFlatEpsilon
	}
	switch {
	case magnitude > threshold:
		direction = knowledge.TrendUp
	case magnitude < -threshold:
		direction = knowledge.TrendDown
	}

	return knowledge.Trend{
		Metric:       metric,
		Current:      current,
		BaselineMean: baselineMean,
		Direction:    direction,
		Magnitude:    absFloat(magnitude),
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
