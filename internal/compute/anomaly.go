package compute

import (
	"math"

	"eisenbahn/internal/knowledge"
)

// Fixed detector weights (§4.6). The classification thresholds live in
// knowledge.ClassifyAnomalyScore.
const (
	weightStatistical = 0.2
	weightDBSCANNoise  = 0.3
	weightBehavioral   = 0.3
	weightGraph        = 0.2
)

// StatisticalSignal computes the population z-score outlier signal: the
// maximum absolute per-dimension z-score, scaled by 1/5 and clamped to
// [0, 1]. Grounded on
// original_source/crates/compute/src/pipeline/anomaly.rs's
// `statistical_outlier_score`.
func StatisticalSignal(features [knowledge.FeatureDimension]float64, popMeans, popStddevs [knowledge.FeatureDimension]float64) float64 {
	maxZ := 0.0
	for i := 0; i < knowledge.FeatureDimension; i++ {
		std := popStddevs[i]
		if std <= epsilon {
			continue
		}
		z := math.Abs((features[i] - popMeans[i]) / std)
		if z > maxZ {
			maxZ = z
		}
	}
	return math.Min(maxZ/5.0, 1.0)
}

const epsilon = 1e-9

// DBSCANNoiseSignal is the ratio of a member's points classified as noise
// by a DBSCAN pass over the feature space. Members not present in either
// set score 0.
func DBSCANNoiseSignal(memberKey string, noise map[string]struct{}, total int) float64 {
	if total == 0 {
		return 0
	}
	if _, ok := noise[memberKey]; ok {
		return 1.0
	}
	return 0
}

// BehavioralSignal is 1 minus the cosine similarity between a member's
// recent feature vector and a baseline (the cluster centroid, in the
// absence of a temporal baseline per §4.6).
func BehavioralSignal(recent, baseline [knowledge.FeatureDimension]float64) float64 {
	sim := cosineSimilarity(recent, baseline)
	v := 1 - sim
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cosineSimilarity(a, b [knowledge.FeatureDimension]float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom <= epsilon {
		return 0
	}
	sim := dot / denom
	if sim < -1 {
		return -1
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// GraphSignal scores structural anomalies: +0.5 when a member's neighbor
// count exceeds 3x the population average, +0.3 when it spans more than
// 3 distinct neighbor communities, capped at 1 (§4.6).
func GraphSignal(neighborCount int, avgNeighborCount float64, neighborCommunityCount int) float64 {
	var score float64
	if avgNeighborCount > 0 && float64(neighborCount) > avgNeighborCount*3 {
		score += 0.5
	}
	if neighborCommunityCount > 3 {
		score += 0.3
	}
	if score > 1 {
		return 1
	}
	return score
}

// CombineAnomalySignals applies the fixed 0.2/0.3/0.3/0.2 weighting and
// clamps to [0, 1], then classifies the result (§4.6).
func CombineAnomalySignals(statistical, dbscanNoise, behavioral, graphSignal float64) (float64, knowledge.AnomalyClass) {
	score := statistical*weightStatistical +
		dbscanNoise*weightDBSCANNoise +
		behavioral*weightBehavioral +
		graphSignal*weightGraph
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, knowledge.ClassifyAnomalyScore(score)
}

// PopulationStats computes per-dimension mean and standard deviation
// across a set of feature vectors.
func PopulationStats(vectors [][knowledge.FeatureDimension]float64) (means, stddevs [knowledge.FeatureDimension]float64) {
	n := float64(len(vectors))
	if n == 0 {
		return means, stddevs
	}
	for _, v := range vectors {
		for i := 0; i < knowledge.FeatureDimension; i++ {
			means[i] += v[i]
		}
	}
	for i := range means {
		means[i] /= n
	}
	var variance [knowledge.FeatureDimension]float64
	for _, v := range vectors {
		for i := 0; i < knowledge.FeatureDimension; i++ {
			d := v[i] - means[i]
			variance[i] += d * d
		}
	}
	for i := range variance {
		stddevs[i] = math.Max(math.Sqrt(variance[i]/n), epsilon)
	}
	return means, stddevs
}
