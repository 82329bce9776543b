package compute

import (
	"math"

	"eisenbahn/internal/knowledge"
)

// AssignStreamingKMeans assigns a member's feature vector to its nearest
// centroid and folds the vector into that centroid with a running-mean
// (Welford-style) update, per §4.5: "Centroids are updated with a running
// mean weighted by assignment count." Cluster count is fixed; centroids
// start at the zero vector and drift toward observed data as points
// arrive, so the first few assignments are somewhat arbitrary until the
// centroids separate — this matches the "streaming" (as opposed to
// batch Lloyd's) character the spec calls for.
func AssignStreamingKMeans(state *knowledge.ClusterState, memberKey string, vec [knowledge.FeatureDimension]float64) int {
	if len(state.Centroids) == 0 {
		return -1
	}

	nearest := nearestCentroid(vec, state.Centroids)

	centroid := &state.Centroids[nearest]
	state.Counts[nearest]++
	n := float64(state.Counts[nearest])
	for d := 0; d < knowledge.FeatureDimension; d++ {
		centroid[d] += (vec[d] - centroid[d]) / n
	}

	state.Assignments[memberKey] = nearest
	return nearest
}

func nearestCentroid(vec [knowledge.FeatureDimension]float64, centroids [][knowledge.FeatureDimension]float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, c := range centroids {
		dist := squaredEuclidean(vec, c)
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best
}

func squaredEuclidean(a, b [knowledge.FeatureDimension]float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
