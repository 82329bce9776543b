package compute

import (
	"eisenbahn/internal/graph"
	"eisenbahn/internal/knowledge"
)

// WarmPathInput bundles the external inputs the warm path needs beyond
// the knowledge state itself.
type WarmPathInput struct {
	Graph          *graph.Graph
	DBSCANNoise    map[string]struct{} // member keys classified as noise
	TrendBaselines map[string]float64  // metric name -> baseline mean
}

// RunWarmPath recomputes PageRank, communities and degrees (when a graph
// is given), the combined anomaly scores, and the trend of every metric
// named in TrendBaselines, and writes them into the knowledge state in
// place. It does not compute PMI or PrefixSpan patterns: State.Patterns
// is left as it is, and Cooccurrence stays as the hot path maintains it.
// Callers must hold the state's write lock.
func RunWarmPath(state *knowledge.State, in WarmPathInput) {
	if in.Graph != nil {
		state.PageRank = PageRank(in.Graph)
		state.Communities = CommunityDetection(in.Graph)
		state.Degrees = DegreeTable(in.Graph)
	}

	recomputeAnomalies(state, in)

	for metric, baseline := range in.TrendBaselines {
		current := currentMetricValue(state, metric)
		state.Trends[metric] = DetectTrend(metric, current, baseline)
	}
}

func recomputeAnomalies(state *knowledge.State, in WarmPathInput) {
	if len(state.MemberFeatures) == 0 {
		return
	}

	vectors := make([][knowledge.FeatureDimension]float64, 0, len(state.MemberFeatures))
	keys := make([]string, 0, len(state.MemberFeatures))
	for key, f := range state.MemberFeatures {
		vectors = append(vectors, f.Vector())
		keys = append(keys, key)
	}
	popMeans, popStddevs := PopulationStats(vectors)

	var avgNeighborCount float64
	if in.Graph != nil {
		nodes := in.Graph.Nodes()
		if len(nodes) > 0 {
			var total int
			for _, n := range nodes {
				total += len(in.Graph.Neighbors(n.ID))
			}
			avgNeighborCount = float64(total) / float64(len(nodes))
		}
	}

	newAnomalies := make(map[string]knowledge.AnomalyScore, len(keys))
	for i, key := range keys {
		vec := vectors[i]
		statistical := StatisticalSignal(vec, popMeans, popStddevs)
		dbscanNoise := DBSCANNoiseSignal(key, in.DBSCANNoise, len(keys))

		clusterIdx, assigned := state.Clusters.Assignments[key]
		var behavioral float64
		if assigned && clusterIdx < len(state.Clusters.Centroids) {
			behavioral = BehavioralSignal(vec, state.Clusters.Centroids[clusterIdx])
		}

		var graphScore float64
		if in.Graph != nil {
			memberID := graph.DeriveNodeID(graph.Member, key)
			neighborCount := len(in.Graph.Neighbors(memberID))
			communityCount := NeighborCommunityCount(in.Graph, memberID, state.Communities)
			graphScore = GraphSignal(neighborCount, avgNeighborCount, communityCount)
		}

		score, class := CombineAnomalySignals(statistical, dbscanNoise, behavioral, graphScore)
		newAnomalies[key] = knowledge.AnomalyScore{
			MemberKey: key,
			Score:     score,
			Class:     class,
			Signals: map[string]float64{
				"statistical":  statistical,
				"dbscan_noise": dbscanNoise,
				"behavioral":   behavioral,
				"graph":        graphScore,
			},
		}
	}
	state.Anomalies = newAnomalies
}

func currentMetricValue(state *knowledge.State, metric string) float64 {
	switch metric {
	case "login_count":
		var total float64
		for _, f := range state.MemberFeatures {
			total += float64(f.LoginCount)
		}
		return total
	case "error_count":
		var total float64
		for _, f := range state.MemberFeatures {
			total += float64(f.ErrorCount)
		}
		return total
	default:
		return 0
	}
}
