package compute

import "eisenbahn/internal/knowledge"

// RecomputePMI returns the pointwise mutual information for every pair
// with a recorded joint count and positive marginals, keyed by
// "<source>|<target>" node-id strings. Each call derives the values
// afresh from the cumulative joint/marginal counts; RunWarmPath does not
// call it.
func RecomputePMI(stats *knowledge.CooccurrenceStats) map[string]float64 {
	out := make(map[string]float64, len(stats.Joint))
	for key := range stats.Joint {
		if stats.Marginals[key.Source] <= 0 || stats.Marginals[key.Target] <= 0 {
			continue
		}
		out[key.Source.String()+"|"+key.Target.String()] = stats.PMI(key)
	}
	return out
}
