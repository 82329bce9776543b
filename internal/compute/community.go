package compute

import "eisenbahn/internal/graph"

// CommunityDetection runs a greedy Louvain-style label
// propagation over the entity graph: every node starts in its own
// community, then repeatedly adopts the majority community among its
// neighbors (ties broken by the lowest community id) until no node
// changes or a bounded number of passes is reached. This is a
// simplified, single-level variant of full multi-level Louvain,
// sufficient for the "node -> community-id mapping" result the warm
// path requires (§4.6).
func CommunityDetection(g *graph.Graph) map[graph.NodeID]int {
	nodes := g.Nodes()
	n := len(nodes)
	if n == 0 {
		return map[graph.NodeID]int{}
	}

	index := make(map[graph.NodeID]int, n)
	community := make([]int, n)
	for i, node := range nodes {
		index[node.ID] = i
		community[i] = i
	}

	neighbors := make([][]int, n)
	for i, node := range nodes {
		for _, nb := range g.Neighbors(node.ID) {
			if j, ok := index[nb]; ok {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	const maxPasses = 20
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for i := 0; i < n; i++ {
			if len(neighbors[i]) == 0 {
				continue
			}
			counts := make(map[int]int)
			for _, j := range neighbors[i] {
				counts[community[j]]++
			}
			best := community[i]
			bestCount := -1
			for c, count := range counts {
				if count > bestCount || (count == bestCount && c < best) {
					best = c
					bestCount = count
				}
			}
			if best != community[i] {
				community[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	out := make(map[graph.NodeID]int, n)
	for i, node := range nodes {
		out[node.ID] = community[i]
	}
	return out
}

// NeighborCommunityCount returns how many distinct communities a node's
// neighbors span, used by the graph anomaly signal (§4.6).
func NeighborCommunityCount(g *graph.Graph, id graph.NodeID, communities map[graph.NodeID]int) int {
	seen := make(map[int]struct{})
	for _, nb := range g.Neighbors(id) {
		if c, ok := communities[nb]; ok {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}
