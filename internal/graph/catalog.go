package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"eisenbahn/internal/segment"
)

// NodeSummary is a partial catalog's contribution for one node.
type NodeSummary struct {
	ID        NodeID
	Type      EntityType
	Key       string
	FirstSeen time.Time
	LastSeen  time.Time
}

// EdgeSummary is a partial catalog's contribution for one edge.
type EdgeSummary struct {
	Source NodeID
	Target NodeID
	Type   string
	Weight float64
	Count  int64
}

// PartialCatalog is derived from a single segment's contribution to the
// graph (§4.4). It is serialized to
// <data_dir>/catalog/<segment_id>.partial.json.
type PartialCatalog struct {
	SegmentID  segment.ID
	Nodes      []NodeSummary
	Edges      []EdgeSummary
	TypeCounts map[string]int64
}

// ExternalTable is one discovered table within an external SQL source.
type ExternalTable struct {
	Name    string
	Columns []string
}

// ExternalDatabase is one discovered database within an external source.
type ExternalDatabase struct {
	Name   string
	Tables []ExternalTable
}

// ExternalSource models an abstract SQL catalog backend (e.g. athena,
// postgres) as a nested databases -> tables -> columns tree (§4.4, §6).
type ExternalSource struct {
	Kind         string
	ConnectionID string
	Databases    []ExternalDatabase
}

// MergedCatalog is the union of every partial catalog plus external-source
// entries and aggregate totals.
type MergedCatalog struct {
	Nodes           []NodeSummary
	Edges           []EdgeSummary
	TypeCounts      map[string]int64
	ExternalSources []ExternalSource
}

// Manifest records which segment partials compose a merged catalog and a
// content hash so two runs over the same inputs are verifiably identical
// (§8.6).
type Manifest struct {
	SegmentIDs  []segment.ID
	ContentHash string
	BuiltAt     time.Time
}

// Merge reduces a set of partial catalogs into a MergedCatalog and its
// Manifest. The result (up to key order, which Merge normalizes by
// sorting) is independent of the input ordering, satisfying the catalog
// merge determinism invariant (§8.6).
func Merge(partials []*PartialCatalog, externalSources []ExternalSource, now time.Time) (*MergedCatalog, *Manifest) {
	nodeAgg := make(map[NodeID]*NodeSummary)
	edgeAgg := make(map[EdgeKey]*EdgeSummary)
	typeCounts := make(map[string]int64)
	segmentIDs := make([]segment.ID, 0, len(partials))

	for _, p := range partials {
		segmentIDs = append(segmentIDs, p.SegmentID)
		for _, n := range p.Nodes {
			existing, ok := nodeAgg[n.ID]
			if !ok {
				cp := n
				nodeAgg[n.ID] = &cp
				continue
			}
			if n.FirstSeen.Before(existing.FirstSeen) {
				existing.FirstSeen = n.FirstSeen
			}
			if n.LastSeen.After(existing.LastSeen) {
				existing.LastSeen = n.LastSeen
			}
		}
		for _, e := range p.Edges {
			key := EdgeKey{Source: e.Source, Target: e.Target, Type: e.Type}
			existing, ok := edgeAgg[key]
			if !ok {
				cp := e
				edgeAgg[key] = &cp
				continue
			}
			if e.Count > existing.Count {
				existing.Count = e.Count
				existing.Weight = e.Weight
			}
		}
	}

	for _, n := range nodeAgg {
		typeCounts[string(n.Type)]++
	}

	nodes := make([]NodeSummary, 0, len(nodeAgg))
	for _, n := range nodeAgg {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.String() < nodes[j].ID.String() })

	edges := make([]EdgeSummary, 0, len(edgeAgg))
	for _, e := range edgeAgg {
		edges = append(edges, *e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source.String() < edges[j].Source.String()
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target.String() < edges[j].Target.String()
		}
		return edges[i].Type < edges[j].Type
	})

	sort.Slice(segmentIDs, func(i, j int) bool { return segmentIDs[i] < segmentIDs[j] })

	merged := &MergedCatalog{Nodes: nodes, Edges: edges, TypeCounts: typeCounts, ExternalSources: externalSources}

	type typeCountPair struct {
		Type  string
		Count int64
	}
	typeCountPairs := make([]typeCountPair, 0, len(typeCounts))
	for t, c := range typeCounts {
		typeCountPairs = append(typeCountPairs, typeCountPair{t, c})
	}
	sort.Slice(typeCountPairs, func(i, j int) bool { return typeCountPairs[i].Type < typeCountPairs[j].Type })

	hashable := struct {
		Nodes      []NodeSummary
		Edges      []EdgeSummary
		TypeCounts []typeCountPair
	}{nodes, edges, typeCountPairs}
	hashBytes, _ := msgpack.Marshal(hashable)
	sum := sha256.Sum256(hashBytes)

	manifest := &Manifest{
		SegmentIDs:  segmentIDs,
		ContentHash: hex.EncodeToString(sum[:]),
		BuiltAt:     now,
	}
	return merged, manifest
}
