package graph

import (
	"eisenbahn/internal/document"
	"eisenbahn/internal/segment"
)

// DefaultFieldMap names which document fields map to which entity type.
// It covers the fields named in §4.4.
func DefaultFieldMap() map[string]EntityType {
	return map[string]EntityType{
		"memberCode":    Member,
		"deviceId":      Device,
		"gameName":      Game,
		"affiliateCode": Affiliate,
		"currency":      Currency,
		"vipGroup":      VipGroup,
		"errorCode":     Error,
		"platform":      Platform,
		"popupId":       Popup,
		"providerName":  Provider,
	}
}

// ExtractDocument maps a document's configured fields to graph nodes and
// materializes an edge for every unordered pair of entities present in the
// document. Extraction is idempotent: processing the same document twice
// leaves the node set and edge multiplicities unchanged, because node ids
// are derived deterministically from (type, key) and edges are recorded in
// a canonical direction (§8.5).
func (g *Graph) ExtractDocument(doc document.Document, fieldMap map[string]EntityType, seg segment.ID) {
	type entity struct {
		Type EntityType
		Key  string
	}
	var present []entity

	g.mu.Lock()
	defer g.mu.Unlock()

	for field, entityType := range fieldMap {
		v, ok := doc.Fields[field]
		if !ok {
			continue
		}
		key := v.AsString()
		if key == "" {
			continue
		}
		g.upsertNode(entityType, key, doc.Timestamp, seg)
		present = append(present, entity{Type: entityType, Key: key})
	}

	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			a := DeriveNodeID(present[i].Type, present[i].Key)
			b := DeriveNodeID(present[j].Type, present[j].Key)
			g.addEdge("cooccurs", a, b)
		}
	}
}

// ExtractSegment runs ExtractDocument over every document in a sealed
// segment reader and returns the resulting partial catalog (§4.4).
func (g *Graph) ExtractSegment(r *segment.Reader, fieldMap map[string]EntityType) (*PartialCatalog, error) {
	seen := make(map[NodeID]struct{})
	edgesSeen := make(map[EdgeKey]struct{})

	cur := r.Iter()
	for cur.Next() {
		d, err := cur.Document()
		if err != nil {
			return nil, err
		}
		g.ExtractDocument(d, fieldMap, r.ID())
	}

	// Re-derive which nodes/edges this segment touched for the partial.
	g.mu.RLock()
	defer g.mu.RUnlock()
	var nodes []NodeSummary
	for id, n := range g.nodes {
		if _, ok := n.Segments[r.ID()]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		nodes = append(nodes, NodeSummary{ID: id, Type: n.Type, Key: n.Key, FirstSeen: n.FirstSeen, LastSeen: n.LastSeen})
	}

	var edges []EdgeSummary
	for key, e := range g.edges {
		_, srcIn := g.nodes[key.Source].Segments[r.ID()]
		_, dstIn := g.nodes[key.Target].Segments[r.ID()]
		if !srcIn && !dstIn {
			continue
		}
		if _, dup := edgesSeen[key]; dup {
			continue
		}
		edgesSeen[key] = struct{}{}
		edges = append(edges, EdgeSummary{Source: e.Source, Target: e.Target, Type: e.Type, Weight: e.Weight, Count: e.Count})
	}

	typeCounts := make(map[string]int64)
	for _, n := range nodes {
		typeCounts[string(n.Type)]++
	}

	return &PartialCatalog{
		SegmentID:  r.ID(),
		Nodes:      nodes,
		Edges:      edges,
		TypeCounts: typeCounts,
	}, nil
}
