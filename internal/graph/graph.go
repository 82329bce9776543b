// Package graph implements the entity-relationship graph and its
// per-segment partial / merged catalog reduction (C8).
package graph

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"

	"eisenbahn/internal/segment"
)

// EntityType is drawn from the closed set of node types the platform
// recognizes (§3).
type EntityType string

const (
	Member    EntityType = "Member"
	Device    EntityType = "Device"
	Game      EntityType = "Game"
	Affiliate EntityType = "Affiliate"
	Currency  EntityType = "Currency"
	VipGroup  EntityType = "VipGroup"
	Error     EntityType = "Error"
	Platform  EntityType = "Platform"
	Popup     EntityType = "Popup"
	Provider  EntityType = "Provider"
)

// namespaceEntity is a fixed UUID namespace used to derive deterministic
// node ids from (entity_type, key) pairs, so repeated extraction of the
// same document never mints a second node for the same entity (§8.5).
var namespaceEntity = uuid.MustParse("6e746974-7900-4e6f-8445-6e746974794e")

// NodeID is a stable 128-bit node identifier.
type NodeID uuid.UUID

func (id NodeID) String() string { return uuid.UUID(id).String() }

// DeriveNodeID computes the deterministic node id for an (entity type, key)
// pair. Two calls with the same inputs always produce the same id.
func DeriveNodeID(entityType EntityType, key string) NodeID {
	name := string(entityType) + "\x00" + key
	return NodeID(uuid.NewSHA1(namespaceEntity, []byte(name)))
}

// Node is one entity in the graph.
type Node struct {
	ID        NodeID
	Type      EntityType
	Key       string
	FirstSeen time.Time
	LastSeen  time.Time
	Segments  map[segment.ID]struct{}
}

// EdgeKey canonically identifies a directed edge. Co-occurrence edges are
// canonicalized so an unordered pair always produces the same key
// regardless of which entity was observed first in the document (§8.5).
type EdgeKey struct {
	Source NodeID
	Target NodeID
	Type   string
}

// Edge is a directed, weighted, counted relationship between two nodes.
type Edge struct {
	Source NodeID
	Target NodeID
	Type   string
	Weight float64
	Count  int64
}

func canonicalPair(a, b NodeID) (NodeID, NodeID) {
	au, bu := uuid.UUID(a), uuid.UUID(b)
	if bytes.Compare(au[:], bu[:]) <= 0 {
		return a, b
	}
	return b, a
}

// Graph is the in-memory node/edge store. A single-writer/many-reader
// lock guards both tables, per §5's shared-resource policy.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[NodeID]*Node
	edges     map[EdgeKey]*Edge
	typeCount map[EntityType]int64
}

func New() *Graph {
	return &Graph{
		nodes:     make(map[NodeID]*Node),
		edges:     make(map[EdgeKey]*Edge),
		typeCount: make(map[EntityType]int64),
	}
}

// upsertNode returns the existing node for (type,key) or creates one.
// Must be called with mu held for writing.
func (g *Graph) upsertNode(entityType EntityType, key string, seen time.Time, seg segment.ID) *Node {
	id := DeriveNodeID(entityType, key)
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{
			ID:        id,
			Type:      entityType,
			Key:       key,
			FirstSeen: seen,
			LastSeen:  seen,
			Segments:  map[segment.ID]struct{}{},
		}
		g.nodes[id] = n
		g.typeCount[entityType]++
	}
	if seen.Before(n.FirstSeen) {
		n.FirstSeen = seen
	}
	if seen.After(n.LastSeen) {
		n.LastSeen = seen
	}
	if seg != "" {
		n.Segments[seg] = struct{}{}
	}
	return n
}

// addEdge increments the count/weight for a co-occurrence edge between two
// nodes, canonicalizing direction. Must be called with mu held.
func (g *Graph) addEdge(edgeType string, a, b NodeID) {
	src, dst := canonicalPair(a, b)
	key := EdgeKey{Source: src, Target: dst, Type: edgeType}
	e, ok := g.edges[key]
	if !ok {
		e = &Edge{Source: src, Target: dst, Type: edgeType}
		g.edges[key] = e
	}
	e.Count++
	e.Weight = float64(e.Count)
}

// NodeCount returns the number of nodes, optionally filtered by type.
func (g *Graph) NodeCount(entityType EntityType) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if entityType == "" {
		return int64(len(g.nodes))
	}
	return g.typeCount[entityType]
}

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Node looks up a node by id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns a snapshot slice of every node.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	return out
}

// Edges returns a snapshot slice of every edge.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	return out
}

// Neighbors returns the set of node ids connected to id by any edge.
func (g *Graph) Neighbors(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []NodeID
	for k := range g.edges {
		switch id {
		case k.Source:
			out = append(out, k.Target)
		case k.Target:
			out = append(out, k.Source)
		}
	}
	return out
}
