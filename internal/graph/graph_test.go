package graph

import (
	"context"
	"testing"
	"time"

	"eisenbahn/internal/document"
	"eisenbahn/internal/segment"
)

// S2 — Graph extraction.
func TestExtractDocumentProducesExpectedNodesAndEdges(t *testing.T) {
	g := New()
	fieldMap := DefaultFieldMap()

	doc := document.New("session", time.Now(), document.Fields{
		"memberCode": document.NewText("M001"),
		"deviceId":   document.NewText("D001"),
		"gameName":   document.NewText("slots"),
	})

	g.ExtractDocument(doc, fieldMap, segment.ID("2025-06-14"))
	if g.NodeCount("") != 3 {
		t.Fatalf("expected 3 nodes, got %d", g.NodeCount(""))
	}
	if g.EdgeCount() != 3 {
		t.Fatalf("expected 3 edges (one per unordered pair), got %d", g.EdgeCount())
	}

	// Idempotence: extracting the same document again must not change
	// node count or edge multiplicities beyond the recorded count field.
	g.ExtractDocument(doc, fieldMap, segment.ID("2025-06-14"))
	if g.NodeCount("") != 3 {
		t.Fatalf("expected node count to stay 3 after re-extraction, got %d", g.NodeCount(""))
	}
	if g.EdgeCount() != 3 {
		t.Fatalf("expected edge count to stay 3 after re-extraction, got %d", g.EdgeCount())
	}
}

func TestCatalogMergeDeterminism(t *testing.T) {
	seg1ID := segment.ID("2025-06-14")
	seg2ID := segment.ID("2025-06-15")

	nodeA := NodeSummary{ID: DeriveNodeID(Member, "M001"), Type: Member, Key: "M001", FirstSeen: time.Now(), LastSeen: time.Now()}
	nodeB := NodeSummary{ID: DeriveNodeID(Device, "D001"), Type: Device, Key: "D001", FirstSeen: time.Now(), LastSeen: time.Now()}
	edge := EdgeSummary{Source: nodeA.ID, Target: nodeB.ID, Type: "cooccurs", Count: 2, Weight: 2}

	p1 := &PartialCatalog{SegmentID: seg1ID, Nodes: []NodeSummary{nodeA}, Edges: []EdgeSummary{edge}, TypeCounts: map[string]int64{"Member": 1}}
	p2 := &PartialCatalog{SegmentID: seg2ID, Nodes: []NodeSummary{nodeB}, Edges: nil, TypeCounts: map[string]int64{"Device": 1}}

	_, manifestA := Merge([]*PartialCatalog{p1, p2}, nil, time.Unix(0, 0))
	_, manifestB := Merge([]*PartialCatalog{p2, p1}, nil, time.Unix(0, 0))

	if manifestA.ContentHash != manifestB.ContentHash {
		t.Fatalf("expected identical content hash regardless of partial order: %s != %s", manifestA.ContentHash, manifestB.ContentHash)
	}
}

type fakeSQLBackend struct {
	dbs     []string
	tables  map[string][]string
	columns map[string][]string
}

func (f *fakeSQLBackend) Kind() string         { return "fake" }
func (f *fakeSQLBackend) ConnectionID() string { return "conn-1" }
func (f *fakeSQLBackend) ListDatabases(ctx context.Context) ([]string, error) { return f.dbs, nil }
func (f *fakeSQLBackend) ListTables(ctx context.Context, db string) ([]string, error) {
	return f.tables[db], nil
}
func (f *fakeSQLBackend) ListColumns(ctx context.Context, db, table string) ([]string, error) {
	return f.columns[db+"."+table], nil
}

func TestDiscoverSource(t *testing.T) {
	backend := &fakeSQLBackend{
		dbs:     []string{"analytics"},
		tables:  map[string][]string{"analytics": {"events"}},
		columns: map[string][]string{"analytics.events": {"id", "ts"}},
	}
	src, err := DiscoverSource(context.Background(), backend, 2, nil)
	if err != nil {
		t.Fatalf("DiscoverSource: %v", err)
	}
	if len(src.Databases) != 1 || len(src.Databases[0].Tables) != 1 || len(src.Databases[0].Tables[0].Columns) != 2 {
		t.Fatalf("unexpected discovery shape: %+v", src)
	}
}
