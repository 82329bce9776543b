package segment

import (
	"testing"
	"time"

	"eisenbahn/internal/document"
)

func mustDoc(t *testing.T, eventType string, ts time.Time, fields document.Fields) document.Document {
	t.Helper()
	return document.New(eventType, ts, fields)
}

// S1 — Segment lifecycle.
func TestSegmentLifecycle(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	id := ID("2025-06-14")
	w, err := mgr.GetOrCreateWriter(id)
	if err != nil {
		t.Fatalf("GetOrCreateWriter: %v", err)
	}

	ts := time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)
	docs := []document.Document{
		mustDoc(t, "login", ts, document.Fields{"memberCode": document.NewText("M001")}),
		mustDoc(t, "wager", ts.Add(time.Minute), document.Fields{"amount": document.NewFloat(10.5)}),
		mustDoc(t, "logout", ts.Add(2*time.Minute), document.Fields{}),
	}
	var offsets []uint64
	for _, d := range docs {
		off, err := w.Append(d)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		offsets = append(offsets, off)
	}

	if _, err := mgr.SealSegment(id); err != nil {
		t.Fatalf("SealSegment: %v", err)
	}

	reader, ok := mgr.Reader(id)
	if !ok {
		t.Fatalf("expected sealed reader for %s", id)
	}

	cur := reader.Iter()
	var got []document.Document
	for cur.Next() {
		d, err := cur.Document()
		if err != nil {
			t.Fatalf("Document: %v", err)
		}
		got = append(got, d)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(got))
	}
	for i := range docs {
		if got[i].ID != docs[i].ID {
			t.Fatalf("document %d out of order: want %s got %s", i, docs[i].ID, got[i].ID)
		}
	}

	second, err := reader.ReadAt(offsets[1])
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if second.ID != docs[1].ID {
		t.Fatalf("ReadAt returned wrong document: want %s got %s", docs[1].ID, second.ID)
	}

	evicted := mgr.EvictExpired(time.Date(2025, 6, 25, 0, 0, 0, 0, time.UTC), 5)
	if len(evicted) != 1 || evicted[0] != id {
		t.Fatalf("expected eviction of %s, got %v", id, evicted)
	}
	if _, ok := mgr.Reader(id); ok {
		t.Fatalf("expected segment to be gone from manager after eviction")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	doc := document.New("login", time.Now(), document.Fields{
		"memberCode": document.NewText("M001"),
		"attempts":   document.NewInt(3),
	})
	buf, err := EncodeRecord(doc)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	got, err := DecodeRecord(buf)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if got.ID != doc.ID || got.EventType != doc.EventType {
		t.Fatalf("round trip mismatch: %+v != %+v", got, doc)
	}
	if got.Fields["memberCode"].Text != "M001" {
		t.Fatalf("field mismatch: %+v", got.Fields)
	}
}

func TestWriterRejectsSealedReopen(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	id := ID("2025-06-15")
	if _, err := mgr.GetOrCreateWriter(id); err != nil {
		t.Fatalf("GetOrCreateWriter: %v", err)
	}
	if _, err := mgr.SealSegment(id); err != nil {
		t.Fatalf("SealSegment: %v", err)
	}
	if _, err := mgr.GetOrCreateWriter(id); err == nil {
		t.Fatalf("expected error creating writer over a sealed segment")
	}
}

func TestSegmentsInRange(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, day := range []string{"2025-06-10", "2025-06-14", "2025-06-20"} {
		id := ID(day)
		if _, err := mgr.GetOrCreateWriter(id); err != nil {
			t.Fatalf("GetOrCreateWriter: %v", err)
		}
		if _, err := mgr.SealSegment(id); err != nil {
			t.Fatalf("SealSegment: %v", err)
		}
	}
	start := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)
	got := mgr.SegmentsInRange(start, end)
	if len(got) != 1 || got[0] != ID("2025-06-14") {
		t.Fatalf("expected only 2025-06-14 in range, got %v", got)
	}
}
