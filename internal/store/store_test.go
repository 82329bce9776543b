package store

import (
	"testing"
	"time"

	"eisenbahn/internal/document"
)

func TestInsertScanFlush(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, ModeRealtime, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ts := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	doc := document.New("login", ts, document.Fields{"memberCode": document.NewText("M001")})
	addr, err := s.Insert(doc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if !s.Schema().Representable(doc) {
		t.Fatalf("expected schema to represent inserted document")
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := s.Get(addr)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != doc.ID {
		t.Fatalf("Get mismatch: %s != %s", got.ID, doc.ID)
	}

	found, ok, err := s.GetByID(doc.ID)
	if err != nil || !ok {
		t.Fatalf("GetByID: found=%v err=%v", ok, err)
	}
	if found.ID != doc.ID {
		t.Fatalf("GetByID mismatch")
	}

	results, err := s.Scan(document.Filter{EventType: "login"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 scan result, got %d", len(results))
	}
}
