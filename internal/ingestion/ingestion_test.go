package ingestion

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eisenbahn/internal/document"
	"eisenbahn/internal/segment"
)

type memorySink struct {
	docs []document.Document
}

func (s *memorySink) Put(doc document.Document) (int64, error) {
	s.docs = append(s.docs, doc)
	return int64(len(s.docs)), nil
}

func TestCSVImporterProducesOneDocPerRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv")
	if err := os.WriteFile(path, []byte("name,score\nalice,10\nbob,20\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	sink := &memorySink{}
	importer := csvImporter{}
	cfg := SourceConfig{Kind: SourceCSVFile, Path: path, EventType: "score_event"}
	if err := importer.Import(context.Background(), cfg, sink); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(sink.docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(sink.docs))
	}
	if sink.docs[0].Fields["name"].AsString() != "alice" {
		t.Fatalf("unexpected field: %+v", sink.docs[0].Fields)
	}
	if sink.docs[0].EventType != "score_event" {
		t.Fatalf("unexpected event type: %s", sink.docs[0].EventType)
	}
}

func TestJSONImporterProducesOneDocPerLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")
	body := `{"member_key":"m1","login_count":3}` + "\n" + `{"member_key":"m2","login_count":5}` + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}

	sink := &memorySink{}
	importer := jsonImporter{}
	cfg := SourceConfig{Kind: SourceJSONFile, Path: path}
	if err := importer.Import(context.Background(), cfg, sink); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(sink.docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(sink.docs))
	}
	v, _ := sink.docs[0].Fields["login_count"].AsNumber()
	if v != 3 {
		t.Fatalf("unexpected login_count: %v", v)
	}
}

func TestUnsupportedImporterReturnsError(t *testing.T) {
	importer, err := DispatchImporter(SourceParquetFile)
	if err != nil {
		t.Fatalf("DispatchImporter: %v", err)
	}
	err = importer.Import(context.Background(), SourceConfig{Kind: SourceParquetFile}, &memorySink{})
	if err == nil {
		t.Fatal("expected unsupported-source error")
	}
}

func TestImportDirectoryGroupsByEventTypeAndWeek(t *testing.T) {
	dir := t.TempDir()
	writeJSONLines(t, filepath.Join(dir, "a.json"), []string{`{"x":1}`})
	writeJSONLines(t, filepath.Join(dir, "b.json"), []string{`{"x":2}`, `{"x":3}`})

	segDir := t.TempDir()
	manager, err := segment.NewManager(segDir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	sink := NewManagerSegmentSink(manager)
	cfg := SourceConfig{Kind: SourceDirectoryScan, Path: dir, EventType: "bulk_event"}

	count, err := ImportDirectory(context.Background(), cfg, sink, 4, nil)
	if err != nil {
		t.Fatalf("ImportDirectory: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 docs imported, got %d", count)
	}
	if len(sink.SealedSegments()) != 1 {
		t.Fatalf("expected all files in one (event_type, week) group, got %v", sink.SealedSegments())
	}
}

func TestOrchestratorRunJobPublishesLifecycleEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.csv")
	if err := os.WriteFile(path, []byte("name\nalice\nbob\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	jobDir := t.TempDir()
	jobLog, err := NewJobLog(jobDir)
	if err != nil {
		t.Fatalf("NewJobLog: %v", err)
	}
	registry := NewRegistry()
	now := func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	orch := New(registry, jobLog, nil, now, nil)

	sink := &memorySink{}
	cfg := SourceConfig{Kind: SourceCSVFile, Path: path, EventType: "test_event"}
	job, err := orch.RunJob(context.Background(), cfg, TriggerManual, sink)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", job.Status)
	}

	body, err := os.ReadFile(filepath.Join(jobDir, "ingestion", "jobs.jsonl"))
	if err != nil {
		t.Fatalf("read jobs.jsonl: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(bodyFirstLine(body), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("unexpected logged status: %s", snap.Status)
	}
}

func writeJSONLines(t *testing.T, path string, lines []string) {
	t.Helper()
	body := ""
	for _, l := range lines {
		body += l + "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func bodyFirstLine(body []byte) []byte {
	for i, b := range body {
		if b == '\n' {
			return body[:i]
		}
	}
	return body
}
