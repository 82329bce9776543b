// Package store implements the document store façade (C7): a high-level
// API over the segment layer plus the schema registry, deriving segment
// ids from document timestamps and servicing id lookups and filtered
// scans.
package store

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"eisenbahn/internal/document"
	"eisenbahn/internal/logging"
	"eisenbahn/internal/segment"
)

// Mode selects how segment ids are derived from a document's timestamp.
// Real-time ingestion uses day granularity; bulk imports use ISO week
// (DESIGN.md's open-question decision: one canonical format per
// deployment mode, never mixed within a single store instance).
type Mode int

const (
	ModeRealtime Mode = iota
	ModeBulkImport
)

// Address locates a document within the store: its segment id and byte
// offset once the segment is sealed.
type Address struct {
	SegmentID segment.ID
	Offset    uint64
}

// Store is the document store façade.
type Store struct {
	mode    Mode
	mgr     *segment.Manager
	schema  *SchemaRegistry
	dataDir string
	logger  *slog.Logger
}

// Open constructs a Store rooted at dataDir, loading (or creating) the
// segments directory and the schema registry.
func Open(dataDir string, mode Mode, logger *slog.Logger) (*Store, error) {
	logger = logging.Default(logger).With("component", "store")
	mgr, err := segment.NewManager(filepath.Join(dataDir, "segments"), logger)
	if err != nil {
		return nil, fmt.Errorf("store: open segments: %w", err)
	}
	schema, err := LoadSchemaRegistry(filepath.Join(dataDir, "schema_registry.json"))
	if err != nil {
		return nil, fmt.Errorf("store: load schema: %w", err)
	}
	return &Store{mode: mode, mgr: mgr, schema: schema, dataDir: dataDir, logger: logger}, nil
}

func (s *Store) segmentID(doc document.Document) segment.ID {
	if s.mode == ModeBulkImport {
		return segment.WeekID(doc.Timestamp)
	}
	return segment.DayID(doc.Timestamp)
}

// Insert derives the document's segment id, appends it, and observes its
// shape in the schema registry.
func (s *Store) Insert(doc document.Document) (Address, error) {
	id := s.segmentID(doc)
	w, err := s.mgr.GetOrCreateWriter(id)
	if err != nil {
		return Address{}, fmt.Errorf("store: insert: %w", err)
	}
	offset, err := w.Append(doc)
	if err != nil {
		return Address{}, fmt.Errorf("store: insert: %w", err)
	}
	s.schema.Observe(doc)
	return Address{SegmentID: id, Offset: offset}, nil
}

// Get reads one document by its stored address. The owning segment must
// already be sealed.
func (s *Store) Get(addr Address) (document.Document, error) {
	r, ok := s.mgr.Reader(addr.SegmentID)
	if !ok {
		return document.Document{}, fmt.Errorf("store: get: %w", segment.ErrSegmentNotSealed)
	}
	return r.ReadAt(addr.Offset)
}

// GetByID decodes the documents of every sealed segment in turn until one
// carries a matching id.
// Callers must treat this as O(segments): there is no global id index.
func (s *Store) GetByID(id document.ID) (document.Document, bool, error) {
	for _, r := range s.mgr.Readers() {
		cur := r.Iter()
		for cur.Next() {
			d, err := cur.Document()
			if err != nil {
				return document.Document{}, false, err
			}
			if d.ID == id {
				return d, true, nil
			}
		}
	}
	return document.Document{}, false, nil
}

// Scan iterates readers whose segment range overlaps the filter's time
// window, applying the filter predicate to each document.
func (s *Store) Scan(filter document.Filter) ([]document.Document, error) {
	var out []document.Document
	for _, r := range s.mgr.Readers() {
		meta := r.Meta()
		if !filter.OverlapsRange(meta.FirstTS, meta.LastTS) {
			continue
		}
		cur := r.Iter()
		for cur.Next() {
			d, err := cur.Document()
			if err != nil {
				return nil, fmt.Errorf("store: scan %s: %w", r.ID(), err)
			}
			if filter.Match(d) {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// Flush seals every active writer and persists the schema registry.
func (s *Store) Flush() error {
	if _, err := s.mgr.FlushAll(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	if err := s.schema.Save(filepath.Join(s.dataDir, "schema_registry.json")); err != nil {
		return fmt.Errorf("store: flush: save schema: %w", err)
	}
	return nil
}

// Schema returns the store's schema registry.
func (s *Store) Schema() *SchemaRegistry { return s.schema }

// Segments returns the underlying segment manager, for components (e.g.
// retention sweeps, the ingestion orchestrator) that need direct access.
func (s *Store) Segments() *segment.Manager { return s.mgr }
