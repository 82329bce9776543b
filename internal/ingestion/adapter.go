package ingestion

import (
	"sync"

	"eisenbahn/internal/document"
	"eisenbahn/internal/segment"
)

// ManagerSegmentSink adapts a *segment.Manager to the SegmentSink
// interface ImportDirectory needs, keyed by the "<event_type>:<week>"
// group key directory.go builds. One writer is created lazily per key
// and reused for every file in that group.
type ManagerSegmentSink struct {
	manager *segment.Manager

	mu      sync.Mutex
	writers map[string]*segment.Writer
	sealed  []string
}

// NewManagerSegmentSink builds a sink backed by manager.
func NewManagerSegmentSink(manager *segment.Manager) *ManagerSegmentSink {
	return &ManagerSegmentSink{manager: manager, writers: make(map[string]*segment.Writer)}
}

// WriterFor returns the group's writer, creating it (and the backing
// segment, keyed by ISO week) on first use.
func (s *ManagerSegmentSink) WriterFor(key string) (Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[key]; ok {
		return w, nil
	}
	w, err := s.manager.GetOrCreateWriter(segment.ID(key))
	if err != nil {
		return nil, err
	}
	s.writers[key] = w
	return w, nil
}

// Seal finalizes the group's segment once every file in it has been
// processed.
func (s *ManagerSegmentSink) Seal(key string) error {
	s.mu.Lock()
	_, ok := s.writers[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := s.manager.SealSegment(segment.ID(key)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.writers, key)
	s.sealed = append(s.sealed, key)
	s.mu.Unlock()
	return nil
}

// SealedSegments returns every segment key sealed so far.
func (s *ManagerSegmentSink) SealedSegments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sealed))
	copy(out, s.sealed)
	return out
}

// SingleWriterSink adapts one active segment.Writer to the plain Sink
// interface single-file importers (CSV, JSON, queue) write through.
type SingleWriterSink struct {
	writer *segment.Writer

	mu    sync.Mutex
	count int64
}

// NewSingleWriterSink wraps writer.
func NewSingleWriterSink(writer *segment.Writer) *SingleWriterSink {
	return &SingleWriterSink{writer: writer}
}

// Put appends doc and returns the running total of documents accepted.
func (s *SingleWriterSink) Put(doc document.Document) (int64, error) {
	if _, err := s.writer.Append(doc); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.count, nil
}
