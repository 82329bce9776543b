package segment

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eisenbahn/internal/document"
	"eisenbahn/internal/logging"
)

// IndexEntry is one document-index row: where a document sits in the
// sealed data file, and the fields needed to answer range/type queries
// without decoding the record body.
type IndexEntry struct {
	DocID     document.ID
	Offset    uint64
	Length    uint32
	Timestamp time.Time
	EventType string
}

// Writer is the active-segment append stream. It is not safe for
// concurrent use by multiple goroutines without external synchronization
// beyond what Append/Finalize themselves provide; the Manager serializes
// access to the writer it owns.
type Writer struct {
	mu     sync.Mutex
	id     ID
	dir    string
	buf    bytes.Buffer
	index  []IndexEntry
	sealed bool
	logger *slog.Logger
}

func newWriter(id ID, dir string, logger *slog.Logger) *Writer {
	return &Writer{
		id:     id,
		dir:    dir,
		logger: logging.Default(logger).With("component", "segment.writer", "segment_id", string(id)),
	}
}

// Append encodes and appends one document, returning the byte offset the
// record will occupy once the segment is sealed. The offset is stable
// across finalize because the writer's in-memory buffer becomes the
// sealed file's uncompressed content verbatim.
func (w *Writer) Append(doc document.Document) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sealed {
		return 0, ErrSegmentSealed
	}

	rec, err := EncodeRecord(doc)
	if err != nil {
		return 0, fmt.Errorf("segment: append %s: %w", doc.ID, err)
	}
	offset := uint64(w.buf.Len())
	if _, err := w.buf.Write(rec); err != nil {
		return 0, fmt.Errorf("segment: append %s: %w", doc.ID, err)
	}
	w.index = append(w.index, IndexEntry{
		DocID:     doc.ID,
		Offset:    offset,
		Length:    uint32(len(rec)),
		Timestamp: doc.Timestamp,
		EventType: doc.EventType,
	})
	return offset, nil
}

// Len reports the number of documents appended so far.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}

// ID returns the segment id this writer owns.
func (w *Writer) ID() ID { return w.id }

// finalize compresses the accumulated stream, writes the index and meta
// files, and returns a Reader over the now-sealed segment. Callers must
// hold whatever external lock protects transitioning this writer out of
// the manager's active map; finalize itself only guards its own state.
func (w *Writer) finalize() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sealed {
		return nil, ErrConcurrentSeal
	}

	meta := Meta{ID: w.id, DocCount: int64(len(w.index)), Sealed: true}
	for i, e := range w.index {
		if i == 0 || e.Timestamp.Before(meta.FirstTS) {
			meta.FirstTS = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(meta.LastTS) {
			meta.LastTS = e.Timestamp
		}
	}
	meta.Bytes = int64(w.buf.Len())

	if err := writeSealedFiles(w.dir, w.buf.Bytes(), w.index, meta); err != nil {
		return nil, fmt.Errorf("segment: finalize %s: %w", w.id, err)
	}
	w.sealed = true
	w.logger.Info("segment sealed", "doc_count", meta.DocCount, "bytes", meta.Bytes)

	return openReader(w.dir, w.id, w.logger)
}
