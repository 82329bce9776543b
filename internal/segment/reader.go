package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"eisenbahn/internal/document"
	"eisenbahn/internal/logging"
)

// Reader is an immutable view over a sealed segment. The decompressed
// document stream is held in memory; index lookups resolve offsets
// directly into it.
type Reader struct {
	id     ID
	dir    string
	data   []byte
	index  []IndexEntry
	meta   Meta
	logger *slog.Logger
}

// openReader loads a sealed segment's data, index and meta files.
// Returns ErrSegmentNotSealed if meta.json is missing.
func openReader(dir string, id ID, logger *slog.Logger) (*Reader, error) {
	raw, index, meta, err := readSealedFiles(dir)
	if err != nil {
		return nil, err
	}
	return &Reader{
		id:     id,
		dir:    dir,
		data:   raw,
		index:  index,
		meta:   meta,
		logger: logging.Default(logger).With("component", "segment.reader", "segment_id", string(id)),
	}, nil
}

// Open opens an already-sealed segment directory for reading.
func Open(dir string, id ID, logger *slog.Logger) (*Reader, error) {
	return openReader(dir, id, logger)
}

func (r *Reader) ID() ID      { return r.id }
func (r *Reader) Meta() Meta  { return r.meta }
func (r *Reader) Len() int    { return len(r.index) }

// ReadAt returns the document stored at the given byte offset.
func (r *Reader) ReadAt(offset uint64) (document.Document, error) {
	for _, e := range r.index {
		if e.Offset == offset {
			end := offset + uint64(e.Length)
			if end > uint64(len(r.data)) {
				return document.Document{}, fmt.Errorf("segment: offset %d out of range", offset)
			}
			return DecodeRecord(r.data[offset:end])
		}
	}
	return document.Document{}, fmt.Errorf("segment: %w: offset %d", ErrNoMoreRecords, offset)
}

// Iter returns a fresh, restartable cursor over every document in
// insertion order.
func (r *Reader) Iter() *Cursor {
	return &Cursor{reader: r}
}

// Cursor walks a Reader's documents in insertion order. Safe to discard
// and recreate via Reader.Iter for a fresh pass.
type Cursor struct {
	reader *Reader
	pos    int
}

// Next reports whether a document remains at the cursor's position. It
// does not advance the cursor; Document does.
func (c *Cursor) Next() bool {
	return c.pos < len(c.reader.index)
}

// Document decodes and returns the document at the cursor's current
// position, then advances it. Callers must check Next() first.
func (c *Cursor) Document() (document.Document, error) {
	e := c.reader.index[c.pos]
	c.pos++
	end := e.Offset + uint64(e.Length)
	return DecodeRecord(c.reader.data[e.Offset:end])
}

// removeDir deletes a segment's on-disk directory, used by eviction.
func removeDir(dir string) error {
	if dir == "" || dir == "/" || dir == "." {
		return fmt.Errorf("segment: refusing to remove suspicious dir %q", dir)
	}
	return os.RemoveAll(filepath.Clean(dir))
}
