// Package segment implements time-partitioned, append-only storage of
// documents. A segment is active (owns an append stream and an in-memory
// index) until it is sealed, after which it becomes an immutable reader.
package segment

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoMoreRecords     = errors.New("segment: no more records")
	ErrSegmentNotSealed  = errors.New("segment: not sealed")
	ErrSegmentSealed     = errors.New("segment: already sealed")
	ErrSegmentNotFound   = errors.New("segment: not found")
	ErrActiveSegment     = errors.New("segment: writer already active for this id")
	ErrConcurrentSeal    = errors.New("segment: concurrent seal attempt")
)

// ID identifies a segment by its partition key. Two derivations are used
// (see §4.3 and the open-question decisions in DESIGN.md): "YYYY-MM-DD" for
// real-time ingestion (day granularity) and "YYYY-Www" for bulk imports
// (ISO week granularity). Both are plain strings; range queries parse the
// day format specifically, so bulk-imported segments must be migrated or
// addressed by listing rather than by range when mixed with real-time ones.
type ID string

// DayID derives a real-time segment id from a timestamp: its UTC calendar
// day. This is the canonical derivation for the realtime ingestion mode.
func DayID(ts time.Time) ID {
	return ID(ts.UTC().Format("2006-01-02"))
}

// WeekID derives a bulk-import segment id from a timestamp: its ISO week.
// Used only when the document store operates in bulk-import mode (§4.3).
func WeekID(ts time.Time) ID {
	year, week := ts.UTC().ISOWeek()
	return ID(fmt.Sprintf("%04d-W%02d", year, week))
}

// ParseDay parses a day-granularity segment id back into its UTC date.
// Segment ids that are not parseable as a day (e.g. ISO-week ids from a
// bulk import) return an error; callers that sweep for retention treat
// that as "exempt", per §4.2.
func ParseDay(id ID) (time.Time, error) {
	return time.Parse("2006-01-02", string(id))
}

// Meta records the sealed state of a segment: document count, byte size,
// and the timestamp bounds of its contents. Its presence on disk is what
// makes a segment sealed (§4.1 invariant).
type Meta struct {
	ID          ID
	DocCount    int64
	Bytes       int64
	FirstTS     time.Time
	LastTS      time.Time
	Sealed      bool
}

// Ref addresses one document within a sealed segment by byte offset.
type Ref struct {
	SegmentID ID
	Offset    uint64
}
