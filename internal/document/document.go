// Package document defines the immutable unit of ingest for the platform:
// a timestamped event carrying a tagged-union field map.
//
// Documents are value types. Once constructed they are never mutated in
// place; the segment writer and every downstream consumer treats a
// document's field map as read-only.
package document

import (
	"encoding/base32"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idEncoding is base32hex (RFC 4648) lowercase without padding, so encoded
// document ids sort like the raw ids and are URL-safe.
var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ID uniquely identifies a document. It is a UUIDv7 so that ids sort in
// creation order. The segment index does not sort by id; it iterates in
// append order.
type ID [16]byte

// NewID creates an ID from a freshly generated UUIDv7.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// ParseID parses a 26-character base32hex string into an ID.
func ParseID(s string) (ID, error) {
	if len(s) != 26 {
		return ID{}, fmt.Errorf("document: invalid id length %d (want 26)", len(s))
	}
	decoded, err := idEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return ID{}, fmt.Errorf("document: invalid id: %w", err)
	}
	var id ID
	copy(id[:], decoded)
	return id, nil
}

func (id ID) String() string {
	return strings.ToLower(idEncoding.EncodeToString(id[:]))
}

// Time returns the creation time embedded in the UUIDv7 id.
func (id ID) Time() time.Time {
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 |
		int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms)
}

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindText
	KindInt
	KindFloat
	KindBool
)

// Value is a tagged union over the five field-value variants the platform
// observes in ingested documents. Callers must not construct a Value with an
// inconsistent Kind/field pairing; use the New* constructors.
type Value struct {
	Kind ValueKind
	Text string
	Int  int64
	Flt  float64
	Bool bool
}

func NewText(s string) Value   { return Value{Kind: KindText, Text: s} }
func NewInt(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func NewFloat(f float64) Value { return Value{Kind: KindFloat, Flt: f} }
func NewBool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Null() Value              { return Value{Kind: KindNull} }

// AsString coerces the value to a string representation. Null coerces to "".
func (v Value) AsString() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Flt, 'g', -1, 64)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// AsNumber coerces the value to a float64. Booleans coerce to 0/1. Text
// coerces only if it parses as a number. The second return reports success.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Flt, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindText:
		f, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Fields is the field-name to tagged-value mapping carried by a Document.
type Fields map[string]Value

// Copy returns a deep copy of the field map.
func (f Fields) Copy() Fields {
	if f == nil {
		return nil
	}
	cp := make(Fields, len(f))
	maps.Copy(cp, f)
	return cp
}

// Document is the immutable unit of ingest. Timestamp is the event's UTC
// instant; EventType is the tag used for schema observation and graph
// extraction routing.
type Document struct {
	ID        ID
	Timestamp time.Time
	EventType string
	Fields    Fields
}

// Copy returns a deep copy of the document, safe to retain past the
// lifetime of any buffer the original referenced.
func (d Document) Copy() Document {
	return Document{
		ID:        d.ID,
		Timestamp: d.Timestamp.UTC(),
		EventType: d.EventType,
		Fields:    d.Fields.Copy(),
	}
}

// New constructs a document with a fresh id. The empty field map is valid.
func New(eventType string, ts time.Time, fields Fields) Document {
	if fields == nil {
		fields = Fields{}
	}
	return Document{
		ID:        NewID(),
		Timestamp: ts.UTC(),
		EventType: eventType,
		Fields:    fields,
	}
}
