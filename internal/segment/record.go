package segment

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"eisenbahn/internal/document"
)

// Record framing, adapted from the fixed-header length-prefixed layout used
// elsewhere in this tree for append-only streams: a leading and trailing
// size field (for bidirectional seeking), a magic/version pair, the
// document id and timestamp inline for index-free reads, and an
// event-type string followed by a MessagePack-encoded field map.
const (
	MagicByte   = 0x65 // 'e'
	VersionByte = 0x01

	sizeFieldBytes  = 4
	magicBytes      = 1
	versionBytes    = 1
	idBytes         = 16
	timestampBytes  = 8
	eventTypeLen    = 2
	fieldsLen       = 4

	headerBytes   = sizeFieldBytes + magicBytes + versionBytes + idBytes + timestampBytes + eventTypeLen + fieldsLen
	minRecordSize = headerBytes + sizeFieldBytes
)

var (
	ErrRecordTooSmall  = errors.New("segment: record too small")
	ErrRecordTooLarge  = errors.New("segment: record too large")
	ErrMagicMismatch   = errors.New("segment: magic byte mismatch")
	ErrVersionMismatch = errors.New("segment: version mismatch")
	ErrSizeMismatch    = errors.New("segment: size field mismatch")
)

// EncodeRecord serializes a document into a length-prefixed framed record.
func EncodeRecord(doc document.Document) ([]byte, error) {
	fieldBytes, err := msgpack.Marshal(doc.Fields)
	if err != nil {
		return nil, errors.Join(errors.New("segment: encode fields"), err)
	}
	eventType := []byte(doc.EventType)
	if len(eventType) > math.MaxUint16 {
		return nil, errors.New("segment: event type too long")
	}

	total := uint64(minRecordSize) + uint64(len(eventType)) + uint64(len(fieldBytes))
	if total > math.MaxUint32 {
		return nil, ErrRecordTooLarge
	}
	size := uint32(total)

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[:sizeFieldBytes], size)
	cursor := sizeFieldBytes
	buf[cursor] = MagicByte
	cursor += magicBytes
	buf[cursor] = VersionByte
	cursor += versionBytes
	copy(buf[cursor:cursor+idBytes], doc.ID[:])
	cursor += idBytes
	binary.LittleEndian.PutUint64(buf[cursor:cursor+timestampBytes], uint64(doc.Timestamp.UnixMicro()))
	cursor += timestampBytes
	binary.LittleEndian.PutUint16(buf[cursor:cursor+eventTypeLen], uint16(len(eventType)))
	cursor += eventTypeLen
	binary.LittleEndian.PutUint32(buf[cursor:cursor+fieldsLen], uint32(len(fieldBytes)))
	cursor += fieldsLen
	copy(buf[cursor:cursor+len(eventType)], eventType)
	cursor += len(eventType)
	copy(buf[cursor:cursor+len(fieldBytes)], fieldBytes)
	cursor += len(fieldBytes)
	binary.LittleEndian.PutUint32(buf[cursor:cursor+sizeFieldBytes], size)

	return buf, nil
}

// DecodeRecord parses one framed record back into a document.
func DecodeRecord(buf []byte) (document.Document, error) {
	if len(buf) < minRecordSize {
		return document.Document{}, ErrRecordTooSmall
	}
	size := binary.LittleEndian.Uint32(buf[:sizeFieldBytes])
	if int(size) != len(buf) {
		return document.Document{}, ErrSizeMismatch
	}

	cursor := sizeFieldBytes
	if buf[cursor] != MagicByte {
		return document.Document{}, ErrMagicMismatch
	}
	cursor += magicBytes
	if buf[cursor] != VersionByte {
		return document.Document{}, ErrVersionMismatch
	}
	cursor += versionBytes

	var id document.ID
	copy(id[:], buf[cursor:cursor+idBytes])
	cursor += idBytes

	ts := binary.LittleEndian.Uint64(buf[cursor : cursor+timestampBytes])
	cursor += timestampBytes

	etLen := int(binary.LittleEndian.Uint16(buf[cursor : cursor+eventTypeLen]))
	cursor += eventTypeLen

	fLen := int(binary.LittleEndian.Uint32(buf[cursor : cursor+fieldsLen]))
	cursor += fieldsLen

	eventTypeEnd := cursor + etLen
	fieldsEnd := eventTypeEnd + fLen
	if fieldsEnd+sizeFieldBytes != len(buf) {
		return document.Document{}, ErrSizeMismatch
	}

	eventType := string(buf[cursor:eventTypeEnd])
	var fields document.Fields
	if fLen > 0 {
		if err := msgpack.Unmarshal(buf[eventTypeEnd:fieldsEnd], &fields); err != nil {
			return document.Document{}, errors.Join(errors.New("segment: decode fields"), err)
		}
	} else {
		fields = document.Fields{}
	}

	trailing := binary.LittleEndian.Uint32(buf[fieldsEnd : fieldsEnd+sizeFieldBytes])
	if trailing != size {
		return document.Document{}, ErrSizeMismatch
	}

	return document.Document{
		ID:        id,
		Timestamp: time.UnixMicro(int64(ts)).UTC(),
		EventType: eventType,
		Fields:    fields,
	}, nil
}
