package messaging

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frames on the wire are two length-prefixed parts per message, mirroring
// the original implementation's two-frame ZMQ shape: [topic, envelope]
// (§4.8). Each part is prefixed with a uint32 big-endian length.
const maxFramePartSize = 64 << 20 // 64MiB guards against a corrupt length prefix

// WriteFrame writes a topic string and an encoded envelope as two
// length-prefixed parts.
func WriteFrame(w io.Writer, topic string, envelope []byte) error {
	if err := writePart(w, []byte(topic)); err != nil {
		return fmt.Errorf("write topic frame: %w", err)
	}
	if err := writePart(w, envelope); err != nil {
		return fmt.Errorf("write envelope frame: %w", err)
	}
	return nil
}

// ReadFrame reads one [topic, envelope] frame pair.
func ReadFrame(r io.Reader) (topic string, envelope []byte, err error) {
	topicBytes, err := readPart(r)
	if err != nil {
		return "", nil, err
	}
	envelope, err = readPart(r)
	if err != nil {
		return "", nil, fmt.Errorf("read envelope frame: %w", err)
	}
	return string(topicBytes), envelope, nil
}

func writePart(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readPart(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxFramePartSize {
		return nil, fmt.Errorf("frame part too large: %d bytes", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
