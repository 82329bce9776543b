// Package messaging implements the event bus and pipeline fabric (C1-C5):
// message envelopes, a PUB/SUB broker, PUSH/PULL pipelines, worker
// lifecycle, and a metrics collector. Transport is plain TCP framed with
// MessagePack, modeled on the two-frame topic+envelope shape the original
// ZeroMQ-based implementation uses (no ZeroMQ binding is available in
// this module's dependency set).
package messaging

import (
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the wire format for every message on the bus (§4.8, §3
// "Message envelope"). Topics are dotted (`eisenbahn.ingest.complete`)
// and matched by prefix for subscriptions.
type Envelope struct {
	Topic         string    `msgpack:"topic"`
	CorrelationID uuid.UUID `msgpack:"correlation_id"`
	CreatedAt     time.Time `msgpack:"created_at"`
	Payload       []byte    `msgpack:"payload"`
}

// NewEnvelope builds an envelope around a msgpack-serializable payload,
// stamping a fresh correlation id and timestamp.
func NewEnvelope(topic string, payload any, now time.Time) (Envelope, error) {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Topic:         topic,
		CorrelationID: uuid.New(),
		CreatedAt:     now,
		Payload:       body,
	}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	return msgpack.Unmarshal(e.Payload, v)
}

// MatchesPrefix reports whether the envelope's topic matches a
// subscription prefix. An empty prefix matches everything.
func (e Envelope) MatchesPrefix(prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(e.Topic) < len(prefix) {
		return false
	}
	return e.Topic[:len(prefix)] == prefix
}

// bytes serializes the whole envelope for the frame's envelope part.
func (e Envelope) bytes() ([]byte, error) {
	return msgpack.Marshal(e)
}

// envelopeFromBytes deserializes a frame's envelope part.
func envelopeFromBytes(data []byte, out *Envelope) error {
	return msgpack.Unmarshal(data, out)
}
