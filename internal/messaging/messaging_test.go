package messaging

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	type payload struct {
		Name string `msgpack:"name"`
	}
	env, err := NewEnvelope("eisenbahn.ingest.complete", payload{Name: "job-1"}, now)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Topic != "eisenbahn.ingest.complete" {
		t.Fatalf("unexpected topic: %s", env.Topic)
	}

	body, err := env.bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	var decoded Envelope
	if err := envelopeFromBytes(body, &decoded); err != nil {
		t.Fatalf("envelopeFromBytes: %v", err)
	}
	if decoded.Topic != env.Topic || decoded.CorrelationID != env.CorrelationID {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, env)
	}

	var out payload
	if err := decoded.Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Name != "job-1" {
		t.Fatalf("unexpected decoded payload: %+v", out)
	}
}

func TestEnvelopeMatchesPrefix(t *testing.T) {
	env := Envelope{Topic: "eisenbahn.ingest.complete"}
	if !env.MatchesPrefix("") {
		t.Fatal("empty prefix should match")
	}
	if !env.MatchesPrefix("eisenbahn.ingest") {
		t.Fatal("prefix should match")
	}
	if env.MatchesPrefix("eisenbahn.rules") {
		t.Fatal("unrelated prefix should not match")
	}
}

func TestFrameEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, "topic.a", []byte("payload-bytes")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	topic, envelope, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if topic != "topic.a" || string(envelope) != "payload-bytes" {
		t.Fatalf("unexpected frame: topic=%s envelope=%s", topic, envelope)
	}
}

func TestFrameRejectsOversizedPart(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // forces a length far beyond maxFramePartSize
	buf.Write(lenBuf[:])
	if _, err := readPart(&buf); err == nil {
		t.Fatal("expected error for oversized frame part")
	}
}

func TestBrokerForwardsFrontendToBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewBroker(TCP("127.0.0.1", 0), TCP("127.0.0.1", 0), nil)
	// Listen on ephemeral ports directly so we know the bound addresses.
	frontendListener, err := broker.Frontend.Listen()
	if err != nil {
		t.Fatalf("listen frontend: %v", err)
	}
	backendListener, err := broker.Backend.Listen()
	if err != nil {
		t.Fatalf("listen backend: %v", err)
	}
	broker.Frontend.Address = frontendListener.Addr().String()
	broker.Backend.Address = backendListener.Addr().String()
	frontendListener.Close()
	backendListener.Close()

	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	sub, err := ConnectSubscriber(context.Background(), broker.Backend)
	if err != nil {
		t.Fatalf("ConnectSubscriber: %v", err)
	}
	defer sub.Close()
	time.Sleep(20 * time.Millisecond)

	pub, err := ConnectPublisher(context.Background(), broker.Frontend)
	if err != nil {
		t.Fatalf("ConnectPublisher: %v", err)
	}
	defer pub.Close()

	env, err := NewEnvelope("eisenbahn.test.ping", map[string]string{"k": "v"}, time.Now())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := pub.Publish(env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	recvCh := make(chan Envelope, 1)
	errCh := make(chan error, 1)
	go func() {
		got, err := sub.Recv()
		if err != nil {
			errCh <- err
			return
		}
		recvCh <- got
	}()

	select {
	case got := <-recvCh:
		if got.Topic != "eisenbahn.test.ping" {
			t.Fatalf("unexpected topic: %s", got.Topic)
		}
	case err := <-errCh:
		t.Fatalf("Recv: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded frame")
	}

	cancel()
	<-done
}

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	var flushed [][]Envelope
	b := NewBatcher(2, time.Hour, func(envs []Envelope) error {
		flushed = append(flushed, envs)
		return nil
	})
	now := time.Now()
	e1, _ := NewEnvelope("a", 1, now)
	e2, _ := NewEnvelope("a", 2, now)
	if err := b.Add(e1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(flushed) != 0 {
		t.Fatal("should not flush before reaching max size")
	}
	if err := b.Add(e2); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(flushed) != 1 || len(flushed[0]) != 2 {
		t.Fatalf("expected one flush of two envelopes, got %+v", flushed)
	}
}

func TestBatcherFlushesOnTimeout(t *testing.T) {
	flushed := make(chan []Envelope, 1)
	b := NewBatcher(10, 20*time.Millisecond, func(envs []Envelope) error {
		flushed <- envs
		return nil
	})
	e1, _ := NewEnvelope("a", 1, time.Now())
	if err := b.Add(e1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	select {
	case got := <-flushed:
		if len(got) != 1 {
			t.Fatalf("expected one envelope, got %d", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timeout flush")
	}
}

func TestMetricsCollectorTick(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordMessage("eisenbahn.ingest.complete", 128)
	m.RecordMessage("eisenbahn.ingest.complete", 64)
	m.RecordWorkerHealth("worker-1", Healthy)

	point := m.Tick()
	if point.TotalMessages != 2 {
		t.Fatalf("expected 2 total messages, got %d", point.TotalMessages)
	}
	if point.TopicRates["eisenbahn.ingest.complete"] != 2 {
		t.Fatalf("expected rate 2, got %v", point.TopicRates)
	}

	snap := m.Snapshot()
	if snap.Topics["eisenbahn.ingest.complete"].TotalMessages != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Workers["worker-1"].Status != Healthy {
		t.Fatalf("unexpected worker health: %+v", snap.Workers)
	}
	if len(snap.TimeSeries) != 1 {
		t.Fatalf("expected 1 history point, got %d", len(snap.TimeSeries))
	}
}

func TestMetricsCollectorRingBufferCaps(t *testing.T) {
	m := NewMetricsCollector()
	for i := 0; i < metricsRingCapacity+10; i++ {
		m.Tick()
	}
	snap := m.Snapshot()
	if len(snap.TimeSeries) != metricsRingCapacity {
		t.Fatalf("expected history capped at %d, got %d", metricsRingCapacity, len(snap.TimeSeries))
	}
}
