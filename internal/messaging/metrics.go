package messaging

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metricsRingCapacity bounds the rolling-window history kept in memory,
// at one point per second, per §4.8's metrics collector contract.
const metricsRingCapacity = 300

var meter = otel.Meter("eisenbahn.messaging")

// otelInstruments mirrors the in-process counters as OTel instruments so
// an out-of-scope exporter can pick them up without reading Snapshot.
type otelInstruments struct {
	messages metric.Int64Counter
	bytes    metric.Int64Counter
}

func newOtelInstruments() otelInstruments {
	messages, _ := meter.Int64Counter("eisenbahn.messaging.messages_total",
		metric.WithDescription("Messages observed by the broker, per topic"))
	bytes, _ := meter.Int64Counter("eisenbahn.messaging.bytes_total",
		metric.WithDescription("Envelope bytes observed by the broker, per topic"))
	return otelInstruments{messages: messages, bytes: bytes}
}

// topicCounter accumulates lifetime and current-window totals for one
// topic.
type topicCounter struct {
	totalMessages   int64
	totalBytes      int64
	windowMessages  int64
	windowBytes     int64
}

// RatePoint is one second-granularity sample of the rolling window.
type RatePoint struct {
	ElapsedSecs   int64
	TotalMessages int64
	TopicRates    map[string]float64 // messages/sec per topic over that second
}

// WorkerHealthEntry is the last-known health state for one worker.
type WorkerHealthEntry struct {
	Status       WorkerHealth
	LastPingSecs int64
}

// MetricsCollector aggregates per-topic throughput and worker health for
// the out-of-scope HTTP surface named in §6; it is mutex-protected since
// frames arrive from many goroutines.
type MetricsCollector struct {
	mu           sync.Mutex
	elapsedSecs  int64
	topics       map[string]*topicCounter
	workers      map[string]WorkerHealthEntry
	history      []RatePoint
	historyStart int
	otel         otelInstruments
}

// NewMetricsCollector builds an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		topics:  make(map[string]*topicCounter),
		workers: make(map[string]WorkerHealthEntry),
		otel:    newOtelInstruments(),
	}
}

// RecordMessage accounts for one message of the given size on a topic,
// bumping both lifetime and current-window counters.
func (m *MetricsCollector) RecordMessage(topic string, sizeBytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.topics[topic]
	if !ok {
		c = &topicCounter{}
		m.topics[topic] = c
	}
	c.totalMessages++
	c.totalBytes += int64(sizeBytes)
	c.windowMessages++
	c.windowBytes += int64(sizeBytes)

	attrs := metric.WithAttributes(attribute.String("topic", topic))
	if m.otel.messages != nil {
		m.otel.messages.Add(context.Background(), 1, attrs)
	}
	if m.otel.bytes != nil {
		m.otel.bytes.Add(context.Background(), int64(sizeBytes), attrs)
	}
}

// RecordWorkerHealth updates the last-known health state for a worker.
func (m *MetricsCollector) RecordWorkerHealth(worker string, status WorkerHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[worker] = WorkerHealthEntry{Status: status, LastPingSecs: m.elapsedSecs}
}

// Tick rolls the current 1-second window into a rate sample, appends it
// to the ring buffer (evicting the oldest entry past capacity), and
// resets the window counters.
func (m *MetricsCollector) Tick() RatePoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.elapsedSecs++
	rates := make(map[string]float64, len(m.topics))
	var total int64
	for topic, c := range m.topics {
		rates[topic] = float64(c.windowMessages)
		total += c.totalMessages
		c.windowMessages = 0
		c.windowBytes = 0
	}
	point := RatePoint{ElapsedSecs: m.elapsedSecs, TotalMessages: total, TopicRates: rates}

	if len(m.history) < metricsRingCapacity {
		m.history = append(m.history, point)
	} else {
		m.history[m.historyStart] = point
		m.historyStart = (m.historyStart + 1) % metricsRingCapacity
	}
	return point
}

// Snapshot is the JSON shape of the `GET /metrics` response (§6):
// `{topics, workers, time_series, total_messages, uptime_secs}` exactly.
// The collector builds it in process; the broker in this package serves
// no HTTP endpoint.
type Snapshot struct {
	Topics        map[string]TopicSnapshot     `json:"topics"`
	Workers       map[string]WorkerHealthEntry `json:"workers"`
	TimeSeries    []RatePoint                  `json:"time_series"`
	TotalMessages int64                        `json:"total_messages"`
	UptimeSecs    int64                        `json:"uptime_secs"`
}

// TopicSnapshot is the lifetime view of one topic's throughput.
type TopicSnapshot struct {
	TotalMessages int64 `json:"total_messages"`
	TotalBytes    int64 `json:"total_bytes"`
}

// Snapshot builds a point-in-time copy of all collected metrics, safe to
// serialize as JSON.
func (m *MetricsCollector) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make(map[string]TopicSnapshot, len(m.topics))
	var totalMessages int64
	for topic, c := range m.topics {
		topics[topic] = TopicSnapshot{TotalMessages: c.totalMessages, TotalBytes: c.totalBytes}
		totalMessages += c.totalMessages
	}
	workers := make(map[string]WorkerHealthEntry, len(m.workers))
	for id, h := range m.workers {
		workers[id] = h
	}
	history := make([]RatePoint, 0, len(m.history))
	for i := 0; i < len(m.history); i++ {
		idx := (m.historyStart + i) % len(m.history)
		if len(m.history) < metricsRingCapacity {
			idx = i
		}
		history = append(history, m.history[idx])
	}
	return Snapshot{
		Topics:        topics,
		Workers:       workers,
		TimeSeries:    history,
		TotalMessages: totalMessages,
		UptimeSecs:    m.elapsedSecs,
	}
}
