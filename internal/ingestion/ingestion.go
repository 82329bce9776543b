// Package ingestion implements the ingestion orchestrator (C11): typed
// source configs, a batch-job runner, directory and queue listener loops,
// and progress events published onto the event bus.
package ingestion

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SourceKind tags the variant held by a SourceConfig.
type SourceKind string

const (
	SourceParquetFile     SourceKind = "parquet_file"
	SourceDirectoryScan   SourceKind = "directory_scan"
	SourceDirectoryWatch  SourceKind = "directory_watch"
	SourceS3Prefix        SourceKind = "s3_prefix"
	SourceCSVFile         SourceKind = "csv_file"
	SourceJSONFile        SourceKind = "json_file"
	SourceHTTPPush        SourceKind = "http_push"
	SourceMessageQueue    SourceKind = "message_queue"
)

// SourceConfig is a tagged union over every source kind the orchestrator
// knows how to import from. Only the fields relevant to Kind are set.
type SourceConfig struct {
	Kind SourceKind

	// File-based sources (parquet, CSV, JSON, and a directory scan/watch root).
	Path        string
	EventType   string // default event type assigned to records lacking one
	GlobPattern string // doublestar pattern, used by directory sources

	// S3Prefix.
	Bucket string
	Prefix string
	Region string

	// HTTPPush: names the route. This package registers no HTTP handler;
	// the orchestrator runs HTTPPush sources through the queue listener,
	// selected by QueueBackend.
	PushPath string

	// MessageQueue: either a Kafka-compatible broker set + topic, or an
	// MQTT broker URL + topic filter, selected by QueueBackend.
	QueueBackend QueueBackend
	Brokers      []string
	Topic        string
}

// QueueBackend selects which client MessageQueue sources use.
type QueueBackend string

const (
	QueueBackendKafka QueueBackend = "kafka"
	QueueBackendMQTT  QueueBackend = "mqtt"
)

// TriggerKind records what caused a job to start.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerPush      TriggerKind = "push"
	TriggerWatch     TriggerKind = "watch"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job tracks one ingestion run, identified by a 128-bit id (§3 "Ingestion
// job"). DocsProcessed/DocsTotal and SegmentsDone/SegmentsTotal are
// updated atomically so a progress monitor can sample them without
// holding a lock.
type Job struct {
	ID     uuid.UUID
	Source SourceConfig
	Trigger TriggerKind
	Status  Status

	DocsProcessed    atomic.Int64
	DocsTotal        atomic.Int64
	SegmentsDone     atomic.Int64
	SegmentsTotal    atomic.Int64

	CreatedAt   time.Time
	CompletedAt time.Time
	Err         string

	ProducedSegments []string
}

// NewJob constructs a pending job for the given source and trigger.
func NewJob(source SourceConfig, trigger TriggerKind, now time.Time) *Job {
	return &Job{
		ID:        uuid.New(),
		Source:    source,
		Trigger:   trigger,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Snapshot is an immutable, JSON-friendly view of a Job's current state,
// safe to publish or append to the completion log.
type Snapshot struct {
	JobID            uuid.UUID   `json:"job_id"`
	SourceKind       SourceKind  `json:"source_type"`
	Trigger          TriggerKind `json:"trigger"`
	Status           Status      `json:"status"`
	DocsProcessed    int64       `json:"docs_processed"`
	DocsTotal        int64       `json:"docs_total"`
	SegmentsDone     int64       `json:"segments_done"`
	SegmentsTotal    int64       `json:"segments_total"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      time.Time   `json:"completed_at,omitempty"`
	Error            string      `json:"error,omitempty"`
	ProducedSegments []string    `json:"produced_segments,omitempty"`
}

// Snapshot takes a point-in-time copy of the job suitable for publishing
// or logging.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{
		JobID:            j.ID,
		SourceKind:       j.Source.Kind,
		Trigger:          j.Trigger,
		Status:           j.Status,
		DocsProcessed:    j.DocsProcessed.Load(),
		DocsTotal:        j.DocsTotal.Load(),
		SegmentsDone:     j.SegmentsDone.Load(),
		SegmentsTotal:    j.SegmentsTotal.Load(),
		CreatedAt:        j.CreatedAt,
		CompletedAt:      j.CompletedAt,
		Error:            j.Err,
		ProducedSegments: j.ProducedSegments,
	}
}
