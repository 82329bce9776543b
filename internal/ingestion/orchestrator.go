package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"eisenbahn/internal/document"
	"eisenbahn/internal/logging"
	"eisenbahn/internal/messaging"
)

// progressInterval bounds how often ingest.record_batch is published,
// per §4.10 ("at most once per second").
const progressInterval = 1 * time.Second

// Orchestrator spawns and tracks ingestion jobs, publishing lifecycle
// events onto the bus and appending completion records to the job log.
// Scheduled (as opposed to manually-triggered) runs are dispatched
// through a gocron scheduler. The compute scheduler does not use gocron;
// it runs its own tick loop.
type Orchestrator struct {
	registry  *Registry
	log       *JobLog
	publisher *messaging.Publisher
	logger    *slog.Logger
	now       func() time.Time
	batchSeq  atomic.Int64
	cron      gocron.Scheduler
}

// New builds an orchestrator. publisher may be nil in tests that don't
// care about bus traffic.
func New(registry *Registry, log *JobLog, publisher *messaging.Publisher, now func() time.Time, logger *slog.Logger) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		cron = nil
	}
	return &Orchestrator{
		registry:  registry,
		log:       log,
		publisher: publisher,
		logger:    logging.Default(logger).With("component", "ingestion.orchestrator"),
		cron:      cron,
		now:       now,
	}
}

// ScheduleJob runs RunJob once, immediately, on the orchestrator's gocron
// scheduler rather than blocking the caller — used for scheduled and
// push-triggered runs where the caller only wants a job id back. The
// supplied ctx is detached from the scheduled task's lifetime; cancel it
// only to prevent scheduling, not to stop an already-dispatched run.
func (o *Orchestrator) ScheduleJob(ctx context.Context, cfg SourceConfig, trigger TriggerKind, sink Sink) error {
	if o.cron == nil {
		go func() { _, _ = o.RunJob(context.WithoutCancel(ctx), cfg, trigger, sink) }()
		return nil
	}
	_, err := o.cron.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() {
			if _, err := o.RunJob(context.WithoutCancel(ctx), cfg, trigger, sink); err != nil {
				o.logger.Warn("scheduled ingestion job failed", "source", cfg.Path, "error", err)
			}
		}),
		gocron.WithName(fmt.Sprintf("ingest:%s:%s", cfg.Kind, cfg.Path)),
	)
	if err != nil {
		return fmt.Errorf("ingestion: schedule job: %w", err)
	}
	return nil
}

// Start begins the gocron scheduler's run loop, if one was constructed.
func (o *Orchestrator) Start() {
	if o.cron != nil {
		o.cron.Start()
	}
}

// Shutdown stops the gocron scheduler's run loop, if one was
// constructed.
func (o *Orchestrator) Shutdown() error {
	if o.cron == nil {
		return nil
	}
	return o.cron.Shutdown()
}

// docCountingSink wraps a Sink and keeps the job's atomic progress
// counters current as each document is accepted.
type docCountingSink struct {
	job  *Job
	next Sink
}

func (s docCountingSink) Put(doc document.Document) (int64, error) {
	n, err := s.next.Put(doc)
	if err != nil {
		return n, err
	}
	s.job.DocsProcessed.Store(n)
	return n, nil
}

// RunJob executes one import end to end: creates the job record,
// publishes ingest.started, runs a progress monitor alongside the
// source-specific importer, and on completion or failure publishes
// ingest.complete and appends to the job log (§4.10).
func (o *Orchestrator) RunJob(ctx context.Context, cfg SourceConfig, trigger TriggerKind, sink Sink) (*Job, error) {
	job := NewJob(cfg, trigger, o.now())
	job.Status = StatusRunning
	o.registry.Put(job)

	o.publishStarted(job)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		o.runProgressMonitor(monitorCtx, job)
	}()

	start := o.now()
	importErr := o.runImporter(ctx, cfg, docCountingSink{job: job, next: sink})
	stopMonitor()
	<-monitorDone

	job.CompletedAt = o.now()
	if importErr != nil {
		job.Status = StatusFailed
		job.Err = importErr.Error()
	} else {
		job.Status = StatusCompleted
	}

	o.publishComplete(job, o.now().Sub(start))
	if err := o.log.Append(job.Snapshot()); err != nil {
		o.logger.Warn("failed to append job log entry", "job_id", job.ID, "error", err)
	}
	o.registry.Remove(job.ID)

	return job, importErr
}

func (o *Orchestrator) runImporter(ctx context.Context, cfg SourceConfig, sink Sink) error {
	var err error
	switch cfg.Kind {
	case SourceMessageQueue, SourceHTTPPush:
		err = QueueListener(ctx, cfg, sink, o.logger)
	default:
		var importer Importer
		importer, err = DispatchImporter(cfg.Kind)
		if err == nil {
			err = importer.Import(ctx, cfg, sink)
		}
	}
	if err != nil {
		return &SourceError{Kind: cfg.Kind, Err: err}
	}
	return nil
}

// runProgressMonitor samples job.DocsProcessed at progressInterval and
// publishes ingest.record_batch until ctx is cancelled.
func (o *Orchestrator) runProgressMonitor(ctx context.Context, job *Job) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var lastReported int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := job.DocsProcessed.Load()
			if current == lastReported {
				continue
			}
			o.publishBatch(job, current-lastReported, current)
			lastReported = current
		}
	}
}

type ingestStartedEvent struct {
	JobID            string     `msgpack:"job_id"`
	Source           string     `msgpack:"source"`
	SourceType       SourceKind `msgpack:"source_type"`
	EstimatedRecords int64      `msgpack:"estimated_records"`
	StartedAt        time.Time  `msgpack:"started_at"`
}

type ingestBatchEvent struct {
	JobID              string `msgpack:"job_id"`
	BatchIndex         int64  `msgpack:"batch_index"`
	BatchRecordCount   int64  `msgpack:"batch_record_count"`
	CumulativeRecords  int64  `msgpack:"cumulative_records"`
	TotalRecords       int64  `msgpack:"total_records"`
	CurrentSegment     string `msgpack:"current_segment"`
}

type ingestCompleteEvent struct {
	JobID         string     `msgpack:"job_id"`
	Source        string     `msgpack:"source"`
	SourceType    SourceKind `msgpack:"source_type"`
	RecordCount   int64      `msgpack:"record_count"`
	DurationMS    int64      `msgpack:"duration_ms"`
	TotalSegments int64      `msgpack:"total_segments"`
	Error         string     `msgpack:"error,omitempty"`
}

func (o *Orchestrator) publishStarted(job *Job) {
	if o.publisher == nil {
		return
	}
	env, err := messaging.NewEnvelope("eisenbahn.ingest.started", ingestStartedEvent{
		JobID:            job.ID.String(),
		Source:           job.Source.Path,
		SourceType:       job.Source.Kind,
		EstimatedRecords: job.DocsTotal.Load(),
		StartedAt:        job.CreatedAt,
	}, o.now())
	if err != nil {
		o.logger.Warn("failed to build ingest.started envelope", "error", err)
		return
	}
	if err := o.publisher.Publish(env); err != nil {
		o.logger.Warn("failed to publish ingest.started", "error", err)
	}
}

func (o *Orchestrator) publishBatch(job *Job, batchCount, cumulative int64) {
	if o.publisher == nil {
		return
	}
	env, err := messaging.NewEnvelope("eisenbahn.ingest.record_batch", ingestBatchEvent{
		JobID:             job.ID.String(),
		BatchIndex:        o.batchSeq.Add(1),
		BatchRecordCount:  batchCount,
		CumulativeRecords: cumulative,
		TotalRecords:      job.DocsTotal.Load(),
	}, o.now())
	if err != nil {
		o.logger.Warn("failed to build ingest.record_batch envelope", "error", err)
		return
	}
	if err := o.publisher.Publish(env); err != nil {
		o.logger.Warn("failed to publish ingest.record_batch", "error", err)
	}
}

func (o *Orchestrator) publishComplete(job *Job, duration time.Duration) {
	if o.publisher == nil {
		return
	}
	env, err := messaging.NewEnvelope("eisenbahn.ingest.complete", ingestCompleteEvent{
		JobID:         job.ID.String(),
		Source:        job.Source.Path,
		SourceType:    job.Source.Kind,
		RecordCount:   job.DocsProcessed.Load(),
		DurationMS:    duration.Milliseconds(),
		TotalSegments: int64(len(job.ProducedSegments)),
		Error:         job.Err,
	}, o.now())
	if err != nil {
		o.logger.Warn("failed to build ingest.complete envelope", "error", err)
		return
	}
	if err := o.publisher.Publish(env); err != nil {
		o.logger.Warn("failed to publish ingest.complete", "error", err)
	}
}

// SourceError wraps a source-level failure with its originating kind for
// callers that need to distinguish import errors from orchestration
// errors.
type SourceError struct {
	Kind SourceKind
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("ingestion: source %s: %v", e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
