package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"eisenbahn/internal/compute"
	"eisenbahn/internal/document"
	"eisenbahn/internal/graph"
	"eisenbahn/internal/knowledge"
	"eisenbahn/internal/messaging"
	"eisenbahn/internal/scheduler"
	"eisenbahn/internal/segment"
	"eisenbahn/internal/store"
)

const defaultClusterCount = 8

// newWorkerCmd runs the compute worker process: it opens the document
// store, drives the hot and warm analytical passes (C9a/C9b) against the
// shared knowledge state through the compute scheduler (C10), and
// publishes health pings on the message bus.
func newWorkerCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the compute worker (hot/warm analytical passes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			busAddr, _ := cmd.Flags().GetString("bus")
			name, _ := cmd.Flags().GetString("name")
			workerThreads, _ := cmd.Flags().GetInt("worker-threads")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return runWorker(ctx, logger, dataDir, busAddr, name, workerThreads)
		},
	}
	cmd.Flags().String("data-dir", "./data", "base data directory for segments and schema")
	cmd.Flags().String("bus", "", "broker frontend address to publish health pings to (optional)")
	cmd.Flags().String("name", "", "worker name (default: generated petname)")
	cmd.Flags().Int("worker-threads", 4, "bounded pool size for P1-P3 compute tasks")
	return cmd
}

func runWorker(ctx context.Context, logger *slog.Logger, dataDir, busAddr, name string, workerThreads int) error {
	st, err := store.Open(dataDir, store.ModeRealtime, logger)
	if err != nil {
		return err
	}

	state := knowledge.New(defaultClusterCount)
	g := graph.New()

	config := scheduler.Config{
		WorkerThreads:      workerThreads,
		IntervalFor:        intervalForPriority,
		ElevatedQueueDepth: 1000,
		CriticalQueueDepth: 5000,
	}
	sched := scheduler.New(config, state, logger, time.Now)
	sched.RegisterTask(newHotPathTask(st, g))
	sched.RegisterTask(newWarmPathTask(g))
	sched.AddDependency("hot-path", "warm-path")

	workerName := messaging.ResolveWorkerName(name)

	var pub *messaging.Publisher
	if busAddr != "" {
		front, err := parseTCPAddr(busAddr)
		if err != nil {
			return err
		}
		pub, err = messaging.ConnectPublisher(ctx, front)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	runtimeWorker := schedulerWorker{name: workerName, sched: sched}
	return messaging.RunWorker(ctx, runtimeWorker, pub, messaging.WorkerRuntimeConfig{
		HealthTopic: "eisenbahn.worker.health",
	}, time.Now, logger)
}

func intervalForPriority(p scheduler.Priority) time.Duration {
	switch p {
	case scheduler.P1:
		return 5 * time.Second
	case scheduler.P2:
		return 30 * time.Second
	case scheduler.P3:
		return 5 * time.Minute
	default:
		return time.Minute
	}
}

// schedulerWorker adapts a *scheduler.Scheduler to the messaging.Worker
// lifecycle interface so RunWorker can drive it under a single health-ping
// and signal-handling loop.
type schedulerWorker struct {
	name  string
	sched *scheduler.Scheduler
}

func (w schedulerWorker) Name() string { return w.name }

func (w schedulerWorker) Start(ctx context.Context) error {
	go w.sched.Run(ctx)
	return nil
}

func (w schedulerWorker) Stop(ctx context.Context) error {
	return nil
}

// hotPathTask runs compute.RunHotPath over documents ingested since the
// task last ran, extracting graph entities along the way. watermark
// tracks the latest document timestamp already folded into the
// knowledge state, so re-ticking never double-counts a document (the
// hot path's per-field counters are not idempotent).
type hotPathTask struct {
	st        *store.Store
	g         *graph.Graph
	watermark time.Time
}

func newHotPathTask(st *store.Store, g *graph.Graph) *hotPathTask {
	return &hotPathTask{st: st, g: g}
}

func (t *hotPathTask) Name() string                 { return "hot-path" }
func (t *hotPathTask) Priority() scheduler.Priority { return scheduler.P1 }

func (t *hotPathTask) ShouldRun(lastRun time.Time, state *knowledge.State) bool {
	return true
}

// liveSegmentHint tags nodes extracted by the running worker, since
// Store.Scan does not expose each document's originating segment id.
const liveSegmentHint segment.ID = "worker-live"

func (t *hotPathTask) Execute(ctx context.Context, state *knowledge.State) error {
	filter := document.Filter{}
	if !t.watermark.IsZero() {
		filter.TimeStart = t.watermark.Add(time.Nanosecond)
	}
	docs, err := t.st.Scan(filter)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	compute.RunHotPath(state, docs)
	for _, doc := range docs {
		t.g.ExtractDocument(doc, compute.EntityFields, liveSegmentHint)
		if doc.Timestamp.After(t.watermark) {
			t.watermark = doc.Timestamp
		}
	}
	return nil
}

// warmPathTask recomputes the derived graph/cluster/trend outputs every
// tick; it depends on hot-path having run at least once (see
// Scheduler.AddDependency in runWorker).
type warmPathTask struct {
	g *graph.Graph
}

func newWarmPathTask(g *graph.Graph) *warmPathTask {
	return &warmPathTask{g: g}
}

func (t *warmPathTask) Name() string             { return "warm-path" }
func (t *warmPathTask) Priority() scheduler.Priority { return scheduler.P2 }

func (t *warmPathTask) ShouldRun(lastRun time.Time, state *knowledge.State) bool {
	return true
}

func (t *warmPathTask) Execute(ctx context.Context, state *knowledge.State) error {
	compute.RunWarmPath(state, compute.WarmPathInput{Graph: t.g})
	return nil
}
