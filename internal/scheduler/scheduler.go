// Package scheduler implements the compute scheduler (C10): priority
// classes, backpressure-aware task admission, a dependency DAG, and a
// bounded worker pool that executes tasks against the shared knowledge
// state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eisenbahn/internal/knowledge"
	"eisenbahn/internal/logging"
)

// Priority is a decreasing-importance task class (§4.7).
type Priority int

const (
	P0 Priority = iota // runs inline on the caller's stack
	P1
	P2
	P3
)

func (p Priority) String() string {
	switch p {
	case P0:
		return "P0"
	case P1:
		return "P1"
	case P2:
		return "P2"
	case P3:
		return "P3"
	default:
		return "unknown"
	}
}

// LoadLevel is the ingest-pressure signal derived from queue depth (§4.7).
type LoadLevel int

const (
	LoadNormal LoadLevel = iota
	LoadElevated
	LoadCritical
)

// Task is one registered periodic compute pass.
type Task interface {
	Name() string
	Priority() Priority
	// ShouldRun consults task-specific gating beyond priority/dependency
	// rules; lastRun is the zero time if the task has never successfully run.
	ShouldRun(lastRun time.Time, state *knowledge.State) bool
	Execute(ctx context.Context, state *knowledge.State) error
}

// Dependency declares that From must have run at least once since
// startup before To becomes eligible (§4.7).
type Dependency struct {
	From string
	To   string
}

// Config bounds scheduler behavior.
type Config struct {
	WorkerThreads int
	TickInterval  time.Duration
	// IntervalFor returns the nominal period for a priority class; used to
	// compute the doubled interval applied to P2 under Elevated load.
	IntervalFor func(Priority) time.Duration
	// ElevatedQueueDepth / CriticalQueueDepth are the ingest-queue-depth
	// thresholds that derive the load level from a raw sample.
	ElevatedQueueDepth int64
	CriticalQueueDepth int64
}

func (c Config) resolvedWorkerThreads() int {
	if c.WorkerThreads <= 0 {
		return 4
	}
	return c.WorkerThreads
}

func (c Config) resolvedTickInterval() time.Duration {
	if c.TickInterval <= 0 {
		return 100 * time.Millisecond
	}
	return c.TickInterval
}

func (c Config) intervalFor(p Priority) time.Duration {
	if c.IntervalFor == nil {
		return time.Minute
	}
	return c.IntervalFor(p)
}

// AssessLoad derives a load level from a raw ingest queue depth sample.
func (c Config) AssessLoad(queueDepth int64) LoadLevel {
	switch {
	case c.CriticalQueueDepth > 0 && queueDepth >= c.CriticalQueueDepth:
		return LoadCritical
	case c.ElevatedQueueDepth > 0 && queueDepth >= c.ElevatedQueueDepth:
		return LoadElevated
	default:
		return LoadNormal
	}
}

// Metrics is a snapshot of scheduler state for observability.
type Metrics struct {
	CurrentLoadLevel  LoadLevel
	IngestQueueDepth  int64
	WorkerUtilization float64
	TasksExecuted     map[string]int64
	LastDuration      map[string]time.Duration
}

// Scheduler owns the registered task set, the shared knowledge state,
// and a bounded worker pool.
type Scheduler struct {
	config Config
	state  *knowledge.State
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	tasks        []Task
	dependencies []Dependency
	lastRun      map[string]time.Time
	tasksRun     map[string]int64
	lastDuration map[string]time.Duration

	ingestQueueDepth atomic.Int64
	activeWorkers    atomic.Int64
	loadLevel        atomic.Int64

	sem chan struct{}
}

// New builds a scheduler bound to the given shared knowledge state.
func New(config Config, state *knowledge.State, logger *slog.Logger, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		config:       config,
		state:        state,
		logger:       logging.Default(logger).With("component", "scheduler"),
		now:          now,
		lastRun:      make(map[string]time.Time),
		tasksRun:     make(map[string]int64),
		lastDuration: make(map[string]time.Duration),
		sem:          make(chan struct{}, config.resolvedWorkerThreads()),
	}
}

// RegisterTask adds a periodic task (P1-P3 conventionally; P0 tasks are
// usually invoked directly via ExecuteImmediate rather than registered).
func (s *Scheduler) RegisterTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	s.logger.Info("registered task", "name", t.Name(), "priority", t.Priority().String())
}

// AddDependency declares from -> to.
func (s *Scheduler) AddDependency(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependencies = append(s.dependencies, Dependency{From: from, To: to})
}

// SetIngestQueueDepth updates the backpressure signal sampled each tick.
func (s *Scheduler) SetIngestQueueDepth(depth int64) {
	s.ingestQueueDepth.Store(depth)
}

// Metrics returns a snapshot of execution counters and the current load.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	executed := make(map[string]int64, len(s.tasksRun))
	for k, v := range s.tasksRun {
		executed[k] = v
	}
	durations := make(map[string]time.Duration, len(s.lastDuration))
	for k, v := range s.lastDuration {
		durations[k] = v
	}
	numWorkers := s.config.resolvedWorkerThreads()
	return Metrics{
		CurrentLoadLevel:  LoadLevel(s.loadLevel.Load()),
		IngestQueueDepth:  s.ingestQueueDepth.Load(),
		WorkerUtilization: float64(s.activeWorkers.Load()) / float64(numWorkers),
		TasksExecuted:     executed,
		LastDuration:      durations,
	}
}

// ExecuteImmediate runs a P0 task inline on the caller's stack, acquiring
// the knowledge-state write lock for its duration (§4.7).
func (s *Scheduler) ExecuteImmediate(ctx context.Context, t Task) error {
	var execErr error
	s.state.WithWrite(func(state *knowledge.State) {
		execErr = s.runGuarded(ctx, t, state)
	})
	if execErr == nil {
		s.recordRun(t.Name(), 0)
	}
	return execErr
}

// Run blocks until ctx is cancelled, driving the per-tick scheduling loop.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.resolvedTickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler starting", "workers", s.config.resolvedWorkerThreads(), "tasks", len(s.tasks))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	depth := s.ingestQueueDepth.Load()
	load := s.config.AssessLoad(depth)
	s.loadLevel.Store(int64(load))

	for _, t := range s.collectRunnable(load) {
		t := t
		select {
		case s.sem <- struct{}{}:
		default:
			// Pool saturated this tick; try again next tick rather than
			// blocking the scheduling loop.
			continue
		}
		s.activeWorkers.Add(1)
		go func() {
			defer func() {
				<-s.sem
				s.activeWorkers.Add(-1)
			}()
			start := s.now()
			var execErr error
			s.state.WithWrite(func(state *knowledge.State) {
				execErr = s.runGuarded(ctx, t, state)
			})
			duration := s.now().Sub(start)
			if execErr != nil {
				s.logger.Warn("task failed", "name", t.Name(), "error", execErr)
				return
			}
			s.recordRun(t.Name(), duration)
		}()
	}
}

// runGuarded executes a task, recovering from panics so one misbehaving
// task never unwinds the scheduler. A panic is treated as a failure: it
// does not mark the task as "run" for dependency purposes (§4.7).
func (s *Scheduler) runGuarded(ctx context.Context, t Task, state *knowledge.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "name", t.Name(), "panic", r)
			err = &PanicError{Task: t.Name(), Value: r}
		}
	}()
	return t.Execute(ctx, state)
}

func (s *Scheduler) recordRun(name string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = s.now()
	s.tasksRun[name]++
	s.lastDuration[name] = duration
}

// collectRunnable applies backpressure, worker-availability, dependency,
// and should_run gating to the registered task set (§4.7).
func (s *Scheduler) collectRunnable(load LoadLevel) []Task {
	s.mu.Lock()
	lastRun := make(map[string]time.Time, len(s.lastRun))
	for k, v := range s.lastRun {
		lastRun[k] = v
	}
	tasks := append([]Task(nil), s.tasks...)
	deps := append([]Dependency(nil), s.dependencies...)
	s.mu.Unlock()

	completed := make(map[string]struct{}, len(lastRun))
	for name := range lastRun {
		completed[name] = struct{}{}
	}

	available := int64(s.config.resolvedWorkerThreads()) - s.activeWorkers.Load()

	var runnable []Task
	for _, t := range tasks {
		priority := t.Priority()

		switch {
		case load == LoadCritical && (priority == P2 || priority == P3):
			continue
		case load == LoadElevated && priority == P3:
			continue
		case load == LoadElevated && priority == P2:
			interval := s.config.intervalFor(priority)
			last, ok := lastRun[t.Name()]
			if ok && s.now().Sub(last) < interval*2 {
				continue
			}
		}

		switch priority {
		case P2:
			if available <= 2 {
				continue
			}
		case P3:
			if available <= 4 {
				continue
			}
		}

		if !dependenciesMet(t.Name(), deps, completed) {
			continue
		}

		last := lastRun[t.Name()]
		shouldRun := false
		s.state.WithRead(func(state *knowledge.State) {
			shouldRun = t.ShouldRun(last, state)
		})
		if shouldRun {
			runnable = append(runnable, t)
		}
	}
	return runnable
}

func dependenciesMet(name string, deps []Dependency, completed map[string]struct{}) bool {
	for _, d := range deps {
		if d.To != name {
			continue
		}
		if _, ok := completed[d.From]; !ok {
			return false
		}
	}
	return true
}

// PanicError wraps a recovered task panic value.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return "task panicked: " + e.Task
}
