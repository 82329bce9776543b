package scheduler

import (
	"context"
	"testing"
	"time"

	"eisenbahn/internal/knowledge"
)

type mockTask struct {
	name       string
	priority   Priority
	alwaysRun  bool
	executions int
	panics     bool
}

func (m *mockTask) Name() string     { return m.name }
func (m *mockTask) Priority() Priority { return m.priority }
func (m *mockTask) ShouldRun(lastRun time.Time, state *knowledge.State) bool {
	return m.alwaysRun
}
func (m *mockTask) Execute(ctx context.Context, state *knowledge.State) error {
	m.executions++
	if m.panics {
		panic("boom")
	}
	return nil
}

func newTestScheduler(cfg Config) *Scheduler {
	state := knowledge.New(2)
	fixedNow := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	return New(cfg, state, nil, func() time.Time { return fixedNow })
}

func TestExecuteImmediateRunsP0(t *testing.T) {
	s := newTestScheduler(Config{WorkerThreads: 4})
	task := &mockTask{name: "p0_task", priority: P0, alwaysRun: true}

	if err := s.ExecuteImmediate(context.Background(), task); err != nil {
		t.Fatalf("ExecuteImmediate: %v", err)
	}
	if task.executions != 1 {
		t.Fatalf("expected 1 execution, got %d", task.executions)
	}
	metrics := s.Metrics()
	if metrics.TasksExecuted["p0_task"] != 1 {
		t.Fatalf("expected task recorded as executed once")
	}
}

func TestBackpressureCriticalBlocksP2P3(t *testing.T) {
	s := newTestScheduler(Config{WorkerThreads: 10})
	p1 := &mockTask{name: "p1", priority: P1, alwaysRun: true}
	p2 := &mockTask{name: "p2", priority: P2, alwaysRun: true}
	p3 := &mockTask{name: "p3", priority: P3, alwaysRun: true}
	s.RegisterTask(p1)
	s.RegisterTask(p2)
	s.RegisterTask(p3)

	runnable := s.collectRunnable(LoadCritical)
	names := taskNames(runnable)
	if !contains(names, "p1") {
		t.Fatalf("expected p1 runnable under Critical")
	}
	if contains(names, "p2") || contains(names, "p3") {
		t.Fatalf("expected p2/p3 blocked under Critical, got %v", names)
	}
}

func TestDependencyEnforcement(t *testing.T) {
	s := newTestScheduler(Config{WorkerThreads: 10})
	entity := &mockTask{name: "entity_extraction", priority: P1, alwaysRun: true}
	pagerank := &mockTask{name: "pagerank", priority: P2, alwaysRun: true}
	s.RegisterTask(entity)
	s.RegisterTask(pagerank)
	s.AddDependency("entity_extraction", "pagerank")

	runnable := s.collectRunnable(LoadNormal)
	names := taskNames(runnable)
	if !contains(names, "entity_extraction") {
		t.Fatalf("expected entity_extraction runnable")
	}
	if contains(names, "pagerank") {
		t.Fatalf("expected pagerank blocked before dependency runs")
	}

	s.recordRun("entity_extraction", time.Millisecond)
	runnable = s.collectRunnable(LoadNormal)
	names = taskNames(runnable)
	if !contains(names, "pagerank") {
		t.Fatalf("expected pagerank runnable once dependency satisfied")
	}
}

func TestWorkerAvailabilityGatesP2(t *testing.T) {
	s := newTestScheduler(Config{WorkerThreads: 3})
	p2 := &mockTask{name: "p2", priority: P2, alwaysRun: true}
	s.RegisterTask(p2)

	runnable := s.collectRunnable(LoadNormal)
	if len(runnable) != 1 {
		t.Fatalf("expected p2 runnable with 3 available workers, got %d", len(runnable))
	}

	s.activeWorkers.Store(1)
	runnable = s.collectRunnable(LoadNormal)
	if len(runnable) != 0 {
		t.Fatalf("expected p2 blocked with only 2 available workers, got %d", len(runnable))
	}
}

func TestShouldRunGate(t *testing.T) {
	s := newTestScheduler(Config{WorkerThreads: 10})
	task := &mockTask{name: "gated", priority: P1, alwaysRun: false}
	s.RegisterTask(task)

	runnable := s.collectRunnable(LoadNormal)
	if len(runnable) != 0 {
		t.Fatalf("expected gated task not runnable when ShouldRun returns false")
	}
}

func TestPanicDoesNotMarkTaskRun(t *testing.T) {
	s := newTestScheduler(Config{WorkerThreads: 10})
	task := &mockTask{name: "panicky", priority: P0, alwaysRun: true, panics: true}

	err := s.ExecuteImmediate(context.Background(), task)
	if err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	metrics := s.Metrics()
	if metrics.TasksExecuted["panicky"] != 0 {
		t.Fatalf("expected panicking task not recorded as run")
	}
}

func taskNames(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name()
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
