package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"eisenbahn/internal/knowledge"
)

func TestParseCooldown(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30m", 30 * time.Minute, false},
		{"1d12h", 36 * time.Hour, false},
		{"45s", 45 * time.Second, false},
		{"90", 90 * time.Second, false},
		{"", 0, false},
		{"10x", 0, true},
		{"10m5", 0, true},
	}
	for _, c := range cases {
		got, err := ParseCooldown(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseCooldown(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCooldown(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseCooldown(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEntryShouldRunCooldown(t *testing.T) {
	// S6: cron "* * * * *", cooldown 30m. Trigger at T. At T+5m false, at T+31m true.
	rule := Rule{ID: "r1", Enabled: true, Cron: "* * * * *", Timezone: "UTC", Cooldown: "30m"}
	entry, err := NewEntry(rule, time.Time{})
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	trigger := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry.LastTriggered = trigger

	if entry.ShouldRun(trigger.Add(5 * time.Minute)) {
		t.Fatal("expected should_run=false at T+5m (cooldown not elapsed)")
	}
	if !entry.ShouldRun(trigger.Add(31 * time.Minute)) {
		t.Fatal("expected should_run=true at T+31m (cooldown elapsed, tick available)")
	}
}

func TestEntryShouldRunNeverTriggered(t *testing.T) {
	rule := Rule{ID: "r1", Enabled: true, Cron: "* * * * *", Timezone: "UTC"}
	entry, err := NewEntry(rule, time.Time{})
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if !entry.ShouldRun(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("expected should_run=true for a never-triggered rule with any past tick")
	}
}

func TestEntryShouldRunDisabled(t *testing.T) {
	rule := Rule{ID: "r1", Enabled: false, Cron: "* * * * *", Timezone: "UTC"}
	entry, err := NewEntry(rule, time.Time{})
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if entry.ShouldRun(time.Now()) {
		t.Fatal("expected should_run=false for a disabled rule")
	}
}

func TestSchedulerSyncRulesPreservesLastTriggered(t *testing.T) {
	s := NewScheduler()
	rule := Rule{ID: "r1", Enabled: true, Cron: "*/5 * * * *", Timezone: "UTC", Cooldown: "10m"}
	if skipped := s.SyncRules([]Rule{rule}); len(skipped) != 0 {
		t.Fatalf("unexpected skipped rules: %v", skipped)
	}

	trigger := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.RecordTrigger("r1", trigger)

	updated := rule
	updated.Cooldown = "20m"
	if skipped := s.SyncRules([]Rule{updated}); len(skipped) != 0 {
		t.Fatalf("unexpected skipped rules: %v", skipped)
	}

	entry, ok := s.Entry("r1")
	if !ok {
		t.Fatal("expected entry r1 to survive sync")
	}
	if entry.Cooldown != 20*time.Minute {
		t.Fatalf("expected cooldown updated to 20m, got %v", entry.Cooldown)
	}
	if !entry.LastTriggered.Equal(trigger) {
		t.Fatalf("expected LastTriggered preserved, got %v", entry.LastTriggered)
	}
}

func TestSchedulerSyncRulesRemovesDeleted(t *testing.T) {
	s := NewScheduler()
	r1 := Rule{ID: "r1", Enabled: true, Cron: "* * * * *", Timezone: "UTC"}
	r2 := Rule{ID: "r2", Enabled: true, Cron: "* * * * *", Timezone: "UTC"}
	s.SyncRules([]Rule{r1, r2})
	s.SyncRules([]Rule{r1})

	if _, ok := s.Entry("r2"); ok {
		t.Fatal("expected r2 to be removed after sync without it")
	}
	if _, ok := s.Entry("r1"); !ok {
		t.Fatal("expected r1 to remain")
	}
}

func TestAnomalyThresholdTemplate(t *testing.T) {
	ctx := EvalContext{
		Anomalies: map[string]knowledge.AnomalyScore{
			"m1": {MemberKey: "m1", Score: 0.8, Class: knowledge.AnomalyHigh, Signals: map[string]float64{"behavioral": 0.9}},
			"m2": {MemberKey: "m2", Score: 0.1, Class: knowledge.AnomalyNone},
		},
	}
	matches := anomalyThresholdTemplate(map[string]float64{"min_score": 0.5}, ctx)
	if len(matches) != 1 || matches[0].EntityID != "m1" {
		t.Fatalf("expected one match for m1, got %+v", matches)
	}
}

func TestComposeDetectionCombineAll(t *testing.T) {
	ctx := EvalContext{
		Anomalies: map[string]knowledge.AnomalyScore{
			"m1": {MemberKey: "m1", Score: 0.8},
			"m2": {MemberKey: "m2", Score: 0.6},
		},
		Trends: map[string]knowledge.Trend{
			"m1": {Metric: "m1", Magnitude: 5, Direction: knowledge.TrendUp},
		},
	}
	spec := DetectionSpec{
		Kind:       DetectionCompose,
		Combinator: CombineAll,
		SubDetectors: []DetectionSpec{
			{Kind: DetectionTemplate, Template: "anomaly_threshold", Params: map[string]float64{"min_score": 0.5}},
			{Kind: DetectionTemplate, Template: "trend_direction", Params: map[string]float64{"min_magnitude": 1, "direction": 1}},
		},
	}
	matches, err := RunDetection(spec, ctx)
	if err != nil {
		t.Fatalf("RunDetection: %v", err)
	}
	if len(matches) != 1 || matches[0].EntityID != "m1" {
		t.Fatalf("expected combine-all to keep only m1, got %+v", matches)
	}
}

type fakeSearchBackend struct {
	result SearchResult
	err    error
}

func (f fakeSearchBackend) Search(ctx context.Context, queryBody string, timeoutMS int64) (SearchResult, error) {
	return f.result, f.err
}

func TestEnrichMatchesFailOpenOnError(t *testing.T) {
	backend := fakeSearchBackend{err: errors.New("boom")}
	spec := &EnrichmentSpec{QueryTemplate: "q", MaxPerHour: 100}
	matches := []Match{{EntityID: "m1"}}
	out := EnrichMatches(context.Background(), "r1", matches, spec, backend, NewRateLimiters())
	if len(out) != 1 {
		t.Fatalf("expected fail-open to keep the match, got %+v", out)
	}
}

func TestEnrichMatchesFiltersOnMinHits(t *testing.T) {
	minHits := int64(5)
	backend := fakeSearchBackend{result: SearchResult{TotalHits: 1}}
	spec := &EnrichmentSpec{QueryTemplate: "q", MaxPerHour: 100, MinHits: &minHits}
	matches := []Match{{EntityID: "m1"}}
	out := EnrichMatches(context.Background(), "r1", matches, spec, backend, NewRateLimiters())
	if len(out) != 0 {
		t.Fatalf("expected match rejected for too few hits, got %+v", out)
	}
}

func TestEnrichMatchesNilBackendPassesThrough(t *testing.T) {
	spec := &EnrichmentSpec{QueryTemplate: "q", MaxPerHour: 100}
	matches := []Match{{EntityID: "m1"}}
	out := EnrichMatches(context.Background(), "r1", matches, spec, nil, NewRateLimiters())
	if len(out) != 1 {
		t.Fatalf("expected nil backend to pass matches through untouched, got %+v", out)
	}
}

func TestEvaluatorRecordsHistoryAndTruncates(t *testing.T) {
	state := knowledge.New(4)
	state.WithWrite(func(s *knowledge.State) {
		for i := 0; i < 60; i++ {
			key := string(rune('a' + i%26))
			s.Anomalies[key+string(rune(i))] = knowledge.AnomalyScore{MemberKey: key, Score: 0.5 + float64(i)/1000}
		}
	})
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	eval := NewEvaluator(state, nil, nil, func() time.Time { return now }, nil)

	rule := Rule{
		ID:        "r1",
		Enabled:   true,
		Detection: DetectionSpec{Kind: DetectionTemplate, Template: "anomaly_threshold", Params: map[string]float64{"min_score": 0.4}},
	}
	matches, err := eval.Evaluate(context.Background(), rule)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected matches")
	}

	history := eval.History("r1")
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
	if len(history[0].Matches) > historyTruncateTop {
		t.Fatalf("expected history entry truncated to top %d, got %d", historyTruncateTop, len(history[0].Matches))
	}
}

func TestEvaluatorDryRunDoesNotRecordHistory(t *testing.T) {
	state := knowledge.New(4)
	state.WithWrite(func(s *knowledge.State) {
		s.Anomalies["m1"] = knowledge.AnomalyScore{MemberKey: "m1", Score: 0.9}
	})
	eval := NewEvaluator(state, nil, nil, nil, nil)
	rule := Rule{
		ID:        "r1",
		Detection: DetectionSpec{Kind: DetectionTemplate, Template: "anomaly_threshold", Params: map[string]float64{"min_score": 0.5}},
	}
	matches, err := eval.DryRun(context.Background(), rule)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %+v", matches)
	}
	if len(eval.History("r1")) != 0 {
		t.Fatal("expected dry-run not to record history")
	}
}
