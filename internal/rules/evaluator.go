package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"eisenbahn/internal/knowledge"
	"eisenbahn/internal/logging"
)

// historyCapacity bounds each rule's trigger-entry deque (§4.9 step 4).
const historyCapacity = 500

// historyTruncateTop bounds how many matches from one trigger are kept
// in history, sorted by score descending (§4.9 step 4).
const historyTruncateTop = 50

// TriggerEntry is one evaluation's recorded outcome for a rule.
type TriggerEntry struct {
	RuleID    string
	Timestamp time.Time
	Matches   []Match
	DryRun    bool
}

// NotificationChannel is the narrow capability notification dispatch
// consumes (§4.9 step 5, §6 "notification channel implementations").
type NotificationChannel interface {
	Notify(ctx context.Context, channel string, rule Rule, match Match) error
}

// Evaluator runs a rule's full trigger pipeline: context build,
// detection, enrichment, history recording, and notification dispatch.
type Evaluator struct {
	state     *knowledge.State
	backend   SearchBackend
	limiters  *RateLimiters
	notifier  NotificationChannel
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	history map[string][]TriggerEntry
}

// NewEvaluator builds an evaluator. backend and notifier may be nil;
// enrichment and notification are then skipped (enrichment fail-open,
// notification simply not dispatched).
func NewEvaluator(state *knowledge.State, backend SearchBackend, notifier NotificationChannel, now func() time.Time, logger *slog.Logger) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		state:    state,
		backend:  backend,
		limiters: NewRateLimiters(),
		notifier: notifier,
		logger:   logging.Default(logger).With("component", "rules.evaluator"),
		now:      now,
		history:  make(map[string][]TriggerEntry),
	}
}

// Evaluate runs the full pipeline for rule on trigger, recording the
// matches to history and dispatching notifications. DryRun is the
// variant that does neither (§4.9 "Dry-run").
func (e *Evaluator) Evaluate(ctx context.Context, rule Rule) ([]Match, error) {
	return e.evaluate(ctx, rule, false)
}

// DryRun runs the same pipeline as Evaluate without touching history or
// dispatching notifications.
func (e *Evaluator) DryRun(ctx context.Context, rule Rule) ([]Match, error) {
	return e.evaluate(ctx, rule, true)
}

func (e *Evaluator) evaluate(ctx context.Context, rule Rule, dryRun bool) ([]Match, error) {
	evalCtx := BuildEvalContext(e.state)

	matches, err := RunDetection(rule.Detection, evalCtx)
	if err != nil {
		return nil, err
	}

	matches = applyFilters(rule.Filters, matches)
	matches = EnrichMatches(ctx, rule.ID, matches, rule.Detection.Enrichment, e.backend, e.limiters)

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if dryRun {
		return matches, nil
	}

	e.recordHistory(rule.ID, matches)
	e.dispatchNotifications(ctx, rule, matches)

	return matches, nil
}

// applyFilters drops matches whose entity type isn't named by filters,
// when filters are non-empty. Filters are exact-match field predicates
// keyed by field name; "entity_type" is the one field matches expose
// directly.
func applyFilters(filters map[string]string, matches []Match) []Match {
	wantType, hasFilter := filters["entity_type"]
	if !hasFilter {
		return matches
	}
	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.EntityType == wantType {
			kept = append(kept, m)
		}
	}
	return kept
}

func (e *Evaluator) recordHistory(ruleID string, matches []Match) {
	top := matches
	if len(top) > historyTruncateTop {
		top = top[:historyTruncateTop]
	}
	entry := TriggerEntry{RuleID: ruleID, Timestamp: e.now(), Matches: top}

	e.mu.Lock()
	defer e.mu.Unlock()
	deque := append(e.history[ruleID], entry)
	if len(deque) > historyCapacity {
		deque = deque[len(deque)-historyCapacity:]
	}
	e.history[ruleID] = deque
}

// History returns a copy of the recorded trigger entries for ruleID,
// oldest first.
func (e *Evaluator) History(ruleID string) []TriggerEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.history[ruleID]
	out := make([]TriggerEntry, len(src))
	copy(out, src)
	return out
}

func (e *Evaluator) dispatchNotifications(ctx context.Context, rule Rule, matches []Match) {
	if e.notifier == nil || len(matches) == 0 {
		return
	}
	for _, channel := range rule.Channels {
		for _, m := range matches {
			if err := e.notifier.Notify(ctx, channel, rule, m); err != nil {
				e.logger.Warn("notification dispatch failed", "rule_id", rule.ID, "channel", channel, "error", err)
			}
		}
	}
}
