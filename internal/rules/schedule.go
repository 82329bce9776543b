package rules

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Entry is the scheduler's in-memory mirror of one rule (§3 "Rule
// schedule entry"). NormalizedCron is the rule's 5-field cron with a
// leading "0 " seconds field, giving a 6-field expression the parser can
// walk directly.
type Entry struct {
	RuleID         string
	NormalizedCron string
	Timezone       *time.Location
	Cooldown       time.Duration
	Enabled        bool
	LastTriggered  time.Time

	schedule cron.Schedule
}

// NewEntry builds a schedule entry from a Rule, parsing its cron and
// timezone. last is the entry's initial last-triggered time (zero if the
// rule has never fired).
func NewEntry(r Rule, last time.Time) (*Entry, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid timezone %q for rule %s: %w", r.Timezone, r.ID, err)
	}
	cooldown, err := ParseCooldown(r.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid cooldown for rule %s: %w", r.ID, err)
	}
	normalized := "0 " + r.Cron
	schedule, err := cronParser.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid cron %q for rule %s: %w", r.Cron, r.ID, err)
	}
	return &Entry{
		RuleID:         r.ID,
		NormalizedCron: normalized,
		Timezone:       loc,
		Cooldown:       cooldown,
		Enabled:        r.Enabled,
		LastTriggered:  last,
		schedule:       schedule,
	}, nil
}

// update refreshes the mutable fields (cron, cooldown, enabled, timezone)
// from r, preserving LastTriggered, per §4.9 "sync_rules".
func (e *Entry) update(r Rule) error {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return fmt.Errorf("rules: invalid timezone %q for rule %s: %w", r.Timezone, r.ID, err)
	}
	cooldown, err := ParseCooldown(r.Cooldown)
	if err != nil {
		return fmt.Errorf("rules: invalid cooldown for rule %s: %w", r.ID, err)
	}
	normalized := "0 " + r.Cron
	schedule, err := cronParser.Parse(normalized)
	if err != nil {
		return fmt.Errorf("rules: invalid cron %q for rule %s: %w", r.Cron, r.ID, err)
	}
	e.NormalizedCron = normalized
	e.Timezone = loc
	e.Cooldown = cooldown
	e.Enabled = r.Enabled
	e.schedule = schedule
	return nil
}

// ShouldRun reports whether this rule should fire at now: it must be
// enabled, its cooldown must have elapsed since LastTriggered, and the
// cron must have a tick in the half-open interval (LastTriggered, now]
// (or any tick <= now if it has never triggered) — §4.9 "Scheduling".
func (e *Entry) ShouldRun(now time.Time) bool {
	if !e.Enabled {
		return false
	}
	localNow := now.In(e.Timezone)
	if !e.LastTriggered.IsZero() {
		if localNow.Sub(e.LastTriggered.In(e.Timezone)) < e.Cooldown {
			return false
		}
	}
	from := e.LastTriggered
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	next := e.schedule.Next(from.In(e.Timezone))
	return !next.After(localNow)
}

// Scheduler owns the reconciled table of schedule entries for every
// loaded rule, keyed by rule id.
type Scheduler struct {
	entries map[string]*Entry
}

// NewScheduler builds an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{entries: make(map[string]*Entry)}
}

// SyncRules reconciles the scheduler table with the current rule set:
// new rules are added, rules no longer present are removed, and mutable
// fields on surviving rules are updated in place with LastTriggered
// preserved (§4.9 "sync_rules"). Rules with an invalid cron or timezone
// are skipped and reported so the caller can disable them on load
// (§7 "Rule configuration error").
func (s *Scheduler) SyncRules(current []Rule) (skipped map[string]error) {
	skipped = make(map[string]error)
	seen := make(map[string]struct{}, len(current))

	for _, r := range current {
		seen[r.ID] = struct{}{}
		if existing, ok := s.entries[r.ID]; ok {
			if err := existing.update(r); err != nil {
				skipped[r.ID] = err
			}
			continue
		}
		entry, err := NewEntry(r, time.Time{})
		if err != nil {
			skipped[r.ID] = err
			continue
		}
		s.entries[r.ID] = entry
	}

	for id := range s.entries {
		if _, ok := seen[id]; !ok {
			delete(s.entries, id)
		}
	}
	return skipped
}

// ShouldRun reports whether the named rule should fire at now. Unknown
// rule ids return false.
func (s *Scheduler) ShouldRun(ruleID string, now time.Time) bool {
	e, ok := s.entries[ruleID]
	if !ok {
		return false
	}
	return e.ShouldRun(now)
}

// RecordTrigger marks a rule as having fired at now, resetting its
// cooldown window.
func (s *Scheduler) RecordTrigger(ruleID string, now time.Time) {
	if e, ok := s.entries[ruleID]; ok {
		e.LastTriggered = now
	}
}

// Entry returns the schedule entry for ruleID, if any.
func (s *Scheduler) Entry(ruleID string) (*Entry, bool) {
	e, ok := s.entries[ruleID]
	return e, ok
}

// RuleIDs returns every rule id currently tracked, unordered.
func (s *Scheduler) RuleIDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}
