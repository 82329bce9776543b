// Package rules implements the rule scheduler and evaluator (C12): cron
// scheduling with per-rule cooldown, detection (template or composed
// sub-detectors), rate-limited fail-open enrichment, match history, and
// dry-run evaluation.
package rules

// Rule is the on-disk, authoritative definition of one detection rule
// (§3 "Rule"). The engine mirrors rules in memory via a Schedule entry;
// rule files stay the source of truth.
type Rule struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	Enabled     bool
	Inherits    string // id of a parent rule this one inherits defaults from, empty if none

	Cron     string // 5-field cron expression
	Timezone string // IANA timezone name
	Cooldown string // compact duration string (Xd/Xh/Xm/Xs), empty = no cooldown

	Detection DetectionSpec
	Filters   map[string]string // exact-match filters applied to detection matches; only "entity_type" is consulted
	Channels  []string          // configured notification channel names
}

// DetectionKind tags the variant held by a DetectionSpec.
type DetectionKind string

const (
	DetectionTemplate DetectionKind = "template"
	DetectionCompose  DetectionKind = "compose"
)

// DetectionSpec is a tagged union: either a single named template with
// parameters, or a compose graph of sub-detectors combined by Combinator.
type DetectionSpec struct {
	Kind DetectionKind

	Template string
	Params   map[string]float64

	Combinator Combinator
	SubDetectors []DetectionSpec

	Enrichment *EnrichmentSpec
}

// Combinator is how a compose node aggregates its sub-detectors' matches.
type Combinator string

const (
	CombineAll Combinator = "all" // every sub-detector must match the same entity
	CombineAny Combinator = "any" // any sub-detector matching is enough
)

// EnrichmentSpec configures the optional external-search enrichment step.
type EnrichmentSpec struct {
	QueryTemplate string
	MaxPerHour    float64
	MinHits       *int64
	MaxHits       *int64
	TimeoutMS     int64
}
