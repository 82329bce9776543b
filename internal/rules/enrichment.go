package rules

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrSearchTimeout is the distinct timeout variant the enrichment
// capability trait must be able to report, per §6 "fails with a timeout
// variant distinct from generic query errors".
var ErrSearchTimeout = errors.New("rules: enrichment search timed out")

// SearchResult is the enrichment backend's response shape (§6).
type SearchResult struct {
	TotalHits  int64
	SampleHits []string
	TookMS     int64
}

// SearchBackend is the narrow capability interface the enrichment step
// consumes. Concrete implementations (Elasticsearch, OpenSearch, ...)
// live outside this module; tests use in-memory fakes.
type SearchBackend interface {
	Search(ctx context.Context, queryBody string, timeoutMS int64) (SearchResult, error)
}

// RateLimiters holds one rolling-window token bucket per rule, keyed by
// rule id, so each rule's enrichment calls are capped independently at
// its configured max_per_hour (§4.9 step 3).
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiters builds an empty limiter table.
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{limiters: make(map[string]*rate.Limiter)}
}

// Allow consumes one token from ruleID's bucket, creating it from
// maxPerHour on first use. A non-positive maxPerHour disables rate
// limiting (always allows).
func (r *RateLimiters) Allow(ruleID string, maxPerHour float64) bool {
	if maxPerHour <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[ruleID]
	if !ok {
		perSecond := maxPerHour / 3600.0
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		r.limiters[ruleID] = limiter
	}
	return limiter.Allow()
}

// EnrichMatches runs the optional enrichment query for each match and
// filters by min_hits/max_hits bounds. Per §4.9 step 3, enrichment is
// fail-open: a nil backend, a rate-limit miss, a timeout, or any query
// error all let the match pass through untouched.
func EnrichMatches(ctx context.Context, ruleID string, matches []Match, spec *EnrichmentSpec, backend SearchBackend, limiters *RateLimiters) []Match {
	if spec == nil || backend == nil {
		return matches
	}

	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if !limiters.Allow(ruleID, spec.MaxPerHour) {
			kept = append(kept, m) // fail-open: rate limit hit
			continue
		}

		result, err := querySearchBackend(ctx, backend, spec, m)
		if err != nil {
			kept = append(kept, m) // fail-open: timeout or query error
			continue
		}

		if spec.MinHits != nil && result.TotalHits < *spec.MinHits {
			continue
		}
		if spec.MaxHits != nil && result.TotalHits > *spec.MaxHits {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func querySearchBackend(ctx context.Context, backend SearchBackend, spec *EnrichmentSpec, m Match) (SearchResult, error) {
	timeoutMS := spec.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	query := renderQuery(spec.QueryTemplate, m)
	result, err := backend.Search(queryCtx, query, timeoutMS)
	if err != nil {
		return SearchResult{}, err
	}
	if queryCtx.Err() != nil {
		return SearchResult{}, ErrSearchTimeout
	}
	return result, nil
}

// renderQuery substitutes the match's entity key into the rule's query
// template wherever "{entity_key}" appears.
func renderQuery(template string, m Match) string {
	return strings.ReplaceAll(template, "{entity_key}", m.EntityKey)
}
