package rules

import (
	"fmt"

	"eisenbahn/internal/knowledge"
)

// Match is one entity flagged by a rule's detection (§4.9 step 2).
type Match struct {
	EntityID      string
	EntityKey     string
	EntityType    string
	Score         float64
	Signals       map[string]float64
	MatchedReason string
}

// EvalContext is built fresh from the current knowledge state for every
// trigger (§4.9 step 1: "entity data, cluster stats, signal scores").
type EvalContext struct {
	Anomalies      map[string]knowledge.AnomalyScore
	MemberFeatures map[string]*knowledge.MemberFeatures
	Trends         map[string]knowledge.Trend
}

// BuildEvalContext snapshots the parts of state a rule's detection reads,
// under a read lock. A nil state yields an empty context.
func BuildEvalContext(state *knowledge.State) EvalContext {
	var ctx EvalContext
	if state == nil {
		return ctx
	}
	state.WithRead(func(s *knowledge.State) {
		ctx = EvalContext{
			Anomalies:      s.Anomalies,
			MemberFeatures: s.MemberFeatures,
			Trends:         s.Trends,
		}
	})
	return ctx
}

// RunDetection evaluates spec against ctx, producing zero or more matches.
func RunDetection(spec DetectionSpec, ctx EvalContext) ([]Match, error) {
	switch spec.Kind {
	case DetectionTemplate:
		return runTemplate(spec, ctx)
	case DetectionCompose:
		return runCompose(spec, ctx)
	default:
		return nil, fmt.Errorf("rules: unknown detection kind %q", spec.Kind)
	}
}

// runTemplate runs one of the built-in detection templates, parameterized
// by spec.Params. Templates are grounded on the compute pipeline's own
// anomaly classification (§4.6) rather than re-deriving scores.
func runTemplate(spec DetectionSpec, ctx EvalContext) ([]Match, error) {
	switch spec.Template {
	case "anomaly_threshold":
		return anomalyThresholdTemplate(spec.Params, ctx), nil
	case "trend_direction":
		return trendDirectionTemplate(spec.Params, ctx), nil
	default:
		return nil, fmt.Errorf("rules: unknown detection template %q", spec.Template)
	}
}

// anomalyThresholdTemplate flags every member whose combined anomaly
// score is at or above params["min_score"] (default: the Anomalous
// threshold).
func anomalyThresholdTemplate(params map[string]float64, ctx EvalContext) []Match {
	minScore, ok := params["min_score"]
	if !ok {
		minScore = 0.50
	}
	var matches []Match
	for key, score := range ctx.Anomalies {
		if score.Score < minScore {
			continue
		}
		matches = append(matches, Match{
			EntityID:      key,
			EntityKey:     key,
			EntityType:    "member",
			Score:         score.Score,
			Signals:       score.Signals,
			MatchedReason: fmt.Sprintf("anomaly score %.3f >= threshold %.3f (%s)", score.Score, minScore, score.Class),
		})
	}
	return matches
}

// trendDirectionTemplate flags every tracked metric whose magnitude of
// movement exceeds params["min_magnitude"] in the direction named by
// params["direction"] (1 = Up, -1 = Down; any other value matches both).
func trendDirectionTemplate(params map[string]float64, ctx EvalContext) []Match {
	minMagnitude := params["min_magnitude"]
	wantDirection := params["direction"]
	var matches []Match
	for metric, trend := range ctx.Trends {
		if trend.Magnitude < minMagnitude {
			continue
		}
		switch wantDirection {
		case 1:
			if trend.Direction != knowledge.TrendUp {
				continue
			}
		case -1:
			if trend.Direction != knowledge.TrendDown {
				continue
			}
		}
		matches = append(matches, Match{
			EntityID:      metric,
			EntityKey:     metric,
			EntityType:    "metric",
			Score:         trend.Magnitude,
			Signals:       map[string]float64{"current": trend.Current, "baseline_mean": trend.BaselineMean},
			MatchedReason: fmt.Sprintf("trend %s moved %s by magnitude %.3f", metric, trend.Direction, trend.Magnitude),
		})
	}
	return matches
}

// runCompose evaluates every sub-detector and combines their matches by
// entity id according to Combinator: CombineAll keeps only entities every
// sub-detector flagged (scores summed), CombineAny keeps the union
// (scores take the max).
func runCompose(spec DetectionSpec, ctx EvalContext) ([]Match, error) {
	perDetector := make([]map[string]Match, 0, len(spec.SubDetectors))
	for _, sub := range spec.SubDetectors {
		matches, err := RunDetection(sub, ctx)
		if err != nil {
			return nil, err
		}
		byEntity := make(map[string]Match, len(matches))
		for _, m := range matches {
			byEntity[m.EntityID] = m
		}
		perDetector = append(perDetector, byEntity)
	}
	if len(perDetector) == 0 {
		return nil, nil
	}

	switch spec.Combinator {
	case CombineAll:
		return combineAll(perDetector), nil
	case CombineAny, "":
		return combineAny(perDetector), nil
	default:
		return nil, fmt.Errorf("rules: unknown combinator %q", spec.Combinator)
	}
}

func combineAll(perDetector []map[string]Match) []Match {
	candidates := perDetector[0]
	var result []Match
	for entityID, first := range candidates {
		combined := first
		combined.Score = 0
		combined.Signals = map[string]float64{}
		matchedAll := true
		var reasons []string
		for _, detector := range perDetector {
			m, ok := detector[entityID]
			if !ok {
				matchedAll = false
				break
			}
			combined.Score += m.Score
			for k, v := range m.Signals {
				combined.Signals[k] = v
			}
			reasons = append(reasons, m.MatchedReason)
		}
		if !matchedAll {
			continue
		}
		combined.MatchedReason = joinReasons(reasons)
		result = append(result, combined)
	}
	return result
}

func combineAny(perDetector []map[string]Match) []Match {
	best := make(map[string]Match)
	for _, detector := range perDetector {
		for entityID, m := range detector {
			existing, ok := best[entityID]
			if !ok || m.Score > existing.Score {
				best[entityID] = m
			}
		}
	}
	result := make([]Match, 0, len(best))
	for _, m := range best {
		result = append(result, m)
	}
	return result
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
