package compute

import (
	"time"

	"eisenbahn/internal/knowledge"
)

// EventSequence is one member's ordered event-type history, used as
// input to PrefixSpan sequential pattern mining.
type EventSequence struct {
	MemberKey string
	Events    []string
	Durations []time.Duration // per-event elapsed time since the previous event
}

// PrefixSpanOptions bounds the search.
type PrefixSpanOptions struct {
	MinSupport  int64 // minimum number of sequences a pattern must occur in
	MaxPatternLength int
}

// PrefixSpan mines frequent sequential patterns from a set of member
// event sequences using the classic prefix-projection algorithm: start
// from frequent length-1 prefixes and recursively grow them over each
// sequence's projected (post-prefix) suffix.
func PrefixSpan(sequences []EventSequence, opts PrefixSpanOptions) []knowledge.SequentialPattern {
	if opts.MinSupport < 1 {
		opts.MinSupport = 1
	}
	if opts.MaxPatternLength < 1 {
		opts.MaxPatternLength = 5
	}

	projections := make([][]int, len(sequences)) // per-sequence starting offset (-1 = pruned)
	for i := range sequences {
		projections[i] = []int{0}
	}

	var patterns []knowledge.SequentialPattern
	mine(sequences, projections, nil, opts, &patterns)
	return patterns
}

func mine(sequences []EventSequence, startAt [][]int, prefix []string, opts PrefixSpanOptions, out *[]knowledge.SequentialPattern) {
	if len(prefix) >= opts.MaxPatternLength {
		return
	}

	type occurrence struct {
		seqIdx int
		offset int
	}
	candidateCount := make(map[string][]occurrence)

	for seqIdx, offsets := range startAt {
		seq := sequences[seqIdx]
		seen := make(map[string]bool)
		for _, start := range offsets {
			if start < 0 || start >= len(seq.Events) {
				continue
			}
			for pos := start; pos < len(seq.Events); pos++ {
				ev := seq.Events[pos]
				if seen[ev] {
					continue
				}
				seen[ev] = true
				candidateCount[ev] = append(candidateCount[ev], occurrence{seqIdx: seqIdx, offset: pos + 1})
			}
		}
	}

	for event, occs := range candidateCount {
		support := int64(len(occs))
		if support < opts.MinSupport {
			continue
		}

		members := make(map[string]struct{})
		var totalDuration time.Duration
		var durationSamples int64
		nextStarts := make([][]int, len(sequences))
		for _, occ := range occs {
			members[sequences[occ.seqIdx].MemberKey] = struct{}{}
			nextStarts[occ.seqIdx] = append(nextStarts[occ.seqIdx], occ.offset)
			if occ.offset-1 < len(sequences[occ.seqIdx].Durations) {
				totalDuration += sequences[occ.seqIdx].Durations[occ.offset-1]
				durationSamples++
			}
		}

		var avgDuration time.Duration
		if durationSamples > 0 {
			avgDuration = totalDuration / time.Duration(durationSamples)
		}

		fullSeq := append(append([]string{}, prefix...), event)
		*out = append(*out, knowledge.SequentialPattern{
			Sequence:    fullSeq,
			Support:     support,
			MemberCount: int64(len(members)),
			AvgDuration: avgDuration,
			Category:    patternCategory(fullSeq),
		})

		mine(sequences, nextStarts, fullSeq, opts, out)
	}
}

// patternCategory gives a coarse tag based on the pattern's terminal
// event, used to group patterns in the rule evaluator and dashboards.
func patternCategory(sequence []string) string {
	if len(sequence) == 0 {
		return "unknown"
	}
	switch sequence[len(sequence)-1] {
	case "error":
		return "risk"
	case "game_round":
		return "engagement"
	case "popup_interaction":
		return "engagement"
	default:
		return "general"
	}
}
