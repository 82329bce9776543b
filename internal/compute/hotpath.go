// Package compute implements the hot and warm analytical passes (C9a/C9b)
// that read and update the shared knowledge state.
package compute

import (
	"bytes"

	"eisenbahn/internal/document"
	"eisenbahn/internal/graph"
	"eisenbahn/internal/knowledge"
)

// EntityFields names which document fields feed co-occurrence and member
// feature extraction, mirroring the graph package's default field map.
var EntityFields = graph.DefaultFieldMap()

// RunHotPath applies one batch of documents to the shared knowledge state:
// per-member feature accumulation, co-occurrence edge updates, and
// streaming K-means assignment (§4.5). Callers must hold the state's
// write lock (see knowledge.State.WithWrite).
func RunHotPath(state *knowledge.State, docs []document.Document) {
	for _, doc := range docs {
		memberKey, ok := memberKeyOf(doc)
		if ok {
			updateMemberFeatures(state, memberKey, doc)
		}
		updateCooccurrence(state.Cooccurrence, doc)
	}

	for _, doc := range docs {
		memberKey, ok := memberKeyOf(doc)
		if !ok {
			continue
		}
		vec := state.MemberFeature(memberKey).Vector()
		AssignStreamingKMeans(&state.Clusters, memberKey, vec)
	}
}

func memberKeyOf(doc document.Document) (string, bool) {
	v, ok := doc.Fields["memberCode"]
	if !ok {
		return "", false
	}
	key := v.AsString()
	return key, key != ""
}

func updateMemberFeatures(state *knowledge.State, memberKey string, doc document.Document) {
	f := state.MemberFeature(memberKey)

	switch doc.EventType {
	case "login":
		f.LoginCount++
	case "game_round":
		f.GameCount++
		if v, ok := doc.Fields["gameName"]; ok {
			if name := v.AsString(); name != "" {
				f.UniqueGames[name] = struct{}{}
			}
		}
	case "error":
		f.ErrorCount++
	case "popup_interaction":
		f.PopupInteractions++
	case "session":
		f.SessionCount++
		f.TotalSessions++
		if platform, ok := doc.Fields["platform"]; ok && platform.AsString() == "mobile" {
			f.MobileSessions++
		}
		if !f.LastSessionStart.IsZero() {
			gap := doc.Timestamp.Sub(f.LastSessionStart)
			if gap > 0 {
				f.SessionGapSum += gap
			}
		}
		f.LastSessionStart = doc.Timestamp
	}

	if v, ok := doc.Fields["vipGroup"]; ok {
		if s := v.AsString(); s != "" {
			f.VipGroup = s
		}
	}
	if v, ok := doc.Fields["currency"]; ok {
		if s := v.AsString(); s != "" {
			f.Currency = s
		}
	}
}

// updateCooccurrence increments joint/marginal counts for every unordered
// pair of entities present in a document, following the original
// implementation's convention of incrementing total_docs once per pair
// observation rather than once per document (grounded on
// original_source/crates/compute/src/pipeline/cooccurrence.rs).
func updateCooccurrence(stats *knowledge.CooccurrenceStats, doc document.Document) {
	type entity struct {
		Type graph.EntityType
		Key  string
	}
	var present []entity
	for field, entityType := range EntityFields {
		v, ok := doc.Fields[field]
		if !ok {
			continue
		}
		key := v.AsString()
		if key == "" {
			continue
		}
		present = append(present, entity{Type: entityType, Key: key})
	}

	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			a := graph.DeriveNodeID(present[i].Type, present[i].Key)
			b := graph.DeriveNodeID(present[j].Type, present[j].Key)
			src, dst := a, b
			if bytes.Compare(b[:], a[:]) < 0 {
				src, dst = b, a
			}
			key := graph.EdgeKey{Source: src, Target: dst, Type: "cooccurs"}
			stats.Joint[key]++
			stats.Marginals[src]++
			stats.Marginals[dst]++
			stats.TotalDocs++
		}
	}
}
