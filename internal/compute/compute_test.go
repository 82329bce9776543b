package compute

import (
	"testing"
	"time"

	"eisenbahn/internal/document"
	"eisenbahn/internal/graph"
	"eisenbahn/internal/knowledge"
)

func TestRunHotPathUpdatesFeaturesAndCooccurrence(t *testing.T) {
	state := knowledge.New(4)
	doc := document.New("login", time.Now(), document.Fields{
		"memberCode": document.NewText("M001"),
		"deviceId":   document.NewText("D001"),
	})

	state.WithWrite(func(st *knowledge.State) {
		RunHotPath(st, []document.Document{doc})
	})

	state.WithRead(func(st *knowledge.State) {
		if st.MemberFeatures["M001"].LoginCount != 1 {
			t.Fatalf("expected login count 1")
		}
		if _, assigned := st.Clusters.Assignments["M001"]; !assigned {
			t.Fatalf("expected member to be assigned a cluster")
		}
		if st.Cooccurrence.TotalDocs != 1 {
			t.Fatalf("expected one cooccurrence pair recorded, got %d", st.Cooccurrence.TotalDocs)
		}
	})
}

func TestCombineAnomalySignalsWeighting(t *testing.T) {
	score, class := CombineAnomalySignals(0.5, 0.8, 0.0, 0.0)
	want := 0.5*weightStatistical + 0.8*weightDBSCANNoise
	if diff := score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected score %v, got %v", want, score)
	}
	if class != knowledge.AnomalyMild {
		t.Fatalf("expected Mild classification, got %v", class)
	}
}

func TestPageRankSumsToOne(t *testing.T) {
	g := graph.New()
	doc := document.New("session", time.Now(), document.Fields{
		"memberCode": document.NewText("M001"),
		"deviceId":   document.NewText("D001"),
	})
	g.ExtractDocument(doc, graph.DefaultFieldMap(), "2025-06-14")

	ranks := PageRank(g)
	var total float64
	for _, r := range ranks {
		total += r
	}
	if total < 0.99 || total > 1.01 {
		t.Fatalf("expected pagerank to sum to ~1, got %v", total)
	}
}

func TestCommunityDetectionAssignsAllNodes(t *testing.T) {
	g := graph.New()
	doc := document.New("session", time.Now(), document.Fields{
		"memberCode": document.NewText("M001"),
		"deviceId":   document.NewText("D001"),
		"gameName":   document.NewText("slots"),
	})
	g.ExtractDocument(doc, graph.DefaultFieldMap(), "2025-06-14")

	communities := CommunityDetection(g)
	if len(communities) != 3 {
		t.Fatalf("expected 3 nodes assigned a community, got %d", len(communities))
	}
}

func TestPrefixSpanFindsFrequentPattern(t *testing.T) {
	seqs := []EventSequence{
		{MemberKey: "M001", Events: []string{"login", "game_round", "error"}},
		{MemberKey: "M002", Events: []string{"login", "game_round"}},
		{MemberKey: "M003", Events: []string{"login", "popup_interaction"}},
	}
	patterns := PrefixSpan(seqs, PrefixSpanOptions{MinSupport: 2})
	found := false
	for _, p := range patterns {
		if len(p.Sequence) == 1 && p.Sequence[0] == "login" && p.Support == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a frequent 'login' pattern with support 3, got %+v", patterns)
	}
}

func TestDetectTrendDirections(t *testing.T) {
	up := DetectTrend("login_count", 100, 50)
	if up.Direction != knowledge.TrendUp {
		t.Fatalf("expected Up, got %v", up.Direction)
	}
	flat := DetectTrend("login_count", 50, 50)
	if flat.Direction != knowledge.TrendFlat {
		t.Fatalf("expected Flat, got %v", flat.Direction)
	}
}
