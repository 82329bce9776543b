package knowledge

import (
	"testing"

	"eisenbahn/internal/graph"
)

func TestMemberFeaturesVectorDimension(t *testing.T) {
	f := newMemberFeatures()
	f.LoginCount = 4
	f.UniqueGames["slots"] = struct{}{}
	f.TotalSessions = 10
	f.MobileSessions = 5
	v := f.Vector()
	if len(v) != FeatureDimension {
		t.Fatalf("expected %d dims, got %d", FeatureDimension, len(v))
	}
	if v[5] != 0.5 {
		t.Fatalf("expected mobile ratio 0.5, got %v", v[5])
	}
}

func TestClassifyAnomalyScore(t *testing.T) {
	cases := map[float64]AnomalyClass{
		0.0:  AnomalyNone,
		0.29: AnomalyNone,
		0.30: AnomalyMild,
		0.49: AnomalyMild,
		0.50: AnomalyAnomalous,
		0.69: AnomalyAnomalous,
		0.70: AnomalyHigh,
		1.0:  AnomalyHigh,
	}
	for score, want := range cases {
		if got := ClassifyAnomalyScore(score); got != want {
			t.Errorf("ClassifyAnomalyScore(%v) = %v, want %v", score, got, want)
		}
	}
}

func TestCooccurrencePMI(t *testing.T) {
	a := graph.DeriveNodeID(graph.Member, "M001")
	b := graph.DeriveNodeID(graph.Device, "D001")
	key := graph.EdgeKey{Source: a, Target: b, Type: "cooccurs"}

	stats := &CooccurrenceStats{
		Joint:     map[graph.EdgeKey]int64{key: 5},
		Marginals: map[graph.NodeID]int64{a: 10, b: 10},
		TotalDocs: 100,
	}
	pmi := stats.PMI(key)
	if pmi <= 0 {
		t.Fatalf("expected positive PMI for correlated pair, got %v", pmi)
	}

	missing := graph.EdgeKey{Source: a, Target: graph.DeriveNodeID(graph.Game, "slots"), Type: "cooccurs"}
	if got := stats.PMI(missing); got != 0 {
		t.Fatalf("expected 0 PMI for unseen pair, got %v", got)
	}
}

func TestStateWriteLockMutatesMemberFeature(t *testing.T) {
	s := New(4)
	s.WithWrite(func(st *State) {
		f := st.MemberFeature("M001")
		f.LoginCount++
	})
	s.WithRead(func(st *State) {
		if st.MemberFeatures["M001"].LoginCount != 1 {
			t.Fatalf("expected login count 1")
		}
	})
}
