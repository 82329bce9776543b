// Package knowledge holds the compute scheduler's shared workspace: the
// derived values the hot and warm compute paths (C9a/C9b) produce and the
// rule evaluator (C12) reads back. A single instance is owned by one
// worker process and guarded by one read/write lock, per §5's
// shared-resource policy ("the graph, knowledge state, and catalog live
// behind a single-writer / many-reader lock per component").
package knowledge

import (
	"math"
	"sync"
	"time"

	"eisenbahn/internal/graph"
)

func log2(x float64) float64 { return math.Log2(x) }

// MemberFeatures is the fixed-dimension per-member accumulator set (§4.5.1).
// Count-like fields are additive; ratio-like fields are kept as
// numerator/denominator pairs so partial updates stay combinable.
type MemberFeatures struct {
	LoginCount       int64
	GameCount        int64
	UniqueGames      map[string]struct{}
	ErrorCount       int64
	PopupInteractions int64
	MobileSessions   int64
	TotalSessions    int64
	SessionCount     int64
	SessionGapSum    time.Duration
	LastSessionStart time.Time
	VipGroup         string
	Currency         string
}

func newMemberFeatures() *MemberFeatures {
	return &MemberFeatures{UniqueGames: make(map[string]struct{})}
}

// MobileRatio is mobile sessions over total sessions, or 0 if none recorded.
func (f *MemberFeatures) MobileRatio() float64 {
	if f.TotalSessions == 0 {
		return 0
	}
	return float64(f.MobileSessions) / float64(f.TotalSessions)
}

// AverageSessionGap is the mean gap between consecutive sessions.
func (f *MemberFeatures) AverageSessionGap() time.Duration {
	if f.SessionCount < 2 {
		return 0
	}
	return f.SessionGapSum / time.Duration(f.SessionCount-1)
}

// FeatureDimension is the fixed width of the projected feature vector
// (§4.5: "10 dimensions in the current source; dimension is a
// configuration constant").
const FeatureDimension = 10

// Vector projects a MemberFeatures accumulator into a fixed-width vector
// consumed by streaming K-means.
func (f *MemberFeatures) Vector() [FeatureDimension]float64 {
	var v [FeatureDimension]float64
	v[0] = float64(f.LoginCount)
	v[1] = float64(f.GameCount)
	v[2] = float64(len(f.UniqueGames))
	v[3] = float64(f.ErrorCount)
	v[4] = float64(f.PopupInteractions)
	v[5] = f.MobileRatio()
	v[6] = float64(f.SessionCount)
	v[7] = f.AverageSessionGap().Seconds()
	v[8] = vipGroupOrdinal(f.VipGroup)
	v[9] = currencyOrdinal(f.Currency)
	return v
}

// vipGroupOrdinal and currencyOrdinal give a stable numeric encoding for
// categorical fields so they can occupy a dimension in the feature
// vector. Unknown values hash to a small bucket rather than 0, so
// "unset" and a real category both named "" don't collide silently.
func vipGroupOrdinal(s string) float64 {
	if s == "" {
		return 0
	}
	return float64(1 + stableSmallHash(s, 8))
}

func currencyOrdinal(s string) float64 {
	if s == "" {
		return 0
	}
	return float64(1 + stableSmallHash(s, 16))
}

func stableSmallHash(s string, mod int) int {
	h := 0
	for _, r := range s {
		h = (h*31 + int(r)) % mod
		if h < 0 {
			h += mod
		}
	}
	return h
}

// ClusterState is the streaming K-means model: a fixed number of
// centroids plus per-member assignment and running-count weights (§4.5.4).
type ClusterState struct {
	Centroids   [][FeatureDimension]float64
	Counts      []int64 // observations folded into each centroid, for Welford-style updates
	Assignments map[string]int
}

// AnomalyClass buckets a combined anomaly score (§4.6).
type AnomalyClass string

const (
	AnomalyNone      AnomalyClass = "None"
	AnomalyMild      AnomalyClass = "Mild"
	AnomalyAnomalous AnomalyClass = "Anomalous"
	AnomalyHigh      AnomalyClass = "HighlyAnomalous"
)

// ClassifyAnomalyScore maps a clamped [0,1] combined score to a class
// using the fixed thresholds from §4.6 (0.30 / 0.50 / 0.70).
func ClassifyAnomalyScore(score float64) AnomalyClass {
	switch {
	case score >= 0.70:
		return AnomalyHigh
	case score >= 0.50:
		return AnomalyAnomalous
	case score >= 0.30:
		return AnomalyMild
	default:
		return AnomalyNone
	}
}

// AnomalyScore is the per-member combined anomaly result.
type AnomalyScore struct {
	MemberKey string
	Score     float64
	Class     AnomalyClass
	Signals   map[string]float64
}

// CooccurrenceStats tracks joint/marginal counts for PMI (§4.6). Counts are
// cumulative across warm-path passes; PMI itself is recomputed each pass.
type CooccurrenceStats struct {
	Joint     map[graph.EdgeKey]int64
	Marginals map[graph.NodeID]int64
	TotalDocs int64
}

// PMI is the pointwise mutual information for one pair, or 0 if either
// marginal is non-positive.
func (c *CooccurrenceStats) PMI(key graph.EdgeKey) float64 {
	joint := c.Joint[key]
	ma := c.Marginals[key.Source]
	mb := c.Marginals[key.Target]
	if joint <= 0 || ma <= 0 || mb <= 0 || c.TotalDocs <= 0 {
		return 0
	}
	pJoint := float64(joint) / float64(c.TotalDocs)
	pa := float64(ma) / float64(c.TotalDocs)
	pb := float64(mb) / float64(c.TotalDocs)
	return log2(pJoint / (pa * pb))
}

// TrendDirection classifies a metric's movement relative to baseline.
type TrendDirection string

const (
	TrendUp   TrendDirection = "Up"
	TrendDown TrendDirection = "Down"
	TrendFlat TrendDirection = "Flat"
)

// Trend is one metric's current-vs-baseline comparison (§4.6).
type Trend struct {
	Metric       string
	Current      float64
	BaselineMean float64
	Direction    TrendDirection
	Magnitude    float64
}

// SequentialPattern is one PrefixSpan result (§4.6).
type SequentialPattern struct {
	Sequence    []string
	Support     int64
	MemberCount int64
	AvgDuration time.Duration
	Category    string
	Description string
}

// DegreeEntry is one node's in/out/total degree.
type DegreeEntry struct {
	In    int64
	Out   int64
	Total int64
}

// State is the compute scheduler's shared workspace. MemberFeatures,
// Clusters and Cooccurrence are cumulative hot-path state. Each warm-path
// pass replaces Anomalies, and PageRank, Communities and Degrees when it
// is given a graph; Trends is updated per metric. Nothing in this module
// sets Patterns.
type State struct {
	mu sync.RWMutex

	MemberFeatures map[string]*MemberFeatures
	Clusters       ClusterState
	Anomalies      map[string]AnomalyScore
	PageRank       map[graph.NodeID]float64
	Communities    map[graph.NodeID]int
	Degrees        map[graph.NodeID]DegreeEntry
	Cooccurrence   *CooccurrenceStats
	Trends         map[string]Trend
	Patterns       []SequentialPattern
}

// New returns an empty knowledge state sized for a given cluster count.
func New(clusterCount int) *State {
	return &State{
		MemberFeatures: make(map[string]*MemberFeatures),
		Clusters: ClusterState{
			Centroids:   make([][FeatureDimension]float64, clusterCount),
			Counts:      make([]int64, clusterCount),
			Assignments: make(map[string]int),
		},
		Anomalies:    make(map[string]AnomalyScore),
		PageRank:     make(map[graph.NodeID]float64),
		Communities:  make(map[graph.NodeID]int),
		Degrees:      make(map[graph.NodeID]DegreeEntry),
		Cooccurrence: &CooccurrenceStats{Joint: make(map[graph.EdgeKey]int64), Marginals: make(map[graph.NodeID]int64)},
		Trends:       make(map[string]Trend),
	}
}

// WithWrite runs fn with the state's write lock held, for the duration of
// one scheduled task (§4.7: "each acquires a write lock on the shared
// knowledge state for the duration of its work").
func (s *State) WithWrite(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// WithRead runs fn with the state's read lock held.
func (s *State) WithRead(fn func(*State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s)
}

// MemberFeature returns (creating if absent) the accumulator for a member
// key. Callers must hold the write lock (see WithWrite).
func (s *State) MemberFeature(memberKey string) *MemberFeatures {
	f, ok := s.MemberFeatures[memberKey]
	if !ok {
		f = newMemberFeatures()
		s.MemberFeatures[memberKey] = f
	}
	return f
}
