package engine

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/backcast/backcast/internal/graph"
	"github.com/backcast/backcast/internal/store"
)

// Signal kinds, used as fusion weight keys and in prediction breakdowns.
const (
	SignalSimilarity = "similarity"
	SignalProximity  = "proximity"
	SignalRecency    = "recency"
	SignalPattern    = "pattern"
)

// Score is a tagged signal result. A missing signal is Unavailable, which is
// excluded from fusion entirely — never folded in as zero, since "no
// evidence" and "observed weak evidence" mean different things.
type Score struct {
	Value     float64
	Available bool
}

// Available wraps a score, clamped to [0, 1].
func Available(v float64) Score {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return Score{Value: v, Available: true}
}

// Unavailable is the absent-signal result.
var Unavailable = Score{}

// Adapter scores candidate contexts for one relevance signal. Adapters are
// independently callable and must not fail on missing data: candidates they
// cannot score are simply absent from (or Unavailable in) the result.
type Adapter interface {
	Kind() string
	Scores(ctx context.Context, candidates []string, now time.Time) map[string]Score
}

// CandidateSource is implemented by adapters that can also nominate
// candidates of their own (the similarity oracle's top-N query).
type CandidateSource interface {
	Candidates(ctx context.Context, now time.Time) []string
}

// --- similarity ---

// SimilarityAdapter delegates to the embedding similarity oracle, using the
// anchor context's summary embedding as the query. Cold-start contexts
// without embeddings score Unavailable.
type SimilarityAdapter struct {
	oracle func() *Oracle        // resolved lazily; embedder may attach after startup
	anchor func() (string, bool) // active or most recently closed context
	topN   int
}

func NewSimilarityAdapter(oracle func() *Oracle, anchor func() (string, bool), topN int) *SimilarityAdapter {
	return &SimilarityAdapter{oracle: oracle, anchor: anchor, topN: topN}
}

func (a *SimilarityAdapter) Kind() string { return SignalSimilarity }

func (a *SimilarityAdapter) queryVec() (*Oracle, []float64, string, bool) {
	o := a.oracle()
	if o == nil {
		return nil, nil, "", false
	}
	id, ok := a.anchor()
	if !ok {
		return nil, nil, "", false
	}
	vec, ok := o.QueryVector(id)
	if !ok {
		return nil, nil, "", false
	}
	return o, vec, id, true
}

func (a *SimilarityAdapter) Scores(_ context.Context, candidates []string, _ time.Time) map[string]Score {
	o, vec, _, ok := a.queryVec()
	if !ok {
		return nil
	}

	sims, err := o.Similarities(vec, candidates)
	if err != nil {
		log.Printf("similarity: %v", err)
		return nil
	}

	scores := make(map[string]Score, len(sims))
	for id, sim := range sims {
		// Cosine can go negative for dissimilar vectors; negative
		// similarity is just "not similar".
		scores[id] = Available(sim)
	}
	return scores
}

// Candidates nominates the oracle's top-N most similar contexts so strong
// semantic matches reach the predictor even when they fell out of the
// recently-touched window.
func (a *SimilarityAdapter) Candidates(_ context.Context, _ time.Time) []string {
	o, vec, self, ok := a.queryVec()
	if !ok {
		return nil
	}
	matches, err := o.QuerySimilar(vec, a.topN)
	if err != nil {
		log.Printf("similarity candidates: %v", err)
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.ContextID != self {
			ids = append(ids, m.ContextID)
		}
	}
	return ids
}

// --- graph proximity ---

// ProximityAdapter reads the temporal graph outward from the anchor context
// and scores candidates by cumulative relationship strength, normalized by
// the strongest relation observed in the same query so scores stay
// comparable across graphs of very different weight magnitudes.
type ProximityAdapter struct {
	g         *graph.Graph
	anchor    func() (string, bool)
	maxDepth  int
	minWeight float64
}

func NewProximityAdapter(g *graph.Graph, anchor func() (string, bool), minWeight float64) *ProximityAdapter {
	return &ProximityAdapter{g: g, anchor: anchor, maxDepth: 2, minWeight: minWeight}
}

func (a *ProximityAdapter) Kind() string { return SignalProximity }

func (a *ProximityAdapter) Scores(_ context.Context, candidates []string, now time.Time) map[string]Score {
	id, ok := a.anchor()
	if !ok {
		return nil
	}

	related := a.g.Related(id, now, a.maxDepth, a.minWeight)
	if len(related) == 0 {
		return nil
	}

	strengths := make(map[string]float64, len(related))
	maxStrength := 0.0
	for _, n := range related {
		strengths[n.ID] = n.Weight
		if n.Weight > maxStrength {
			maxStrength = n.Weight
		}
	}
	if maxStrength <= 0 {
		return nil
	}

	scores := make(map[string]Score)
	for _, c := range candidates {
		if s, ok := strengths[c]; ok {
			scores[c] = Available(s / maxStrength)
		}
	}
	return scores
}

// --- recency ---

// RecencyAdapter scores continuation: how recently each candidate context
// last saw activity, decayed with a short half-life tuned for "am I still
// doing the same thing" (minutes, not the graph's days).
type RecencyAdapter struct {
	db       *store.DB
	halfLife time.Duration
}

func NewRecencyAdapter(db *store.DB, halfLife time.Duration) *RecencyAdapter {
	return &RecencyAdapter{db: db, halfLife: halfLife}
}

func (a *RecencyAdapter) Kind() string { return SignalRecency }

func (a *RecencyAdapter) Scores(_ context.Context, candidates []string, now time.Time) map[string]Score {
	contexts, err := a.db.GetContextsByIDs(candidates)
	if err != nil {
		log.Printf("recency: %v", err)
		return nil
	}

	scores := make(map[string]Score, len(contexts))
	for id, c := range contexts {
		last := c.LastActivity
		if c.EndedAt != nil && *c.EndedAt > last {
			last = *c.EndedAt
		}
		dt := time.Duration(now.UnixMilli()-last) * time.Millisecond
		scores[id] = Available(graph.Decay(dt, a.halfLife))
	}
	return scores
}

// --- temporal pattern ---

// PatternAdapter scores candidates whose episodes historically started at a
// similar time of day and day of week as now, using circular distance on
// both clocks.
type PatternAdapter struct {
	db *store.DB
}

func NewPatternAdapter(db *store.DB) *PatternAdapter {
	return &PatternAdapter{db: db}
}

func (a *PatternAdapter) Kind() string { return SignalPattern }

func (a *PatternAdapter) Scores(_ context.Context, candidates []string, now time.Time) map[string]Score {
	contexts, err := a.db.GetContextsByIDs(candidates)
	if err != nil {
		log.Printf("pattern: %v", err)
		return nil
	}

	scores := make(map[string]Score, len(contexts))
	for id, c := range contexts {
		started := time.UnixMilli(c.StartedAt)
		scores[id] = Available(timeOfDayMatch(started, now))
	}
	return scores
}

// timeOfDayMatch combines circular time-of-day distance (period 24h) with
// circular day-of-week distance (period 7d). A context started at the same
// hour on the same weekday scores 1; opposite ends of both clocks score 0.
func timeOfDayMatch(a, b time.Time) float64 {
	hourA := float64(a.Hour()) + float64(a.Minute())/60
	hourB := float64(b.Hour()) + float64(b.Minute())/60
	hourDist := circularDistance(hourA, hourB, 24) // [0, 12]
	todScore := 1 - hourDist/12

	dowDist := circularDistance(float64(a.Weekday()), float64(b.Weekday()), 7) // [0, 3.5]
	dowScore := 1 - dowDist/3.5

	return 0.6*todScore + 0.4*dowScore
}

// circularDistance returns the shortest distance between two points on a
// circle of the given period.
func circularDistance(a, b, period float64) float64 {
	d := math.Abs(a - b)
	d = math.Mod(d, period)
	if d > period/2 {
		d = period - d
	}
	return d
}
