package engine

import (
	"context"
	"sort"
	"time"

	"github.com/backcast/backcast/internal/config"
	"github.com/backcast/backcast/internal/graph"
)

// Result is one ranked prediction with its per-signal breakdown. Signals holds
// only the signals that were actually available for this candidate.
type Result struct {
	ContextID   string             `json:"context_id"`
	Score       float64            `json:"score"`
	Signals     map[string]float64 `json:"signals"`
	LastTouched int64              `json:"last_touched"`
	Summary     string             `json:"summary,omitempty"`
}

// Prediction is a full predictor response.
type Prediction struct {
	GeneratedAt int64    `json:"generated_at"`
	Anchor      string   `json:"anchor,omitempty"`
	Results     []Result `json:"results"`
}

// PredictOpts tweaks a single prediction call.
type PredictOpts struct {
	// TopN overrides the configured result count when > 0.
	TopN int
	// IncludeActive keeps the currently open context in the results. The
	// default excludes it: "what comes next" rarely means "what you are
	// already doing".
	IncludeActive bool
}

// Predictor fuses the relevance signals into a ranked list of likely next
// contexts. It holds no state of its own beyond wiring; every call reads the
// graph and store as they are now.
type Predictor struct {
	g        *graph.Graph
	adapters []Adapter
	weights  config.FusionWeights
	active   func() (string, bool)

	candidateLimit int
	topN           int
}

// NewPredictor wires the signal adapters and fusion weights.
func NewPredictor(g *graph.Graph, adapters []Adapter, cfg config.PredictionConfig, active func() (string, bool)) *Predictor {
	return &Predictor{
		g:              g,
		adapters:       adapters,
		weights:        cfg.Weights,
		active:         active,
		candidateLimit: cfg.CandidateLimit,
		topN:           cfg.TopN,
	}
}

func (p *Predictor) weightFor(kind string) float64 {
	switch kind {
	case SignalSimilarity:
		return p.weights.Similarity
	case SignalProximity:
		return p.weights.Proximity
	case SignalRecency:
		return p.weights.Recency
	case SignalPattern:
		return p.weights.Pattern
	}
	return 0
}

// Predict assembles the candidate set, scores it through every adapter, and
// fuses the available signals per candidate. With no history it returns an
// empty prediction, not an error.
func (p *Predictor) Predict(ctx context.Context, now time.Time, opts PredictOpts) Prediction {
	pred := Prediction{GeneratedAt: now.UnixMilli(), Results: []Result{}}
	if anchor, ok := p.active(); ok {
		pred.Anchor = anchor
	}

	candidates := p.candidates(ctx, now, opts)
	if len(candidates) == 0 {
		return pred
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// One batch pass per adapter; candidates an adapter cannot score are
	// simply absent from its map.
	byKind := make(map[string]map[string]Score, len(p.adapters))
	for _, a := range p.adapters {
		byKind[a.Kind()] = a.Scores(ctx, ids, now)
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		signals := make(map[string]float64)
		var weighted, totalWeight float64
		for kind, scores := range byKind {
			s, ok := scores[id]
			if !ok || !s.Available {
				continue
			}
			w := p.weightFor(kind)
			if w <= 0 {
				continue
			}
			signals[kind] = s.Value
			weighted += w * s.Value
			totalWeight += w
		}
		if totalWeight == 0 {
			// No signal has anything to say; candidate carries no
			// evidence either way.
			continue
		}
		results = append(results, Result{
			ContextID:   id,
			Score:       weighted / totalWeight,
			Signals:     signals,
			LastTouched: candidates[id],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].LastTouched != results[j].LastTouched {
			return results[i].LastTouched > results[j].LastTouched
		}
		return results[i].ContextID < results[j].ContextID
	})

	topN := p.topN
	if opts.TopN > 0 {
		topN = opts.TopN
	}
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	pred.Results = results
	return pred
}

// candidates gathers context IDs worth scoring: the most recently touched
// context nodes plus whatever candidate-sourcing adapters nominate. Values
// are last-touched timestamps (zero when only nominated).
func (p *Predictor) candidates(ctx context.Context, now time.Time, opts PredictOpts) map[string]int64 {
	candidates := make(map[string]int64)

	for _, n := range p.g.RecentNodes(graph.KindContext, p.candidateLimit) {
		candidates[n.ID] = n.LastTouched
	}
	for _, a := range p.adapters {
		src, ok := a.(CandidateSource)
		if !ok {
			continue
		}
		for _, id := range src.Candidates(ctx, now) {
			if _, seen := candidates[id]; !seen {
				candidates[id] = 0
				if n, ok := p.g.Node(id); ok {
					candidates[id] = n.LastTouched
				}
			}
		}
	}

	if !opts.IncludeActive {
		if active, ok := p.active(); ok {
			delete(candidates, active)
		}
	}
	return candidates
}
