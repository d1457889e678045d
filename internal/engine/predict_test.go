package engine

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/backcast/backcast/internal/config"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return New(testStore(t), config.Default())
}

// seedEpisodes ingests three bursts of activity separated by idle gaps:
// two closed contexts and one still open. Returns their IDs in order.
func seedEpisodes(t *testing.T, e *Engine) (a, b, open string) {
	t.Helper()
	ingest := func(at time.Time, app, target string) string {
		id, err := e.Ingest(act(at, app, target))
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		return id
	}

	a = ingest(base, "editor", "report.doc")
	ingest(base.Add(2*time.Minute), "editor", "report.doc")

	b = ingest(base.Add(30*time.Minute), "browser", "docs.example.com")
	ingest(base.Add(32*time.Minute), "browser", "docs.example.com")

	open = ingest(base.Add(60*time.Minute), "terminal", "deploy.sh")
	return a, b, open
}

func TestPredictColdStart(t *testing.T) {
	e := testEngine(t)

	pred := e.Predict(context.Background(), base, PredictOpts{})
	if len(pred.Results) != 0 {
		t.Fatalf("cold start returned %d results, want 0", len(pred.Results))
	}
	if pred.GeneratedAt != base.UnixMilli() {
		t.Errorf("generated_at = %d, want %d", pred.GeneratedAt, base.UnixMilli())
	}
}

func TestPredictSingleActiveContextIsEmpty(t *testing.T) {
	// Only one context has ever existed and it is the active one: there is
	// nothing to predict.
	e := testEngine(t)
	if _, err := e.Ingest(act(base, "editor", "report.doc")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	pred := e.Predict(context.Background(), base.Add(time.Minute), PredictOpts{})
	if len(pred.Results) != 0 {
		t.Fatalf("got %d results, want 0", len(pred.Results))
	}
}

func TestPredictExcludesActiveContext(t *testing.T) {
	e := testEngine(t)
	a, b, open := seedEpisodes(t, e)
	now := base.Add(61 * time.Minute)

	pred := e.Predict(context.Background(), now, PredictOpts{})
	if pred.Anchor != open {
		t.Errorf("anchor = %q, want open context %q", pred.Anchor, open)
	}
	seen := make(map[string]bool)
	for _, r := range pred.Results {
		seen[r.ContextID] = true
	}
	if seen[open] {
		t.Error("active context leaked into results")
	}
	if !seen[a] || !seen[b] {
		t.Errorf("closed contexts missing from results: %v", seen)
	}

	with := e.Predict(context.Background(), now, PredictOpts{IncludeActive: true})
	found := false
	for _, r := range with.Results {
		if r.ContextID == open {
			found = true
		}
	}
	if !found {
		t.Error("IncludeActive did not keep the active context")
	}
}

func TestPredictScoresAreFusedAverages(t *testing.T) {
	e := testEngine(t)
	seedEpisodes(t, e)
	now := base.Add(61 * time.Minute)

	weights := config.Default().Prediction.Weights
	weightFor := map[string]float64{
		SignalSimilarity: weights.Similarity,
		SignalProximity:  weights.Proximity,
		SignalRecency:    weights.Recency,
		SignalPattern:    weights.Pattern,
	}

	pred := e.Predict(context.Background(), now, PredictOpts{})
	if len(pred.Results) == 0 {
		t.Fatal("no results")
	}
	for _, r := range pred.Results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("%s: score %f out of [0,1]", r.ContextID, r.Score)
		}
		if len(r.Signals) == 0 {
			t.Errorf("%s: result with no contributing signals", r.ContextID)
		}

		// The fused score is the weighted average over available
		// signals only, weights renormalized per candidate.
		var weighted, total float64
		for kind, v := range r.Signals {
			if v < 0 || v > 1 {
				t.Errorf("%s: signal %s = %f out of [0,1]", r.ContextID, kind, v)
			}
			weighted += weightFor[kind] * v
			total += weightFor[kind]
		}
		want := weighted / total
		if diff := r.Score - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: score = %f, recomputed %f", r.ContextID, r.Score, want)
		}
	}
}

func TestPredictDeterministic(t *testing.T) {
	e := testEngine(t)
	seedEpisodes(t, e)
	now := base.Add(61 * time.Minute)

	first := e.Predict(context.Background(), now, PredictOpts{})
	second := e.Predict(context.Background(), now, PredictOpts{})
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same inputs, different predictions:\n%+v\n%+v", first, second)
	}
}

func TestPredictRankingIsDescending(t *testing.T) {
	e := testEngine(t)
	seedEpisodes(t, e)
	now := base.Add(61 * time.Minute)

	pred := e.Predict(context.Background(), now, PredictOpts{})
	for i := 1; i < len(pred.Results); i++ {
		if pred.Results[i].Score > pred.Results[i-1].Score {
			t.Fatalf("results not sorted: %f before %f",
				pred.Results[i-1].Score, pred.Results[i].Score)
		}
	}
}

func TestPredictTopN(t *testing.T) {
	e := testEngine(t)
	seedEpisodes(t, e)
	now := base.Add(61 * time.Minute)

	pred := e.Predict(context.Background(), now, PredictOpts{TopN: 1})
	if len(pred.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(pred.Results))
	}
}

func TestPredictAttachesSummaries(t *testing.T) {
	e := testEngine(t)
	a, _, _ := seedEpisodes(t, e)
	now := base.Add(61 * time.Minute)

	pred := e.Predict(context.Background(), now, PredictOpts{})
	for _, r := range pred.Results {
		if r.ContextID == a && r.Summary == "" {
			t.Error("closed context result missing its summary")
		}
	}
}

func TestPredictNoAnchorStillScoresRecency(t *testing.T) {
	// Closed history but nothing open and no anchor-dependent signals:
	// recency and pattern alone should still produce a ranking.
	e := testEngine(t)
	a, b, _ := seedEpisodes(t, e)
	e.CloseOpen()
	now := base.Add(2 * time.Hour)

	pred := e.Predict(context.Background(), now, PredictOpts{})
	if len(pred.Results) == 0 {
		t.Fatal("expected results from recency/pattern signals")
	}
	seen := make(map[string]bool)
	for _, r := range pred.Results {
		seen[r.ContextID] = true
		if _, ok := r.Signals[SignalRecency]; !ok {
			t.Errorf("%s: recency signal missing", r.ContextID)
		}
	}
	if !seen[a] || !seen[b] {
		t.Errorf("closed contexts missing: %v", seen)
	}
}
