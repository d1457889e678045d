package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/backcast/backcast/internal/config"
	"github.com/backcast/backcast/internal/graph"
	"github.com/backcast/backcast/internal/store"
)

// Engine orchestrates ingestion, prediction, graph maintenance, and
// embedding. It owns the in-memory graph; the store holds the durable copies
// (activities, contexts, vectors, graph snapshots).
type Engine struct {
	DB    *store.DB
	Graph *graph.Graph
	cfg   config.Config

	coord     *Coordinator
	predictor *Predictor

	mu     sync.RWMutex
	oracle *Oracle

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an Engine around an open store.
func New(db *store.DB, cfg config.Config) *Engine {
	e := &Engine{
		DB:     db,
		Graph:  graph.New(cfg.Graph.HalfLife(), cfg.Graph.WeightCap),
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	e.coord = NewCoordinator(db, e.Graph, cfg.Segmentation, cfg.Graph.ReinforceIncrement, e.Oracle)

	adapters := []Adapter{
		NewSimilarityAdapter(e.Oracle, e.coord.AnchorContextID, cfg.Prediction.SimilarityTopN),
		NewProximityAdapter(e.Graph, e.coord.AnchorContextID, cfg.Prediction.ProximityMinWeight),
		NewRecencyAdapter(db, cfg.Prediction.RecencyHalfLife()),
		NewPatternAdapter(db),
	}
	e.predictor = NewPredictor(e.Graph, adapters, cfg.Prediction, e.coord.ActiveContextID)
	return e
}

// SetEmbedder configures the embedding provider and builds the similarity
// oracle around it. Until this is called all similarity scoring reports
// unavailable.
func (e *Engine) SetEmbedder(emb Embedder) error {
	oracle, err := NewOracle(e.DB, emb, e.cfg.Prediction.OracleTimeout(), e.cfg.Embedding.CacheSize)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.oracle = oracle
	e.mu.Unlock()
	return nil
}

// Oracle returns the similarity oracle, or nil before an embedder attaches.
func (e *Engine) Oracle() *Oracle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oracle
}

// Ingest runs one activity through the coordinator.
func (e *Engine) Ingest(a store.Activity) (string, error) {
	return e.coord.Ingest(a)
}

// Resume restores segmentation state from a previous run.
func (e *Engine) Resume(now time.Time) error {
	return e.coord.Resume(now)
}

// ActiveContextID returns the open context, if any.
func (e *Engine) ActiveContextID() (string, bool) {
	return e.coord.ActiveContextID()
}

// CloseOpen force-closes the open context (shutdown, manual flush).
func (e *Engine) CloseOpen() {
	e.coord.CloseOpen()
}

// Predict returns the ranked likely-next contexts, with summaries attached
// from the store where present.
func (e *Engine) Predict(ctx context.Context, now time.Time, opts PredictOpts) Prediction {
	pred := e.predictor.Predict(ctx, now, opts)

	ids := make([]string, len(pred.Results))
	for i, r := range pred.Results {
		ids[i] = r.ContextID
	}
	contexts, err := e.DB.GetContextsByIDs(ids)
	if err != nil {
		log.Printf("predict: load summaries: %v", err)
		return pred
	}
	for i := range pred.Results {
		if c, ok := contexts[pred.Results[i].ContextID]; ok {
			pred.Results[i].Summary = c.Summary
		}
	}
	return pred
}

// Prune drops decayed edges and stale disconnected nodes.
func (e *Engine) Prune(now time.Time) (edges, nodes int) {
	return e.Graph.Prune(now, e.cfg.Graph.PruneMinWeight, e.cfg.Graph.NodeRetention())
}

// RestoreSnapshot loads the persisted graph snapshot, if one exists.
func (e *Engine) RestoreSnapshot() error {
	snap, err := e.DB.LoadGraphSnapshot()
	if err != nil {
		return fmt.Errorf("load graph snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	var s graph.Snapshot
	if err := json.Unmarshal(snap.Payload, &s); err != nil {
		return fmt.Errorf("decode graph snapshot: %w", err)
	}
	if err := e.Graph.Restore(s); err != nil {
		return fmt.Errorf("restore graph: %w", err)
	}

	stats := e.Graph.Stats()
	log.Printf("graph: restored snapshot from %s (%d nodes, %d edges)",
		time.UnixMilli(snap.SavedAt).Format(time.RFC3339), stats.Nodes, stats.Edges)
	return nil
}

// SaveSnapshot persists the current graph state.
func (e *Engine) SaveSnapshot(now time.Time) error {
	s := e.Graph.Export(now)
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode graph snapshot: %w", err)
	}
	if err := e.DB.SaveGraphSnapshot(store.GraphSnapshot{
		Version: s.Version,
		SavedAt: now.UnixMilli(),
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("save graph snapshot: %w", err)
	}
	return nil
}

// EmbedMissing embeds all closed contexts that don't have a vector or whose
// vector came from a different model. Returns how many were embedded.
func (e *Engine) EmbedMissing(ctx context.Context) (int, error) {
	oracle := e.Oracle()
	if oracle == nil {
		return 0, nil
	}

	closed, err := e.DB.ClosedContextSummaries()
	if err != nil {
		return 0, fmt.Errorf("list summaries: %w", err)
	}

	embedded := 0
	for _, c := range closed {
		existing, err := e.DB.GetVector(c.ID)
		if err != nil {
			log.Printf("embed missing: get vector for %s: %v", c.ID, err)
			continue
		}
		if existing != nil && existing.Model == oracle.Model() {
			continue
		}
		if err := oracle.EmbedContext(ctx, c.ID, c.Summary); err != nil {
			log.Printf("embed missing: %v", err)
			continue
		}
		embedded++
	}
	return embedded, nil
}

// StartMaintenance runs the prune and snapshot loops until Stop.
func (e *Engine) StartMaintenance() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		prune := time.NewTicker(e.cfg.Graph.PruneInterval())
		defer prune.Stop()
		snapshot := time.NewTicker(e.cfg.Graph.SnapshotInterval())
		defer snapshot.Stop()

		for {
			select {
			case <-prune.C:
				if edges, nodes := e.Prune(time.Now()); edges > 0 || nodes > 0 {
					log.Printf("graph: pruned %d edges, %d nodes", edges, nodes)
				}
			case <-snapshot.C:
				if err := e.SaveSnapshot(time.Now()); err != nil {
					log.Printf("graph: snapshot: %v", err)
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down background loops, closes the open context, and writes a
// final snapshot.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()

	e.coord.CloseOpen()
	if err := e.SaveSnapshot(time.Now()); err != nil {
		log.Printf("graph: final snapshot: %v", err)
	}
}
