package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/backcast/backcast/internal/store"
)

// Match is one similarity oracle result.
type Match struct {
	ContextID  string  `json:"context_id"`
	Similarity float64 `json:"similarity"` // raw cosine, [-1, 1]
}

// Oracle is the embedding/similarity collaborator facade. Embedding calls may
// be slow (model inference), so every call carries a deadline; callers treat
// oracle failures as "unavailable", never fatal. Embeddings for repeated
// texts are served from a small LRU cache.
type Oracle struct {
	db       *store.DB
	embedder Embedder
	timeout  time.Duration
	cache    *lru.Cache[string, []float64]
}

// NewOracle wires an embedder to the vector store.
func NewOracle(db *store.DB, embedder Embedder, timeout time.Duration, cacheSize int) (*Oracle, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []float64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embed cache: %w", err)
	}
	return &Oracle{db: db, embedder: embedder, timeout: timeout, cache: cache}, nil
}

// Model returns the active embedding model identifier.
func (o *Oracle) Model() string { return o.embedder.Model() }

// Embed returns the embedding for text, consulting the cache first.
func (o *Oracle) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := o.cache.Get(text); ok {
		return vec, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	vec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	o.cache.Add(text, vec)
	return vec, nil
}

// EmbedContext embeds a context's summary and persists the vector.
// Best-effort: callers run this fire-and-forget after a context closes.
func (o *Oracle) EmbedContext(ctx context.Context, contextID, summary string) error {
	if summary == "" {
		return nil
	}
	vec, err := o.Embed(ctx, summary)
	if err != nil {
		return err
	}
	return o.db.SaveVector(contextID, vec, o.embedder.Model())
}

// QueryVector returns the stored embedding for a context, if any.
func (o *Oracle) QueryVector(contextID string) ([]float64, bool) {
	rec, err := o.db.GetVector(contextID)
	if err != nil || rec == nil {
		return nil, false
	}
	return rec.Embedding, true
}

// QuerySimilar returns the topN stored contexts most similar to queryVec,
// best first. Ties break by context ID for determinism.
func (o *Oracle) QuerySimilar(queryVec []float64, topN int) ([]Match, error) {
	vectors, err := o.db.AllVectors()
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	matches := make([]Match, 0, len(vectors))
	for _, v := range vectors {
		matches = append(matches, Match{
			ContextID:  v.ContextID,
			Similarity: CosineSimilarity(queryVec, v.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ContextID < matches[j].ContextID
	})
	if topN > 0 && len(matches) > topN {
		matches = matches[:topN]
	}
	return matches, nil
}

// Similarities scores the given context IDs against queryVec. IDs without a
// stored vector are absent from the result.
func (o *Oracle) Similarities(queryVec []float64, ids []string) (map[string]float64, error) {
	vectors, err := o.db.AllVectors()
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	scores := make(map[string]float64)
	for _, v := range vectors {
		if want[v.ContextID] {
			scores[v.ContextID] = CosineSimilarity(queryVec, v.Embedding)
		}
	}
	return scores, nil
}
