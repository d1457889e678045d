package graph

import (
	"sort"
	"sync"
	"time"
)

// Kind classifies a graph node.
type Kind string

const (
	KindContext Kind = "context"
	KindEntity  Kind = "entity"
)

// Relation classifies an edge.
type Relation string

const (
	RelTemporal Relation = "temporal-adjacency"
	RelCooccur  Relation = "co-occurrence"
	RelEntity   Relation = "entity-reference"
)

// Node is a context or entity in the temporal graph.
type Node struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	LastTouched int64  `json:"last_touched"` // unix millis
}

// Edge is a directed relation between two nodes. The stored weight is the
// base weight at LastReinforced; the effective weight at any later time is
// BaseWeight * decay(now - LastReinforced), computed at read time.
type Edge struct {
	From           string   `json:"from"`
	To             string   `json:"to"`
	Relation       Relation `json:"relation"`
	BaseWeight     float64  `json:"base_weight"`
	LastReinforced int64    `json:"last_reinforced"` // unix millis
}

// Neighbor is one entry in a proximity query result.
type Neighbor struct {
	ID             string
	Kind           Kind
	Relation       Relation
	Weight         float64 // effective weight at query time
	LastReinforced int64
}

// Graph holds nodes and time-decaying edges. Reads never mutate state, so
// concurrent Neighbors/Related calls are safe alongside writes; writers are
// serialized globally (event rates are human-scale).
type Graph struct {
	mu        sync.RWMutex
	halfLife  time.Duration
	weightCap float64

	nodes map[string]*Node
	out   map[string]map[string]*Edge // from → to → edge
	in    map[string]map[string]*Edge // to → from → edge
}

// New creates an empty graph. halfLife governs edge decay (e.g. 7 days),
// weightCap bounds base weight growth under repeated reinforcement.
func New(halfLife time.Duration, weightCap float64) *Graph {
	return &Graph{
		halfLife:  halfLife,
		weightCap: weightCap,
		nodes:     make(map[string]*Node),
		out:       make(map[string]map[string]*Edge),
		in:        make(map[string]map[string]*Edge),
	}
}

// UpsertNode creates the node if absent. Idempotent: last-touched only moves
// forward, never back, so out-of-order touches are harmless.
func (g *Graph) UpsertNode(id string, kind Kind, ts time.Time) {
	if id == "" {
		return
	}
	millis := ts.UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		g.nodes[id] = &Node{ID: id, Kind: kind, LastTouched: millis}
		return
	}
	if millis > n.LastTouched {
		n.LastTouched = millis
	}
}

// Node returns a copy of the node, if present.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// ReinforceEdge creates or strengthens the edge from → to. An existing edge
// is first decayed to the reinforcement timestamp, then bumped by increment
// and capped, so chronically co-occurring pairs cannot grow without bound.
// Reinforcements delivered out of order never decrease the stored weight:
// the decay interval is clamped at zero and last-reinforced only moves
// forward. Self-loops are ignored. Both endpoints must already exist.
func (g *Graph) ReinforceEdge(from, to string, rel Relation, ts time.Time, increment float64) {
	if from == to || from == "" || to == "" || increment <= 0 {
		return
	}
	millis := ts.UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.nodes[from] == nil || g.nodes[to] == nil {
		return
	}

	e := g.edgeLocked(from, to)
	if e == nil {
		e = &Edge{From: from, To: to, Relation: rel, BaseWeight: min(increment, g.weightCap), LastReinforced: millis}
		g.insertEdgeLocked(e)
		return
	}

	dt := millis - e.LastReinforced
	if dt < 0 {
		dt = 0
	}
	e.BaseWeight = e.BaseWeight*g.decayMillis(dt) + increment
	if e.BaseWeight > g.weightCap {
		e.BaseWeight = g.weightCap
	}
	if millis > e.LastReinforced {
		e.LastReinforced = millis
	}
}

// Neighbors returns nodes adjacent to id (either direction) with effective
// weight at now, strongest first. Ordering is deterministic: weight desc,
// last-reinforced desc, neighbor id asc. Edges below minWeight are skipped.
func (g *Graph) Neighbors(id string, now time.Time, minWeight float64) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighborsLocked(id, now.UnixMilli(), minWeight)
}

func (g *Graph) neighborsLocked(id string, nowMillis int64, minWeight float64) []Neighbor {
	merged := make(map[string]Neighbor)

	collect := func(other string, e *Edge) {
		n, ok := g.nodes[other]
		if !ok {
			return
		}
		w := g.effectiveWeightLocked(e, nowMillis)
		if w < minWeight {
			return
		}
		// Keep the stronger direction when both exist.
		if prev, ok := merged[other]; ok && prev.Weight >= w {
			return
		}
		merged[other] = Neighbor{
			ID:             other,
			Kind:           n.Kind,
			Relation:       e.Relation,
			Weight:         w,
			LastReinforced: e.LastReinforced,
		}
	}

	for to, e := range g.out[id] {
		collect(to, e)
	}
	for from, e := range g.in[id] {
		collect(from, e)
	}

	result := make([]Neighbor, 0, len(merged))
	for _, n := range merged {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Weight != result[j].Weight {
			return result[i].Weight > result[j].Weight
		}
		if result[i].LastReinforced != result[j].LastReinforced {
			return result[i].LastReinforced > result[j].LastReinforced
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Related walks outward from id up to maxDepth hops, multiplying normalized
// edge weights along each path, and returns reachable nodes by cumulative
// strength. Weight normalization uses the strongest direct edge seen from the
// start node so strengths are comparable across queries.
func (g *Graph) Related(id string, now time.Time, maxDepth int, minWeight float64) []Neighbor {
	if maxDepth < 1 {
		maxDepth = 1
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	nowMillis := now.UnixMilli()
	first := g.neighborsLocked(id, nowMillis, minWeight)
	if len(first) == 0 {
		return nil
	}
	norm := first[0].Weight
	if norm <= 0 {
		return nil
	}

	type frontier struct {
		id       string
		depth    int
		strength float64
	}

	best := make(map[string]Neighbor)
	visited := map[string]bool{id: true}
	queue := []frontier{{id: id, depth: 0, strength: 1.0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		for _, nb := range g.neighborsLocked(cur.id, nowMillis, minWeight) {
			if visited[nb.ID] {
				continue
			}
			visited[nb.ID] = true

			strength := cur.strength * clamp01(nb.Weight/norm)
			nb.Weight = strength
			best[nb.ID] = nb
			queue = append(queue, frontier{id: nb.ID, depth: cur.depth + 1, strength: strength})
		}
	}

	result := make([]Neighbor, 0, len(best))
	for _, n := range best {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Weight != result[j].Weight {
			return result[i].Weight > result[j].Weight
		}
		if result[i].LastReinforced != result[j].LastReinforced {
			return result[i].LastReinforced > result[j].LastReinforced
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// RecentNodes returns up to limit nodes of the given kind, most recently
// touched first. Ties break by id for determinism.
func (g *Graph) RecentNodes(kind Kind, limit int) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var nodes []Node
	for _, n := range g.nodes {
		if n.Kind == kind {
			nodes = append(nodes, *n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].LastTouched != nodes[j].LastTouched {
			return nodes[i].LastTouched > nodes[j].LastTouched
		}
		return nodes[i].ID < nodes[j].ID
	})
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes
}

// Prune removes edges whose effective weight has fallen below minWeight, then
// nodes left with no edges whose last touch is older than retention. Takes
// the write lock for the whole pass so no in-flight read observes a
// half-removed edge.
func (g *Graph) Prune(now time.Time, minWeight float64, retention time.Duration) (edgesRemoved, nodesRemoved int) {
	nowMillis := now.UnixMilli()
	cutoff := now.Add(-retention).UnixMilli()

	g.mu.Lock()
	defer g.mu.Unlock()

	for from, edges := range g.out {
		for to, e := range edges {
			if g.effectiveWeightLocked(e, nowMillis) < minWeight {
				g.removeEdgeLocked(from, to)
				edgesRemoved++
			}
		}
	}

	for id, n := range g.nodes {
		if len(g.out[id]) > 0 || len(g.in[id]) > 0 {
			continue
		}
		if n.LastTouched >= cutoff {
			continue
		}
		delete(g.nodes, id)
		nodesRemoved++
	}
	return edgesRemoved, nodesRemoved
}

// Stats summarizes graph size for health reporting.
type Stats struct {
	Nodes        int `json:"nodes"`
	ContextNodes int `json:"context_nodes"`
	EntityNodes  int `json:"entity_nodes"`
	Edges        int `json:"edges"`
}

func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{Nodes: len(g.nodes)}
	for _, n := range g.nodes {
		switch n.Kind {
		case KindContext:
			s.ContextNodes++
		case KindEntity:
			s.EntityNodes++
		}
	}
	for _, edges := range g.out {
		s.Edges += len(edges)
	}
	return s
}

// EffectiveWeight evaluates the edge from → to at now, or 0 if absent.
func (g *Graph) EffectiveWeight(from, to string, now time.Time) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e := g.edgeLocked(from, to)
	if e == nil {
		return 0
	}
	return g.effectiveWeightLocked(e, now.UnixMilli())
}

func (g *Graph) effectiveWeightLocked(e *Edge, nowMillis int64) float64 {
	dt := nowMillis - e.LastReinforced
	if dt < 0 {
		dt = 0
	}
	return e.BaseWeight * g.decayMillis(dt)
}

func (g *Graph) edgeLocked(from, to string) *Edge {
	if edges, ok := g.out[from]; ok {
		return edges[to]
	}
	return nil
}

func (g *Graph) insertEdgeLocked(e *Edge) {
	if g.out[e.From] == nil {
		g.out[e.From] = make(map[string]*Edge)
	}
	if g.in[e.To] == nil {
		g.in[e.To] = make(map[string]*Edge)
	}
	g.out[e.From][e.To] = e
	g.in[e.To][e.From] = e
}

func (g *Graph) removeEdgeLocked(from, to string) {
	delete(g.out[from], to)
	if len(g.out[from]) == 0 {
		delete(g.out, from)
	}
	delete(g.in[to], from)
	if len(g.in[to]) == 0 {
		delete(g.in, to)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
