package graph

import (
	"fmt"
	"sort"
	"time"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is the serializable form of the graph: node and edge tables with
// base weights and reinforcement timestamps, so decay history survives a
// restart. Produced under the read lock as a consistent view.
type Snapshot struct {
	Version int    `json:"version"`
	SavedAt int64  `json:"saved_at"` // unix millis
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// Export captures the full graph state. Nodes and edges are sorted so the
// output is byte-stable for identical graph state.
func (g *Graph) Export(now time.Time) Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Snapshot{
		Version: SnapshotVersion,
		SavedAt: now.UnixMilli(),
		Nodes:   make([]Node, 0, len(g.nodes)),
	}
	for _, n := range g.nodes {
		s.Nodes = append(s.Nodes, *n)
	}
	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })

	for _, edges := range g.out {
		for _, e := range edges {
			s.Edges = append(s.Edges, *e)
		}
	}
	sort.Slice(s.Edges, func(i, j int) bool {
		if s.Edges[i].From != s.Edges[j].From {
			return s.Edges[i].From < s.Edges[j].From
		}
		return s.Edges[i].To < s.Edges[j].To
	})
	return s
}

// Restore replaces the graph contents with the snapshot. Edges referencing
// unknown nodes or self-loops are dropped rather than failing the whole load.
func (g *Graph) Restore(s Snapshot) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d (want %d)", s.Version, SnapshotVersion)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]*Node, len(s.Nodes))
	g.out = make(map[string]map[string]*Edge)
	g.in = make(map[string]map[string]*Edge)

	for _, n := range s.Nodes {
		node := n
		g.nodes[n.ID] = &node
	}
	for _, e := range s.Edges {
		if e.From == e.To || g.nodes[e.From] == nil || g.nodes[e.To] == nil {
			continue
		}
		edge := e
		if edge.BaseWeight > g.weightCap {
			edge.BaseWeight = g.weightCap
		}
		g.insertEdgeLocked(&edge)
	}
	return nil
}
