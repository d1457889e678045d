package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/backcast/backcast/internal/config"
	"github.com/backcast/backcast/internal/graph"
	"github.com/backcast/backcast/internal/store"
)

// Coordinator turns the sanitized activity stream into context membership
// and graph reinforcement. It owns the single piece of "current open
// context" state; everything else reads it through ActiveContextID.
//
// Activities are processed in arrival order under one mutex — segmentation
// correctness depends on the stream staying ordered, and event rates are a
// few per second at most.
type Coordinator struct {
	db        *store.DB
	g         *graph.Graph
	oracle    func() *Oracle // resolved lazily; embedder may attach after startup
	increment float64

	idleGap      time.Duration
	appSwitchGap time.Duration
	tolerance    time.Duration

	mu         sync.Mutex
	open       *openContext
	lastClosed string
}

// openContext tracks the in-progress episode.
type openContext struct {
	id           string
	startedAt    time.Time
	lastActivity time.Time
	lastApp      string
	ordinal      int

	// entity occurrence order is preserved for summary stability
	entityOrder []string
	entities    map[string]int // entity node id → occurrence count
}

// NewCoordinator wires segmentation against the store and graph.
func NewCoordinator(db *store.DB, g *graph.Graph, seg config.SegmentationConfig, increment float64, oracle func() *Oracle) *Coordinator {
	return &Coordinator{
		db:           db,
		g:            g,
		oracle:       oracle,
		increment:    increment,
		idleGap:      seg.IdleGap(),
		appSwitchGap: seg.AppSwitchGap(),
		tolerance:    seg.Tolerance(),
	}
}

// ActiveContextID returns the currently open context, if any.
func (c *Coordinator) ActiveContextID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return "", false
	}
	return c.open.id, true
}

// AnchorContextID returns the context a prediction should anchor on: the
// open context if one exists, otherwise the most recently closed one.
func (c *Coordinator) AnchorContextID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open != nil {
		return c.open.id, true
	}
	if c.lastClosed != "" {
		return c.lastClosed, true
	}
	return "", false
}

// Resume picks up a context left open by a previous run if its last activity
// is still within the idle gap; otherwise it closes it retroactively.
func (c *Coordinator) Resume(now time.Time) error {
	// Seed adjacency state with the most recent closed context, so the
	// first episode of this run still links back to history.
	if recent, err := c.db.RecentContexts(10); err == nil {
		for _, rc := range recent {
			if rc.EndedAt != nil {
				c.mu.Lock()
				c.lastClosed = rc.ID
				c.mu.Unlock()
				break
			}
		}
	}

	prev, err := c.db.OpenContext()
	if err != nil {
		return fmt.Errorf("load open context: %w", err)
	}
	if prev == nil {
		return nil
	}

	members, err := c.db.ActivitiesForContext(prev.ID)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}

	last := time.UnixMilli(prev.LastActivity)
	oc := &openContext{
		id:           prev.ID,
		startedAt:    time.UnixMilli(prev.StartedAt),
		lastActivity: last,
		ordinal:      len(members),
		entities:     make(map[string]int),
	}
	for _, a := range members {
		if a.App != "" {
			oc.lastApp = a.App
		}
		for _, e := range entityIDs(a) {
			if oc.entities[e] == 0 {
				oc.entityOrder = append(oc.entityOrder, e)
			}
			oc.entities[e]++
		}
	}

	c.g.UpsertNode(prev.ID, graph.KindContext, last)
	for _, e := range oc.entityOrder {
		c.g.UpsertNode(e, graph.KindEntity, last)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = oc

	if now.Sub(last) <= c.idleGap {
		log.Printf("ingest: resumed open context %s (%d members)", prev.ID, len(members))
		return nil
	}

	// Too stale to continue; close it where it stopped.
	c.closeOpenLocked(last)
	log.Printf("ingest: closed stale context %s from previous run", prev.ID)
	return nil
}

// Ingest processes one sanitized activity: validates it, persists it,
// decides whether it continues the open context or starts a new one, and
// applies graph updates. Storage failures are reported but never roll back
// reinforcement already applied — the graph is the more valuable copy.
func (c *Coordinator) Ingest(a store.Activity) (contextID string, err error) {
	if err := validateActivity(a); err != nil {
		return "", err
	}
	t := time.UnixMilli(a.Timestamp)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil {
		lag := c.open.lastActivity.Sub(t)
		if lag > c.tolerance {
			return "", fmt.Errorf("%w: %s behind open context", ErrOutOfOrder, lag)
		}
	}

	if c.open == nil || c.isBoundary(t, a.App) {
		if c.open != nil {
			c.closeOpenLocked(c.open.lastActivity)
		}
		c.openNewLocked(t, a.App)
	}

	oc := c.open
	a.ContextID = oc.id

	var persistErr error
	if err := c.db.InsertActivity(&a); err != nil {
		persistErr = fmt.Errorf("persist activity: %w", err)
	} else {
		if err := c.db.AddContextActivity(oc.id, a.ID, oc.ordinal); err != nil {
			persistErr = fmt.Errorf("record membership: %w", err)
		}
		if err := c.db.TouchContext(oc.id, a.Timestamp); err != nil {
			persistErr = fmt.Errorf("touch context: %w", err)
		}
	}

	oc.ordinal++
	if t.After(oc.lastActivity) {
		oc.lastActivity = t
	}
	if a.App != "" {
		oc.lastApp = a.App
	}
	for _, e := range entityIDs(a) {
		if oc.entities[e] == 0 {
			oc.entityOrder = append(oc.entityOrder, e)
		}
		oc.entities[e]++
		c.g.UpsertNode(e, graph.KindEntity, t)
	}
	c.g.UpsertNode(oc.id, graph.KindContext, t)

	return oc.id, persistErr
}

// isBoundary reports whether an activity at t starts a new context.
// Called with the mutex held and c.open non-nil.
func (c *Coordinator) isBoundary(t time.Time, app string) bool {
	gap := t.Sub(c.open.lastActivity)
	if gap > c.idleGap {
		return true
	}
	// A shorter lull plus a different top-level application is still a
	// discontinuity.
	if gap > c.appSwitchGap && app != "" && c.open.lastApp != "" && app != c.open.lastApp {
		return true
	}
	return false
}

// closeOpenLocked finalizes the open context: marks its end, runs the final
// reinforcement pass (entity references, entity co-occurrence), and hands the
// summary to the embedding collaborator fire-and-forget.
func (c *Coordinator) closeOpenLocked(end time.Time) {
	oc := c.open
	c.open = nil

	summary := oc.summarize()
	if err := c.db.CloseContext(oc.id, end.UnixMilli(), summary); err != nil {
		log.Printf("ingest: close context %s: %v", oc.id, err)
	}

	for _, e := range oc.entityOrder {
		c.g.ReinforceEdge(oc.id, e, graph.RelEntity, end, c.increment)
	}
	// Entities that shared an episode relate to each other too.
	for i := 0; i < len(oc.entityOrder); i++ {
		for j := i + 1; j < len(oc.entityOrder); j++ {
			c.g.ReinforceEdge(oc.entityOrder[i], oc.entityOrder[j], graph.RelCooccur, end, c.increment/2)
		}
	}

	c.lastClosed = oc.id

	if oracle := c.oracle(); oracle != nil && summary != "" {
		go func(id, text string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := oracle.EmbedContext(ctx, id, text); err != nil {
				log.Printf("ingest: embed context %s: %v", id, err)
			}
		}(oc.id, summary)
	}
}

// openNewLocked starts a fresh context at t.
func (c *Coordinator) openNewLocked(t time.Time, app string) {
	id := uuid.NewString()
	c.open = &openContext{
		id:           id,
		startedAt:    t,
		lastActivity: t,
		lastApp:      app,
		entities:     make(map[string]int),
	}

	if err := c.db.CreateContext(&store.Context{
		ID:           id,
		StartedAt:    t.UnixMilli(),
		LastActivity: t.UnixMilli(),
	}); err != nil {
		log.Printf("ingest: create context: %v", err)
	}
	c.g.UpsertNode(id, graph.KindContext, t)

	// Consecutive episodes are temporally adjacent; the edge lands as soon
	// as the successor opens so proximity queries see it immediately.
	if c.lastClosed != "" {
		c.g.ReinforceEdge(c.lastClosed, id, graph.RelTemporal, t, c.increment)
	}
}

// CloseOpen force-closes the open context at its last activity time
// (shutdown, manual flush).
func (c *Coordinator) CloseOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open != nil {
		c.closeOpenLocked(c.open.lastActivity)
	}
}

// summarize builds the context summary text handed to the embedding
// collaborator: apps and targets by frequency, most common first.
func (oc *openContext) summarize() string {
	type entry struct {
		id    string
		count int
	}
	var apps, targets []entry
	for _, e := range oc.entityOrder {
		count := oc.entities[e]
		if name, ok := strings.CutPrefix(e, "app:"); ok {
			apps = append(apps, entry{name, count})
		} else if name, ok := strings.CutPrefix(e, "target:"); ok {
			targets = append(targets, entry{name, count})
		}
	}
	byCount := func(s []entry) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].count > s[j].count })
	}
	byCount(apps)
	byCount(targets)

	var parts []string
	if len(apps) > 0 {
		names := make([]string, len(apps))
		for i, e := range apps {
			names[i] = e.id
		}
		parts = append(parts, "apps: "+strings.Join(names, ", "))
	}
	if len(targets) > 0 {
		names := make([]string, len(targets))
		for i, e := range targets {
			names[i] = e.id
		}
		parts = append(parts, "targets: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "; ")
}

// entityIDs derives entity node identifiers from an activity.
func entityIDs(a store.Activity) []string {
	var ids []string
	if a.App != "" {
		ids = append(ids, "app:"+a.App)
	}
	if a.Target != "" {
		ids = append(ids, "target:"+a.Target)
	}
	return ids
}
