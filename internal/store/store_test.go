package store

import (
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := testDB(t)

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}

	// Re-running migrations on an up-to-date DB is a no-op.
	if err := db.migrate(); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}

func TestActivityRoundTrip(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	a := &Activity{
		Timestamp:  now,
		DurationMS: 45000,
		Kind:       "window_focus",
		App:        "editor",
		Target:     "/home/u/project/main.go",
	}
	if err := db.InsertActivity(a); err != nil {
		t.Fatalf("InsertActivity: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("activity ID not assigned")
	}

	recent, err := db.RecentActivities(0, 10)
	if err != nil {
		t.Fatalf("RecentActivities: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d activities, want 1", len(recent))
	}
	got := recent[0]
	if got.App != "editor" || got.Target != "/home/u/project/main.go" || got.DurationMS != 45000 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestRecentActivitiesWindow(t *testing.T) {
	db := testDB(t)
	base := time.Now().UnixMilli()

	for i := 0; i < 5; i++ {
		a := &Activity{Timestamp: base + int64(i*1000), Kind: "window_focus", App: "a"}
		if err := db.InsertActivity(a); err != nil {
			t.Fatalf("InsertActivity: %v", err)
		}
	}

	recent, err := db.RecentActivities(base+3000, 10)
	if err != nil {
		t.Fatalf("RecentActivities: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("got %d activities since cutoff, want 2", len(recent))
	}
	if len(recent) > 1 && recent[0].Timestamp < recent[1].Timestamp {
		t.Error("activities not newest-first")
	}
}

func TestContextLifecycle(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	c := &Context{ID: "ctx-1", StartedAt: now, LastActivity: now}
	if err := db.CreateContext(c); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	open, err := db.OpenContext()
	if err != nil {
		t.Fatalf("OpenContext: %v", err)
	}
	if open == nil || open.ID != "ctx-1" {
		t.Fatalf("open context = %+v, want ctx-1", open)
	}
	if open.EndedAt != nil {
		t.Error("open context has end timestamp")
	}

	if err := db.TouchContext("ctx-1", now+5000); err != nil {
		t.Fatalf("TouchContext: %v", err)
	}
	if err := db.CloseContext("ctx-1", now+5000, "apps: editor; files: main.go"); err != nil {
		t.Fatalf("CloseContext: %v", err)
	}

	open, err = db.OpenContext()
	if err != nil {
		t.Fatalf("OpenContext after close: %v", err)
	}
	if open != nil {
		t.Errorf("expected no open context, got %+v", open)
	}

	got, err := db.GetContext("ctx-1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got.EndedAt == nil || *got.EndedAt != now+5000 {
		t.Errorf("EndedAt = %v, want %d", got.EndedAt, now+5000)
	}
	if got.Summary != "apps: editor; files: main.go" {
		t.Errorf("Summary = %q", got.Summary)
	}
	if got.ActivityCount != 1 {
		t.Errorf("ActivityCount = %d, want 1", got.ActivityCount)
	}
}

func TestContextMembershipOrder(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	c := &Context{ID: "ctx-1", StartedAt: now, LastActivity: now}
	if err := db.CreateContext(c); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		a := &Activity{Timestamp: now + int64(i*1000), Kind: "window_focus", App: "editor"}
		if err := db.InsertActivity(a); err != nil {
			t.Fatalf("InsertActivity: %v", err)
		}
		if err := db.AddContextActivity("ctx-1", a.ID, i); err != nil {
			t.Fatalf("AddContextActivity: %v", err)
		}
		ids = append(ids, a.ID)
	}

	members, err := db.ActivitiesForContext("ctx-1")
	if err != nil {
		t.Fatalf("ActivitiesForContext: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("got %d members, want 3", len(members))
	}
	for i, m := range members {
		if m.ID != ids[i] {
			t.Errorf("member[%d] = %d, want %d (insertion order)", i, m.ID, ids[i])
		}
		if m.ContextID != "ctx-1" {
			t.Errorf("member %d not stamped with context", m.ID)
		}
	}
}

func TestGetContextsByIDs(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := db.CreateContext(&Context{ID: id, StartedAt: now, LastActivity: now}); err != nil {
			t.Fatalf("CreateContext %s: %v", id, err)
		}
	}

	got, err := db.GetContextsByIDs([]string{"c1", "c3", "missing"})
	if err != nil {
		t.Fatalf("GetContextsByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d contexts, want 2", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Error("unexpected entry for missing ID")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()

	if err := db.CreateContext(&Context{ID: "ctx-1", StartedAt: now, LastActivity: now}); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	vec := []float64{0.1, -0.5, 0.93, 0}
	if err := db.SaveVector("ctx-1", vec, "tfidf"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	got, err := db.GetVector("ctx-1")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got == nil {
		t.Fatal("vector not found")
	}
	if got.Model != "tfidf" || got.Dimensions != 4 {
		t.Errorf("record = %+v", got)
	}
	for i := range vec {
		if got.Embedding[i] != vec[i] {
			t.Fatalf("embedding[%d] = %v, want %v", i, got.Embedding[i], vec[i])
		}
	}

	// Replace with a new model's vector.
	if err := db.SaveVector("ctx-1", []float64{1, 2}, "ollama:nomic"); err != nil {
		t.Fatalf("SaveVector replace: %v", err)
	}
	all, err := db.AllVectors()
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(all) != 1 || all[0].Model != "ollama:nomic" || all[0].Dimensions != 2 {
		t.Errorf("after replace: %+v", all)
	}

	missing, err := db.GetVector("nope")
	if err != nil {
		t.Fatalf("GetVector missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing vector")
	}
}

func TestGraphSnapshotRoundTrip(t *testing.T) {
	db := testDB(t)

	none, err := db.LoadGraphSnapshot()
	if err != nil {
		t.Fatalf("LoadGraphSnapshot empty: %v", err)
	}
	if none != nil {
		t.Error("expected nil snapshot on fresh db")
	}

	s := GraphSnapshot{Version: 1, SavedAt: 1234, Payload: []byte(`{"nodes":[]}`)}
	if err := db.SaveGraphSnapshot(s); err != nil {
		t.Fatalf("SaveGraphSnapshot: %v", err)
	}

	// Saving again replaces, never accumulates.
	s2 := GraphSnapshot{Version: 1, SavedAt: 5678, Payload: []byte(`{"nodes":[{"id":"a"}]}`)}
	if err := db.SaveGraphSnapshot(s2); err != nil {
		t.Fatalf("SaveGraphSnapshot replace: %v", err)
	}

	got, err := db.LoadGraphSnapshot()
	if err != nil {
		t.Fatalf("LoadGraphSnapshot: %v", err)
	}
	if got == nil || got.SavedAt != 5678 || string(got.Payload) != `{"nodes":[{"id":"a"}]}` {
		t.Errorf("snapshot = %+v", got)
	}
}
