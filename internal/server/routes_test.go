package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

func activityJSON(at time.Time, app, target string) string {
	return fmt.Sprintf(`{"timestamp": %d, "duration_ms": 1000, "kind": "app_focus", "app": %q, "target": %q}`,
		at.UnixMilli(), app, target)
}

// seedContexts posts two bursts of activity separated by an idle gap: one
// closed context and one still open. Returns (closed, open) context IDs.
func seedContexts(t *testing.T, srv *Server) (string, string) {
	t.Helper()
	post := func(at time.Time, app, target string) string {
		w, body := doJSON(t, srv, "POST", "/api/activities", activityJSON(at, app, target))
		if w.Code != http.StatusCreated {
			t.Fatalf("ingest: status = %d, body %v", w.Code, body)
		}
		return body["context_id"].(string)
	}

	closed := post(base, "editor", "report.doc")
	post(base.Add(2*time.Minute), "editor", "report.doc")
	open := post(base.Add(30*time.Minute), "browser", "docs.example.com")
	return closed, open
}

func TestIngestEndpoint(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, "POST", "/api/activities", activityJSON(base, "editor", "report.doc"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if body["context_id"] == "" {
		t.Error("missing context_id")
	}
}

func TestIngestRejectsInvalid(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, "POST", "/api/activities",
		fmt.Sprintf(`{"timestamp": %d, "kind": "app_focus"}`, base.UnixMilli()))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body["error"] == "" {
		t.Error("expected error message")
	}

	w, _ = doJSON(t, srv, "POST", "/api/activities", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIngestRejectsOutOfOrder(t *testing.T) {
	srv := testServer(t)
	seedContexts(t, srv)

	// Ten minutes behind the open context's last activity.
	w, _ := doJSON(t, srv, "POST", "/api/activities",
		activityJSON(base.Add(20*time.Minute), "editor", "report.doc"))
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestActiveContextEndpoint(t *testing.T) {
	srv := testServer(t)

	w, _ := doJSON(t, srv, "GET", "/api/contexts/active", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("no activity: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	_, open := seedContexts(t, srv)
	w, body := doJSON(t, srv, "GET", "/api/contexts/active", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["id"] != open {
		t.Errorf("active id = %v, want %s", body["id"], open)
	}
}

func TestGetContextEndpoint(t *testing.T) {
	srv := testServer(t)
	closed, _ := seedContexts(t, srv)

	w, body := doJSON(t, srv, "GET", "/api/contexts/"+closed, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	c := body["context"].(map[string]any)
	if c["id"] != closed {
		t.Errorf("id = %v, want %s", c["id"], closed)
	}
	if c["ended_at"] == nil {
		t.Error("context should be closed")
	}
	activities := body["activities"].([]any)
	if len(activities) != 2 {
		t.Errorf("got %d activities, want 2", len(activities))
	}

	w, _ = doJSON(t, srv, "GET", "/api/contexts/unknown-id", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListContextsEndpoint(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, "GET", "/api/contexts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["count"].(float64) != 0 {
		t.Errorf("empty store count = %v, want 0", body["count"])
	}

	seedContexts(t, srv)
	w, body = doJSON(t, srv, "GET", "/api/contexts?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("limited count = %v, want 1", body["count"])
	}
}

func TestPredictEndpoint(t *testing.T) {
	srv := testServer(t)

	w, body := doJSON(t, srv, "GET", "/api/predict", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cold start: status = %d, want %d", w.Code, http.StatusOK)
	}
	if results := body["results"].([]any); len(results) != 0 {
		t.Errorf("cold start returned %d results", len(results))
	}

	closed, open := seedContexts(t, srv)
	w, body = doJSON(t, srv, "GET", "/api/predict", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	results := body["results"].([]any)
	if len(results) == 0 {
		t.Fatal("no results after seeding")
	}
	for _, raw := range results {
		r := raw.(map[string]any)
		if r["context_id"] == open {
			t.Error("active context in results")
		}
	}
	first := results[0].(map[string]any)
	if first["context_id"] != closed {
		t.Errorf("top result = %v, want %s", first["context_id"], closed)
	}

	w, body = doJSON(t, srv, "GET", "/api/predict?top_n=1&include_active=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if results := body["results"].([]any); len(results) != 1 {
		t.Errorf("top_n=1 returned %d results", len(results))
	}
}

func TestGraphEndpoints(t *testing.T) {
	srv := testServer(t)
	closed, _ := seedContexts(t, srv)

	w, body := doJSON(t, srv, "GET", "/api/graph", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	stats := body["stats"].(map[string]any)
	if stats["nodes"].(float64) == 0 {
		t.Error("graph has no nodes after seeding")
	}

	w, body = doJSON(t, srv, "GET", "/api/graph?node="+closed, "")
	if w.Code != http.StatusOK {
		t.Fatalf("node query: status = %d, want %d", w.Code, http.StatusOK)
	}
	if neighbors := body["neighbors"].([]any); len(neighbors) == 0 {
		t.Error("closed context has no neighbors")
	}

	w, _ = doJSON(t, srv, "GET", "/api/graph?node=unknown", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown node: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w, body = doJSON(t, srv, "POST", "/api/graph/prune", "")
	if w.Code != http.StatusOK {
		t.Fatalf("prune: status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, ok := body["edges_removed"]; !ok {
		t.Error("prune response missing edges_removed")
	}

	w, _ = doJSON(t, srv, "POST", "/api/graph/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot: status = %d, want %d", w.Code, http.StatusOK)
	}
}
