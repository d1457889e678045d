package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/backcast/backcast/internal/engine"
	"github.com/backcast/backcast/internal/store"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp  int64  `json:"timestamp"`
		DurationMS int64  `json:"duration_ms"`
		Kind       string `json:"kind"`
		App        string `json:"app"`
		Target     string `json:"target"`
		Payload    string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	contextID, err := s.engine.Ingest(store.Activity{
		Timestamp:  req.Timestamp,
		DurationMS: req.DurationMS,
		Kind:       req.Kind,
		App:        req.App,
		Target:     req.Target,
		Payload:    req.Payload,
	})
	switch {
	case errors.Is(err, engine.ErrInvalidActivity):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrOutOfOrder):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"status":     "ok",
		"context_id": contextID,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	opts := engine.PredictOpts{}
	if n := r.URL.Query().Get("top_n"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			opts.TopN = v
		}
	}
	if r.URL.Query().Get("include_active") == "true" {
		opts.IncludeActive = true
	}

	pred := s.engine.Predict(r.Context(), time.Now(), opts)
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	contexts, err := s.db.RecentContexts(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if contexts == nil {
		contexts = []store.Context{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(contexts),
		"contexts": contexts,
	})
}

func (s *Server) handleActiveContext(w http.ResponseWriter, r *http.Request) {
	id, ok := s.engine.ActiveContextID()
	if !ok {
		writeError(w, http.StatusNotFound, "no active context")
		return
	}

	c, err := s.db.GetContext(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "no active context")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contextID")

	c, err := s.db.GetContext(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "context not found")
		return
	}

	activities, err := s.db.ActivitiesForContext(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if activities == nil {
		activities = []store.Activity{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"context":    c,
		"activities": activities,
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	stats := s.engine.Graph.Stats()

	out := map[string]any{"stats": stats}

	// ?node=<id> additionally returns that node's effective neighborhood.
	if nodeID := r.URL.Query().Get("node"); nodeID != "" {
		if _, ok := s.engine.Graph.Node(nodeID); !ok {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}

		type neighborJSON struct {
			ID             string  `json:"id"`
			Kind           string  `json:"kind"`
			Relation       string  `json:"relation"`
			Weight         float64 `json:"weight"`
			LastReinforced int64   `json:"last_reinforced"`
		}
		neighbors := s.engine.Graph.Neighbors(nodeID, now, 0)
		nj := make([]neighborJSON, len(neighbors))
		for i, n := range neighbors {
			nj[i] = neighborJSON{
				ID:             n.ID,
				Kind:           string(n.Kind),
				Relation:       string(n.Relation),
				Weight:         n.Weight,
				LastReinforced: n.LastReinforced,
			}
		}
		out["node"] = nodeID
		out["neighbors"] = nj
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	edges, nodes := s.engine.Prune(time.Now())
	writeJSON(w, http.StatusOK, map[string]int{
		"edges_removed": edges,
		"nodes_removed": nodes,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SaveSnapshot(time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
