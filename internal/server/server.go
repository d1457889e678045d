package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/backcast/backcast/internal/engine"
	"github.com/backcast/backcast/internal/store"
)

// Server is the backcast HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over an engine and its store.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/activities", s.handleIngest)
		r.Get("/predict", s.handlePredict)

		r.Get("/contexts", s.handleListContexts)
		r.Get("/contexts/active", s.handleActiveContext)
		r.Get("/contexts/{contextID}", s.handleGetContext)

		r.Get("/graph", s.handleGraph)
		r.Post("/graph/prune", s.handlePrune)
		r.Post("/graph/snapshot", s.handleSnapshot)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	embedModel := ""
	if oracle := s.engine.Oracle(); oracle != nil {
		embedModel = oracle.Model()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"uptime":      time.Since(s.started).Seconds(),
		"db":          dbOK,
		"db_path":     s.db.Path,
		"embed_model": embedModel,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
