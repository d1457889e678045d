package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and graph statistics",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := NewClient()
	if !client.Healthy() {
		return fmt.Errorf("backcast server not reachable (is `backcast serve` running?)")
	}

	health, err := client.Get("/api/health")
	if err != nil {
		return err
	}
	var h struct {
		Version    string  `json:"version"`
		Uptime     float64 `json:"uptime"`
		DBPath     string  `json:"db_path"`
		EmbedModel string  `json:"embed_model"`
	}
	if err := json.Unmarshal(health, &h); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}

	graph, err := client.Get("/api/graph")
	if err != nil {
		return err
	}
	var g struct {
		Stats struct {
			Nodes        int `json:"nodes"`
			ContextNodes int `json:"context_nodes"`
			EntityNodes  int `json:"entity_nodes"`
			Edges        int `json:"edges"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(graph, &g); err != nil {
		return fmt.Errorf("decode graph stats: %w", err)
	}

	fmt.Printf("backcast %s\n", h.Version)
	fmt.Printf("  uptime:   %.0fs\n", h.Uptime)
	fmt.Printf("  db:       %s\n", h.DBPath)
	embed := h.EmbedModel
	if embed == "" {
		embed = "(none)"
	}
	fmt.Printf("  embedder: %s\n", embed)
	fmt.Printf("  graph:    %d nodes (%d contexts, %d entities), %d edges\n",
		g.Stats.Nodes, g.Stats.ContextNodes, g.Stats.EntityNodes, g.Stats.Edges)
	return nil
}
