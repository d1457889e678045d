package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	ingestKind     string
	ingestApp      string
	ingestTarget   string
	ingestDuration int64
)

// ingestCmd is the manual entry point for the activity stream — watchers and
// scripts normally POST /api/activities directly.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record one activity event against the running server",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKind, "kind", "app_focus", "activity kind")
	ingestCmd.Flags().StringVar(&ingestApp, "app", "", "application name")
	ingestCmd.Flags().StringVar(&ingestTarget, "target", "", "document, URL, or file the activity touched")
	ingestCmd.Flags().Int64Var(&ingestDuration, "duration", 0, "duration in milliseconds")
}

func runIngest(cmd *cobra.Command, args []string) error {
	client := NewClient()
	if !client.Healthy() {
		return fmt.Errorf("backcast server not reachable (is `backcast serve` running?)")
	}

	body, err := json.Marshal(map[string]any{
		"timestamp":   time.Now().UnixMilli(),
		"duration_ms": ingestDuration,
		"kind":        ingestKind,
		"app":         ingestApp,
		"target":      ingestTarget,
	})
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	data, err := client.Post("/api/activities", body)
	if err != nil {
		return err
	}

	var resp struct {
		ContextID string `json:"context_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Printf("recorded in context %s\n", resp.ContextID)
	return nil
}
