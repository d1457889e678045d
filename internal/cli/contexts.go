package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	contextsLimit int
	contextsJSON  bool
)

var contextsCmd = &cobra.Command{
	Use:   "contexts [context-id]",
	Short: "List recent contexts, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runContexts,
}

func init() {
	contextsCmd.Flags().IntVarP(&contextsLimit, "limit", "l", 20, "number of contexts to list")
	contextsCmd.Flags().BoolVar(&contextsJSON, "json", false, "raw JSON output")
}

type contextJSON struct {
	ID            string `json:"id"`
	StartedAt     int64  `json:"started_at"`
	EndedAt       *int64 `json:"ended_at"`
	LastActivity  int64  `json:"last_activity"`
	Summary       string `json:"summary"`
	ActivityCount int    `json:"activity_count"`
}

func runContexts(cmd *cobra.Command, args []string) error {
	client := NewClient()
	if !client.Healthy() {
		return fmt.Errorf("backcast server not reachable (is `backcast serve` running?)")
	}

	if len(args) == 1 {
		return showContext(client, args[0])
	}

	data, err := client.Get("/api/contexts?limit=" + strconv.Itoa(contextsLimit))
	if err != nil {
		return err
	}
	if contextsJSON {
		fmt.Println(string(data))
		return nil
	}

	var resp struct {
		Count    int           `json:"count"`
		Contexts []contextJSON `json:"contexts"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode contexts: %w", err)
	}
	if resp.Count == 0 {
		fmt.Println("no contexts recorded yet")
		return nil
	}

	for _, c := range resp.Contexts {
		state := "open"
		if c.EndedAt != nil {
			state = "closed"
		}
		summary := c.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Printf("%s  %s  %-6s  %3d events  %s\n",
			c.ID[:8],
			time.UnixMilli(c.StartedAt).Format("Jan 2 15:04"),
			state, c.ActivityCount, summary)
	}
	return nil
}

func showContext(client *Client, id string) error {
	data, err := client.Get("/api/contexts/" + id)
	if err != nil {
		return err
	}
	if contextsJSON {
		fmt.Println(string(data))
		return nil
	}

	var resp struct {
		Context    contextJSON `json:"context"`
		Activities []struct {
			Timestamp int64  `json:"timestamp"`
			Kind      string `json:"kind"`
			App       string `json:"app"`
			Target    string `json:"target"`
		} `json:"activities"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode context: %w", err)
	}

	c := resp.Context
	fmt.Printf("context %s\n", c.ID)
	fmt.Printf("  started:  %s\n", time.UnixMilli(c.StartedAt).Format(time.RFC3339))
	if c.EndedAt != nil {
		fmt.Printf("  ended:    %s\n", time.UnixMilli(*c.EndedAt).Format(time.RFC3339))
	} else {
		fmt.Printf("  ended:    (still open)\n")
	}
	if c.Summary != "" {
		fmt.Printf("  summary:  %s\n", c.Summary)
	}
	fmt.Printf("  events:   %d\n", c.ActivityCount)

	for _, a := range resp.Activities {
		fmt.Printf("  %s  %-12s %s %s\n",
			time.UnixMilli(a.Timestamp).Format("15:04:05"), a.Kind, a.App, a.Target)
	}
	return nil
}
