package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	predictTopN          int
	predictIncludeActive bool
	predictJSON          bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Show the contexts you are most likely to switch to",
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().IntVarP(&predictTopN, "top", "n", 0, "number of results (default server-side)")
	predictCmd.Flags().BoolVar(&predictIncludeActive, "include-active", false, "keep the currently open context in the results")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "raw JSON output")
}

func runPredict(cmd *cobra.Command, args []string) error {
	client := NewClient()
	if !client.Healthy() {
		return fmt.Errorf("backcast server not reachable (is `backcast serve` running?)")
	}

	path := "/api/predict"
	params := []string{}
	if predictTopN > 0 {
		params = append(params, "top_n="+strconv.Itoa(predictTopN))
	}
	if predictIncludeActive {
		params = append(params, "include_active=true")
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}

	data, err := client.Get(path)
	if err != nil {
		return err
	}
	if predictJSON {
		fmt.Println(string(data))
		return nil
	}

	var pred struct {
		GeneratedAt int64  `json:"generated_at"`
		Anchor      string `json:"anchor"`
		Results     []struct {
			ContextID   string             `json:"context_id"`
			Score       float64            `json:"score"`
			Signals     map[string]float64 `json:"signals"`
			LastTouched int64              `json:"last_touched"`
			Summary     string             `json:"summary"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &pred); err != nil {
		return fmt.Errorf("decode prediction: %w", err)
	}

	if len(pred.Results) == 0 {
		fmt.Println("no prediction yet — not enough activity history")
		return nil
	}

	for i, r := range pred.Results {
		summary := r.Summary
		if summary == "" {
			summary = r.ContextID
		}
		fmt.Printf("%d. %.3f  %s\n", i+1, r.Score, summary)

		kinds := make([]string, 0, len(r.Signals))
		for k := range r.Signals {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, len(kinds))
		for j, k := range kinds {
			parts[j] = fmt.Sprintf("%s %.2f", k, r.Signals[k])
		}
		fmt.Printf("   %s", strings.Join(parts, ", "))
		if r.LastTouched > 0 {
			fmt.Printf("  (last seen %s)", time.UnixMilli(r.LastTouched).Format("Jan 2 15:04"))
		}
		fmt.Println()
	}
	return nil
}
