package mnemo

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsInsights int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge graph counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eng, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		stats, err := eng.Stats(ctx)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))

		if statsInsights > 0 {
			insights, err := eng.Insights(ctx, statsInsights)
			if err != nil {
				return err
			}
			for _, insight := range insights {
				fmt.Printf("- [%.2f] %s -> %s\n", insight.Confidence, insight.Pattern, insight.Action)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsInsights, "insights", 0, "also list the most recent N insights")
	rootCmd.AddCommand(statsCmd)
}
