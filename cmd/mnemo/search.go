package mnemo

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	engine "github.com/soundprediction/mnemo"
	"github.com/soundprediction/mnemo/pkg/types"
)

var (
	searchLimit    int
	searchMinScore float64
	searchAsOf     string
	searchFrom     string
	searchTo       string
	searchSemantic bool
	searchGraph    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge graph",
	Long: `Search runs a hybrid query: semantic vector similarity merged with
graph traversal over entity mentions. Use --as-of to evaluate the query
at a past instant, or --from/--to to scope results to a time window.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		cfg := &engine.SearchConfig{
			Limit:        searchLimit,
			MinScore:     searchMinScore,
			SemanticOnly: searchSemantic,
			GraphOnly:    searchGraph,
		}
		if searchAsOf != "" {
			asOf, err := time.Parse(time.RFC3339, searchAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of, expected RFC3339: %w", err)
			}
			cfg.AsOf = asOf
		}
		if searchFrom != "" || searchTo != "" {
			if searchFrom == "" || searchTo == "" {
				return fmt.Errorf("--from and --to must be given together")
			}
			start, err := time.Parse(time.RFC3339, searchFrom)
			if err != nil {
				return fmt.Errorf("invalid --from, expected RFC3339: %w", err)
			}
			end, err := time.Parse(time.RFC3339, searchTo)
			if err != nil {
				return fmt.Errorf("invalid --to, expected RFC3339: %w", err)
			}
			cfg.Range = &types.TimeRange{Start: start, End: end}
		}

		eng, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		results, err := eng.Search(ctx, query, cfg)
		if err != nil {
			return err
		}

		if results.Total == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, hit := range results.Hits {
			branch := "graph"
			if hit.Semantic {
				branch = fmt.Sprintf("semantic %.3f", hit.Score)
			}
			fmt.Printf("%2d. [%s] %s  (%s)\n", i+1, branch, hit.Episode.Content, hit.Episode.ID)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "similarity floor for semantic hits")
	searchCmd.Flags().StringVar(&searchAsOf, "as-of", "", "evaluate the query at a past instant (RFC3339)")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "restrict results to a time window starting here (RFC3339)")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "end of the --from window, exclusive (RFC3339)")
	searchCmd.Flags().BoolVar(&searchSemantic, "semantic-only", false, "skip the graph branch")
	searchCmd.Flags().BoolVar(&searchGraph, "graph-only", false, "skip the semantic branch")
	rootCmd.AddCommand(searchCmd)
}
