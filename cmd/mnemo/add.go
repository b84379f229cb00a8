package mnemo

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	engine "github.com/soundprediction/mnemo"
)

var (
	addSource    string
	addReference string
	addStdin     bool
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Ingest an episode into the knowledge graph",
	Long: `Add stores one episode of content, extracts entities and
relationships into the graph, and indexes an embedding for semantic
search. Use --stdin to read the content from standard input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var content string
		if addStdin {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			content = string(raw)
		} else if len(args) == 1 {
			content = args[0]
		}
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("no content given: pass it as an argument or via --stdin")
		}

		opts := &engine.AddEpisodeOptions{Source: addSource}
		if addReference != "" {
			reference, err := time.Parse(time.RFC3339, addReference)
			if err != nil {
				return fmt.Errorf("invalid --reference, expected RFC3339: %w", err)
			}
			opts.Reference = reference
		}

		eng, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.AddEpisode(ctx, content, opts)
		if err != nil {
			return err
		}

		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addSource, "source", "cli", "source label for the episode")
	addCmd.Flags().StringVar(&addReference, "reference", "", "event time the content describes (RFC3339)")
	addCmd.Flags().BoolVar(&addStdin, "stdin", false, "read content from standard input")
	rootCmd.AddCommand(addCmd)
}
