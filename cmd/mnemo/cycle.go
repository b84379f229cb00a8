package mnemo

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/soundprediction/mnemo/pkg/types"
)

var cycleEventsFile string

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one insight-pipeline pass",
	Long: `Cycle feeds raw events through the insight pipeline: dedup, analysis,
insight generation and threshold-gated persistence. Events are read as a
JSON array of {"type","content","timestamp"} objects from --events or
standard input. Runs inside the cooldown window are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var raw []byte
		var err error
		if cycleEventsFile != "" {
			raw, err = os.ReadFile(cycleEventsFile)
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}

		var events []types.RawEvent
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &events); err != nil {
				return fmt.Errorf("invalid events JSON: %w", err)
			}
		}

		eng, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		report, err := eng.RunCycle(ctx, events)
		if err != nil {
			return err
		}

		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	cycleCmd.Flags().StringVar(&cycleEventsFile, "events", "", "path to a JSON array of raw events (default: stdin)")
	rootCmd.AddCommand(cycleCmd)
}
