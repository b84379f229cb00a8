package mnemo

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/mnemo/pkg/types"
)

var feedbackReject bool

var feedbackCmd = &cobra.Command{
	Use:   "feedback <source> <relation> <target>",
	Short: "Confirm or reject a stored relationship",
	Long: `Feedback adjusts the confidence of a relationship identified by its
(source, relation, target) triple. Confirmation strengthens it; --reject
weakens it. A triple that matches nothing is reported as skipped.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		key := types.RelationshipKey{
			SourceName: args[0],
			Type:       args[1],
			TargetName: args[2],
		}

		eng, _, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		var result *types.FeedbackResult
		if feedbackReject {
			result, err = eng.RejectRelationship(ctx, key)
		} else {
			result, err = eng.ConfirmRelationship(ctx, key)
		}
		if err != nil {
			return err
		}

		if result.Skipped > 0 {
			fmt.Println("no such relationship, nothing changed")
			return nil
		}

		rel, err := eng.GetRelationship(ctx, key)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(rel, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	feedbackCmd.Flags().BoolVar(&feedbackReject, "reject", false, "reject the relationship instead of confirming it")
	rootCmd.AddCommand(feedbackCmd)
}
