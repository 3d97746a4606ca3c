package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/recorder"
)

var (
	reviewRecordID string
	reviewOutcome  string
	reviewDecision string
	reviewReason   string
	reviewNotes    string
	reviewerID     string
	reviewDuration time.Duration
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Record a human review of an extraction record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initRecorders(ctx, "review")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Reviewer.Apply(ctx, recorder.Review{
			RecordID:       reviewRecordID,
			Outcome:        model.Outcome(reviewOutcome),
			HumanDecision:  model.TriageDecision(reviewDecision),
			OverrideReason: model.OverrideReason(reviewReason),
			OverrideNotes:  reviewNotes,
			ReviewerID:     reviewerID,
			Duration:       reviewDuration,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewRecordID, "record", "", "extraction record id (required)")
	reviewCmd.Flags().StringVar(&reviewOutcome, "outcome", "", "ACCEPTED, MODIFIED, or OVERRIDDEN (required)")
	reviewCmd.Flags().StringVar(&reviewDecision, "decision", "", "corrected decision (required for OVERRIDDEN)")
	reviewCmd.Flags().StringVar(&reviewReason, "reason", "", "override reason from the fixed taxonomy")
	reviewCmd.Flags().StringVar(&reviewNotes, "notes", "", "free-text notes (required for reason OTHER)")
	reviewCmd.Flags().StringVar(&reviewerID, "reviewer", "", "reviewer id (required)")
	reviewCmd.Flags().DurationVar(&reviewDuration, "duration", 0, "time spent reviewing, e.g. 90s")
	_ = reviewCmd.MarkFlagRequired("record")
	_ = reviewCmd.MarkFlagRequired("outcome")
	_ = reviewCmd.MarkFlagRequired("reviewer")
	rootCmd.AddCommand(reviewCmd)
}
