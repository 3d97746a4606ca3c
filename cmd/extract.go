package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

var (
	extractCasesPath string
	extractReprocess bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run cases through the tiered extraction pipeline",
	Long:  "Reads cases as JSONL, screens each with the triage model, escalates per the trigger policy, and records the decisions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cases, err := readCases(extractCasesPath)
		if err != nil {
			return err
		}
		if len(cases) == 0 {
			return eris.New("no cases to process")
		}

		if extractReprocess {
			// Reviewed records get replaced; used for model upgrades.
			for _, cs := range cases {
				if _, err := env.Pipeline.ReprocessCase(ctx, cs); err != nil {
					zap.L().Error("reprocess failed",
						zap.String("module", string(cs.Module)),
						zap.String("case_id", cs.CaseID),
						zap.Error(err),
					)
				}
			}
			return nil
		}

		summary, err := env.Pipeline.ProcessBatch(ctx, cases)
		if err != nil {
			return err
		}

		fmt.Printf("processed %d/%d cases (%d escalated, %d flagged for review)\n",
			summary.Processed, len(cases), summary.Escalated, summary.Flagged)
		for _, failed := range summary.Failed {
			fmt.Printf("  failed %s/%s: %v\n", failed.Module, failed.CaseID, failed.Err)
		}
		if len(summary.Failed) > 0 {
			return eris.Errorf("%d cases failed", len(summary.Failed))
		}
		return nil
	},
}

// readCases parses one model.Case per line. "-" reads stdin.
func readCases(path string) ([]model.Case, error) {
	var in *os.File
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open cases %s", path)
		}
		defer f.Close()
		in = f
	}

	var cases []model.Case
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var cs model.Case
		if err := json.Unmarshal(raw, &cs); err != nil {
			return nil, eris.Wrapf(err, "parse case on line %d", line)
		}
		if !cs.Module.Valid() {
			return nil, eris.Errorf("line %d: unknown module %q", line, cs.Module)
		}
		if cs.CaseID == "" {
			return nil, eris.Errorf("line %d: missing case_id", line)
		}
		cases = append(cases, cs)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read cases")
	}
	return cases, nil
}

func init() {
	extractCmd.Flags().StringVar(&extractCasesPath, "cases", "-", "path to cases JSONL (- for stdin)")
	extractCmd.Flags().BoolVar(&extractReprocess, "reprocess", false, "replace records even when already reviewed")
	rootCmd.AddCommand(extractCmd)
}
