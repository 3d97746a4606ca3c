package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-clinical/triage-cli/internal/export"
	"github.com/meridian-clinical/triage-cli/internal/model"
)

var (
	exportOut          string
	exportModule       string
	exportReviewedOnly bool
	exportMinLevel     string
	exportSince        string
	exportUntil        string
	exportLimit        int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records as JSONL training examples",
	Long:  "Converts extraction records into training examples, shipping the human-corrected decision when one exists.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initRecorders(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		filter := export.Filter{
			ReviewedOnly: exportReviewedOnly,
			MinLevel:     model.ConfidenceLevel(exportMinLevel),
			Limit:        exportLimit,
		}
		if exportModule != "" {
			m := model.Module(exportModule)
			if !m.Valid() {
				return eris.Errorf("unknown module %q", exportModule)
			}
			filter.Module = m
		}
		if filter.Since, err = parseDay(exportSince); err != nil {
			return err
		}
		if filter.Until, err = parseDay(exportUntil); err != nil {
			return err
		}

		var out io.Writer = os.Stdout
		if exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOut)
			}
			defer f.Close()
			out = f
		}

		n, err := export.NewExporter(env.Store).WriteJSONL(ctx, out, filter)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "exported %d examples\n", n)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "-", "output path (- for stdout)")
	exportCmd.Flags().StringVar(&exportModule, "module", "", "restrict to one module")
	exportCmd.Flags().BoolVar(&exportReviewedOnly, "reviewed-only", false, "only export reviewed records")
	exportCmd.Flags().StringVar(&exportMinLevel, "min-level", "", "minimum confidence band: low, medium, high")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "window start, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportUntil, "until", "", "window end (exclusive), YYYY-MM-DD")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "max records to export")
	rootCmd.AddCommand(exportCmd)
}
