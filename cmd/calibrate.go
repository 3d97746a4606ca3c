package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/calibration"
	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/store"
)

var (
	calibrateModule  string
	calibrateSince   string
	calibrateUntil   string
	calibrateBuckets int
	calibrateXLSX    string
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Analyze review outcomes against model confidence",
	Long:  "Computes acceptance/override rates, the override reason distribution, and per-band confidence calibration from reviewed records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initRecorders(ctx, "calibrate")
		if err != nil {
			return err
		}
		defer env.Close()

		filter, err := calibrateFilter()
		if err != nil {
			return err
		}

		buckets := calibrateBuckets
		if buckets == 0 {
			buckets = cfg.Calibration.Buckets
		}

		report, err := calibration.NewAnalyzer(env.Store, buckets).Analyze(ctx, filter)
		if err != nil {
			return err
		}

		if calibrateXLSX != "" {
			if err := calibration.WriteWorkbook(calibrateXLSX, report); err != nil {
				return err
			}
			zap.L().Info("wrote calibration workbook", zap.String("path", calibrateXLSX))
		}
		return calibration.WriteText(os.Stdout, report)
	},
}

func calibrateFilter() (store.RecordFilter, error) {
	filter := store.RecordFilter{}

	if calibrateModule != "" {
		m := model.Module(calibrateModule)
		if !m.Valid() {
			return filter, eris.Errorf("unknown module %q", calibrateModule)
		}
		filter.Module = m
	}
	var err error
	if filter.Since, err = parseDay(calibrateSince); err != nil {
		return filter, err
	}
	if filter.Until, err = parseDay(calibrateUntil); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse date %q", s)
	}
	return t, nil
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrateModule, "module", "", "restrict to one module")
	calibrateCmd.Flags().StringVar(&calibrateSince, "since", "", "window start, YYYY-MM-DD")
	calibrateCmd.Flags().StringVar(&calibrateUntil, "until", "", "window end (exclusive), YYYY-MM-DD")
	calibrateCmd.Flags().IntVar(&calibrateBuckets, "buckets", 0, "confidence buckets (default from config)")
	calibrateCmd.Flags().StringVar(&calibrateXLSX, "xlsx", "", "also write a workbook to this path")
	rootCmd.AddCommand(calibrateCmd)
}
