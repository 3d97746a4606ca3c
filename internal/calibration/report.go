package calibration

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteText renders the report as an aligned table for terminal use.
func WriteText(w io.Writer, report *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "generated\t%s\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "module\ttotal\treviewed\taccepted\tmodified\toverridden\taccept%\toverride%\tescalate%")
	writeModuleLine(tw, "ALL", report.Overall)
	for _, mod := range report.Modules {
		writeModuleLine(tw, string(mod.Module), mod)
	}
	fmt.Fprintln(tw)

	if len(report.Overall.Reasons) > 0 {
		fmt.Fprintln(tw, "override reason\tcount")
		for _, rc := range report.Overall.Reasons {
			fmt.Fprintf(tw, "%s\t%d\n", rc.Reason, rc.Count)
		}
		fmt.Fprintln(tw)
	}

	fmt.Fprintln(tw, "confidence\treviewed\tmean conf\taccept%\toverride%")
	for _, b := range report.Overall.Buckets {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			bucketLabel(b), b.Reviewed,
			formatRate(b.MeanConfidence), formatRate(b.AcceptanceRate), formatRate(b.OverrideRate))
	}

	return eris.Wrap(tw.Flush(), "calibration: flush report")
}

func writeModuleLine(w io.Writer, name string, rep ModuleReport) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
		name, rep.Total, rep.Reviewed, rep.Accepted, rep.Modified, rep.Overridden,
		formatRate(rep.AcceptanceRate), formatRate(rep.OverrideRate), formatRate(rep.EscalationRate))
}

func bucketLabel(b Bucket) string {
	if b.Closed {
		return fmt.Sprintf("[%.2f, %.2f]", b.Low, b.High)
	}
	return fmt.Sprintf("[%.2f, %.2f)", b.Low, b.High)
}

// formatRate renders a nilable rate; missing samples show as a dash, never
// as 0.00.
func formatRate(r *float64) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *r)
}

// WriteWorkbook writes the report as a spreadsheet with one summary sheet,
// one reason sheet, and one bucket sheet per module plus the overall view.
func WriteWorkbook(path string, report *Report) error {
	file := xlsx.NewFile()

	summary, err := file.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "calibration: add summary sheet")
	}
	addHeaderRow(summary, "Module", "Total", "Reviewed", "Accepted", "Modified", "Overridden",
		"Acceptance Rate", "Override Rate", "Escalation Rate")
	addModuleRow(summary, "ALL", report.Overall)
	for _, mod := range report.Modules {
		addModuleRow(summary, string(mod.Module), mod)
	}

	reasons, err := file.AddSheet("Override Reasons")
	if err != nil {
		return eris.Wrap(err, "calibration: add reasons sheet")
	}
	addHeaderRow(reasons, "Reason", "Count")
	for _, rc := range report.Overall.Reasons {
		row := reasons.AddRow()
		row.AddCell().Value = string(rc.Reason)
		row.AddCell().SetInt(rc.Count)
	}

	if err := addBucketSheet(file, "Buckets ALL", report.Overall); err != nil {
		return err
	}
	for _, mod := range report.Modules {
		if err := addBucketSheet(file, "Buckets "+string(mod.Module), mod); err != nil {
			return err
		}
	}

	return eris.Wrapf(file.Save(path), "calibration: save workbook %s", path)
}

func addBucketSheet(file *xlsx.File, name string, rep ModuleReport) error {
	// Sheet names cap at 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}
	sheet, err := file.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "calibration: add sheet %s", name)
	}
	addHeaderRow(sheet, "Bucket", "Reviewed", "Mean Confidence", "Acceptance Rate", "Override Rate")
	for _, b := range rep.Buckets {
		row := sheet.AddRow()
		row.AddCell().Value = bucketLabel(b)
		row.AddCell().SetInt(b.Reviewed)
		addRateCell(row, b.MeanConfidence)
		addRateCell(row, b.AcceptanceRate)
		addRateCell(row, b.OverrideRate)
	}
	return nil
}

func addHeaderRow(sheet *xlsx.Sheet, titles ...string) {
	row := sheet.AddRow()
	for _, title := range titles {
		row.AddCell().Value = title
	}
}

func addModuleRow(sheet *xlsx.Sheet, name string, rep ModuleReport) {
	row := sheet.AddRow()
	row.AddCell().Value = name
	row.AddCell().SetInt(rep.Total)
	row.AddCell().SetInt(rep.Reviewed)
	row.AddCell().SetInt(rep.Accepted)
	row.AddCell().SetInt(rep.Modified)
	row.AddCell().SetInt(rep.Overridden)
	addRateCell(row, rep.AcceptanceRate)
	addRateCell(row, rep.OverrideRate)
	addRateCell(row, rep.EscalationRate)
}

func addRateCell(row *xlsx.Row, r *float64) {
	cell := row.AddCell()
	if r == nil {
		cell.Value = "-"
		return
	}
	cell.SetFloatWithFormat(*r, "0.00")
}
