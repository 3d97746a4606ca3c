package calibration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/store"
)

func sampleReport(t *testing.T) *Report {
	t.Helper()
	st := &stubStore{records: []model.ExtractionRecord{
		reviewedRecord(model.ModuleCardiology, 0.9, model.OutcomeAccepted, ""),
		reviewedRecord(model.ModuleCardiology, 0.85, model.OutcomeOverridden, model.ReasonMissedNegation),
	}}
	report, err := NewAnalyzer(st, 10).Analyze(context.Background(), store.RecordFilter{})
	require.NoError(t, err)
	return report
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleReport(t)))

	out := buf.String()
	assert.Contains(t, out, "ALL")
	assert.Contains(t, out, "cardiology")
	assert.Contains(t, out, "MISSED_NEGATION")
	assert.Contains(t, out, "[0.80, 0.90)")
	assert.Contains(t, out, "[0.90, 1.00]")
	// Unsampled buckets render as a dash, never 0.00.
	assert.Regexp(t, `\[0\.00, 0\.10\)\s+0\s+-\s+-\s+-`, out)
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.xlsx")
	require.NoError(t, WriteWorkbook(path, sampleReport(t)))

	file, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	names := make([]string, 0, len(file.Sheets))
	for _, sheet := range file.Sheets {
		names = append(names, sheet.Name)
	}
	assert.Contains(t, names, "Summary")
	assert.Contains(t, names, "Override Reasons")
	assert.Contains(t, names, "Buckets ALL")
	assert.Contains(t, names, "Buckets cardiology")

	summary := file.Sheet["Summary"]
	require.NotNil(t, summary)
	require.GreaterOrEqual(t, len(summary.Rows), 3)
	assert.Equal(t, "ALL", summary.Rows[1].Cells[0].String())
	assert.Equal(t, "cardiology", summary.Rows[2].Cells[0].String())
}
