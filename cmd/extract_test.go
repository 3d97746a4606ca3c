package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

func writeCases(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadCases(t *testing.T) {
	path := writeCases(t, `{"module":"cardiology","case_id":"case-1","entity_type":"diagnosis","question":"afib?","documents":[{"id":"n1","text":"ECG irregular"}]}
{"module":"oncology","case_id":"case-2","question":"metastasis?"}
`)

	cases, err := readCases(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, model.ModuleCardiology, cases[0].Module)
	assert.Equal(t, "case-1", cases[0].CaseID)
	require.Len(t, cases[0].Documents, 1)
	assert.Equal(t, "n1", cases[0].Documents[0].ID)
	assert.Equal(t, model.ModuleOncology, cases[1].Module)
}

func TestReadCases_SkipsBlankLines(t *testing.T) {
	path := writeCases(t, `{"module":"cardiology","case_id":"case-1"}

{"module":"radiology","case_id":"case-2"}
`)

	cases, err := readCases(path)
	require.NoError(t, err)
	assert.Len(t, cases, 2)
}

func TestReadCases_UnknownModule(t *testing.T) {
	path := writeCases(t, `{"module":"dermatology","case_id":"case-1"}`)

	_, err := readCases(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module")
}

func TestReadCases_MissingCaseID(t *testing.T) {
	path := writeCases(t, `{"module":"cardiology"}`)

	_, err := readCases(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing case_id")
}

func TestReadCases_MalformedLine(t *testing.T) {
	path := writeCases(t, `{"module":"cardiology","case_id":"ok"}
not json`)

	_, err := readCases(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadCases_MissingFile(t *testing.T) {
	_, err := readCases("/nonexistent/cases.jsonl")
	assert.Error(t, err)
}
