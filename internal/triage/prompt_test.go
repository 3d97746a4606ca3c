package triage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildContext_UnderBudget(t *testing.T) {
	docs := []Document{
		{ID: "n1", Text: "progress note"},
		{ID: "n2", Text: "discharge summary"},
	}

	ctx := BuildContext("case-1", docs, 1000)

	assert.Contains(t, ctx, "[doc n1]")
	assert.Contains(t, ctx, "progress note")
	assert.Contains(t, ctx, "[doc n2]")
	assert.Contains(t, ctx, "discharge summary")
}

func TestBuildContext_TruncatesDeterministically(t *testing.T) {
	docs := []Document{
		{ID: "n1", Text: strings.Repeat("a", 500)},
		{ID: "n2", Text: strings.Repeat("b", 500)},
	}

	first := BuildContext("case-1", docs, 100)
	second := BuildContext("case-1", docs, 100)

	assert.Len(t, first, 100)
	assert.Equal(t, first, second)
	// Head-N truncation keeps the earlier document.
	assert.Contains(t, first, "[doc n1]")
	assert.NotContains(t, first, "[doc n2]")
}

func TestBuildContext_ZeroBudgetMeansUnbounded(t *testing.T) {
	docs := []Document{{ID: "n1", Text: strings.Repeat("x", 5000)}}

	ctx := BuildContext("case-1", docs, 0)
	assert.Greater(t, len(ctx), 5000)
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose wrapped", `Here is the result: {"a":1} hope that helps`, `{"a":1}`},
		{"whitespace", "  \n {\"a\":1} \n", `{"a":1}`},
		{"no braces", "not json at all", "not json at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}
