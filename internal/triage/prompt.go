package triage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const triageSystemPrompt = `You are a clinical triage screener. Given a clinical question and source documents, emit ONLY a JSON object:
{"obvious_positive_signal": <bool>, "obvious_negative_signal": <bool>, "triggers": {"documentation_quality_poor": <bool>, "alternate_source_mentioned": <bool>, "conflicting_signals": <bool>, "impression_ambiguous": <bool>, "stale_context": <bool>, "unfamiliar_presentation": <bool>}, "confidence": <0.0-1.0>}
Raise a trigger whenever the documents are not decisive on their own. Do not attempt a full analysis.`

const fullSystemPrompt = `You are a clinical decision extractor. Given a clinical question and source documents, perform a careful analysis and emit ONLY a JSON object:
{"decision": "CLEAR_POSITIVE"|"CLEAR_NEGATIVE"|"NEEDS_FULL_ANALYSIS", "confidence": <0.0-1.0>, "finding": {"condition": <string>, "present": <bool>, "negated": <bool>, "severity": <string>, "evidence_ids": [<doc id>...], "rationale": <string>}, "interaction": {"drug_a": <string>, "drug_b": <string>, "interacts": <bool>, "mechanism": <string>, "evidence_ids": [<doc id>...], "rationale": <string>}}
Populate exactly one of "finding" or "interaction" to match the question; omit the other. Use NEEDS_FULL_ANALYSIS only when the documents genuinely cannot support a decision.`

const caseUserPrompt = `Module: %s
Case: %s
Entity type: %s
Question: %s

Documents:
%s`

// BuildContext concatenates case documents into a single bounded context
// window. Truncation is deterministic head-N-characters in document order;
// a truncated build is logged so the audit trail shows what the model saw.
func BuildContext(caseID string, docs []Document, budget int) string {
	var b strings.Builder
	total := 0
	for _, d := range docs {
		header := fmt.Sprintf("[doc %s]\n", d.ID)
		b.WriteString(header)
		b.WriteString(d.Text)
		b.WriteString("\n\n")
		total += len(header) + len(d.Text) + 2
	}

	ctx := b.String()
	if budget > 0 && len(ctx) > budget {
		ctx = ctx[:budget]
		zap.L().Info("triage: context truncated",
			zap.String("case_id", caseID),
			zap.Int("original_chars", total),
			zap.Int("budget_chars", budget),
		)
	}
	return ctx
}

// Document is the minimal view of a case document the prompt builder needs.
type Document struct {
	ID   string
	Text string
}

// cleanJSON strips markdown code fences and surrounding prose so a model
// response can be unmarshalled. Returns the innermost {...} span, or the
// trimmed input when no braces are found.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
