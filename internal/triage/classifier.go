package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/resilience"
	"github.com/meridian-clinical/triage-cli/pkg/anthropic"
)

// ClassifierConfig configures one classification stage.
type ClassifierConfig struct {
	Model        string
	Timeout      time.Duration
	ContextChars int
	MaxTokens    int64
	Retry        resilience.RetryConfig
}

// TriageResult is the structured output of the fast first-pass model.
type TriageResult struct {
	Signals    TriageSignals
	Confidence float64
	Level      model.ConfidenceLevel
	Model      string
	LatencyMS  int64
	Usage      anthropic.TokenUsage
}

// FullResult is the structured output of the slow second-pass model.
type FullResult struct {
	Decision   model.TriageDecision
	Confidence float64
	Data       *model.ExtractedData
	Model      string
	LatencyMS  int64
	Usage      anthropic.TokenUsage
}

// TriageClassifier runs the fast/cheap model with a short hard timeout.
// It has no persistence side effects; recording is the caller's job.
type TriageClassifier struct {
	client anthropic.Client
	cfg    ClassifierConfig
}

// NewTriageClassifier creates a triage classifier.
func NewTriageClassifier(client anthropic.Client, cfg ClassifierConfig) *TriageClassifier {
	return &TriageClassifier{client: client, cfg: cfg}
}

// Extract screens the case with the triage model and returns its signals.
// Timeouts surface as *ExtractionTimeout, malformed or schema-violating
// responses as *ExtractionFailure — never a panic.
func (c *TriageClassifier) Extract(ctx context.Context, cs model.Case) (*TriageResult, error) {
	resp, latency, err := invoke(ctx, c.client, c.cfg, "triage", triageSystemPrompt, cs)
	if err != nil {
		return nil, err
	}

	result, err := parseTriageResponse(extractText(resp))
	if err != nil {
		return nil, err
	}

	result.Model = c.cfg.Model
	result.LatencyMS = latency
	result.Usage = resp.Usage
	resp.Usage.LogUsage(c.cfg.Model, "triage")
	return result, nil
}

// FullClassifier runs the slow/capable model, invoked only on escalation.
type FullClassifier struct {
	client anthropic.Client
	cfg    ClassifierConfig
}

// NewFullClassifier creates a full-analysis classifier.
func NewFullClassifier(client anthropic.Client, cfg ClassifierConfig) *FullClassifier {
	return &FullClassifier{client: client, cfg: cfg}
}

// Extract performs the full analysis and returns a decision plus the
// module's structured payload, validated against the versioned schema.
func (c *FullClassifier) Extract(ctx context.Context, cs model.Case) (*FullResult, error) {
	resp, latency, err := invoke(ctx, c.client, c.cfg, "full", fullSystemPrompt, cs)
	if err != nil {
		return nil, err
	}

	result, err := parseFullResponse(extractText(resp), model.KindForModule(cs.Module))
	if err != nil {
		return nil, err
	}

	result.Model = c.cfg.Model
	result.LatencyMS = latency
	result.Usage = resp.Usage
	resp.Usage.LogUsage(c.cfg.Model, "full")
	return result, nil
}

// invoke sends one stage request with the stage's hard timeout and retry
// policy. No lock is held here: this is the pipeline's suspension point.
func invoke(ctx context.Context, client anthropic.Client, cfg ClassifierConfig, stage, system string, cs model.Case) (*anthropic.MessageResponse, int64, error) {
	docs := make([]Document, len(cs.Documents))
	for i, d := range cs.Documents {
		docs[i] = Document{ID: d.ID, Text: d.Text}
	}
	window := BuildContext(cs.CaseID, docs, cfg.ContextChars)
	prompt := fmt.Sprintf(caseUserPrompt, cs.Module, cs.CaseID, cs.EntityType, cs.Question, window)

	callCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	temperature := 0.0
	req := anthropic.MessageRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	}

	start := time.Now()
	resp, err := resilience.DoVal(callCtx, cfg.Retry, stage+" extract", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return client.CreateMessage(ctx, req)
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			zap.L().Warn("classifier timed out",
				zap.String("stage", stage),
				zap.String("case_id", cs.CaseID),
				zap.Duration("timeout", cfg.Timeout),
			)
			return nil, 0, &ExtractionTimeout{Stage: stage, Timeout: cfg.Timeout, Err: err}
		}
		return nil, 0, &ExtractionFailure{Stage: stage, Reason: "backend unavailable", Err: err}
	}

	return resp, latency, nil
}

// extractText concatenates all text content blocks of a response.
func extractText(resp *anthropic.MessageResponse) string {
	var out string
	for _, b := range resp.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

func parseTriageResponse(text string) (*TriageResult, error) {
	var out struct {
		ObviousPositive *bool           `json:"obvious_positive_signal"`
		ObviousNegative *bool           `json:"obvious_negative_signal"`
		Triggers        map[string]bool `json:"triggers"`
		Confidence      *float64        `json:"confidence"`
	}

	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return nil, &ExtractionFailure{Stage: "triage", Reason: "malformed JSON response", Err: err}
	}
	if out.ObviousPositive == nil || out.ObviousNegative == nil {
		return nil, &ExtractionFailure{Stage: "triage", Reason: "missing obvious signal keys"}
	}
	if out.Confidence == nil {
		return nil, &ExtractionFailure{Stage: "triage", Reason: "missing confidence"}
	}
	if *out.Confidence < 0 || *out.Confidence > 1 {
		return nil, &ExtractionFailure{Stage: "triage", Reason: fmt.Sprintf("confidence %v outside [0,1]", *out.Confidence)}
	}

	triggers := out.Triggers
	if triggers == nil {
		triggers = map[string]bool{}
	}

	return &TriageResult{
		Signals: TriageSignals{
			Triggers:        triggers,
			ObviousPositive: *out.ObviousPositive,
			ObviousNegative: *out.ObviousNegative,
		},
		Confidence: *out.Confidence,
		Level:      model.LevelFromScore(*out.Confidence),
	}, nil
}

func parseFullResponse(text string, kind model.ExtractionKind) (*FullResult, error) {
	var out struct {
		Decision    string                       `json:"decision"`
		Confidence  *float64                     `json:"confidence"`
		Finding     *model.FindingExtraction     `json:"finding"`
		Interaction *model.InteractionExtraction `json:"interaction"`
	}

	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return nil, &ExtractionFailure{Stage: "full", Reason: "malformed JSON response", Err: err}
	}

	decision := model.TriageDecision(out.Decision)
	if !decision.Valid() {
		return nil, &ExtractionFailure{Stage: "full", Reason: fmt.Sprintf("unknown decision %q", out.Decision)}
	}
	if out.Confidence == nil {
		return nil, &ExtractionFailure{Stage: "full", Reason: "missing confidence"}
	}
	if *out.Confidence < 0 || *out.Confidence > 1 {
		return nil, &ExtractionFailure{Stage: "full", Reason: fmt.Sprintf("confidence %v outside [0,1]", *out.Confidence)}
	}

	data := &model.ExtractedData{
		Kind:        kind,
		Version:     model.ExtractedDataVersion,
		Finding:     out.Finding,
		Interaction: out.Interaction,
	}
	// The model may echo the unused payload as null; that is fine. An
	// actively wrong payload for the module's kind is a schema violation.
	if err := data.Validate(); err != nil {
		return nil, &ExtractionFailure{Stage: "full", Reason: "payload schema violation", Err: err}
	}

	return &FullResult{
		Decision:   decision,
		Confidence: *out.Confidence,
		Data:       data,
	}, nil
}
