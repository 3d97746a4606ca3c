package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/recorder"
	"github.com/meridian-clinical/triage-cli/internal/triage"
)

// Markers recorded in the escalation trigger list when the triage stage
// itself failed, so calibration can tell policy escalations from outages.
const (
	MarkerTriageFailure = "triage_stage_failed"
	MarkerTriageTimeout = "triage_stage_timeout"
)

// DefaultConcurrency bounds parallel case processing in a batch.
const DefaultConcurrency = 4

// Pipeline runs cases through triage, the escalation policy, the full
// model when required, and commits the audit record.
type Pipeline struct {
	triage      *triage.TriageClassifier
	full        *triage.FullClassifier
	policy      *triage.Policy
	recorder    *recorder.DecisionRecorder
	concurrency int
}

// New creates a pipeline. Concurrency <= 0 uses DefaultConcurrency.
func New(tc *triage.TriageClassifier, fc *triage.FullClassifier, policy *triage.Policy, rec *recorder.DecisionRecorder, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{
		triage:      tc,
		full:        fc,
		policy:      policy,
		recorder:    rec,
		concurrency: concurrency,
	}
}

// ProcessCase runs one case end to end and returns the committed record.
//
// Failure handling is escalate-on-failure: a broken triage stage costs
// money (everything goes to the full model), never correctness. A broken
// full stage flags the record for human review instead of shipping a
// decision nobody computed.
func (p *Pipeline) ProcessCase(ctx context.Context, cs model.Case) (*model.ExtractionRecord, error) {
	return p.process(ctx, cs, p.recorder.Record)
}

// ReprocessCase is ProcessCase for cases whose record was already
// reviewed; the previous review overlay is discarded.
func (p *Pipeline) ReprocessCase(ctx context.Context, cs model.Case) (*model.ExtractionRecord, error) {
	return p.process(ctx, cs, p.recorder.ReExtract)
}

func (p *Pipeline) process(ctx context.Context, cs model.Case, commit func(context.Context, recorder.Draft) (*model.ExtractionRecord, error)) (*model.ExtractionRecord, error) {
	log := zap.L().With(zap.String("module", string(cs.Module)), zap.String("case_id", cs.CaseID))
	start := time.Now()

	draft := recorder.Draft{Case: cs, ExtractedAt: start.UTC()}

	triageResult, err := p.triage.Extract(ctx, cs)
	switch {
	case err == nil:
		draft.Triage = triageResult
		draft.TriageDecision = p.policy.Decide(triageResult.Signals)
		draft.Triggered = p.policy.Triggered(triageResult.Signals)

	case triage.IsFailure(err):
		// The case still gets a decision: the full model sees everything
		// the triage stage could not screen.
		log.Warn("triage stage failed, escalating", zap.Error(err))
		marker := MarkerTriageFailure
		if triage.IsTimeout(err) {
			marker = MarkerTriageTimeout
		}
		draft.Triage = &triage.TriageResult{Level: model.ConfidenceLow}
		draft.TriageDecision = model.DecisionNeedsFullAnalysis
		draft.Triggered = []string{marker}

	default:
		return nil, eris.Wrapf(err, "pipeline: triage %s/%s", cs.Module, cs.CaseID)
	}

	if draft.TriageDecision == model.DecisionNeedsFullAnalysis {
		fullResult, fullErr := p.full.Extract(ctx, cs)
		if fullErr != nil {
			if !triage.IsFailure(fullErr) {
				return nil, eris.Wrapf(fullErr, "pipeline: full %s/%s", cs.Module, cs.CaseID)
			}
			log.Warn("full stage failed, flagging for human review", zap.Error(fullErr))
			draft.NeedsHumanReview = true
		} else {
			draft.Full = fullResult
		}
	}

	rec, err := commit(ctx, draft)
	if err != nil {
		return nil, err
	}

	log.Info("case processed",
		zap.String("final_decision", string(rec.FinalDecision)),
		zap.Bool("escalated", rec.Escalated()),
		zap.Bool("needs_human_review", rec.NeedsHumanReview),
		zap.Int64("total_ms", time.Since(start).Milliseconds()),
	)
	return rec, nil
}

// CaseError pairs a failed case with its error for batch reporting.
type CaseError struct {
	Module model.Module
	CaseID string
	Err    error
}

// BatchSummary reports what a batch run did.
type BatchSummary struct {
	Processed int
	Escalated int
	Flagged   int
	Failed    []CaseError
	Records   []*model.ExtractionRecord
}

// ProcessBatch runs cases concurrently with bounded parallelism. One bad
// case does not abort the batch; its error lands in the summary. Only
// context cancellation stops everything.
func (p *Pipeline) ProcessBatch(ctx context.Context, cases []model.Case) (*BatchSummary, error) {
	summary := &BatchSummary{}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, cs := range cases {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			rec, err := p.ProcessCase(gCtx, cs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed = append(summary.Failed, CaseError{Module: cs.Module, CaseID: cs.CaseID, Err: err})
				return nil
			}
			summary.Processed++
			if rec.Escalated() {
				summary.Escalated++
			}
			if rec.NeedsHumanReview {
				summary.Flagged++
			}
			summary.Records = append(summary.Records, rec)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "pipeline: batch aborted")
	}

	zap.L().Info("batch complete",
		zap.Int("cases", len(cases)),
		zap.Int("processed", summary.Processed),
		zap.Int("escalated", summary.Escalated),
		zap.Int("flagged", summary.Flagged),
		zap.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}
