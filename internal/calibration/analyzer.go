package calibration

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/store"
)

// DefaultBucketCount is the number of equal-width confidence buckets.
const DefaultBucketCount = 10

// Bucket is one confidence band. Buckets partition [0,1] without gaps:
// every band is half-open except the last, which closes at 1 so a perfect
// confidence score has a home.
type Bucket struct {
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Closed bool    `json:"closed"`

	Reviewed int `json:"reviewed"`

	// Rates are nil, not zero, when the bucket holds no reviewed records.
	// A bucket nobody has sampled is unknown, not perfectly calibrated.
	MeanConfidence *float64 `json:"mean_confidence,omitempty"`
	AcceptanceRate *float64 `json:"acceptance_rate,omitempty"`
	OverrideRate   *float64 `json:"override_rate,omitempty"`
}

// ReasonCount is one entry of the override-reason distribution.
type ReasonCount struct {
	Reason model.OverrideReason `json:"reason"`
	Count  int                  `json:"count"`
}

// ModuleReport aggregates calibration metrics for one module, or for all
// modules when Module is empty.
type ModuleReport struct {
	Module model.Module `json:"module,omitempty"`

	Total            int `json:"total"`
	Reviewed         int `json:"reviewed"`
	Accepted         int `json:"accepted"`
	Modified         int `json:"modified"`
	Overridden       int `json:"overridden"`
	Escalated        int `json:"escalated"`
	NeedsHumanReview int `json:"needs_human_review"`

	AcceptanceRate *float64 `json:"acceptance_rate,omitempty"`
	OverrideRate   *float64 `json:"override_rate,omitempty"`
	EscalationRate *float64 `json:"escalation_rate,omitempty"`

	Reasons []ReasonCount `json:"reasons,omitempty"`
	Buckets []Bucket      `json:"buckets"`
}

// Report is a full calibration analysis over a record window.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	BucketCount int            `json:"bucket_count"`
	Overall     ModuleReport   `json:"overall"`
	Modules     []ModuleReport `json:"modules"`
}

// Analyzer computes calibration reports from the record store. It only
// reads; review traffic is never blocked by an analysis run.
type Analyzer struct {
	store   store.Store
	buckets int
}

// NewAnalyzer creates an analyzer with the given bucket count (0 means
// DefaultBucketCount).
func NewAnalyzer(st store.Store, buckets int) *Analyzer {
	if buckets <= 0 {
		buckets = DefaultBucketCount
	}
	return &Analyzer{store: st, buckets: buckets}
}

// Analyze fetches records matching the filter and computes per-module and
// overall calibration metrics.
func (a *Analyzer) Analyze(ctx context.Context, filter store.RecordFilter) (*Report, error) {
	records, err := a.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "calibration: list records")
	}

	byModule := make(map[model.Module][]model.ExtractionRecord)
	for _, rec := range records {
		byModule[rec.Module] = append(byModule[rec.Module], rec)
	}

	modules := make([]model.Module, 0, len(byModule))
	for m := range byModule {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i] < modules[j] })

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		BucketCount: a.buckets,
		Overall:     a.moduleReport("", records),
	}
	for _, m := range modules {
		report.Modules = append(report.Modules, a.moduleReport(m, byModule[m]))
	}
	return report, nil
}

func (a *Analyzer) moduleReport(module model.Module, records []model.ExtractionRecord) ModuleReport {
	rep := ModuleReport{
		Module:  module,
		Total:   len(records),
		Buckets: NewBuckets(a.buckets),
	}

	reasons := make(map[model.OverrideReason]int)
	bucketAccepted := make([]int, a.buckets)
	bucketOverridden := make([]int, a.buckets)
	bucketConfSum := make([]float64, a.buckets)

	for _, rec := range records {
		if rec.Escalated() {
			rep.Escalated++
		}
		if rec.NeedsHumanReview {
			rep.NeedsHumanReview++
		}
		if !rec.Outcome.Reviewed() {
			continue
		}

		rep.Reviewed++
		idx := bucketIndex(rec.FinalConfidence, a.buckets)
		rep.Buckets[idx].Reviewed++
		bucketConfSum[idx] += rec.FinalConfidence

		switch rec.Outcome {
		case model.OutcomeAccepted:
			rep.Accepted++
			bucketAccepted[idx]++
		case model.OutcomeModified:
			rep.Modified++
			bucketAccepted[idx]++
			if rec.OverrideReason != "" {
				reasons[rec.OverrideReason]++
			}
		case model.OutcomeOverridden:
			rep.Overridden++
			bucketOverridden[idx]++
			reasons[rec.OverrideReason]++
		}
	}

	// MODIFIED counts as acceptance: the model's decision stood, with edits.
	rep.AcceptanceRate = ratio(rep.Accepted+rep.Modified, rep.Reviewed)
	rep.OverrideRate = ratio(rep.Overridden, rep.Reviewed)
	rep.EscalationRate = ratio(rep.Escalated, rep.Total)

	for i := range rep.Buckets {
		n := rep.Buckets[i].Reviewed
		if n == 0 {
			continue
		}
		mean := bucketConfSum[i] / float64(n)
		rep.Buckets[i].MeanConfidence = &mean
		rep.Buckets[i].AcceptanceRate = ratio(bucketAccepted[i], n)
		rep.Buckets[i].OverrideRate = ratio(bucketOverridden[i], n)
	}

	rep.Reasons = sortedReasons(reasons)
	return rep
}

// NewBuckets builds k equal-width buckets partitioning [0,1].
func NewBuckets(k int) []Bucket {
	width := 1.0 / float64(k)
	buckets := make([]Bucket, k)
	for i := range buckets {
		buckets[i] = Bucket{
			Low:  float64(i) * width,
			High: float64(i+1) * width,
		}
	}
	buckets[k-1].High = 1
	buckets[k-1].Closed = true
	return buckets
}

// bucketIndex maps a [0,1] confidence to its bucket. Exactly 1 lands in
// the last (closed) bucket.
func bucketIndex(conf float64, k int) int {
	if conf < 0 {
		return 0
	}
	idx := int(conf * float64(k))
	if idx >= k {
		idx = k - 1
	}
	return idx
}

// ratio returns num/den, or nil when the denominator is zero. Callers must
// distinguish "no data" from "rate of zero".
func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}

func sortedReasons(counts map[model.OverrideReason]int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}
