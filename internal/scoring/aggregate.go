package scoring

import (
	"time"

	"go.uber.org/zap"

	"kpitrack/internal/formula"
	"kpitrack/internal/kpi"
)

// Evaluator evaluates formula text against a closed variable mapping.
// *formula.Cache satisfies it.
type Evaluator interface {
	Evaluate(src string, vars map[string]float64) (float64, error)
}

// FailureObserver is told about every entry excluded because its formula failed.
type FailureObserver interface {
	ObserveEvaluationFailure(kpiID string)
}

// PerformanceResult is the aggregate of one KPI over one scope and period window.
// RawValue is nil when no entry evaluated successfully; NormalizedScore is 0 then.
type PerformanceResult struct {
	KpiID           string     `json:"kpiId"`
	KpiName         string     `json:"kpiName"`
	Unit            string     `json:"unit"`
	RawValue        *float64   `json:"rawValue"`
	LatestValue     *float64   `json:"latestValue"`
	NormalizedScore float64    `json:"normalizedScore"`
	Status          Status     `json:"status"`
	EntryCount      int        `json:"entryCount"`
	EvaluatedCount  int        `json:"evaluatedCount"`
	LastRecorded    *time.Time `json:"lastRecorded"`
}

// HasData reports whether at least one entry evaluated successfully.
func (r PerformanceResult) HasData() bool {
	return r.RawValue != nil
}

// Aggregator evaluates entries and averages their results. It holds no
// mutable state of its own beyond the evaluator's compile cache.
type Aggregator struct {
	evaluator Evaluator
	logger    *zap.Logger
	observer  FailureObserver
}

// NewAggregator builds an Aggregator. A nil evaluator gets a fresh formula
// cache; a nil logger discards output; observer may be nil.
func NewAggregator(evaluator Evaluator, logger *zap.Logger, observer FailureObserver) *Aggregator {
	if evaluator == nil {
		evaluator = formula.NewCache(formula.DefaultCacheSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{evaluator: evaluator, logger: logger, observer: observer}
}

// EvaluateFormula evaluates k's formula against values. The boolean is false
// when evaluation fails for any reason.
func (a *Aggregator) EvaluateFormula(k kpi.Kpi, values map[string]float64) (float64, bool) {
	v, err := a.evaluator.Evaluate(k.Formula, values)
	if err != nil {
		a.logger.Debug("formula evaluation failed", zap.String("kpi_id", k.ID), zap.Error(err))
		return 0, false
	}
	return v, true
}

// EvaluateEntry evaluates k's formula for one entry.
func (a *Aggregator) EvaluateEntry(k kpi.Kpi, e kpi.Entry) (float64, error) {
	return a.evaluator.Evaluate(k.Formula, e.VariableValues)
}

// Aggregate averages the successfully evaluated results of entries for k.
// Entries recorded for a different KPI are ignored. Failed entries are
// excluded from the mean and the evaluated count; they never abort the call.
//
// The latest value comes from the evaluated entry with the greatest
// DateRecorded; on equal timestamps the later entry in input order wins.
func (a *Aggregator) Aggregate(k kpi.Kpi, entries []kpi.Entry) PerformanceResult {
	result := PerformanceResult{
		KpiID:   k.ID,
		KpiName: k.Name,
		Unit:    k.Unit,
	}

	var (
		mean       float64
		latest     float64
		latestAt   time.Time
		haveLatest bool
		lastSeen   time.Time
	)
	for _, e := range entries {
		if e.KpiID != k.ID {
			continue
		}
		result.EntryCount++
		if e.DateRecorded.After(lastSeen) {
			lastSeen = e.DateRecorded
		}

		v, err := a.EvaluateEntry(k, e)
		if err != nil {
			a.logger.Debug("excluding entry from aggregate",
				zap.String("kpi_id", k.ID),
				zap.String("entry_id", e.ID),
				zap.Error(err),
			)
			if a.observer != nil {
				a.observer.ObserveEvaluationFailure(k.ID)
			}
			continue
		}
		result.EvaluatedCount++
		// Running mean stays finite where a plain sum of large values would overflow.
		n := float64(result.EvaluatedCount)
		mean += v/n - mean/n
		if !haveLatest || !e.DateRecorded.Before(latestAt) {
			latest, latestAt, haveLatest = v, e.DateRecorded, true
		}
	}

	if !lastSeen.IsZero() {
		ts := lastSeen
		result.LastRecorded = &ts
	}
	if result.EvaluatedCount == 0 {
		result.Status = Classify(0)
		return result
	}

	result.RawValue = &mean
	result.LatestValue = &latest
	result.NormalizedScore = Normalize(mean, k.OptimumType)
	result.Status = Classify(result.NormalizedScore)
	return result
}
