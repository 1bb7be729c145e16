// Package rollup combines per-KPI aggregates across KPIs, months, and the
// person, department, and organization levels. Every call works on a View
// and recomputes from scratch.
package rollup

import (
	"fmt"
	"sort"
	"time"

	"kpitrack/internal/kpi"
	"kpitrack/internal/scoring"
)

// EntityPerformance is the rollup of every applicable KPI for one entity.
// OverallScore is the unweighted mean of NormalizedScore over results with
// data, or 0 when no KPI has data.
type EntityPerformance struct {
	Kind           kpi.ScopeKind               `json:"kind"`
	ID             string                      `json:"id"`
	Name           string                      `json:"name"`
	Results        []scoring.PerformanceResult `json:"results"`
	OverallScore   float64                     `json:"overallScore"`
	Status         scoring.Status              `json:"status"`
	KpiCount       int                         `json:"kpiCount"`
	ScoredKpiCount int                         `json:"scoredKpiCount"`
	LastUpdated    *time.Time                  `json:"lastUpdated"`
}

// PersonPerformance adds person attributes to EntityPerformance.
type PersonPerformance struct {
	EntityPerformance
	Email        string `json:"email"`
	DepartmentID string `json:"departmentId"`
}

// DepartmentPerformance adds the current headcount to EntityPerformance.
type DepartmentPerformance struct {
	EntityPerformance
	PeopleCount int `json:"peopleCount"`
}

// Engine runs rollups with a shared Aggregator.
type Engine struct {
	agg *scoring.Aggregator
}

// NewEngine returns an Engine. A nil aggregator gets the default one.
func NewEngine(agg *scoring.Aggregator) *Engine {
	if agg == nil {
		agg = scoring.NewAggregator(nil, nil, nil)
	}
	return &Engine{agg: agg}
}

// Aggregator exposes the engine's aggregator for single-formula evaluation.
func (e *Engine) Aggregator() *scoring.Aggregator {
	return e.agg
}

// AggregateForScope aggregates k over the entries attributed to scope,
// optionally restricted to a period.
func (e *Engine) AggregateForScope(v *View, k kpi.Kpi, scope kpi.Scope, period *kpi.Period) scoring.PerformanceResult {
	var entries []kpi.Entry
	for _, entry := range v.EntriesForScope(scope, period) {
		if entry.KpiID == k.ID {
			entries = append(entries, entry)
		}
	}
	return e.agg.Aggregate(k, entries)
}

// RollupForEntity dispatches on the scope kind.
func (e *Engine) RollupForEntity(v *View, scope kpi.Scope, period *kpi.Period) (EntityPerformance, error) {
	switch scope.Kind() {
	case kpi.ScopePerson:
		p, err := e.RollupPerson(v, scope.ID(), period)
		return p.EntityPerformance, err
	case kpi.ScopeDepartment:
		d, err := e.RollupDepartment(v, scope.ID(), period)
		return d.EntityPerformance, err
	case kpi.ScopeOrganization:
		return e.RollupOrganization(v, period), nil
	default:
		return EntityPerformance{}, fmt.Errorf("rollup: %w", ErrUnknownEntity)
	}
}

// RollupPerson scores one person over their own entries.
func (e *Engine) RollupPerson(v *View, personID string, period *kpi.Period) (PersonPerformance, error) {
	p, ok := v.idx.Person(personID)
	if !ok {
		return PersonPerformance{}, fmt.Errorf("person %q: %w", personID, ErrUnknownEntity)
	}
	perf := e.rollup(v, kpi.PersonScope(p.ID), p.Name, period)
	return PersonPerformance{EntityPerformance: perf, Email: p.Email, DepartmentID: p.DepartmentID}, nil
}

// RollupDepartment scores a department over its own entries and those of
// its current members.
func (e *Engine) RollupDepartment(v *View, departmentID string, period *kpi.Period) (DepartmentPerformance, error) {
	d, ok := v.idx.Department(departmentID)
	if !ok {
		return DepartmentPerformance{}, fmt.Errorf("department %q: %w", departmentID, ErrUnknownEntity)
	}
	perf := e.rollup(v, kpi.DepartmentScope(d.ID), d.Name, period)
	return DepartmentPerformance{EntityPerformance: perf, PeopleCount: len(v.members(d.ID))}, nil
}

// RollupOrganization scores every KPI over every entry.
func (e *Engine) RollupOrganization(v *View, period *kpi.Period) EntityPerformance {
	return e.rollup(v, kpi.OrganizationScope(), "Organization", period)
}

func (e *Engine) rollup(v *View, scope kpi.Scope, name string, period *kpi.Period) EntityPerformance {
	kpis := v.ApplicableKpis(scope)
	entries := v.EntriesForScope(scope, period)
	byKpi := make(map[string][]kpi.Entry)
	for _, entry := range entries {
		byKpi[entry.KpiID] = append(byKpi[entry.KpiID], entry)
	}

	perf := EntityPerformance{
		Kind:     scope.Kind(),
		ID:       scope.ID(),
		Name:     name,
		Results:  make([]scoring.PerformanceResult, 0, len(kpis)),
		KpiCount: len(kpis),
	}
	var sum float64
	for _, k := range kpis {
		result := e.agg.Aggregate(k, byKpi[k.ID])
		perf.Results = append(perf.Results, result)
		if result.LastRecorded != nil && (perf.LastUpdated == nil || result.LastRecorded.After(*perf.LastUpdated)) {
			ts := *result.LastRecorded
			perf.LastUpdated = &ts
		}
		if result.HasData() {
			perf.ScoredKpiCount++
			sum += result.NormalizedScore
		}
	}
	if perf.ScoredKpiCount > 0 {
		perf.OverallScore = sum / float64(perf.ScoredKpiCount)
	}
	perf.Status = scoring.Classify(perf.OverallScore)
	sortResults(perf.Results)
	return perf
}

// RankPeople rolls up every person, best score first.
func (e *Engine) RankPeople(v *View, period *kpi.Period) []PersonPerformance {
	out := make([]PersonPerformance, 0, len(v.ds.People))
	for _, p := range v.ds.People {
		perf, err := e.RollupPerson(v, p.ID, period)
		if err != nil {
			continue
		}
		out = append(out, perf)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ranksBefore(out[i].EntityPerformance, out[j].EntityPerformance)
	})
	return out
}

// RankDepartments rolls up every department, best score first.
func (e *Engine) RankDepartments(v *View, period *kpi.Period) []DepartmentPerformance {
	out := make([]DepartmentPerformance, 0, len(v.ds.Departments))
	for _, d := range v.ds.Departments {
		perf, err := e.RollupDepartment(v, d.ID, period)
		if err != nil {
			continue
		}
		out = append(out, perf)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ranksBefore(out[i].EntityPerformance, out[j].EntityPerformance)
	})
	return out
}

func ranksBefore(a, b EntityPerformance) bool {
	if a.OverallScore != b.OverallScore {
		return a.OverallScore > b.OverallScore
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

func sortResults(results []scoring.PerformanceResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.NormalizedScore != b.NormalizedScore {
			return a.NormalizedScore > b.NormalizedScore
		}
		if a.KpiName != b.KpiName {
			return a.KpiName < b.KpiName
		}
		return a.KpiID < b.KpiID
	})
}
