package rollup

import (
	"context"
	"fmt"

	"kpitrack/internal/kpi"
	"kpitrack/internal/scoring"
	"kpitrack/internal/store"
)

// Service runs rollups against fresh snapshots of a store.
type Service struct {
	repo   store.Reader
	engine *Engine
}

// NewService wires a store reader to an engine. A nil engine gets the default.
func NewService(repo store.Reader, engine *Engine) *Service {
	if engine == nil {
		engine = NewEngine(nil)
	}
	return &Service{repo: repo, engine: engine}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// View takes a snapshot of the store.
func (s *Service) View(ctx context.Context) (*View, error) {
	ds, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return NewView(ds), nil
}

// EvaluateFormula evaluates a KPI's formula against values. The value is nil
// when evaluation fails; the error is reserved for lookup and store failures.
func (s *Service) EvaluateFormula(ctx context.Context, kpiID string, values map[string]float64) (*float64, error) {
	v, err := s.View(ctx)
	if err != nil {
		return nil, err
	}
	k, ok := v.Kpi(kpiID)
	if !ok {
		return nil, fmt.Errorf("kpi %q: %w", kpiID, store.ErrNotFound)
	}
	result, ok := s.engine.agg.EvaluateFormula(k, values)
	if !ok {
		return nil, nil
	}
	return &result, nil
}

// AggregateForScope aggregates one KPI over a scope.
func (s *Service) AggregateForScope(ctx context.Context, kpiID string, scope kpi.Scope, period *kpi.Period) (scoring.PerformanceResult, error) {
	v, err := s.View(ctx)
	if err != nil {
		return scoring.PerformanceResult{}, err
	}
	k, ok := v.Kpi(kpiID)
	if !ok {
		return scoring.PerformanceResult{}, fmt.Errorf("kpi %q: %w", kpiID, store.ErrNotFound)
	}
	if err := v.CheckScope(scope); err != nil {
		return scoring.PerformanceResult{}, err
	}
	return s.engine.AggregateForScope(v, k, scope, period), nil
}

// RollupForEntity rolls up one entity.
func (s *Service) RollupForEntity(ctx context.Context, scope kpi.Scope, period *kpi.Period) (EntityPerformance, error) {
	v, err := s.View(ctx)
	if err != nil {
		return EntityPerformance{}, err
	}
	return s.engine.RollupForEntity(v, scope, period)
}

// Person rolls up one person.
func (s *Service) Person(ctx context.Context, id string, period *kpi.Period) (PersonPerformance, error) {
	v, err := s.View(ctx)
	if err != nil {
		return PersonPerformance{}, err
	}
	return s.engine.RollupPerson(v, id, period)
}

// Department rolls up one department.
func (s *Service) Department(ctx context.Context, id string, period *kpi.Period) (DepartmentPerformance, error) {
	v, err := s.View(ctx)
	if err != nil {
		return DepartmentPerformance{}, err
	}
	return s.engine.RollupDepartment(v, id, period)
}

// RankPeople ranks every person.
func (s *Service) RankPeople(ctx context.Context, period *kpi.Period) ([]PersonPerformance, error) {
	v, err := s.View(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.RankPeople(v, period), nil
}

// RankDepartments ranks every department.
func (s *Service) RankDepartments(ctx context.Context, period *kpi.Period) ([]DepartmentPerformance, error) {
	v, err := s.View(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.RankDepartments(v, period), nil
}

// TrendSeries builds a month-by-month series for the scope's applicable KPIs.
func (s *Service) TrendSeries(ctx context.Context, scope kpi.Scope, ref kpi.Period, window int, mode ValueMode) ([]TrendBucket, error) {
	v, err := s.View(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.CheckScope(scope); err != nil {
		return nil, err
	}
	return s.engine.TrendSeries(v, nil, scope, ref, window, mode), nil
}

// Compare compares the month of current with the month before it.
func (s *Service) Compare(ctx context.Context, scope kpi.Scope, current kpi.Period) (Comparison, error) {
	v, err := s.View(ctx)
	if err != nil {
		return Comparison{}, err
	}
	if err := v.CheckScope(scope); err != nil {
		return Comparison{}, err
	}
	return s.engine.Compare(v, nil, scope, current), nil
}

// Radar returns per-KPI normalized scores for period.
func (s *Service) Radar(ctx context.Context, scope kpi.Scope, period kpi.Period) ([]RadarPoint, error) {
	v, err := s.View(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.CheckScope(scope); err != nil {
		return nil, err
	}
	return s.engine.Radar(v, nil, scope, period), nil
}
