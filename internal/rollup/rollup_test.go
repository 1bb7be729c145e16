package rollup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpitrack/internal/kpi"
	"kpitrack/internal/scoring"
	"kpitrack/internal/store"
)

var (
	salesKpi = kpi.Kpi{
		ID: "sales", Name: "Sales Target Achievement", Unit: "%",
		OptimumType: kpi.OptimumHigher,
		Variables:   []kpi.Variable{{Name: "actual"}, {Name: "target"}},
		Formula:     "(actual / target) * 100",
	}
	defectKpi = kpi.Kpi{
		ID: "defects", Name: "Defect Rate", Unit: "%",
		OptimumType: kpi.OptimumLower,
		Variables:   []kpi.Variable{{Name: "defects"}, {Name: "units"}},
		Formula:     "defects / units * 100",
	}
)

func recorded(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 9, 0, 0, 0, time.UTC)
}

func salesEntry(id string, scope kpi.Scope, year, month int, actual float64) kpi.Entry {
	return kpi.Entry{
		ID: id, KpiID: "sales", Scope: scope, Period: kpi.MonthPeriod(year, month),
		VariableValues: map[string]float64{"actual": actual, "target": 100000},
		DateRecorded:   recorded(year, month, 15),
	}
}

func defectEntry(id string, scope kpi.Scope, year, month int, defects float64) kpi.Entry {
	return kpi.Entry{
		ID: id, KpiID: "defects", Scope: scope, Period: kpi.MonthPeriod(year, month),
		VariableValues: map[string]float64{"defects": defects, "units": 100},
		DateRecorded:   recorded(year, month, 20),
	}
}

func baseDataset() *kpi.Dataset {
	return &kpi.Dataset{
		Kpis: []kpi.Kpi{salesKpi, defectKpi},
		Departments: []kpi.Department{
			{ID: "d1", Name: "Sales", KpiIDs: []string{"sales"}},
			{ID: "d2", Name: "Quality", KpiIDs: []string{"defects"}},
		},
		People: []kpi.Person{
			{ID: "p1", Name: "John Doe", DepartmentID: "d1"},
			{ID: "p2", Name: "Jane Roe", DepartmentID: "d2"},
		},
	}
}

func TestDepartmentRollupIncludesMemberEntries(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{salesEntry("e1", kpi.PersonScope("p1"), 2025, 1, 85000)}
	v := NewView(ds)

	perf, err := NewEngine(nil).RollupDepartment(v, "d1", nil)
	require.NoError(t, err)
	assert.InDelta(t, 85, perf.OverallScore, 1e-9)
	assert.Equal(t, scoring.StatusGood, perf.Status)
	assert.Equal(t, 1, perf.PeopleCount)
	assert.Equal(t, 1, perf.ScoredKpiCount)
	require.NotNil(t, perf.LastUpdated)
	assert.Equal(t, recorded(2025, 1, 15), *perf.LastUpdated)
}

func TestMembershipIsResolvedAtAggregationTime(t *testing.T) {
	ds := baseDataset()
	ds.Departments[1].KpiIDs = []string{"defects", "sales"}
	ds.Entries = []kpi.Entry{salesEntry("e1", kpi.PersonScope("p1"), 2025, 1, 85000)}
	engine := NewEngine(nil)

	before, err := engine.RollupDepartment(NewView(ds), "d2", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, before.OverallScore)

	ds.People[0].DepartmentID = "d2"
	after, err := engine.RollupDepartment(NewView(ds), "d2", nil)
	require.NoError(t, err)
	assert.InDelta(t, 85, after.OverallScore, 1e-9)

	old, err := engine.RollupDepartment(NewView(ds), "d1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, old.OverallScore)
	assert.Equal(t, 0, old.PeopleCount)
}

func TestOverallScoreSkipsKpisWithoutData(t *testing.T) {
	ds := baseDataset()
	ds.Departments[0].KpiIDs = []string{"sales", "defects"}
	ds.Entries = []kpi.Entry{
		salesEntry("e1", kpi.PersonScope("p1"), 2025, 1, 60000),
		{
			ID: "bad", KpiID: "defects", Scope: kpi.PersonScope("p1"), Period: kpi.MonthPeriod(2025, 1),
			VariableValues: map[string]float64{"defects": 1, "units": 0}, DateRecorded: recorded(2025, 1, 31),
		},
	}

	perf, err := NewEngine(nil).RollupPerson(NewView(ds), "p1", nil)
	require.NoError(t, err)
	assert.InDelta(t, 60, perf.OverallScore, 1e-9)
	assert.Equal(t, scoring.StatusAverage, perf.Status)
	assert.Equal(t, 2, perf.KpiCount)
	assert.Equal(t, 1, perf.ScoredKpiCount)
	require.Len(t, perf.Results, 2)
	assert.Equal(t, "sales", perf.Results[0].KpiID)
	assert.Nil(t, perf.Results[1].RawValue)
	require.NotNil(t, perf.LastUpdated)
	assert.Equal(t, recorded(2025, 1, 31), *perf.LastUpdated)
}

func TestEntityWithoutDataScoresZero(t *testing.T) {
	perf, err := NewEngine(nil).RollupPerson(NewView(baseDataset()), "p2", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, perf.OverallScore)
	assert.Equal(t, scoring.StatusNeedsImprovement, perf.Status)
	assert.Nil(t, perf.LastUpdated)
}

func TestPersonApplicableKpisIncludeOwnEntries(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{defectEntry("e1", kpi.PersonScope("p1"), 2025, 1, 5)}
	v := NewView(ds)

	kpis := v.ApplicableKpis(kpi.PersonScope("p1"))
	require.Len(t, kpis, 2)
	assert.Equal(t, "sales", kpis[0].ID)
	assert.Equal(t, "defects", kpis[1].ID)

	perf, err := NewEngine(nil).RollupPerson(v, "p1", nil)
	require.NoError(t, err)
	assert.InDelta(t, 95, perf.OverallScore, 1e-9)
}

func TestRollupUnknownEntity(t *testing.T) {
	engine := NewEngine(nil)
	v := NewView(baseDataset())
	_, err := engine.RollupPerson(v, "ghost", nil)
	assert.True(t, errors.Is(err, ErrUnknownEntity))
	_, err = engine.RollupForEntity(v, kpi.DepartmentScope("ghost"), nil)
	assert.True(t, errors.Is(err, ErrUnknownEntity))
	assert.Error(t, v.CheckScope(kpi.Scope{}))
}

func TestPeriodFilter(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{
		salesEntry("jan", kpi.PersonScope("p1"), 2025, 1, 80000),
		salesEntry("feb", kpi.PersonScope("p1"), 2025, 2, 40000),
	}
	v := NewView(ds)
	engine := NewEngine(nil)

	feb := kpi.MonthPeriod(2025, 2)
	result := engine.AggregateForScope(v, salesKpi, kpi.PersonScope("p1"), &feb)
	require.NotNil(t, result.RawValue)
	assert.InDelta(t, 40, *result.RawValue, 1e-9)

	all := engine.AggregateForScope(v, salesKpi, kpi.OrganizationScope(), nil)
	require.NotNil(t, all.RawValue)
	assert.InDelta(t, 60, *all.RawValue, 1e-9)
	require.NotNil(t, all.LatestValue)
	assert.InDelta(t, 40, *all.LatestValue, 1e-9)
}

func TestTrendSeriesIsSparse(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{
		salesEntry("e1", kpi.PersonScope("p1"), 2024, 11, 90000),
		salesEntry("e2", kpi.PersonScope("p1"), 2025, 2, 70000),
	}

	buckets := NewEngine(nil).TrendSeries(NewView(ds), nil, kpi.PersonScope("p1"), kpi.MonthPeriod(2025, 3), 6, ModeScore)
	require.Len(t, buckets, 6)
	assert.Equal(t, "Oct 2024", buckets[0].Label)
	assert.Equal(t, "Mar 2025", buckets[5].Label)

	withData := 0
	for _, b := range buckets {
		if len(b.Values) > 0 {
			withData++
			continue
		}
		_, present := b.Values["sales"]
		assert.False(t, present, b.Label)
	}
	assert.Equal(t, 2, withData)
	assert.InDelta(t, 90, buckets[1].Values["sales"], 1e-9)
	assert.InDelta(t, 70, buckets[4].Values["sales"], 1e-9)
}

func TestTrendSeriesRawMode(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{salesEntry("e1", kpi.PersonScope("p1"), 2025, 1, 150000)}

	buckets := NewEngine(nil).TrendSeries(NewView(ds), nil, kpi.OrganizationScope(), kpi.MonthPeriod(2025, 1), 1, ModeRaw)
	require.Len(t, buckets, 1)
	assert.InDelta(t, 150, buckets[0].Values["sales"], 1e-9)
}

func TestCompareRollsOverYear(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{
		salesEntry("dec", kpi.PersonScope("p1"), 2024, 12, 50000),
		salesEntry("jan", kpi.PersonScope("p1"), 2025, 1, 75000),
		defectEntry("dec-only", kpi.PersonScope("p2"), 2024, 12, 10),
	}

	cmp := NewEngine(nil).Compare(NewView(ds), nil, kpi.OrganizationScope(), kpi.MonthPeriod(2025, 1))
	assert.Equal(t, kpi.MonthPeriod(2024, 12), cmp.Previous)
	require.Len(t, cmp.Rows, 1, "kpis without current data are omitted")

	row := cmp.Rows[0]
	assert.Equal(t, "sales", row.KpiID)
	assert.InDelta(t, 75, row.Current, 1e-9)
	require.NotNil(t, row.Previous)
	assert.InDelta(t, 50, *row.Previous, 1e-9)
	require.NotNil(t, row.DeltaPercent)
	assert.InDelta(t, 50, *row.DeltaPercent, 1e-9)
	assert.Equal(t, scoring.StatusGood, row.CurrentStatus)
	assert.Equal(t, scoring.StatusAverage, row.PreviousStatus)
	assert.True(t, row.StatusChanged())
}

func TestCompareWithoutPreviousData(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{salesEntry("jan", kpi.PersonScope("p1"), 2025, 1, 75000)}

	cmp := NewEngine(nil).Compare(NewView(ds), nil, kpi.PersonScope("p1"), kpi.MonthPeriod(2025, 1))
	require.Len(t, cmp.Rows, 1)
	assert.Nil(t, cmp.Rows[0].Previous)
	assert.Nil(t, cmp.Rows[0].DeltaPercent)
	assert.False(t, cmp.Rows[0].StatusChanged())
}

func TestRankings(t *testing.T) {
	ds := baseDataset()
	ds.People = append(ds.People,
		kpi.Person{ID: "p3", Name: "Adam Ant", DepartmentID: "d1"},
		kpi.Person{ID: "p4", Name: "Zed Zee", DepartmentID: "d1"},
	)
	ds.Entries = []kpi.Entry{
		salesEntry("e1", kpi.PersonScope("p1"), 2025, 1, 50000),
		salesEntry("e3", kpi.PersonScope("p3"), 2025, 1, 90000),
		salesEntry("e4", kpi.PersonScope("p4"), 2025, 1, 90000),
		defectEntry("e2", kpi.DepartmentScope("d2"), 2025, 1, 2),
	}
	engine := NewEngine(nil)
	v := NewView(ds)

	people := engine.RankPeople(v, nil)
	var names []string
	for _, p := range people {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Adam Ant", "Zed Zee", "John Doe", "Jane Roe"}, names)

	departments := engine.RankDepartments(v, nil)
	require.Len(t, departments, 2)
	assert.Equal(t, "d2", departments[0].ID)
	assert.InDelta(t, 98, departments[0].OverallScore, 1e-9)
	assert.Equal(t, "d1", departments[1].ID)
	assert.InDelta(t, (50.0+90+90)/3, departments[1].OverallScore, 1e-9)
	assert.Equal(t, 3, departments[1].PeopleCount)
}

func TestRadar(t *testing.T) {
	ds := baseDataset()
	ds.Entries = []kpi.Entry{
		salesEntry("e1", kpi.PersonScope("p1"), 2025, 1, 120000),
		defectEntry("e2", kpi.PersonScope("p2"), 2025, 1, 30),
	}
	points := NewEngine(nil).Radar(NewView(ds), nil, kpi.OrganizationScope(), kpi.MonthPeriod(2025, 1))
	require.Len(t, points, 2)
	assert.InDelta(t, 100, points[0].Score, 1e-9)
	assert.InDelta(t, 70, points[1].Score, 1e-9)
}

func TestServiceUsesStoreSnapshot(t *testing.T) {
	ctx := context.Background()
	ds := baseDataset()
	ds.Entries = []kpi.Entry{salesEntry("e1", kpi.PersonScope("p1"), 2025, 1, 85000)}
	svc := NewService(store.NewMemoryStoreFrom(ds), nil)

	value, err := svc.EvaluateFormula(ctx, "sales", map[string]float64{"actual": 85000, "target": 100000})
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.InDelta(t, 85, *value, 1e-9)

	value, err = svc.EvaluateFormula(ctx, "sales", map[string]float64{"actual": 1})
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = svc.EvaluateFormula(ctx, "nope", nil)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	dept, err := svc.RollupForEntity(ctx, kpi.DepartmentScope("d1"), nil)
	require.NoError(t, err)
	assert.InDelta(t, 85, dept.OverallScore, 1e-9)

	result, err := svc.AggregateForScope(ctx, "sales", kpi.DepartmentScope("d1"), nil)
	require.NoError(t, err)
	require.NotNil(t, result.RawValue)
	assert.InDelta(t, 85, *result.RawValue, 1e-9)

	_, err = svc.TrendSeries(ctx, kpi.PersonScope("ghost"), kpi.MonthPeriod(2025, 1), 6, ModeScore)
	assert.True(t, errors.Is(err, ErrUnknownEntity))
}
