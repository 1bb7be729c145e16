package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpitrack/internal/kpi"
	"kpitrack/internal/rollup"
	"kpitrack/internal/scoring"
)

func dataset(actual float64) *kpi.Dataset {
	return &kpi.Dataset{
		Kpis: []kpi.Kpi{{
			ID: "sales", Name: "Sales", Unit: "%", OptimumType: kpi.OptimumHigher,
			Variables: []kpi.Variable{{Name: "actual"}, {Name: "target"}},
			Formula:   "(actual / target) * 100",
		}},
		Departments: []kpi.Department{{ID: "d1", Name: "Sales", KpiIDs: []string{"sales"}}},
		People:      []kpi.Person{{ID: "p1", Name: "John Doe", DepartmentID: "d1"}},
		Entries: []kpi.Entry{{
			ID: "e1", KpiID: "sales", Scope: kpi.PersonScope("p1"), Period: kpi.MonthPeriod(2025, 1),
			VariableValues: map[string]float64{"actual": actual, "target": 100000},
			DateRecorded:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		}},
	}
}

func build(actual float64, at time.Time) *ScoreReport {
	return Build(rollup.NewEngine(nil), rollup.NewView(dataset(actual)), nil, at)
}

func TestBuild(t *testing.T) {
	jan := kpi.MonthPeriod(2025, 1)
	r := Build(rollup.NewEngine(nil), rollup.NewView(dataset(85000)), &jan, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "2025-01", r.Period)
	assert.Equal(t, "2025-02-01T00:00:00Z", r.GeneratedAt)
	assert.InDelta(t, 85, r.Organization.OverallScore, 1e-9)
	require.Len(t, r.Departments, 1)
	assert.InDelta(t, 85, r.Departments[0].OverallScore, 1e-9)
	require.Len(t, r.People, 1)
	assert.Equal(t, map[scoring.Status]int{scoring.StatusGood: 1}, StatusCounts(r))
}

func TestWriteLoadAndLatest(t *testing.T) {
	dir := t.TempDir()
	first := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	require.NoError(t, Write(PathFor(dir, second), build(90000, second)))
	require.NoError(t, Write(PathFor(dir, first), build(85000, first)))

	latest, err := LatestPath(dir)
	require.NoError(t, err)
	assert.Equal(t, PathFor(dir, second), latest)

	loaded, err := Load(latest)
	require.NoError(t, err)
	assert.InDelta(t, 90, loaded.Organization.OverallScore, 1e-9)
	assert.Equal(t, build(90000, second).People[0].Name, loaded.People[0].Name)
}

func TestLatestPathEmpty(t *testing.T) {
	_, err := LatestPath(t.TempDir())
	assert.ErrorIs(t, err, ErrNoReports)

	notDir := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))
	_, err = LatestPath(notDir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoReports)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":1,"generatedAt":"x","bogus":true}`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	same, err := Diff(build(85000, at), build(85000, at.Add(time.Hour)), "a", "b")
	require.NoError(t, err)
	assert.Empty(t, same)

	changed, err := Diff(build(85000, at), build(30000, at), "before.json", "after.json")
	require.NoError(t, err)
	assert.Contains(t, changed, "--- before.json")
	assert.Contains(t, changed, "+++ after.json")
	assert.Contains(t, changed, "-person John Doe: 85.0% (Good)")
	assert.Contains(t, changed, "+person John Doe: 30.0% (Needs Improvement)")
}
