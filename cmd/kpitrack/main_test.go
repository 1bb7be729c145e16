package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpitrack/internal/audit"
	"kpitrack/internal/kpi"
	"kpitrack/internal/rollup"
)

func runCLI(t *testing.T, workspaceDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--workspace", workspaceDir}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	ds := &kpi.Dataset{
		Kpis: []kpi.Kpi{{
			ID: "sales", Name: "Sales Target Achievement", Unit: "%",
			OptimumType: kpi.OptimumHigher,
			Variables:   []kpi.Variable{{Name: "actual"}, {Name: "target"}},
			Formula:     "(actual / target) * 100",
		}},
		Departments: []kpi.Department{{ID: "d1", Name: "Sales", KpiIDs: []string{"sales"}}},
		People:      []kpi.Person{{ID: "p1", Name: "John Doe", DepartmentID: "d1"}},
		Entries: []kpi.Entry{
			{
				ID: "dec", KpiID: "sales", Scope: kpi.PersonScope("p1"), Period: kpi.MonthPeriod(2024, 12),
				VariableValues: map[string]float64{"actual": 30000, "target": 100000},
				DateRecorded:   time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC),
			},
			{
				ID: "jan", KpiID: "sales", Scope: kpi.PersonScope("p1"), Period: kpi.MonthPeriod(2025, 1),
				VariableValues: map[string]float64{"actual": 85000, "target": 100000},
				DateRecorded:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	path := filepath.Join(dir, "fixture.yaml")
	require.NoError(t, kpi.WriteDataset(path, ds, kpi.FormatYAML))
	return path
}

func TestCLIWorkflow(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "ws")

	out, err := runCLI(t, ws, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized workspace")
	assert.FileExists(t, filepath.Join(ws, "kpitrack.yaml"))
	assert.FileExists(t, filepath.Join(ws, "data", "kpitrack.sqlite"))

	out, err = runCLI(t, ws, "import", writeFixture(t, t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 people, 1 departments, 1 KPIs, 2 entries")

	out, err = runCLI(t, ws, "eval", "--kpi", "sales", "actual=85000", "target=100000")
	require.NoError(t, err)
	value, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	require.NoError(t, err)
	assert.InDelta(t, 85, value, 1e-9)

	out, err = runCLI(t, ws, "eval", "--kpi", "sales", "actual=1", "target=0")
	require.NoError(t, err)
	assert.Contains(t, out, "no value")

	_, err = runCLI(t, ws, "eval", "--kpi", "sales", "actual")
	assert.Error(t, err)

	out, err = runCLI(t, ws, "department", "d1", "--period", "2025-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Sales (department): 85.0% Good")
	assert.Contains(t, out, "members: 1")

	out, err = runCLI(t, ws, "compare", "--period", "2025-01", "--json")
	require.NoError(t, err)
	var cmp rollup.Comparison
	require.NoError(t, json.Unmarshal([]byte(out), &cmp))
	require.Len(t, cmp.Rows, 1)
	assert.True(t, cmp.Rows[0].StatusChanged())

	out, err = runCLI(t, ws, "trend", "--scope", "person:p1", "--period", "2025-01", "--window", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Nov 2024  -", lines[0])
	assert.Equal(t, "Jan 2025  Sales Target Achievement=85.0", lines[2])

	out, err = runCLI(t, ws, "score", "--period", "2025-01")
	require.NoError(t, err)
	assert.Contains(t, out, "person John Doe: 85.0% (Good)")
	reports, err := os.ReadDir(filepath.Join(ws, "reports"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	_, err = runCLI(t, ws, "person", "ghost")
	assert.Error(t, err)

	events, err := audit.NewLogger(filepath.Join(ws, "audit", "audit.sqlite")).Recent(100)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, "workspace_init_started")
	assert.Contains(t, types, "import_finished")
	assert.Contains(t, types, "score_finished")
	assert.Contains(t, types, "compare_finished")

	out, err = runCLI(t, ws, "audit", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "score_finished")
}

func TestCLIResetRequiresForce(t *testing.T) {
	ws := t.TempDir()
	_, err := runCLI(t, ws, "init", "--sample")
	require.NoError(t, err)

	_, err = runCLI(t, ws, "reset")
	assert.Error(t, err)

	out, err := runCLI(t, ws, "export", "--out", "-", "--format", "json")
	require.NoError(t, err)
	ds, err := kpi.DecodeDataset([]byte(out), kpi.FormatJSON)
	require.NoError(t, err)
	assert.Len(t, ds.People, 2)

	_, err = runCLI(t, ws, "reset", "--force")
	require.NoError(t, err)
	out, err = runCLI(t, ws, "export", "--out", "-")
	require.NoError(t, err)
	ds, err = kpi.DecodeDataset([]byte(out), kpi.FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, ds.People)
}

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"actual=85000", " target = 1e5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"actual": 85000, "target": 100000}, values)

	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"x=abc"})
	assert.Error(t, err)
}

func TestCLIDaemonQueue(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "ws")
	_, err := runCLI(t, ws, "init")
	require.NoError(t, err)
	_, err = runCLI(t, ws, "import", writeFixture(t, t.TempDir()))
	require.NoError(t, err)

	out, err := runCLI(t, ws, "daemon", "enqueue", "score_report", "--at", "2025-01-20T08:00", "--payload-json", `{"period":"2025-01"}`)
	require.NoError(t, err)
	assert.Equal(t, "Enqueued job: score_report_2025-01-20T08:00:00\n", out)

	out, err = runCLI(t, ws, "daemon", "enqueue", "score_report", "--at", "2025-01-20T08:00")
	require.NoError(t, err)
	assert.Contains(t, out, "Job already exists")

	_, err = runCLI(t, ws, "daemon", "enqueue", "score_report", "--payload-json", "{")
	assert.Error(t, err)

	out, err = runCLI(t, ws, "daemon", "run", "--once")
	require.NoError(t, err)
	assert.Equal(t, "Ran 1 jobs\n", out)

	reports, err := filepath.Glob(filepath.Join(ws, "reports", "*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	out, err = runCLI(t, ws, "daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Running jobs: 0")
	assert.Contains(t, out, "score_report_2025-01-20T08:00:00 [score_report] status=succeeded")
	assert.Contains(t, out, `"changed":true`)
}
