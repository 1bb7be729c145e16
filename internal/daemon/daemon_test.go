package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kpitrack/internal/audit"
	"kpitrack/internal/kpi"
	"kpitrack/internal/rollup"
	"kpitrack/internal/scoring"
	"kpitrack/internal/store"
	"kpitrack/internal/telemetry"
	"kpitrack/internal/workspace"
)

type recordingNotifier struct {
	titles []string
}

func (n *recordingNotifier) Send(title, _ string) error {
	n.titles = append(n.titles, title)
	return nil
}

var salesKpi = kpi.Kpi{
	ID: "sales", Name: "Sales Target Achievement", Unit: "%",
	OptimumType: kpi.OptimumHigher,
	Variables:   []kpi.Variable{{Name: "actual"}, {Name: "target"}},
	Formula:     "(actual / target) * 100",
}

func salesEntry(id string, year, month int, actual float64) kpi.Entry {
	return kpi.Entry{
		ID: id, KpiID: "sales", Scope: kpi.PersonScope("p1"), Period: kpi.MonthPeriod(year, month),
		VariableValues: map[string]float64{"actual": actual, "target": 100},
		DateRecorded:   time.Date(year, time.Month(month), 15, 9, 0, 0, 0, time.UTC),
	}
}

func fixture() *kpi.Dataset {
	return &kpi.Dataset{
		Kpis:        []kpi.Kpi{salesKpi},
		Departments: []kpi.Department{{ID: "d1", Name: "Sales", KpiIDs: []string{"sales"}}},
		People:      []kpi.Person{{ID: "p1", Name: "John Doe", DepartmentID: "d1"}},
		Entries: []kpi.Entry{
			salesEntry("e1", 2024, 12, 50),
			salesEntry("e2", 2025, 1, 85),
		},
	}
}

type harness struct {
	d        *Daemon
	ws       *workspace.Workspace
	data     *store.MemoryStore
	notifier *recordingNotifier
	audit    *audit.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLogger(t, nil)
}

func newHarnessWithLogger(t *testing.T, logger *zap.Logger) *harness {
	t.Helper()
	ws := workspace.Layout(t.TempDir())
	require.NoError(t, ws.EnsureDirs())

	data := store.NewMemoryStoreFrom(fixture())
	svc := rollup.NewService(data, rollup.NewEngine(scoring.NewAggregator(nil, nil, nil)))
	notifier := &recordingNotifier{}
	auditLog := audit.NewLogger(ws.AuditDBPath)

	d, err := New(Config{
		Workspace:     ws,
		TimeZone:      "UTC",
		ReportHour:    2,
		WatchInterval: 30 * time.Second,
		LeaseOwner:    "test",
	}, Deps{
		Service:  svc,
		Data:     data,
		Notifier: notifier,
		Audit:    auditLog,
		Metrics:  telemetry.New(),
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return &harness{d: d, ws: ws, data: data, notifier: notifier, audit: auditLog}
}

func (h *harness) result(t *testing.T, id string) (*Job, map[string]any) {
	t.Helper()
	job, err := h.d.Jobs.GetJob(context.Background(), id)
	require.NoError(t, err)
	var out map[string]any
	if job.ResultJSON != "" {
		require.NoError(t, json.Unmarshal([]byte(job.ResultJSON), &out))
	}
	return job, out
}

func TestCompareNotifySendsStatusChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Date(2025, 2, 1, 2, 0, 0, 0, time.UTC)

	id, _, err := h.d.Jobs.EnqueueUnique(ctx, JobCompareNotify, "", now, compareNotifyPayload{Period: "2025-01"})
	require.NoError(t, err)

	ran, err := h.d.Drain(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	job, out := h.result(t, id)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.EqualValues(t, 2, out["scopes"])
	assert.EqualValues(t, 2, out["notified"])
	assert.Equal(t, []any{
		"all Sales Target Achievement: Average -> Good",
		"department:d1 Sales Target Achievement: Average -> Good",
	}, out["changes"])
	assert.Equal(t, []string{"✅ KPI back on track", "✅ KPI back on track"}, h.notifier.titles)
}

func TestCompareNotifyRequiresMonth(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Date(2025, 2, 1, 2, 0, 0, 0, time.UTC)

	id, _, err := h.d.Jobs.EnqueueUnique(ctx, JobCompareNotify, "", now, compareNotifyPayload{Period: "2025"})
	require.NoError(t, err)
	_, err = h.d.Drain(ctx, now)
	require.NoError(t, err)

	job, out := h.result(t, id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, out["error"], "must name a month")
}

func TestScoreReportWritesAndDiffs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	t1 := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	first, _, err := h.d.Jobs.EnqueueUnique(ctx, JobScoreReport, "", t1, nil)
	require.NoError(t, err)
	_, err = h.d.Drain(ctx, t1)
	require.NoError(t, err)

	job, out := h.result(t, first)
	require.Equal(t, StatusSucceeded, job.Status, job.ResultJSON)
	assert.Equal(t, true, out["changed"])
	assert.FileExists(t, out["path"].(string))
	assert.InDelta(t, 67.5, out["organization_score"], 1e-9)

	second, _, err := h.d.Jobs.EnqueueUnique(ctx, JobScoreReport, "", t2, scoreReportPayload{Period: "2025-01"})
	require.NoError(t, err)
	_, err = h.d.Drain(ctx, t2)
	require.NoError(t, err)

	_, out = h.result(t, second)
	assert.Equal(t, true, out["changed"], "a period-scoped report differs from the all-time one")

	third, _, err := h.d.Jobs.EnqueueUnique(ctx, JobScoreReport, "", t2.Add(time.Minute), scoreReportPayload{Period: "2025-01"})
	require.NoError(t, err)
	_, err = h.d.Drain(ctx, t2.Add(time.Minute))
	require.NoError(t, err)

	_, out = h.result(t, third)
	assert.Equal(t, false, out["changed"])

	reports, err := filepath.Glob(filepath.Join(h.ws.ReportsDir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 3)
}

func TestScoreReportWarnsWhenReportsDirUnreadable(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarnessWithLogger(t, zap.New(core))
	at := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	first, _, err := h.d.Jobs.EnqueueUnique(ctx, JobScoreReport, "", at, nil)
	require.NoError(t, err)
	_, err = h.d.Drain(ctx, at)
	require.NoError(t, err)
	job, _ := h.result(t, first)
	require.Equal(t, StatusSucceeded, job.Status, job.ResultJSON)
	assert.Zero(t, logs.FilterMessage("previous report unavailable, skipping diff").Len(),
		"an empty reports dir is not a warning")

	require.NoError(t, os.RemoveAll(h.ws.ReportsDir))
	require.NoError(t, os.WriteFile(h.ws.ReportsDir, []byte("not a dir"), 0o644))

	second, _, err := h.d.Jobs.EnqueueUnique(ctx, JobScoreReport, "", at.Add(time.Minute), nil)
	require.NoError(t, err)
	_, err = h.d.Drain(ctx, at.Add(time.Minute))
	require.NoError(t, err)

	warned := logs.FilterMessage("previous report unavailable, skipping diff").All()
	require.Len(t, warned, 1)
	assert.Equal(t, second, warned[0].ContextMap()["job_id"])
	job, _ = h.result(t, second)
	assert.Equal(t, StatusFailed, job.Status)
}

func TestInboxFilesAreImported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ds := fixture()
	ds.People = append(ds.People, kpi.Person{ID: "p2", Name: "Jane Smith", DepartmentID: "d1"})
	require.NoError(t, kpi.WriteDataset(filepath.Join(h.ws.InboxDir, "team.yaml"), ds, kpi.FormatYAML))

	t0 := time.Date(2025, 1, 20, 10, 0, 10, 0, time.UTC)
	ran, err := h.d.Drain(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, ran, "the first step only records the watermark")

	t1 := t0.Add(30 * time.Second)
	ran, err = h.d.Drain(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, 3, ran, "watch_tick, import_file, score_report")

	people, err := h.data.ListPeople(ctx)
	require.NoError(t, err)
	assert.Len(t, people, 2)

	reports, err := filepath.Glob(filepath.Join(h.ws.ReportsDir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	ran, err = h.d.Drain(ctx, t1.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, ran, "an unchanged inbox is not imported again")

	events, err := h.audit.Recent(50)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, "dataset_imported")
	assert.Contains(t, types, "job_succeeded")
}

func TestInvalidInboxFileFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	path := filepath.Join(h.ws.InboxDir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kpis": [{"id": "x"}]}`), 0o644))

	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	id, _, err := h.d.Jobs.EnqueueUnique(ctx, JobImportFile, path, now, importFilePayload{Path: path})
	require.NoError(t, err)
	_, err = h.d.Drain(ctx, now)
	require.NoError(t, err)

	job, out := h.result(t, id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, out["error"], "name is required")

	people, err := h.data.ListPeople(ctx)
	require.NoError(t, err)
	assert.Len(t, people, 1, "a rejected file leaves the store untouched")
}

func TestHandlerFailuresAreRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.d.RegisterHandler("boom", func(context.Context, *Job, time.Time) (any, error) {
		return nil, errors.New("kaboom")
	})
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	boom, _, err := h.d.Jobs.EnqueueUnique(ctx, "boom", "", now, nil)
	require.NoError(t, err)
	mystery, _, err := h.d.Jobs.EnqueueUnique(ctx, "mystery", "", now, nil)
	require.NoError(t, err)

	ran, err := h.d.Drain(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, ran)

	job, out := h.result(t, boom)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "kaboom", out["error"])

	job, out = h.result(t, mystery)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "no handler for job type: mystery", out["error"])
}

func TestStepReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

	id, _, err := h.d.Jobs.EnqueueUnique(ctx, JobWatchTick, "", now, nil)
	require.NoError(t, err)
	claimed, err := h.d.Jobs.ClaimNext(ctx, now, "crashed-daemon", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ran, err := h.d.Drain(ctx, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Zero(t, ran, "the lease is still held")

	_, err = h.d.Drain(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	job, _ := h.result(t, id)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, "test", job.LeaseOwner)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.d.PollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, h.d.Run(ctx))

	events, err := h.audit.Recent(10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "daemon_stopped", events[0].Type)
}
