package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpitrack/internal/audit"
	"kpitrack/internal/kpi"
	"kpitrack/internal/rollup"
	"kpitrack/internal/store"
)

const testToken = "s3cret"

func fixture() *kpi.Dataset {
	return &kpi.Dataset{
		Kpis: []kpi.Kpi{
			{
				ID: "sales", Name: "Sales Target Achievement", Unit: "%",
				OptimumType: kpi.OptimumHigher,
				Variables:   []kpi.Variable{{Name: "actual"}, {Name: "target"}},
				Formula:     "(actual / target) * 100",
			},
			{
				ID: "defects", Name: "Defect Rate", Unit: "%",
				OptimumType: kpi.OptimumLower,
				Variables:   []kpi.Variable{{Name: "defects"}, {Name: "units"}},
				Formula:     "defects / units * 100",
			},
		},
		Departments: []kpi.Department{
			{ID: "d1", Name: "Sales", KpiIDs: []string{"sales"}},
			{ID: "d2", Name: "Quality", KpiIDs: []string{"defects"}},
		},
		People: []kpi.Person{
			{ID: "p1", Name: "John Doe", Email: "john@example.com", DepartmentID: "d1"},
		},
		Entries: []kpi.Entry{
			{
				ID: "e-dec", KpiID: "sales", Scope: kpi.PersonScope("p1"), Period: kpi.MonthPeriod(2024, 12),
				VariableValues: map[string]float64{"actual": 50000, "target": 100000},
				DateRecorded:   time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC),
			},
			{
				ID: "e-jan", KpiID: "sales", Scope: kpi.PersonScope("p1"), Period: kpi.MonthPeriod(2025, 1),
				VariableValues: map[string]float64{"actual": 85000, "target": 100000},
				DateRecorded:   time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
			},
		},
	}
}

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
	audit   *audit.Logger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemoryStoreFrom(fixture())
	auditLog := audit.NewLogger(filepath.Join(t.TempDir(), "audit.sqlite"))
	srv := NewServer(st, rollup.NewService(st, nil), nil, nil, Options{
		AuthToken: testToken,
		Audit:     auditLog,
		Now:       func() time.Time { return time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC) },
	})
	return &testServer{handler: srv.Handler(), store: st, audit: auditLog}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/kpis", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/v1/kpis", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kpitrack_http_requests_total")
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/evaluate", evaluateRequest{
		KpiID:          "sales",
		VariableValues: map[string]float64{"actual": 85000, "target": 100000},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[map[string]*float64](t, rec)
	require.NotNil(t, out["value"])
	assert.InDelta(t, 85, *out["value"], 1e-9)

	rec = ts.do(t, http.MethodPost, "/v1/evaluate", evaluateRequest{
		KpiID:          "sales",
		VariableValues: map[string]float64{"actual": 1, "target": 0},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"value":null}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/v1/evaluate", evaluateRequest{KpiID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/evaluate", map[string]any{"kpiId": "sales", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bogus")

	rec = ts.do(t, http.MethodPost, "/v1/evaluate", map[string]any{
		"kpiId":          "sales",
		"variableValues": map[string]float64{"actual": 1},
		"padding":        strings.Repeat("x", maxBodyBytes),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAggregateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/kpis/sales/aggregate?scope=department:d1&year=2025&month=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[map[string]any](t, rec)
	assert.InDelta(t, 85, out["rawValue"], 1e-9)
	assert.Equal(t, "Good", out["status"])

	rec = ts.do(t, http.MethodGet, "/v1/kpis/sales/aggregate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out = decode[map[string]any](t, rec)
	assert.InDelta(t, 67.5, out["rawValue"], 1e-9)
	assert.InDelta(t, 85, out["latestValue"], 1e-9)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/kpis/sales/aggregate?scope=team:x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/kpis/sales/aggregate?month=1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/kpis/sales/aggregate?scope=person:ghost", nil).Code)
}

func TestEntityPerformance(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/departments/d1/performance?period=2025-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dept := decode[rollup.DepartmentPerformance](t, rec)
	assert.InDelta(t, 85, dept.OverallScore, 1e-9)
	assert.Equal(t, 1, dept.PeopleCount)
	require.Len(t, dept.Results, 1)
	assert.Equal(t, "sales", dept.Results[0].KpiID)

	rec = ts.do(t, http.MethodGet, "/v1/people/p1/performance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	person := decode[rollup.PersonPerformance](t, rec)
	assert.Equal(t, "john@example.com", person.Email)
	assert.InDelta(t, 67.5, person.OverallScore, 1e-9)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/people/ghost/performance", nil).Code)

	rec = ts.do(t, http.MethodGet, "/v1/rankings/departments?period=2025-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ranked := decode[[]rollup.DepartmentPerformance](t, rec)
	require.Len(t, ranked, 2)
	assert.Equal(t, "d1", ranked[0].ID)
	assert.Equal(t, 0.0, ranked[1].OverallScore)
}

func TestTrendCompareRadar(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/trend?scope=person:p1&window=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	buckets := decode[[]rollup.TrendBucket](t, rec)
	require.Len(t, buckets, 3)
	assert.Equal(t, "Nov 2024", buckets[0].Label)
	assert.Empty(t, buckets[0].Values)
	assert.InDelta(t, 50, buckets[1].Values["sales"], 1e-9)
	assert.InDelta(t, 85, buckets[2].Values["sales"], 1e-9)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/trend?window=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/trend?mode=avg", nil).Code)

	rec = ts.do(t, http.MethodGet, "/v1/compare?period=2025-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cmp := decode[rollup.Comparison](t, rec)
	assert.Equal(t, kpi.MonthPeriod(2024, 12), cmp.Previous)
	require.Len(t, cmp.Rows, 1)
	require.NotNil(t, cmp.Rows[0].DeltaPercent)
	assert.InDelta(t, 70, *cmp.Rows[0].DeltaPercent, 1e-9)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/compare?period=2025", nil).Code)

	rec = ts.do(t, http.MethodGet, "/v1/radar?scope=department:d1&period=2025-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	points := decode[[]rollup.RadarPoint](t, rec)
	require.Len(t, points, 1)
	assert.InDelta(t, 85, points[0].Score, 1e-9)
}

func TestCatalogCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/kpis", map[string]any{
		"name": "Churn", "unit": "%", "optimumType": "lower",
		"variables": []map[string]string{{"name": "lost"}, {"name": "total"}},
		"formula":   "lost / total * 100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[kpi.Kpi](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = ts.do(t, http.MethodGet, "/v1/kpis/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Churn", decode[kpi.Kpi](t, rec).Name)

	rec = ts.do(t, http.MethodPost, "/v1/kpis", map[string]any{
		"name": "Broken", "optimumType": "higher",
		"variables": []map[string]string{{"name": "x"}},
		"formula":   "x + y",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `undeclared variable \"y\"`)

	rec = ts.do(t, http.MethodPost, "/v1/people", map[string]any{"name": "Jane", "departmentId": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/departments", map[string]any{"name": "Ops", "kpiIds": []string{created.ID}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/v1/entries", map[string]any{
		"kpiId": created.ID, "departmentId": "d2",
		"period":         map[string]int{"year": 2025, "month": 1},
		"variableValues": map[string]float64{"lost": 3, "total": 100},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[kpi.Entry](t, rec)
	assert.Equal(t, kpi.DepartmentScope("d2"), entry.Scope)
	assert.False(t, entry.DateRecorded.IsZero())

	rec = ts.do(t, http.MethodPost, "/v1/entries", map[string]any{
		"kpiId": "sales", "period": map[string]int{"year": 2025, "month": 1},
		"variableValues": map[string]float64{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/entries?kpiId="+created.ID+"&year=2025&month=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]kpi.Entry](t, rec), 1)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/entries/"+entry.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/v1/entries/"+entry.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/people/ghost", nil).Code)

	events, err := ts.audit.Recent(10)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, "entry_deleted", types[0])
	assert.Contains(t, strings.Join(types, ","), "kpi_saved")
	assert.Contains(t, strings.Join(types, ","), "department_saved")
}
