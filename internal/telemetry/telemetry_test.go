package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestEvaluationFailures(t *testing.T) {
	m := New()
	m.ObserveEvaluationFailure("sales")
	m.ObserveEvaluationFailure("sales")
	m.ObserveEvaluationFailure("churn")

	body := scrape(t, m)
	assert.Contains(t, body, `kpitrack_evaluation_failures_total{kpi_id="sales"} 2`)
	assert.Contains(t, body, `kpitrack_evaluation_failures_total{kpi_id="churn"} 1`)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveEvaluationFailure("x") })
}

func TestMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/kpis/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/kpis/sales", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	body := scrape(t, m)
	assert.Contains(t, body, `kpitrack_http_requests_total{endpoint="/v1/kpis/:id",method="GET",status="204"} 3`)
	assert.Contains(t, body, `kpitrack_http_requests_total{endpoint="unmatched",method="GET",status="404"} 1`)
	assert.Contains(t, body, `kpitrack_http_request_duration_seconds_count{endpoint="/v1/kpis/:id",method="GET"} 3`)
}

func TestObserveJob(t *testing.T) {
	m := New()
	m.ObserveJob("score_report", "succeeded")
	m.ObserveJob("import_file", "failed")

	body := scrape(t, m)
	assert.Contains(t, body, `kpitrack_daemon_jobs_total{status="succeeded",type="score_report"} 1`)
	assert.Contains(t, body, `kpitrack_daemon_jobs_total{status="failed",type="import_file"} 1`)
}
