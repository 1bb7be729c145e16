package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"kpitrack/internal/kpi"
	"kpitrack/internal/rollup"
	"kpitrack/internal/store"
)

const maxBodyBytes = 1 << 20

func init() {
	binding.EnableDecoderDisallowUnknownFields = true
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type evaluateRequest struct {
	KpiID          string             `json:"kpiId"`
	VariableValues map[string]float64 `json:"variableValues"`
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if !decodeBody(c, &req) {
		return
	}
	if req.KpiID == "" {
		writeError(c, http.StatusBadRequest, "kpiId is required")
		return
	}
	value, err := s.svc.EvaluateFormula(c.Request.Context(), req.KpiID, req.VariableValues)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) handleAggregate(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	period, ok := periodFromQuery(c)
	if !ok {
		return
	}
	result, err := s.svc.AggregateForScope(c.Request.Context(), c.Param("id"), scope, period)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handlePersonPerformance(c *gin.Context) {
	period, ok := periodFromQuery(c)
	if !ok {
		return
	}
	perf, err := s.svc.Person(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (s *Server) handleDepartmentPerformance(c *gin.Context) {
	period, ok := periodFromQuery(c)
	if !ok {
		return
	}
	perf, err := s.svc.Department(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (s *Server) handleRankPeople(c *gin.Context) {
	period, ok := periodFromQuery(c)
	if !ok {
		return
	}
	people, err := s.svc.RankPeople(c.Request.Context(), period)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, people)
}

func (s *Server) handleRankDepartments(c *gin.Context) {
	period, ok := periodFromQuery(c)
	if !ok {
		return
	}
	departments, err := s.svc.RankDepartments(c.Request.Context(), period)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, departments)
}

func (s *Server) handleTrend(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	ref, ok := s.monthFromQuery(c)
	if !ok {
		return
	}
	window := s.opts.TrendWindow
	if raw := c.Query("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 120 {
			writeError(c, http.StatusBadRequest, "window must be between 1 and 120")
			return
		}
		window = n
	}
	mode, err := rollup.ParseValueMode(c.Query("mode"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	buckets, err := s.svc.TrendSeries(c.Request.Context(), scope, ref, window, mode)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (s *Server) handleCompare(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	current, ok := s.monthFromQuery(c)
	if !ok {
		return
	}
	cmp, err := s.svc.Compare(c.Request.Context(), scope, current)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func (s *Server) handleRadar(c *gin.Context) {
	scope, ok := scopeFromQuery(c)
	if !ok {
		return
	}
	period, ok := s.monthFromQuery(c)
	if !ok {
		return
	}
	points, err := s.svc.Radar(c.Request.Context(), scope, period)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// --- catalog ---

func (s *Server) handleListKpis(c *gin.Context) {
	kpis, err := s.store.ListKpis(c.Request.Context())
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, kpis)
}

func (s *Server) handleGetKpi(c *gin.Context) {
	k, err := s.store.GetKpi(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (s *Server) handleSaveKpi(c *gin.Context) {
	var k kpi.Kpi
	if !decodeBody(c, &k) {
		return
	}
	if k.ID == "" {
		k.ID = kpi.NewID()
	}
	if errs := kpi.ValidateKpi(k, "", "request"); len(errs) > 0 {
		s.writeFailure(c, errs)
		return
	}
	saved, err := s.store.SaveKpi(c.Request.Context(), k)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	s.recordAudit("kpi_saved", map[string]string{"id": saved.ID})
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleDeleteKpi(c *gin.Context) {
	s.deleteRecord(c, "kpi_deleted", s.store.DeleteKpi)
}

func (s *Server) handleListPeople(c *gin.Context) {
	people, err := s.store.ListPeople(c.Request.Context())
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, people)
}

func (s *Server) handleGetPerson(c *gin.Context) {
	p, err := s.store.GetPerson(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleSavePerson(c *gin.Context) {
	var p kpi.Person
	if !decodeBody(c, &p) {
		return
	}
	var errs kpi.ValidationErrors
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, kpi.ValidationError{Source: "request", Field: "name", Message: "name is required"})
	}
	if p.DepartmentID != "" {
		if _, err := s.store.GetDepartment(c.Request.Context(), p.DepartmentID); err != nil {
			errs = append(errs, kpi.ValidationError{Source: "request", Field: "departmentId", Message: fmt.Sprintf("unknown department %q", p.DepartmentID)})
		}
	}
	if len(errs) > 0 {
		s.writeFailure(c, errs)
		return
	}
	saved, err := s.store.SavePerson(c.Request.Context(), p)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	s.recordAudit("person_saved", map[string]string{"id": saved.ID})
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleDeletePerson(c *gin.Context) {
	s.deleteRecord(c, "person_deleted", s.store.DeletePerson)
}

func (s *Server) handleListDepartments(c *gin.Context) {
	departments, err := s.store.ListDepartments(c.Request.Context())
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, departments)
}

func (s *Server) handleGetDepartment(c *gin.Context) {
	d, err := s.store.GetDepartment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleSaveDepartment(c *gin.Context) {
	var d kpi.Department
	if !decodeBody(c, &d) {
		return
	}
	if d.KpiIDs == nil {
		d.KpiIDs = []string{}
	}
	var errs kpi.ValidationErrors
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, kpi.ValidationError{Source: "request", Field: "name", Message: "name is required"})
	}
	for i, id := range d.KpiIDs {
		if _, err := s.store.GetKpi(c.Request.Context(), id); err != nil {
			errs = append(errs, kpi.ValidationError{Source: "request", Field: fmt.Sprintf("kpiIds[%d]", i), Message: fmt.Sprintf("unknown kpi %q", id)})
		}
	}
	if len(errs) > 0 {
		s.writeFailure(c, errs)
		return
	}
	saved, err := s.store.SaveDepartment(c.Request.Context(), d)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	s.recordAudit("department_saved", map[string]string{"id": saved.ID})
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleDeleteDepartment(c *gin.Context) {
	s.deleteRecord(c, "department_deleted", s.store.DeleteDepartment)
}

func (s *Server) handleListEntries(c *gin.Context) {
	period, ok := periodFromQuery(c)
	if !ok {
		return
	}
	filter := store.EntryFilter{
		KpiID:        c.Query("kpiId"),
		PersonID:     c.Query("personId"),
		DepartmentID: c.Query("departmentId"),
		Period:       period,
	}
	entries, err := s.store.ListEntries(c.Request.Context(), filter)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleGetEntry(c *gin.Context) {
	e, err := s.store.GetEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) handleSaveEntry(c *gin.Context) {
	var e kpi.Entry
	if !decodeBody(c, &e) {
		return
	}
	if e.ID == "" {
		e.ID = kpi.NewID()
	}
	ds, err := s.store.Snapshot(c.Request.Context())
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	if errs := kpi.ValidateEntry(e, "", "request", kpi.NewIndex(ds)); len(errs) > 0 {
		s.writeFailure(c, errs)
		return
	}
	saved, err := s.store.SaveEntry(c.Request.Context(), e)
	if err != nil {
		s.writeFailure(c, err)
		return
	}
	s.recordAudit("entry_saved", map[string]string{"id": saved.ID, "kpiId": saved.KpiID, "scope": saved.Scope.String()})
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleDeleteEntry(c *gin.Context) {
	s.deleteRecord(c, "entry_deleted", s.store.DeleteEntry)
}

func (s *Server) deleteRecord(c *gin.Context, eventType string, del func(context.Context, string) error) {
	id := c.Param("id")
	if err := del(c.Request.Context(), id); err != nil {
		s.writeFailure(c, err)
		return
	}
	s.recordAudit(eventType, map[string]string{"id": id})
	c.Status(http.StatusNoContent)
}

// --- request helpers ---

func decodeBody(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// scopeFromQuery reads ?scope=person:<id>|department:<id>|all; absent means
// the organization.
func scopeFromQuery(c *gin.Context) (kpi.Scope, bool) {
	raw := c.Query("scope")
	if raw == "" {
		return kpi.OrganizationScope(), true
	}
	scope, err := kpi.ParseScope(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return kpi.Scope{}, false
	}
	return scope, true
}

// periodFromQuery reads ?period=2025-03 or ?year=&month=&quarter=. No period
// parameters means all time.
func periodFromQuery(c *gin.Context) (*kpi.Period, bool) {
	if raw := c.Query("period"); raw != "" {
		p, err := kpi.ParsePeriod(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return nil, false
		}
		return &p, true
	}
	yearRaw, monthRaw, quarterRaw := c.Query("year"), c.Query("month"), c.Query("quarter")
	if yearRaw == "" {
		if monthRaw != "" || quarterRaw != "" {
			writeError(c, http.StatusBadRequest, "year is required with month or quarter")
			return nil, false
		}
		return nil, true
	}
	var p kpi.Period
	var err error
	if p.Year, err = strconv.Atoi(yearRaw); err != nil || p.Year <= 0 {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid year %q", yearRaw))
		return nil, false
	}
	if monthRaw != "" {
		if p.Month, err = strconv.Atoi(monthRaw); err != nil || p.Month < 1 || p.Month > 12 {
			writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid month %q", monthRaw))
			return nil, false
		}
	}
	if quarterRaw != "" {
		if p.Quarter, err = strconv.Atoi(quarterRaw); err != nil || p.Quarter < 1 || p.Quarter > 4 {
			writeError(c, http.StatusBadRequest, fmt.Sprintf("invalid quarter %q", quarterRaw))
			return nil, false
		}
	}
	return &p, true
}

// monthFromQuery resolves a single month, defaulting to the current one.
func (s *Server) monthFromQuery(c *gin.Context) (kpi.Period, bool) {
	p, ok := periodFromQuery(c)
	if !ok {
		return kpi.Period{}, false
	}
	if p == nil {
		now := s.opts.Now().UTC()
		return kpi.MonthPeriod(now.Year(), int(now.Month())), true
	}
	if p.Month == 0 {
		writeError(c, http.StatusBadRequest, "a month period is required")
		return kpi.Period{}, false
	}
	return *p, true
}
