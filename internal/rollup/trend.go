package rollup

import (
	"fmt"
	"math"
	"strings"

	"kpitrack/internal/kpi"
	"kpitrack/internal/scoring"
)

// DefaultWindowMonths is the trend window used when none is given.
const DefaultWindowMonths = 6

// ValueMode selects which aggregate a trend bucket reports.
type ValueMode string

const (
	ModeRaw   ValueMode = "raw"
	ModeScore ValueMode = "score"
)

// ParseValueMode validates a user-supplied mode; empty means ModeScore.
func ParseValueMode(value string) (ValueMode, error) {
	switch ValueMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeScore:
		return ModeScore, nil
	case ModeRaw:
		return ModeRaw, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected raw or score)", value)
	}
}

// TrendBucket is one month of a trend series. Values only holds KPIs with at
// least one successfully evaluated entry in that month.
type TrendBucket struct {
	Period kpi.Period         `json:"period"`
	Label  string             `json:"label"`
	Values map[string]float64 `json:"values"`
}

// TrendSeries aggregates each KPI independently per month over the window
// months ending at ref, oldest first. A nil kpis means the scope's
// applicable KPIs.
func (e *Engine) TrendSeries(v *View, kpis []kpi.Kpi, scope kpi.Scope, ref kpi.Period, window int, mode ValueMode) []TrendBucket {
	if window <= 0 {
		window = DefaultWindowMonths
	}
	if kpis == nil {
		kpis = v.ApplicableKpis(scope)
	}
	months := kpi.MonthWindow(kpi.MonthPeriod(ref.Year, ref.Month), window)
	buckets := make([]TrendBucket, 0, len(months))
	for _, month := range months {
		bucket := TrendBucket{Period: month, Label: month.Label(), Values: map[string]float64{}}
		for _, k := range kpis {
			result := e.AggregateForScope(v, k, scope, &month)
			if !result.HasData() {
				continue
			}
			if mode == ModeRaw {
				bucket.Values[k.ID] = *result.RawValue
			} else {
				bucket.Values[k.ID] = result.NormalizedScore
			}
		}
		buckets = append(buckets, bucket)
	}
	return buckets
}

// ComparisonRow compares one KPI between two consecutive months.
// DeltaPercent is relative to |Previous| and is nil when Previous is nil or 0.
type ComparisonRow struct {
	KpiID          string         `json:"kpiId"`
	KpiName        string         `json:"kpiName"`
	Unit           string         `json:"unit"`
	Current        float64        `json:"current"`
	Previous       *float64       `json:"previous"`
	DeltaPercent   *float64       `json:"deltaPercent"`
	CurrentScore   float64        `json:"currentScore"`
	PreviousScore  *float64       `json:"previousScore"`
	CurrentStatus  scoring.Status `json:"currentStatus"`
	PreviousStatus scoring.Status `json:"previousStatus,omitempty"`
}

// StatusChanged reports whether the KPI moved between status bands.
func (r ComparisonRow) StatusChanged() bool {
	return r.PreviousStatus != "" && r.PreviousStatus != r.CurrentStatus
}

// Comparison is the current-versus-previous month view for one scope.
type Comparison struct {
	Scope    string          `json:"scope"`
	Current  kpi.Period      `json:"current"`
	Previous kpi.Period      `json:"previous"`
	Rows     []ComparisonRow `json:"rows"`
}

// Compare aggregates each KPI for the month of current and the month before
// it, rolling over the year in January. KPIs with no current data are omitted.
func (e *Engine) Compare(v *View, kpis []kpi.Kpi, scope kpi.Scope, current kpi.Period) Comparison {
	if kpis == nil {
		kpis = v.ApplicableKpis(scope)
	}
	cur := kpi.MonthPeriod(current.Year, current.Month)
	prev := cur.Previous()
	cmp := Comparison{Scope: scope.String(), Current: cur, Previous: prev, Rows: []ComparisonRow{}}

	for _, k := range kpis {
		now := e.AggregateForScope(v, k, scope, &cur)
		if !now.HasData() {
			continue
		}
		row := ComparisonRow{
			KpiID:         k.ID,
			KpiName:       k.Name,
			Unit:          k.Unit,
			Current:       *now.RawValue,
			CurrentScore:  now.NormalizedScore,
			CurrentStatus: now.Status,
		}
		before := e.AggregateForScope(v, k, scope, &prev)
		if before.HasData() {
			previous, score := *before.RawValue, before.NormalizedScore
			row.Previous = &previous
			row.PreviousScore = &score
			row.PreviousStatus = before.Status
			if previous != 0 {
				delta := (row.Current - previous) / math.Abs(previous) * 100
				row.DeltaPercent = &delta
			}
		}
		cmp.Rows = append(cmp.Rows, row)
	}
	return cmp
}

// RadarPoint is one spoke of the radar view.
type RadarPoint struct {
	KpiID   string  `json:"kpiId"`
	KpiName string  `json:"kpiName"`
	Score   float64 `json:"score"`
}

// Radar returns the normalized score of each KPI with data in period.
func (e *Engine) Radar(v *View, kpis []kpi.Kpi, scope kpi.Scope, period kpi.Period) []RadarPoint {
	if kpis == nil {
		kpis = v.ApplicableKpis(scope)
	}
	points := []RadarPoint{}
	for _, k := range kpis {
		result := e.AggregateForScope(v, k, scope, &period)
		if !result.HasData() {
			continue
		}
		points = append(points, RadarPoint{KpiID: k.ID, KpiName: k.Name, Score: result.NormalizedScore})
	}
	return points
}
