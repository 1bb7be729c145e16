package kpi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period identifies an aggregation bucket. Month and Quarter are zero when absent.
type Period struct {
	Year    int `json:"year" yaml:"year"`
	Month   int `json:"month,omitempty" yaml:"month,omitempty"`
	Quarter int `json:"quarter,omitempty" yaml:"quarter,omitempty"`
}

// MonthPeriod returns the month bucket for year/month.
func MonthPeriod(year, month int) Period {
	return Period{Year: year, Month: month}
}

// PeriodOf returns the month bucket containing t (UTC).
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// ParsePeriod parses "YYYY-MM", "YYYY-Qn", or "YYYY".
func ParsePeriod(value string) (Period, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Period{}, fmt.Errorf("period is required")
	}
	yearPart, rest, hasRest := strings.Cut(value, "-")
	year, err := strconv.Atoi(yearPart)
	if err != nil || year <= 0 {
		return Period{}, fmt.Errorf("invalid period %q (expected YYYY-MM)", value)
	}
	if !hasRest {
		return Period{Year: year}, nil
	}
	if q, ok := strings.CutPrefix(strings.ToUpper(rest), "Q"); ok {
		quarter, err := strconv.Atoi(q)
		if err != nil || quarter < 1 || quarter > 4 {
			return Period{}, fmt.Errorf("invalid quarter in period %q", value)
		}
		return Period{Year: year, Quarter: quarter}, nil
	}
	month, err := strconv.Atoi(rest)
	if err != nil || month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid month in period %q", value)
	}
	return Period{Year: year, Month: month}, nil
}

// String renders the period in the form accepted by ParsePeriod.
func (p Period) String() string {
	switch {
	case p.Month > 0:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	case p.Quarter > 0:
		return fmt.Sprintf("%04d-Q%d", p.Year, p.Quarter)
	default:
		return fmt.Sprintf("%04d", p.Year)
	}
}

// Label renders a month bucket for charts, e.g. "Jan 2025".
func (p Period) Label() string {
	if p.Month < 1 || p.Month > 12 {
		return p.String()
	}
	return fmt.Sprintf("%s %d", time.Month(p.Month).String()[:3], p.Year)
}

// EffectiveQuarter returns Quarter, or the quarter derived from Month.
func (p Period) EffectiveQuarter() int {
	if p.Quarter > 0 {
		return p.Quarter
	}
	if p.Month > 0 {
		return (p.Month-1)/3 + 1
	}
	return 0
}

// AddMonths shifts a month bucket by n months, rolling the year over.
func (p Period) AddMonths(n int) Period {
	index := p.Year*12 + (p.Month - 1) + n
	return Period{Year: index / 12, Month: index%12 + 1}
}

// Previous returns the month bucket immediately before p.
func (p Period) Previous() Period {
	return p.AddMonths(-1)
}

// Contains reports whether an entry recorded for other falls in p. Unset
// month or quarter on p widen the match.
func (p Period) Contains(other Period) bool {
	if p.Year != other.Year {
		return false
	}
	if p.Month > 0 && p.Month != other.Month {
		return false
	}
	if p.Quarter > 0 && p.Quarter != other.EffectiveQuarter() {
		return false
	}
	return true
}

// MonthWindow returns size consecutive month buckets ending at ref, oldest first.
func MonthWindow(ref Period, size int) []Period {
	if size <= 0 {
		return nil
	}
	out := make([]Period, 0, size)
	for i := size - 1; i >= 0; i-- {
		out = append(out, ref.AddMonths(-i))
	}
	return out
}
