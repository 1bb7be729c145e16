// Package report builds, stores, and compares score reports: a full rollup
// of the organization, every department, and every person at one instant.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"kpitrack/internal/kpi"
	"kpitrack/internal/rollup"
	"kpitrack/internal/scoring"
)

const SchemaVersion = 1

// ErrNoReports is returned by LatestPath when dir holds no report yet.
var ErrNoReports = errors.New("no reports found")

type ScoreReport struct {
	SchemaVersion int                            `json:"schemaVersion"`
	GeneratedAt   string                         `json:"generatedAt"`
	Period        string                         `json:"period,omitempty"`
	Organization  rollup.EntityPerformance       `json:"organization"`
	Departments   []rollup.DepartmentPerformance `json:"departments"`
	People        []rollup.PersonPerformance     `json:"people"`
}

// Build rolls up every entity in v, optionally restricted to period.
func Build(engine *rollup.Engine, v *rollup.View, period *kpi.Period, now time.Time) *ScoreReport {
	r := &ScoreReport{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
		Organization:  engine.RollupOrganization(v, period),
		Departments:   engine.RankDepartments(v, period),
		People:        engine.RankPeople(v, period),
	}
	if period != nil {
		r.Period = period.String()
	}
	return r
}

// Write encodes r and writes it atomically to path.
func Write(path string, r *ScoreReport) error {
	if path == "" {
		return fmt.Errorf("report path is required")
	}
	if r.GeneratedAt == "" {
		return fmt.Errorf("report generatedAt is required")
	}
	r.SchemaVersion = SchemaVersion

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure report dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// Load reads a report written by Write.
func Load(path string) (*ScoreReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r ScoreReport
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported report schemaVersion %d", r.SchemaVersion)
	}
	return &r, nil
}

// PathFor names the report generated at t. Names sort chronologically.
func PathFor(dir string, t time.Time) string {
	return filepath.Join(dir, t.UTC().Format("20060102T150405.000Z")+".json")
}

// LatestPath returns the most recent report in dir.
func LatestPath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read reports dir: %w", err)
	}
	var candidates []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, ent.Name()))
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoReports, dir)
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}

// Summary renders one line per entity and KPI result. It omits timestamps
// so that two reports over the same data render identically.
func Summary(r *ScoreReport) []string {
	var lines []string
	entity := func(label string, perf rollup.EntityPerformance) {
		lines = append(lines, fmt.Sprintf("%s %s: %s (%s)", label, perf.Name, formatScore(perf.OverallScore), perf.Status))
		for _, res := range perf.Results {
			lines = append(lines, fmt.Sprintf("  %s: %s raw=%s %s", res.KpiName, formatScore(res.NormalizedScore), formatValue(res.RawValue, res.Unit), res.Status))
		}
	}
	if r.Period != "" {
		lines = append(lines, "period "+r.Period)
	}
	entity("organization", r.Organization)
	for _, d := range r.Departments {
		entity("department", d.EntityPerformance)
	}
	for _, p := range r.People {
		entity("person", p.EntityPerformance)
	}
	return lines
}

// Diff returns a unified diff between the summaries of two reports, or ""
// when they are identical.
func Diff(from, to *ScoreReport, fromName, toName string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(strings.Join(Summary(from), "\n") + "\n"),
		B:        difflib.SplitLines(strings.Join(Summary(to), "\n") + "\n"),
		FromFile: fromName,
		ToFile:   toName,
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diff reports: %w", err)
	}
	return text, nil
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.1f%%", score)
}

func formatValue(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	s := fmt.Sprintf("%.2f", *v)
	if unit != "" {
		s += unit
	}
	return s
}

// StatusCounts tallies people per status band.
func StatusCounts(r *ScoreReport) map[scoring.Status]int {
	counts := map[scoring.Status]int{}
	for _, p := range r.People {
		counts[p.Status]++
	}
	return counts
}
