package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"kpitrack/internal/kpi"
	"kpitrack/internal/notify"
	"kpitrack/internal/report"
)

const inboxStateKey = "watch_inbox_state"

type scoreReportPayload struct {
	Period  string `json:"period"`
	Trigger string `json:"trigger"`
}

// handleScoreReport writes a score report and diffs it against the previous
// one.
func (d *Daemon) handleScoreReport(ctx context.Context, job *Job, now time.Time) (any, error) {
	var payload scoreReportPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	var period *kpi.Period
	if payload.Period != "" {
		p, err := kpi.ParsePeriod(payload.Period)
		if err != nil {
			return nil, fmt.Errorf("period: %w", err)
		}
		period = &p
	}

	v, err := d.service.View(ctx)
	if err != nil {
		return nil, err
	}
	r := report.Build(d.service.Engine(), v, period, now)

	previous, err := report.LatestPath(d.Workspace.ReportsDir)
	if err != nil {
		if !errors.Is(err, report.ErrNoReports) {
			d.log.Warn("previous report unavailable, skipping diff",
				zap.String("job_id", job.ID),
				zap.String("reports_dir", d.Workspace.ReportsDir),
				zap.Error(err),
			)
		}
		previous = ""
	}
	path := report.PathFor(d.Workspace.ReportsDir, now)
	if err := report.Write(path, r); err != nil {
		return nil, err
	}

	changed := true
	if previous != "" && previous != path {
		prev, err := report.Load(previous)
		if err != nil {
			return nil, err
		}
		diff, err := report.Diff(prev, r, filepath.Base(previous), filepath.Base(path))
		if err != nil {
			return nil, err
		}
		changed = diff != ""
	}

	return map[string]any{
		"path":               path,
		"previous":           previous,
		"changed":            changed,
		"organization_score": r.Organization.OverallScore,
		"status_counts":      report.StatusCounts(r),
	}, nil
}

type compareNotifyPayload struct {
	Period string `json:"period"`
}

// handleCompareNotify compares a month with the one before it for the
// organization and every department, and sends a notification per KPI that
// moved between status bands.
func (d *Daemon) handleCompareNotify(ctx context.Context, job *Job, _ time.Time) (any, error) {
	var payload compareNotifyPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	if payload.Period == "" {
		return nil, fmt.Errorf("period is required")
	}
	period, err := kpi.ParsePeriod(payload.Period)
	if err != nil {
		return nil, fmt.Errorf("period: %w", err)
	}
	if period.Month == 0 {
		return nil, fmt.Errorf("period %s must name a month", payload.Period)
	}

	departments, err := d.data.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	scopes := []kpi.Scope{kpi.OrganizationScope()}
	for _, dept := range departments {
		scopes = append(scopes, kpi.DepartmentScope(dept.ID))
	}

	var changes []string
	notified := 0
	for _, scope := range scopes {
		cmp, err := d.service.Compare(ctx, scope, period)
		if err != nil {
			return nil, err
		}
		for _, row := range cmp.Rows {
			if !row.StatusChanged() {
				continue
			}
			changes = append(changes, fmt.Sprintf("%s %s: %s -> %s", cmp.Scope, row.KpiName, row.PreviousStatus, row.CurrentStatus))
			if d.notifier == nil {
				continue
			}
			title, message := notify.FormatStatusChange(row.KpiName, cmp.Scope, row.PreviousStatus, row.CurrentStatus, row.CurrentScore)
			if err := d.notifier.Send(title, message); err != nil {
				d.log.Warn("notification failed", zap.String("kpi_id", row.KpiID), zap.Error(err))
				continue
			}
			notified++
		}
	}

	return map[string]any{
		"period":   period.String(),
		"scopes":   len(scopes),
		"changes":  changes,
		"notified": notified,
	}, nil
}

type importFilePayload struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// handleImportFile replaces the catalog with a dataset file and queues a
// score report for the new data.
func (d *Daemon) handleImportFile(ctx context.Context, job *Job, now time.Time) (any, error) {
	var payload importFilePayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	ds, err := kpi.LoadDataset(payload.Path)
	if err != nil {
		return nil, err
	}
	if err := d.data.ReplaceAll(ctx, ds); err != nil {
		return nil, fmt.Errorf("import %s: %w", payload.Path, err)
	}
	d.logEvent("dataset_imported", map[string]any{
		"path":        payload.Path,
		"people":      len(ds.People),
		"departments": len(ds.Departments),
		"kpis":        len(ds.Kpis),
		"entries":     len(ds.Entries),
	})

	reportID, _, err := d.Jobs.EnqueueUnique(ctx, JobScoreReport, payload.Path+":"+payload.Hash, now, scoreReportPayload{
		Trigger: "import",
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", JobScoreReport, err)
	}

	return map[string]any{
		"path":         payload.Path,
		"people":       len(ds.People),
		"departments":  len(ds.Departments),
		"kpis":         len(ds.Kpis),
		"entries":      len(ds.Entries),
		"score_report": reportID,
	}, nil
}

// handleWatchTick scans the inbox and queues an import for each new or
// modified dataset file.
func (d *Daemon) handleWatchTick(ctx context.Context, _ *Job, now time.Time) (any, error) {
	changes, err := watchDirectory(ctx, d.Jobs, d.Workspace.InboxDir, inboxStateKey, now)
	if err != nil {
		return nil, fmt.Errorf("watch inbox: %w", err)
	}

	files := make([]string, 0, len(changes))
	for _, change := range changes {
		if _, _, err := d.Jobs.EnqueueUnique(ctx, JobImportFile, change.Path+":"+change.Hash, now, importFilePayload{
			Path: change.Path,
			Hash: change.Hash,
		}); err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", JobImportFile, err)
		}
		files = append(files, change.Path)
	}

	status := "no_changes"
	if len(files) > 0 {
		status = "changes_detected"
	}
	return map[string]any{
		"checked_at":    now.UTC().Format(time.RFC3339),
		"changes_count": len(files),
		"files":         files,
		"status":        status,
	}, nil
}
