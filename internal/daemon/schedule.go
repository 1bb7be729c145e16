package daemon

import (
	"context"
	"fmt"
	"time"

	"kpitrack/internal/kpi"
)

// Job types enqueued by the scheduler and the inbox watcher.
const (
	JobScoreReport   = "score_report"
	JobCompareNotify = "compare_notify"
	JobImportFile    = "import_file"
	JobWatchTick     = "watch_tick"
)

const watermarkKey = "scheduler_watermark"

// Scheduler turns wall-clock time into queued jobs. It remembers the last
// time it ran so each occurrence is enqueued once, even across restarts.
type Scheduler struct {
	store         *Store
	location      *time.Location
	reportHour    int
	watchInterval time.Duration
}

// NewScheduler creates a scheduler for the named IANA timezone.
func NewScheduler(store *Store, tzName string, reportHour int, watchInterval time.Duration) (*Scheduler, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tzName, err)
	}
	if reportHour < 0 || reportHour > 23 {
		return nil, fmt.Errorf("report hour %d out of range", reportHour)
	}
	if watchInterval <= 0 {
		watchInterval = 30 * time.Second
	}
	return &Scheduler{
		store:         store,
		location:      loc,
		reportHour:    reportHour,
		watchInterval: watchInterval,
	}, nil
}

// Tick enqueues the jobs whose time fell in (watermark, now]. The first tick
// only records the watermark. After downtime each recurring job is enqueued
// for its most recent occurrence, not once per missed occurrence.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	raw, err := s.store.GetKV(ctx, watermarkKey)
	if err != nil {
		return fmt.Errorf("get scheduler watermark: %w", err)
	}
	if raw == "" {
		return s.setWatermark(ctx, now)
	}
	last, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("parse watermark: %w", err)
	}
	if !now.After(last) {
		return nil
	}

	if at := s.lastDailyReport(now); at.After(last) {
		if _, _, err := s.store.EnqueueUnique(ctx, JobScoreReport, "", at, map[string]any{
			"trigger":        "schedule",
			"scheduled_time": at.Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("enqueue %s at %s: %w", JobScoreReport, at, err)
		}
	}

	if at := s.lastMonthStart(now); at.After(last) {
		closed := kpi.MonthPeriod(at.Year(), int(at.Month())).Previous()
		if _, _, err := s.store.EnqueueUnique(ctx, JobCompareNotify, "", at, map[string]any{
			"period":         closed.String(),
			"scheduled_time": at.Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("enqueue %s at %s: %w", JobCompareNotify, at, err)
		}
	}

	if at := now.Truncate(s.watchInterval); at.After(last) {
		if _, _, err := s.store.EnqueueUnique(ctx, JobWatchTick, "", at, map[string]any{
			"scheduled_time": at.Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("enqueue %s at %s: %w", JobWatchTick, at, err)
		}
	}

	return s.setWatermark(ctx, now)
}

func (s *Scheduler) setWatermark(ctx context.Context, now time.Time) error {
	if err := s.store.SetKV(ctx, watermarkKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("set scheduler watermark: %w", err)
	}
	return nil
}

// lastDailyReport is the latest reportHour:00 local time at or before now.
func (s *Scheduler) lastDailyReport(now time.Time) time.Time {
	local := now.In(s.location)
	at := time.Date(local.Year(), local.Month(), local.Day(), s.reportHour, 0, 0, 0, s.location)
	if at.After(now) {
		at = time.Date(local.Year(), local.Month(), local.Day()-1, s.reportHour, 0, 0, 0, s.location)
	}
	return at
}

// lastMonthStart is the latest first-of-month at reportHour:00 local time at
// or before now.
func (s *Scheduler) lastMonthStart(now time.Time) time.Time {
	local := now.In(s.location)
	at := time.Date(local.Year(), local.Month(), 1, s.reportHour, 0, 0, 0, s.location)
	if at.After(now) {
		at = time.Date(local.Year(), local.Month()-1, 1, s.reportHour, 0, 0, 0, s.location)
	}
	return at
}
