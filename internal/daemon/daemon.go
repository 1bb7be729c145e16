// Package daemon runs kpitrack's background jobs: a daily score report, a
// monthly status comparison with notifications, and auto-import of dataset
// files dropped into the workspace inbox. Jobs live in a SQLite queue so
// they survive restarts.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"kpitrack/internal/audit"
	"kpitrack/internal/rollup"
	"kpitrack/internal/store"
	"kpitrack/internal/telemetry"
	"kpitrack/internal/workspace"
)

// HandlerFunc runs one claimed job. The returned value is stored as the
// job's result.
type HandlerFunc func(ctx context.Context, job *Job, now time.Time) (any, error)

// Notifier delivers a status-change notification.
type Notifier interface {
	Send(title, message string) error
}

// Config holds daemon settings.
type Config struct {
	Workspace *workspace.Workspace
	// StorePath is the job database; empty means the workspace state db.
	StorePath     string
	TimeZone      string
	ReportHour    int
	LeaseOwner    string
	LeaseFor      time.Duration
	PollInterval  time.Duration
	WatchInterval time.Duration
}

// Deps are the services jobs operate on.
type Deps struct {
	Service  *rollup.Service
	Data     store.Store
	Notifier Notifier
	Audit    *audit.Logger
	Metrics  *telemetry.Metrics
	Logger   *zap.Logger
}

// Daemon claims and executes queued jobs.
type Daemon struct {
	Workspace    *workspace.Workspace
	Jobs         *Store
	Scheduler    *Scheduler
	Handlers     map[string]HandlerFunc
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration

	service  *rollup.Service
	data     store.Store
	notifier Notifier
	audit    *audit.Logger
	metrics  *telemetry.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// New opens the job store and registers the default handlers.
func New(cfg Config, deps Deps) (*Daemon, error) {
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("workspace is nil")
	}
	if deps.Service == nil || deps.Data == nil {
		return nil, fmt.Errorf("daemon requires a rollup service and a data store")
	}
	if cfg.StorePath == "" {
		cfg.StorePath = cfg.Workspace.StateDBPath
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	if cfg.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		cfg.LeaseOwner = fmt.Sprintf("daemon-%s-%d", hostname, os.Getpid())
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	jobs, err := Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	scheduler, err := NewScheduler(jobs, cfg.TimeZone, cfg.ReportHour, cfg.WatchInterval)
	if err != nil {
		jobs.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	d := &Daemon{
		Workspace:    cfg.Workspace,
		Jobs:         jobs,
		Scheduler:    scheduler,
		LeaseOwner:   cfg.LeaseOwner,
		LeaseFor:     cfg.LeaseFor,
		PollInterval: cfg.PollInterval,
		service:      deps.Service,
		data:         deps.Data,
		notifier:     deps.Notifier,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		log:          deps.Logger.Named("daemon"),
		now:          time.Now,
	}
	d.Handlers = map[string]HandlerFunc{
		JobScoreReport:   d.handleScoreReport,
		JobCompareNotify: d.handleCompareNotify,
		JobImportFile:    d.handleImportFile,
		JobWatchTick:     d.handleWatchTick,
	}
	return d, nil
}

// RegisterHandler registers or replaces the handler for jobType.
func (d *Daemon) RegisterHandler(jobType string, handler HandlerFunc) {
	d.Handlers[jobType] = handler
}

// Run polls until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.logEvent("daemon_started", map[string]any{
		"workspace":     d.Workspace.Root,
		"lease_owner":   d.LeaseOwner,
		"lease_for":     d.LeaseFor.String(),
		"poll_interval": d.PollInterval.String(),
	})
	d.log.Info("daemon started",
		zap.String("workspace", d.Workspace.Root),
		zap.Duration("poll_interval", d.PollInterval),
	)

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logEvent("daemon_stopped", map[string]any{"workspace": d.Workspace.Root})
			d.log.Info("daemon stopped")
			return nil
		case <-ticker.C:
			if _, err := d.Step(ctx, d.now()); err != nil {
				d.log.Error("daemon step failed", zap.Error(err))
			}
		}
	}
}

// Step requeues expired leases, runs the scheduler, and executes at most one
// ready job. It reports whether a job was claimed. A job whose handler fails
// is recorded as failed and does not make Step return an error.
func (d *Daemon) Step(ctx context.Context, now time.Time) (bool, error) {
	released, err := d.Jobs.ReleaseExpired(ctx, now)
	if err != nil {
		return false, err
	}
	if released > 0 {
		d.log.Warn("requeued jobs with expired leases", zap.Int("count", released))
	}
	if err := d.Scheduler.Tick(ctx, now); err != nil {
		return false, fmt.Errorf("scheduler tick: %w", err)
	}
	return d.claimAndExecute(ctx, now)
}

// Drain steps until no job is ready at now and returns how many ran.
func (d *Daemon) Drain(ctx context.Context, now time.Time) (int, error) {
	ran := 0
	for {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		ok, err := d.Step(ctx, now)
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}
		ran++
	}
}

func (d *Daemon) claimAndExecute(ctx context.Context, now time.Time) (bool, error) {
	job, err := d.Jobs.ClaimNext(ctx, now, d.LeaseOwner, d.LeaseFor)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := d.log.With(zap.String("job_id", job.ID), zap.String("job_type", job.Type))
	d.logEvent("job_started", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"payload":  job.PayloadJSON,
	})

	handler, ok := d.Handlers[job.Type]
	if !ok {
		return true, d.fail(ctx, log, job, fmt.Errorf("no handler for job type: %s", job.Type))
	}

	result, execErr := handler(ctx, job, now)
	if execErr != nil {
		return true, d.fail(ctx, log, job, execErr)
	}

	if err := d.Jobs.Succeed(ctx, job.ID, result); err != nil {
		return true, fmt.Errorf("mark job succeeded: %w", err)
	}
	d.metrics.ObserveJob(job.Type, string(StatusSucceeded))
	d.logEvent("job_succeeded", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"result":   result,
	})
	log.Info("job succeeded")
	return true, nil
}

func (d *Daemon) fail(ctx context.Context, log *zap.Logger, job *Job, jobErr error) error {
	if err := d.Jobs.Fail(ctx, job.ID, jobErr); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	d.metrics.ObserveJob(job.Type, string(StatusFailed))
	d.logEvent("job_failed", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"error":    jobErr.Error(),
	})
	log.Error("job failed", zap.Error(jobErr))
	return nil
}

func (d *Daemon) logEvent(eventType string, payload map[string]any) {
	if d.audit == nil {
		return
	}
	if err := d.audit.LogEvent("daemon", eventType, payload); err != nil {
		d.log.Warn("audit log failed", zap.String("event", eventType), zap.Error(err))
	}
}

// Close closes the job store.
func (d *Daemon) Close() error {
	return d.Jobs.Close()
}
