package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kpitrack/internal/audit"
	"kpitrack/internal/config"
	"kpitrack/internal/formula"
	"kpitrack/internal/kpi"
	"kpitrack/internal/logger"
	"kpitrack/internal/rollup"
	"kpitrack/internal/scoring"
	"kpitrack/internal/store"
	"kpitrack/internal/telemetry"
	"kpitrack/internal/workspace"
)

const appName = "kpitrack"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root := newRootCmd()
	root.SetContext(ctx)

	err := root.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// cli holds everything a command needs once PersistentPreRunE has run.
type cli struct {
	workspaceFlag string
	configFlag    string

	cfg     *config.Config
	ws      *workspace.Workspace
	log     *zap.Logger
	store   *store.SQLiteStore
	svc     *rollup.Service
	metrics *telemetry.Metrics
	audit   *audit.Logger
	now     func() time.Time
}

func newRootCmd() *cobra.Command {
	c := &cli{now: time.Now}
	root := &cobra.Command{
		Use:          appName,
		Short:        "KPI formula evaluation and performance rollups",
		Long:         "kpitrack evaluates KPI formulas over recorded entries and rolls scores up to people, departments, and the organization.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown()
		},
	}
	root.PersistentFlags().StringVar(&c.workspaceFlag, "workspace", "", "Path to workspace root (default: current directory)")
	root.PersistentFlags().StringVar(&c.configFlag, "config", "", "Path to config file (default: <workspace>/kpitrack.yaml)")

	root.AddCommand(
		c.initCmd(),
		c.importCmd(),
		c.exportCmd(),
		c.resetCmd(),
		c.evalCmd(),
		c.scoreCmd(),
		c.trendCmd(),
		c.compareCmd(),
		c.personCmd(),
		c.departmentCmd(),
		c.serveCmd(),
		c.auditCmd(),
		c.daemonCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{Workspace: c.workspaceFlag, ConfigFile: c.configFlag})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c.cfg = cfg

	rootDir, err := workspace.ResolveRoot(cfg.Workspace)
	if err != nil {
		return err
	}
	if cmd.Name() == "init" {
		if err := os.MkdirAll(rootDir, 0o755); err != nil {
			return fmt.Errorf("create workspace root: %w", err)
		}
	}
	ws, err := workspace.Resolve(rootDir)
	if err != nil {
		return err
	}
	if err := ws.EnsureDirs(); err != nil {
		return err
	}
	c.ws = ws

	logFile, err := ws.ResolvePath(cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("resolve logging.file: %w", err)
	}
	c.log, err = logger.New(logger.Options{Level: cfg.Logging.Level, File: logFile, Console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	dbPath, err := ws.ResolvePath(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("resolve store.path: %w", err)
	}
	c.store, err = store.OpenSQLite(dbPath)
	if err != nil {
		return err
	}

	c.metrics = telemetry.New()
	agg := scoring.NewAggregator(formula.NewCache(cfg.Formula.CacheSize), c.log, c.metrics)
	c.svc = rollup.NewService(c.store, rollup.NewEngine(agg))
	c.audit = audit.NewLogger(ws.AuditDBPath)
	c.log.Debug("workspace ready",
		zap.String("workspace", ws.Root),
		zap.String("store", c.store.DBPath),
		zap.String("log_file", logFile),
	)
	return nil
}

func (c *cli) teardown() error {
	var errs []error
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
	return errors.Join(errs...)
}

// audited brackets fn with <name>_started and <name>_finished audit events.
// fn may add fields to the finish payload.
func (c *cli) audited(name string, payload map[string]any, fn func(finish map[string]any) error) error {
	start := map[string]any{"workspace": c.ws.Root}
	for k, v := range payload {
		start[k] = v
	}
	if err := c.audit.LogEvent("cli", name+"_started", start); err != nil {
		c.log.Warn("audit log failed", zap.String("event", name+"_started"), zap.Error(err))
	}

	finish := map[string]any{"workspace": c.ws.Root}
	err := fn(finish)
	if err != nil {
		finish["error"] = err.Error()
	}
	if logErr := c.audit.LogEvent("cli", name+"_finished", finish); logErr != nil {
		c.log.Warn("audit log failed", zap.String("event", name+"_finished"), zap.Error(logErr))
	}
	return err
}

func parseOptionalPeriod(value string) (*kpi.Period, error) {
	if value == "" {
		return nil, nil
	}
	p, err := kpi.ParsePeriod(value)
	if err != nil {
		return nil, fmt.Errorf("--period: %w", err)
	}
	return &p, nil
}

// parseMonth parses a YYYY-MM flag, defaulting to the current month.
func (c *cli) parseMonth(value string) (kpi.Period, error) {
	if value == "" {
		return kpi.PeriodOf(c.now()), nil
	}
	p, err := kpi.ParsePeriod(value)
	if err != nil {
		return kpi.Period{}, fmt.Errorf("--period: %w", err)
	}
	if p.Month == 0 {
		return kpi.Period{}, fmt.Errorf("--period: expected YYYY-MM, got %q", value)
	}
	return p, nil
}

func parseScopeFlag(value string) (kpi.Scope, error) {
	if value == "" {
		return kpi.OrganizationScope(), nil
	}
	scope, err := kpi.ParseScope(value)
	if err != nil {
		return kpi.Scope{}, fmt.Errorf("--scope: %w", err)
	}
	return scope, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
