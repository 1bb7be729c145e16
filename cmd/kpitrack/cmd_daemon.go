package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kpitrack/internal/daemon"
	"kpitrack/internal/notify"
)

func (c *cli) daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled reports, monthly comparisons, and inbox imports in the background",
	}
	cmd.AddCommand(
		c.daemonRunCmd(),
		c.daemonStatusCmd(),
		c.daemonEnqueueCmd(),
		c.daemonInstallCmd(),
		c.daemonUninstallCmd(),
	)
	return cmd
}

func (c *cli) newDaemon() (*daemon.Daemon, error) {
	d, err := daemon.New(daemon.Config{
		Workspace:     c.ws,
		TimeZone:      c.cfg.Daemon.TimeZone,
		ReportHour:    c.cfg.Daemon.ReportHour,
		LeaseFor:      c.cfg.Daemon.Lease,
		PollInterval:  c.cfg.Daemon.PollInterval,
		WatchInterval: c.cfg.Daemon.WatchInterval,
	}, daemon.Deps{
		Service:  c.svc,
		Data:     c.store,
		Notifier: notify.New(c.cfg.Notify.Enabled),
		Audit:    c.audit,
		Metrics:  c.metrics,
		Logger:   c.log,
	})
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func (c *cli) daemonRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for due jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.newDaemon()
			if err != nil {
				return err
			}
			defer d.Close()

			if once {
				return c.audited("daemon_once", nil, func(finish map[string]any) error {
					ran, err := d.Drain(cmd.Context(), c.now())
					finish["jobs"] = ran
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Ran %d jobs\n", ran)
					return nil
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Starting daemon for workspace: %s\n", c.ws.Root)
			fmt.Fprintf(cmd.OutOrStdout(), "Poll interval: %s, Lease: %s, Timezone: %s\n",
				d.PollInterval, d.LeaseFor, c.cfg.Daemon.TimeZone)
			return d.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run every job that is due now, then exit")
	return cmd
}

func (c *cli) daemonStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show running, queued, and recently finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := daemon.Open(c.ws.StateDBPath)
			if err != nil {
				return fmt.Errorf("open daemon store: %w", err)
			}
			defer jobs.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			running, err := jobs.ListRunning(ctx)
			if err != nil {
				return fmt.Errorf("list running jobs: %w", err)
			}
			fmt.Fprintf(out, "Running jobs: %d\n", len(running))
			for _, job := range running {
				fmt.Fprintf(out, "  %s [%s] owner=%s started=%s lease_expires=%s\n",
					job.ID, job.Type, job.LeaseOwner, formatOptionalTime(job.StartedAt), formatOptionalTime(job.LeaseExpiresAt))
			}
			fmt.Fprintln(out)

			queued, err := jobs.ListQueued(ctx, limit)
			if err != nil {
				return fmt.Errorf("list queued jobs: %w", err)
			}
			fmt.Fprintf(out, "Queued jobs (next %d):\n", len(queued))
			for _, job := range queued {
				fmt.Fprintf(out, "  %s [%s] scheduled=%s\n", job.ID, job.Type, job.ScheduledAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out)

			completed, err := jobs.ListRecentCompleted(ctx, limit)
			if err != nil {
				return fmt.Errorf("list completed jobs: %w", err)
			}
			fmt.Fprintf(out, "Recent completed jobs (last %d):\n", len(completed))
			for _, job := range completed {
				fmt.Fprintf(out, "  %s [%s] status=%s finished=%s\n",
					job.ID, job.Type, job.Status, formatOptionalTime(job.FinishedAt))
				if job.ResultJSON != "" {
					fmt.Fprintf(out, "    result: %s\n", job.ResultJSON)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum queued and completed jobs to show")
	return cmd
}

func (c *cli) daemonEnqueueCmd() *cobra.Command {
	var (
		at          string
		key         string
		payloadJSON string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <job-type>",
		Short: "Queue a job (score_report, compare_notify, import_file, watch_tick)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduledAt := c.now()
			if at != "" {
				loc, err := time.LoadLocation(c.cfg.Daemon.TimeZone)
				if err != nil {
					return fmt.Errorf("daemon.timezone: %w", err)
				}
				scheduledAt, err = time.ParseInLocation("2006-01-02T15:04", at, loc)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
			}

			var payload map[string]any
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("parse --payload-json: %w", err)
			}

			jobs, err := daemon.Open(c.ws.StateDBPath)
			if err != nil {
				return fmt.Errorf("open daemon store: %w", err)
			}
			defer jobs.Close()

			jobID, created, err := jobs.EnqueueUnique(cmd.Context(), args[0], key, scheduledAt, payload)
			if err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job: %s\n", jobID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Job already exists: %s\n", jobID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Scheduled time as YYYY-MM-DDTHH:MM in daemon.timezone (default: now)")
	cmd.Flags().StringVar(&key, "key", "", "Distinguishes jobs of the same type scheduled at the same time")
	cmd.Flags().StringVar(&payloadJSON, "payload-json", "{}", "Job payload as JSON")
	return cmd
}

func (c *cli) daemonInstallCmd() *cobra.Command {
	var start bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a macOS LaunchAgent that keeps the daemon running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			return c.audited("daemon_install", map[string]any{"binary": binary}, func(finish map[string]any) error {
				path, err := daemon.Install(c.ws, binary)
				if err != nil {
					return err
				}
				finish["plist"] = path
				fmt.Fprintf(cmd.OutOrStdout(), "Installed LaunchAgent: %s\n", path)
				if !start {
					return nil
				}
				if err := daemon.Start(c.ws); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started %s (logs: %s)\n", daemon.PlistLabel(c.ws.Root), daemon.GetLogPath(c.ws))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "Load the agent with launchctl after installing")
	return cmd
}

func (c *cli) daemonUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the LaunchAgent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.audited("daemon_uninstall", nil, func(map[string]any) error {
				if running, err := daemon.IsRunning(c.ws); err == nil && running {
					if err := daemon.Stop(c.ws); err != nil {
						return err
					}
				}
				if err := daemon.Uninstall(c.ws); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Uninstalled LaunchAgent")
				return nil
			})
		},
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
