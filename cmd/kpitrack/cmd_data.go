package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kpitrack/internal/kpi"
)

const configTemplate = `# kpitrack workspace configuration. Every key can also be set with a
# KPITRACK_* environment variable, e.g. KPITRACK_LOGGING_LEVEL=debug.
store:
  path: data/kpitrack.sqlite
logging:
  level: info
  file: logs/kpitrack.log
api:
  listen_addr: ":8080"
  auth_token: ""
formula:
  cache_size: 256
trend:
  window_months: 6
notify:
  enabled: false
daemon:
  timezone: UTC
  report_hour: 2
  poll_interval: 1s
  lease: 30s
  watch_interval: 30s
`

func (c *cli) initCmd() *cobra.Command {
	var sample bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.audited("workspace_init", map[string]any{"sample": sample}, func(finish map[string]any) error {
				if err := writeFileIfMissing(c.ws.ConfigPath, configTemplate); err != nil {
					return err
				}
				finish["config"] = c.ws.ConfigPath
				if sample {
					ds, err := c.store.Snapshot(cmd.Context())
					if err != nil {
						return err
					}
					if len(ds.Kpis) > 0 || len(ds.People) > 0 || len(ds.Departments) > 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "Store is not empty; sample data skipped")
					} else {
						if err := c.store.ReplaceAll(cmd.Context(), kpi.SampleDataset(c.now())); err != nil {
							return err
						}
						finish["seeded"] = true
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized workspace: %s\n", c.ws.Root)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&sample, "sample", false, "Seed sample departments, people, KPIs, and entries into an empty store")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the store contents with a JSON or YAML export",
		Long:  "Replaces people, departments, and KPIs. Entries are replaced only when the file contains kpiDataEntries.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.ws.ResolvePath(args[0])
			if err != nil {
				return err
			}
			return c.audited("import", map[string]any{"file": path}, func(finish map[string]any) error {
				ds, err := kpi.LoadDataset(path)
				if err != nil {
					return err
				}
				if err := c.store.ReplaceAll(cmd.Context(), ds); err != nil {
					return err
				}
				finish["people"] = len(ds.People)
				finish["departments"] = len(ds.Departments)
				finish["kpis"] = len(ds.Kpis)
				finish["entries"] = len(ds.Entries)
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d people, %d departments, %d KPIs, %d entries\n",
					len(ds.People), len(ds.Departments), len(ds.Kpis), len(ds.Entries))
				return nil
			})
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the store as a JSON or YAML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := kpi.ParseFormat(format)
			if err != nil {
				return err
			}
			return c.audited("export", map[string]any{"out": out, "format": string(f)}, func(finish map[string]any) error {
				ds, err := c.store.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				if out == "-" {
					data, err := kpi.EncodeDataset(ds, f)
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				path := out
				if path == "" {
					path = filepath.Join(c.ws.ExportsDir, fmt.Sprintf("kpitrack_%s.%s", c.now().UTC().Format("20060102T150405Z"), f))
				} else if path, err = c.ws.ResolvePath(path); err != nil {
					return err
				}
				if err := kpi.WriteDataset(path, ds, f); err != nil {
					return err
				}
				finish["output"] = path
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote export: %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output path, or - for stdout (default: <workspace>/exports/kpitrack_<timestamp>.<format>)")
	cmd.Flags().StringVar(&format, "format", "json", "Export format: json or yaml")
	return cmd
}

func (c *cli) resetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every record in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("reset deletes all data; re-run with --force")
			}
			return c.audited("reset", nil, func(finish map[string]any) error {
				if err := c.store.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Store cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm deletion")
	return cmd
}

func writeFileIfMissing(path string, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
