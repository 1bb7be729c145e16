package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kpitrack/internal/report"
	"kpitrack/internal/rollup"
	"kpitrack/internal/scoring"
)

func (c *cli) evalCmd() *cobra.Command {
	var kpiID string
	cmd := &cobra.Command{
		Use:   "eval --kpi <id> name=value...",
		Short: "Evaluate a KPI formula against variable values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kpiID == "" {
				return fmt.Errorf("--kpi is required")
			}
			values, err := parseAssignments(args)
			if err != nil {
				return err
			}
			value, err := c.svc.EvaluateFormula(cmd.Context(), kpiID, values)
			if err != nil {
				return err
			}
			if value == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no value (formula could not be evaluated)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", strconv.FormatFloat(*value, 'f', -1, 64))
			return nil
		},
	}
	cmd.Flags().StringVar(&kpiID, "kpi", "", "KPI id")
	return cmd
}

func parseAssignments(args []string) (map[string]float64, error) {
	values := make(map[string]float64, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", name, raw)
		}
		values[strings.TrimSpace(name)] = v
	}
	return values, nil
}

func (c *cli) scoreCmd() *cobra.Command {
	var (
		periodFlag string
		diff       bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Roll up every person, department, and the organization into a score report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := parseOptionalPeriod(periodFlag)
			if err != nil {
				return err
			}
			return c.audited("score", map[string]any{"period": periodFlag, "diff": diff}, func(finish map[string]any) error {
				var previous string
				if diff {
					if latest, err := report.LatestPath(c.ws.ReportsDir); err == nil {
						previous = latest
					}
				}

				v, err := c.svc.View(cmd.Context())
				if err != nil {
					return err
				}
				now := c.now()
				r := report.Build(c.svc.Engine(), v, period, now)
				outPath := report.PathFor(c.ws.ReportsDir, now)
				if err := report.Write(outPath, r); err != nil {
					return err
				}
				counts := report.StatusCounts(r)
				finish["output"] = outPath
				finish["overall_score"] = r.Organization.OverallScore
				finish["people"] = len(r.People)

				out := cmd.OutOrStdout()
				if asJSON {
					if err := writeJSON(out, r); err != nil {
						return err
					}
				} else {
					for _, line := range report.Summary(r) {
						fmt.Fprintln(out, line)
					}
					fmt.Fprintf(out, "status: %d %s, %d %s, %d %s\n",
						counts[scoring.StatusGood], scoring.StatusGood,
						counts[scoring.StatusAverage], scoring.StatusAverage,
						counts[scoring.StatusNeedsImprovement], scoring.StatusNeedsImprovement)
				}

				if diff {
					if err := printDiff(out, previous, r, outPath); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote score report: %s\n", outPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&periodFlag, "period", "", "Restrict to YYYY, YYYY-MM, or YYYY-Qn (default: all time)")
	cmd.Flags().BoolVar(&diff, "diff", false, "Show changes since the previous report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printDiff(out io.Writer, previousPath string, current *report.ScoreReport, currentPath string) error {
	if previousPath == "" {
		fmt.Fprintln(out, "no previous report to diff against")
		return nil
	}
	previous, err := report.Load(previousPath)
	if err != nil {
		return err
	}
	text, err := report.Diff(previous, current, previousPath, currentPath)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintln(out, "no changes since previous report")
		return nil
	}
	fmt.Fprint(out, text)
	return nil
}

func (c *cli) personCmd() *cobra.Command {
	var (
		periodFlag string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "person <id>",
		Short: "Show a person's KPI performance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := parseOptionalPeriod(periodFlag)
			if err != nil {
				return err
			}
			perf, err := c.svc.Person(cmd.Context(), args[0], period)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), perf)
			}
			printEntity(cmd.OutOrStdout(), perf.EntityPerformance)
			return nil
		},
	}
	cmd.Flags().StringVar(&periodFlag, "period", "", "Restrict to YYYY, YYYY-MM, or YYYY-Qn")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func (c *cli) departmentCmd() *cobra.Command {
	var (
		periodFlag string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "department <id>",
		Short: "Show a department's KPI performance, including its members' entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := parseOptionalPeriod(periodFlag)
			if err != nil {
				return err
			}
			perf, err := c.svc.Department(cmd.Context(), args[0], period)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), perf)
			}
			printEntity(cmd.OutOrStdout(), perf.EntityPerformance)
			fmt.Fprintf(cmd.OutOrStdout(), "members: %d\n", perf.PeopleCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&periodFlag, "period", "", "Restrict to YYYY, YYYY-MM, or YYYY-Qn")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printEntity(out io.Writer, perf rollup.EntityPerformance) {
	fmt.Fprintf(out, "%s (%s): %.1f%% %s, %d of %d KPIs with data\n",
		perf.Name, perf.Kind, perf.OverallScore, perf.Status, perf.ScoredKpiCount, perf.KpiCount)
	for _, res := range perf.Results {
		if !res.HasData() {
			fmt.Fprintf(out, "  %-32s no data\n", res.KpiName)
			continue
		}
		fmt.Fprintf(out, "  %-32s %6.1f%%  raw %.2f%s  %s\n",
			res.KpiName, res.NormalizedScore, *res.RawValue, res.Unit, res.Status)
	}
}
