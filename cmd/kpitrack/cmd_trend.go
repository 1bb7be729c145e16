package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kpitrack/internal/notify"
	"kpitrack/internal/rollup"
)

func (c *cli) trendCmd() *cobra.Command {
	var (
		scopeFlag  string
		periodFlag string
		window     int
		modeFlag   string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show monthly KPI values over a trailing window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScopeFlag(scopeFlag)
			if err != nil {
				return err
			}
			ref, err := c.parseMonth(periodFlag)
			if err != nil {
				return err
			}
			mode, err := rollup.ParseValueMode(modeFlag)
			if err != nil {
				return err
			}
			if window <= 0 {
				window = c.cfg.Trend.WindowMonths
			}
			payload := map[string]any{"scope": scope.String(), "period": ref.String(), "window": window, "mode": string(mode)}
			return c.audited("trend", payload, func(finish map[string]any) error {
				buckets, err := c.svc.TrendSeries(cmd.Context(), scope, ref, window, mode)
				if err != nil {
					return err
				}
				finish["buckets"] = len(buckets)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), buckets)
				}
				v, err := c.svc.View(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, b := range buckets {
					if len(b.Values) == 0 {
						fmt.Fprintf(out, "%s  -\n", b.Label)
						continue
					}
					ids := make([]string, 0, len(b.Values))
					for id := range b.Values {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					parts := make([]string, 0, len(ids))
					for _, id := range ids {
						name := id
						if k, ok := v.Kpi(id); ok {
							name = k.Name
						}
						parts = append(parts, fmt.Sprintf("%s=%.1f", name, b.Values[id]))
					}
					fmt.Fprintf(out, "%s  %s\n", b.Label, strings.Join(parts, "  "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeFlag, "scope", "all", "person:<id>, department:<id>, or all")
	cmd.Flags().StringVar(&periodFlag, "period", "", "Last month of the window, YYYY-MM (default: current month)")
	cmd.Flags().IntVar(&window, "window", 0, "Number of months (default: trend.window_months)")
	cmd.Flags().StringVar(&modeFlag, "mode", "score", "Value mode: score or raw")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func (c *cli) compareCmd() *cobra.Command {
	var (
		scopeFlag  string
		periodFlag string
		sendNotify bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare each KPI against the previous month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScopeFlag(scopeFlag)
			if err != nil {
				return err
			}
			current, err := c.parseMonth(periodFlag)
			if err != nil {
				return err
			}
			payload := map[string]any{"scope": scope.String(), "period": current.String(), "notify": sendNotify}
			return c.audited("compare", payload, func(finish map[string]any) error {
				cmp, err := c.svc.Compare(cmd.Context(), scope, current)
				if err != nil {
					return err
				}
				finish["rows"] = len(cmp.Rows)

				if sendNotify || c.cfg.Notify.Enabled {
					notifier := notify.New(true)
					sent := 0
					for _, row := range cmp.Rows {
						if !row.StatusChanged() {
							continue
						}
						title, message := notify.FormatStatusChange(row.KpiName, cmp.Scope, row.PreviousStatus, row.CurrentStatus, row.CurrentScore)
						if err := notifier.Send(title, message); err != nil {
							c.log.Warn("notification failed", zap.String("kpi_id", row.KpiID), zap.Error(err))
							continue
						}
						sent++
					}
					finish["notifications"] = sent
				}

				if asJSON {
					return writeJSON(cmd.OutOrStdout(), cmp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s vs %s\n", cmp.Scope, cmp.Current.Label(), cmp.Previous.Label())
				if len(cmp.Rows) == 0 {
					fmt.Fprintln(out, "no KPI data for the current month")
				}
				for _, row := range cmp.Rows {
					prev, delta := "-", "-"
					if row.Previous != nil {
						prev = fmt.Sprintf("%.2f", *row.Previous)
					}
					if row.DeltaPercent != nil {
						delta = fmt.Sprintf("%+.1f%%", *row.DeltaPercent)
					}
					status := string(row.CurrentStatus)
					if row.StatusChanged() {
						status = fmt.Sprintf("%s -> %s", row.PreviousStatus, row.CurrentStatus)
					}
					fmt.Fprintf(out, "  %-32s %10.2f %10s %8s  %s\n", row.KpiName, row.Current, prev, delta, status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeFlag, "scope", "all", "person:<id>, department:<id>, or all")
	cmd.Flags().StringVar(&periodFlag, "period", "", "Current month, YYYY-MM (default: current month)")
	cmd.Flags().BoolVar(&sendNotify, "notify", false, "Send a desktop notification for each KPI that changed status band (also notify.enabled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
