package main

import (
	"github.com/spf13/cobra"

	"kpitrack/internal/api"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/JSON API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.API.ListenAddr
			}
			if c.cfg.API.AuthToken == "" {
				c.log.Warn("HTTP API auth is disabled; set KPITRACK_API_AUTH_TOKEN or api.auth_token")
			}
			srv := api.NewServer(c.store, c.svc, c.metrics, c.log, api.Options{
				AuthToken:   c.cfg.API.AuthToken,
				TrendWindow: c.cfg.Trend.WindowMonths,
				Audit:       c.audit,
				Now:         c.now,
			})
			return c.audited("serve", map[string]any{"addr": addr}, func(finish map[string]any) error {
				return srv.ListenAndServe(cmd.Context(), addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: api.listen_addr)")
	return cmd
}
