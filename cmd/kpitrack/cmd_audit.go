package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) auditCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := c.audit.Recent(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			for _, e := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-6s %-28s %s\n",
					e.Timestamp.Local().Format(time.DateTime), e.Actor, e.Type, e.PayloadJSON)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
