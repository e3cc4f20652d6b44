package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/fibopt/pkg/audit"
	"github.com/newtron-network/fibopt/pkg/cli"
	"github.com/newtron-network/fibopt/pkg/prefixlist"
)

var (
	auditClass     string
	auditOperation string
	auditRun       string
	auditLast      string
	auditLimit     int
	auditFailures  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit trail",
	Long: `View what past runs changed, newest first.

Examples:
  fibopt audit --last 24h
  fibopt audit --class lem --operation run
  fibopt audit --failures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			Operation:   auditOperation,
			RunID:       auditRun,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}
		if auditClass != "" {
			class, err := prefixlist.ParseClass(auditClass)
			if err != nil {
				return err
			}
			filter.Class = class.String()
		}
		if auditLast != "" {
			duration, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		events, err := audit.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(events)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}
		printEvents(os.Stdout, events)
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditClass, "class", "", "Filter by class (lem, lpm)")
	auditCmd.Flags().StringVar(&auditOperation, "operation", "", "Filter by operation (run, install, purge, abort)")
	auditCmd.Flags().StringVar(&auditRun, "run", "", "Filter by run ID")
	auditCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed operations")
}

func printEvents(w io.Writer, events []*audit.Event) {
	t := cli.NewTableTo(w, "TIMESTAMP", "RUN", "OPERATION", "CLASS", "CHANGE", "STATUS", "DETAIL")
	for _, e := range events {
		change := ""
		if e.Summary != nil {
			change = cli.Delta(e.Summary.Added, e.Summary.Removed)
		}
		detail := e.Error
		if e.State != "" {
			detail = e.State + ": " + detail
		}
		runID := e.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		t.Row(
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			runID,
			e.Operation,
			e.Class,
			change,
			cli.Status(e.Success, e.DryRun),
			detail,
		)
	}
	t.Flush()
}
