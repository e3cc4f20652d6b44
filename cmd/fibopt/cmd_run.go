package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newtron-network/fibopt/pkg/cli"
	"github.com/newtron-network/fibopt/pkg/optimizer"
	"github.com/newtron-network/fibopt/pkg/prefixlist"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full optimization cycle",
	Long: `Run a full optimization cycle:

  select window -> fetch -> reconcile -> persist -> install -> purge

Any failure aborts the run. Nothing is persisted or installed unless both
classes reconcile; a purge failure leaves the installed lists in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLock(cfg, func() error {
			orch, closeFn, err := newOrchestrator(cfg, true)
			if err != nil {
				return err
			}
			defer closeFn()

			run, err := orch.Run(cmd.Context())
			printRunSummary(os.Stdout, run)
			return err
		})
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a run would change",
	Long: `Select the window, fetch candidates and reconcile them against the
stored lists without persisting, installing or purging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closeFn, err := newOrchestrator(cfg, false)
		if err != nil {
			return err
		}
		defer closeFn()

		run, err := orch.Plan(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(newPlanView(run))
		}
		printPlan(os.Stdout, run)
		return nil
	},
}

// planView is the JSON form of a plan.
type planView struct {
	RunID   string                    `json:"run_id"`
	Window  string                    `json:"window"`
	Classes map[string]planClassView `json:"classes"`
}

type planClassView struct {
	Summary prefixlist.Summary  `json:"summary"`
	Changes []prefixlist.Change `json:"changes"`
}

func newPlanView(run *optimizer.Run) planView {
	v := planView{RunID: run.ID, Window: run.Window.String(), Classes: map[string]planClassView{}}
	for _, class := range prefixlist.Classes {
		v.Classes[class.String()] = planClassView{
			Summary: run.Summary(class),
			Changes: prefixlist.Diff(run.Existing[class], run.Results[class]),
		}
	}
	return v
}

func printPlan(w io.Writer, run *optimizer.Run) {
	fmt.Fprintf(w, "Window: %s\n", run.Window)
	for _, class := range prefixlist.Classes {
		s := run.Summary(class)
		fmt.Fprintf(w, "\n%s %s: %d entries (%d retained, %s)\n",
			cli.Bold(class.ListName()), class, s.Total, s.Retained, cli.Delta(s.Added, s.Removed))

		t := cli.NewTableTo(w, "SEQ", "CHANGE", "PREFIX").WithPrefix("  ")
		for _, c := range prefixlist.Diff(run.Existing[class], run.Results[class]) {
			mark := cli.Green("+ add")
			if c.Type == prefixlist.ChangeRemove {
				mark = cli.Red("- remove")
			}
			t.Row(strconv.Itoa(c.Sequence), mark, c.Prefix)
		}
		t.Flush()
	}
}

// printRunSummary prints the outcome and, once the lists were stored, their
// change counts.
func printRunSummary(w io.Writer, run *optimizer.Run) {
	if run == nil {
		return
	}
	if run.State == optimizer.StateAborted {
		fmt.Fprintf(w, "Run %s %s in %s\n", run.ID, cli.Red("aborted"), run.AbortedIn)
	} else {
		fmt.Fprintf(w, "Run %s %s\n", run.ID, cli.Green("completed"))
	}
	if !run.Committed() || len(run.Results) == 0 {
		return
	}

	t := cli.NewTableTo(w, "CLASS", "ENTRIES", "RETAINED", "CHANGE")
	for _, class := range prefixlist.Classes {
		if _, ok := run.Results[class]; !ok {
			continue
		}
		s := run.Summary(class)
		t.Row(class.String(), strconv.Itoa(s.Total), strconv.Itoa(s.Retained), cli.Delta(s.Added, s.Removed))
	}
	t.Flush()
}
