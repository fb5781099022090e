package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vfbgraph/graphmaint/internal/ledger"
)

var (
	historyLimit    int
	historyRejected bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs",
	Long: `Without arguments, list the most recent runs from the ledger.
With a run id, show every group, drain and rejected statement recorded for
that run. --rejected lists the most recent rejected statements across runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyCmd.Flags().BoolVar(&historyRejected, "rejected", false, "list recent rejected statements")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	led, err := openLedger()
	if err != nil {
		return err
	}
	defer led.Close()

	if len(args) == 1 {
		return showRun(cmd, led, args[0])
	}
	if historyRejected {
		recs, err := led.Rejections(ctx, "", historyLimit)
		if err != nil {
			return err
		}
		return printRejections(recs, true)
	}

	runs, err := led.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPLAN\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry run)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Plan, status, r.StartedAt.Local().Format("2006-01-02 15:04:05"), formatDuration(r.Duration()))
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, led ledger.Ledger, id string) error {
	ctx := cmd.Context()

	run, err := led.GetRun(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("no run %q in the ledger", id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("🔍 Run %s\n", run.ID)
	fmt.Printf("  Plan: %s\n", run.Plan)
	fmt.Printf("  Store: %s\n", run.StoreURI)
	fmt.Printf("  Status: %s\n", run.Status)
	fmt.Printf("  Started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Printf("  Duration: %s\n", formatDuration(run.Duration()))
	}
	if run.Error != "" {
		fmt.Printf("  Error: %s\n", run.Error)
	}

	groups, err := led.Groups(ctx, id)
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tGROUP\tSTATUS\tOPS\tAPPLIED\tREJECTED\tCHUNKS\tTIME")
		for _, g := range groups {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				g.Position, g.Name, g.Status, g.Operations, g.Applied, g.Rejected, g.Chunks,
				formatDuration(time.Duration(g.DurationMS)*time.Millisecond))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	drains, err := led.Drains(ctx, id)
	if err != nil {
		return err
	}
	if len(drains) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AFTER\tQUERY\tOUTCOME\tATTEMPTS\tLAST COUNT\tWAITED")
		for _, d := range drains {
			after := d.AfterGroup
			if after == "" {
				after = "(final)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				after, d.Query, d.Outcome, d.Attempts, d.LastCount,
				formatDuration(time.Duration(d.ElapsedMS)*time.Millisecond))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	recs, err := led.Rejections(ctx, id, 0)
	if err != nil {
		return err
	}
	return printRejections(recs, false)
}

func printRejections(recs []ledger.Rejection, withRun bool) error {
	if len(recs) == 0 {
		if withRun {
			fmt.Println("No rejected statements recorded")
		}
		return nil
	}

	fmt.Printf("\n❌ Rejected statements (%d):\n", len(recs))
	for _, r := range recs {
		prefix := ""
		if withRun {
			prefix = shortID(r.RunID) + " "
		}
		fmt.Printf("  %s[%s] %s: %s\n", prefix, r.Group, r.Statement, r.Error)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Hour:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Minute).String()
	}
}
