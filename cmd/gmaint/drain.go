package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vfbgraph/graphmaint/internal/config"
	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/orchestrator"
	"github.com/vfbgraph/graphmaint/internal/plan"
	"github.com/vfbgraph/graphmaint/internal/poller"
)

var (
	drainQuery         string
	drainPlan          string
	drainInterval      time.Duration
	drainMaxWait       time.Duration
	drainThreshold     int
	drainFailOnTimeout bool
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Wait until the store has no background jobs running",
	Long: `Poll a job query until the number of running background jobs drops to the
query's threshold, or until --max-wait has elapsed.

--query names a built-in job query (see: gmaint plan list) or one defined
in the plan given with --plan.`,
	Example: `  gmaint drain --query periodic-commit
  gmaint drain --query load-csv --interval 1m --max-wait 2h
  gmaint drain --plan ./plans/nightly.yaml --query loader-jobs`,
	RunE: runDrain,
}

func init() {
	drainCmd.Flags().StringVarP(&drainQuery, "query", "q", "periodic-commit", "job query to poll")
	drainCmd.Flags().StringVarP(&drainPlan, "plan", "p", "", "plan file or built-in plan defining the job query")
	drainCmd.Flags().DurationVar(&drainInterval, "interval", 0, "time between polls (default: poller.interval)")
	drainCmd.Flags().DurationVar(&drainMaxWait, "max-wait", 0, "give up after this long (default: poller.max_wait)")
	drainCmd.Flags().IntVar(&drainThreshold, "threshold", -1, "override the query's threshold")
	drainCmd.Flags().BoolVar(&drainFailOnTimeout, "fail-on-timeout", false, "exit non-zero when jobs are still running at --max-wait")
}

// resolveJobQuery looks the query up in the plan, if any, then the built-ins
func resolveJobQuery() (poller.JobQuery, error) {
	if drainPlan != "" {
		p, err := plan.Open(drainPlan)
		if err != nil {
			return poller.JobQuery{}, err
		}
		if q, ok := p.JobQuery(drainQuery); ok {
			return q, nil
		}
		return poller.JobQuery{}, apperrors.ConfigErrorf("plan %q has no job query %q", p.Name, drainQuery)
	}
	if q, ok := poller.Builtin(drainQuery); ok {
		return q, nil
	}
	return poller.JobQuery{}, apperrors.ConfigErrorf("unknown job query %q (built-in: %v)", drainQuery, poller.BuiltinNames())
}

func runDrain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	query, err := resolveJobQuery()
	if err != nil {
		return err
	}
	if drainThreshold >= 0 {
		query.Threshold = drainThreshold
	}

	d := plan.Drain{Query: query, Interval: cfg.Poller.Interval, MaxWait: cfg.Poller.MaxWait}
	if drainInterval > 0 {
		d.Interval = drainInterval
	}
	if drainMaxWait > 0 {
		d.MaxWait = drainMaxWait
	}

	client, err := connectStore(ctx, config.ValidationContextDrain)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	led, err := openLedger()
	if err != nil {
		return err
	}
	defer led.Close()

	deps := orchestratorDeps(led, nil, nil)
	deps.Poller = poller.New(client, poller.Options{AbortOnRejected: cfg.Poller.AbortOnRejected})

	report, err := orchestrator.New(deps).Drain(ctx, d, cfg.Store.URI)
	if err != nil {
		return err
	}

	switch report.Outcome {
	case poller.Drained:
		fmt.Printf("✅ %s drained after %d attempt(s) in %s\n", query.Name, report.Attempts, report.Elapsed.Round(time.Second))
	case poller.TimedOut:
		fmt.Printf("⚠️  %s still running after %s (%d attempt(s), last count %d)\n",
			query.Name, report.Elapsed.Round(time.Second), report.Attempts, report.LastCount)
		if drainFailOnTimeout {
			return report.Err()
		}
	}
	return nil
}
