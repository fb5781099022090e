package main

import (
	"github.com/spf13/cobra"

	"github.com/vfbgraph/graphmaint/internal/batch"
	"github.com/vfbgraph/graphmaint/internal/config"
	"github.com/vfbgraph/graphmaint/internal/orchestrator"
	"github.com/vfbgraph/graphmaint/internal/poller"
)

var (
	runPlan    string
	runBaseDir string
	runResume  bool
	runDryRun  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a maintenance plan against the graph store",
	Long: `Submit every group of a plan in order, waiting for background jobs where
the plan asks for it, then run the final drain.

--plan takes a YAML plan file or the name of a built-in plan (see: gmaint plan list).
Groups with rejected statements are logged and the run continues, unless the
group sets on_error: abort. Losing the store stops the run with exit code 1.`,
	Example: `  gmaint run --plan final-step
  gmaint run --plan ./plans/nightly.yaml --resume
  gmaint run --plan final-step --dry-run`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPlan, "plan", "p", "", "plan file or built-in plan name")
	runCmd.Flags().StringVar(&runBaseDir, "base-dir", "", "directory for relative TSV files (default: the plan's directory)")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "skip groups completed by an interrupted run of the same plan")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "expand and log the plan without connecting")
	_ = runCmd.MarkFlagRequired("plan")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	exp, err := loadPlan(runPlan, runBaseDir)
	if err != nil {
		return err
	}

	led, err := openLedger()
	if err != nil {
		return err
	}
	defer led.Close()

	opts := orchestrator.Options{
		StoreURI: cfg.Store.URI,
		Resume:   runResume,
		DryRun:   runDryRun,
	}

	if runDryRun {
		if err := validate(config.ValidationContextOffline); err != nil {
			return err
		}
		_, err := orchestrator.New(orchestratorDeps(led, nil, nil)).Run(ctx, exp, opts)
		return err
	}

	client, err := connectStore(ctx, config.ValidationContextRun)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	cp, err := openCheckpoints()
	if err != nil {
		return err
	}
	if cp != nil {
		defer cp.Close()
	}

	locker, err := openLocker(ctx)
	if err != nil {
		return err
	}
	if locker != nil {
		defer locker.Close()
	}

	deps := orchestratorDeps(led, cp, locker)
	deps.Runner = batch.NewRunner(client, cfg.RunnerOptions())
	deps.Poller = poller.New(client, poller.Options{AbortOnRejected: cfg.Poller.AbortOnRejected})

	_, err = orchestrator.New(deps).Run(ctx, exp, opts)
	return err
}
