package main

import (
	"context"
	"fmt"

	"github.com/vfbgraph/graphmaint/internal/checkpoint"
	"github.com/vfbgraph/graphmaint/internal/config"
	"github.com/vfbgraph/graphmaint/internal/graph"
	"github.com/vfbgraph/graphmaint/internal/ledger"
	"github.com/vfbgraph/graphmaint/internal/lock"
	"github.com/vfbgraph/graphmaint/internal/orchestrator"
	"github.com/vfbgraph/graphmaint/internal/plan"
)

// validate checks cfg for vctx, printing warnings and failing on errors
func validate(vctx config.ValidationContext) error {
	result := cfg.Validate(vctx)
	for _, warn := range result.Warnings {
		logger.Warn(warn)
	}
	return result.Err()
}

// connectStore resolves the store password and opens a verified client
func connectStore(ctx context.Context, vctx config.ValidationContext) (*graph.Client, error) {
	if err := config.NewCredentialManager().ResolveStorePassword(cfg); err != nil {
		return nil, err
	}
	if err := validate(vctx); err != nil {
		return nil, err
	}
	return graph.NewClient(ctx, cfg.ClientOptions())
}

func openLedger() (ledger.Ledger, error) {
	return ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN, logger)
}

// openCheckpoints returns nil when no checkpoint path is configured
func openCheckpoints() (*checkpoint.Store, error) {
	if cfg.Checkpoint.Path == "" {
		return nil, nil
	}
	return checkpoint.Open(cfg.Checkpoint.Path)
}

// openLocker returns nil when the lock is disabled
func openLocker(ctx context.Context) (*lock.Locker, error) {
	if !cfg.Lock.Enabled {
		return nil, nil
	}
	l, err := lock.NewLocker(ctx, lock.Options{
		Addr:     cfg.Lock.Addr,
		Password: cfg.Lock.Password,
		DB:       cfg.Lock.DB,
		TTL:      cfg.Lock.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("lock enabled but redis unreachable: %w", err)
	}
	return l, nil
}

func expandOptions(baseDir string) plan.ExpandOptions {
	return plan.ExpandOptions{
		BaseDir:         baseDir,
		DefaultInterval: cfg.Poller.Interval,
		DefaultMaxWait:  cfg.Poller.MaxWait,
		DefaultTSVBatch: cfg.Runner.TSVBatchRows,
	}
}

// loadPlan opens a plan file or catalog entry and expands it
func loadPlan(ref, baseDir string) (*plan.Expanded, error) {
	p, err := plan.Open(ref)
	if err != nil {
		return nil, err
	}
	return plan.Expand(p, expandOptions(baseDir))
}

// orchestratorDeps wires the optional collaborators; nil stores stay nil interfaces
func orchestratorDeps(led ledger.Ledger, cp *checkpoint.Store, locker *lock.Locker) orchestrator.Deps {
	deps := orchestrator.Deps{Ledger: led, Logger: logger}
	if cp != nil {
		deps.Checkpoints = cp
	}
	if locker != nil {
		deps.Locker = orchestrator.RedisLocker(locker)
	}
	return deps
}
