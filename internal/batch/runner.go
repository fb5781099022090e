package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/graph"
)

// Submitter sends an ordered chunk of statements to the store.
//
// A returned error means the connection failed; the results slice then holds
// the statements that completed before it. Rejected statements are reported
// in their StatementResult, not as the call's error.
type Submitter interface {
	Submit(ctx context.Context, group string, stmts []graph.Statement) ([]graph.StatementResult, error)
}

// Runner submits MutationGroups one at a time and times them
type Runner struct {
	store   Submitter
	opts    Options
	limiter *rate.Limiter
	timings *TimingTracker
	logger  *slog.Logger
	wait    func(context.Context, time.Duration) error
}

// NewRunner creates a runner over store
func NewRunner(store Submitter, opts Options) *Runner {
	r := &Runner{
		store:   store,
		opts:    opts,
		timings: NewTimingTracker(),
		logger:  slog.Default().With("component", "runner"),
		wait:    sleepContext,
	}
	if opts.ChunkRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.ChunkRate), 1)
	}
	return r
}

// Timings returns the per-group timing metrics collected so far
func (r *Runner) Timings() *TimingTracker {
	return r.timings
}

// Submit sends every operation in group to the store, in chunks of
// Options.ChunkLength, and returns the outcome. It never panics on store
// errors and never reports a failed group as successful.
//
// Retryable groups are resubmitted whole after StoreUnavailable or
// PartialFailure; their operations are idempotent, so re-applying the chunks
// that already landed is safe. StatementRejected is never retried.
func (r *Runner) Submit(ctx context.Context, group MutationGroup) ExecutionResult {
	start := time.Now()
	r.logger.Info("submitting group",
		"group", group.Name(),
		"operations", group.Len(),
		"chunk_length", r.opts.ChunkLength)

	var result ExecutionResult
	attempts := 0
	for {
		attempts++
		result = r.submitOnce(ctx, group)
		if result.Err == nil || !r.shouldRetry(group, result.Err, attempts) {
			break
		}

		r.logger.Warn("retrying group",
			"group", group.Name(),
			"attempt", attempts,
			"max_attempts", r.opts.RetryAttempts+1,
			"delay", r.opts.RetryDelay,
			"error", result.Err)
		if err := r.wait(ctx, r.opts.RetryDelay); err != nil {
			break
		}
	}

	result.Attempts = attempts
	result.Elapsed = time.Since(start)
	r.timings.Record(group.Name(), result.Elapsed, result.Err)

	if result.Err != nil {
		r.logger.Error("group failed",
			"group", group.Name(),
			"applied", result.Applied(),
			"rejected", len(result.Rejected()),
			"attempts", attempts,
			"duration_seconds", result.Elapsed.Seconds(),
			"error", result.Err)
	} else {
		r.logger.Info("group completed",
			"group", group.Name(),
			"applied", result.Applied(),
			"chunks", result.Chunks,
			"duration_seconds", result.Elapsed.Seconds())
	}

	return result
}

func (r *Runner) submitOnce(ctx context.Context, group MutationGroup) ExecutionResult {
	ops := group.Operations()
	result := ExecutionResult{
		Group:   group.Name(),
		Results: make([]graph.StatementResult, 0, len(ops)),
	}

	chunks := Chunk(ops, r.opts.ChunkLength)
	for i, chunk := range chunks {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				result.Err = r.connectionFailure(result, err, i, len(chunks))
				return result
			}
		}

		result.Chunks++
		results, err := r.store.Submit(ctx, group.Name(), chunk)
		result.Results = append(result.Results, results...)
		if err != nil {
			result.Err = r.connectionFailure(result, err, i, len(chunks))
			return result
		}

		r.logger.Debug("chunk submitted",
			"group", group.Name(),
			"chunk", i+1,
			"chunks", len(chunks),
			"operations", len(chunk))
	}

	if rejected := result.Rejected(); len(rejected) > 0 {
		result.Err = apperrors.StatementRejectedf(rejected[0].Err,
			"%d of %d operations rejected in group %q (first: %s)",
			len(rejected), len(ops), group.Name(), rejected[0].Statement)
	}

	return result
}

// connectionFailure picks StoreUnavailable when nothing landed yet, PartialFailure otherwise
func (r *Runner) connectionFailure(result ExecutionResult, err error, chunk, chunks int) error {
	if result.Applied() == 0 {
		return apperrors.StoreUnavailable(err,
			fmt.Sprintf("group %q: store unavailable at chunk %d/%d", result.Group, chunk+1, chunks))
	}
	return apperrors.PartialFailuref(err,
		"group %q: connection lost at chunk %d/%d after %d operations applied",
		result.Group, chunk+1, chunks, result.Applied())
}

func (r *Runner) shouldRetry(group MutationGroup, err error, attempts int) bool {
	if !group.Retryable() || attempts > r.opts.RetryAttempts {
		return false
	}
	return apperrors.Is(err, apperrors.ErrStoreUnavailable) || apperrors.Is(err, apperrors.ErrPartialFailure)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
