package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vfbgraph/graphmaint/internal/batch"
	"github.com/vfbgraph/graphmaint/internal/checkpoint"
	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/ledger"
	"github.com/vfbgraph/graphmaint/internal/lock"
	"github.com/vfbgraph/graphmaint/internal/plan"
	"github.com/vfbgraph/graphmaint/internal/poller"
)

// GroupRunner submits one group. *batch.Runner implements it.
type GroupRunner interface {
	Submit(ctx context.Context, group batch.MutationGroup) batch.ExecutionResult
	Timings() *batch.TimingTracker
}

// Drainer waits for background jobs. *poller.Poller implements it.
type Drainer interface {
	Drain(ctx context.Context, query poller.JobQuery, interval, maxWait time.Duration) poller.Report
}

// Checkpoints persists which groups of a plan fingerprint completed.
// *checkpoint.Store implements it.
type Checkpoints interface {
	Load(fingerprint string) (checkpoint.State, bool, error)
	MarkCompleted(fingerprint, plan, runID, group string) error
	Clear(fingerprint string) error
}

// Deps are the collaborators of an Orchestrator. Only Runner and Poller are
// required, and only for runs that touch the store.
type Deps struct {
	Runner      GroupRunner
	Poller      Drainer
	Ledger      ledger.Ledger
	Checkpoints Checkpoints
	Locker      Locker
	Logger      *logrus.Logger
}

// Options control a single run
type Options struct {
	// StoreURI is recorded in the ledger and names the lock
	StoreURI string
	// Resume skips groups a previous run of the same plan fingerprint completed
	Resume bool
	// DryRun logs every step without submitting or draining
	DryRun bool
}

// Orchestrator drives an expanded plan: groups in order, optional drains
// after groups, then the final drain. There is exactly one caller per store:
// groups and drains never overlap.
type Orchestrator struct {
	deps  Deps
	now   func() time.Time
	newID func() string
}

// New creates an orchestrator
func New(deps Deps) *Orchestrator {
	if deps.Ledger == nil {
		deps.Ledger = ledger.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		deps:  deps,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// GroupOutcome is what happened to one step
type GroupOutcome struct {
	Name    string
	Status  string // ledger group status
	Result  batch.ExecutionResult
	Skipped bool
}

// DrainOutcome is one completed drain cycle
type DrainOutcome struct {
	AfterGroup string // empty for the final drain
	Report     poller.Report
}

// Summary is the outcome of a run
type Summary struct {
	RunID       string
	Plan        string
	Fingerprint string
	Status      string
	Groups      []GroupOutcome
	Drains      []DrainOutcome
	Elapsed     time.Duration
	Err         error // the error that stopped the run, if any
}

// Rejected returns the number of groups with rejected operations
func (s *Summary) Rejected() int {
	n := 0
	for _, g := range s.Groups {
		if g.Status == ledger.GroupRejected {
			n++
		}
	}
	return n
}

// TimedOut returns the number of drains that gave up
func (s *Summary) TimedOut() int {
	n := 0
	for _, d := range s.Drains {
		if d.Report.Outcome == poller.TimedOut {
			n++
		}
	}
	return n
}

// Run executes exp. The returned error is non-nil when the run stopped early:
// the store was unavailable, a chunked submission broke off, a group with
// on_error: abort was rejected, or ctx was cancelled. Rejections in other
// groups and timed-out drains are logged and recorded, and the run goes on.
func (o *Orchestrator) Run(ctx context.Context, exp *plan.Expanded, opts Options) (*Summary, error) {
	if !opts.DryRun && (o.deps.Runner == nil || o.deps.Poller == nil) {
		return nil, apperrors.ConfigErrorf("orchestrator needs a runner and a poller to touch the store")
	}

	started := o.now()
	summary := &Summary{
		RunID:       o.newID(),
		Plan:        exp.Plan.Name,
		Fingerprint: exp.Fingerprint,
	}

	if o.deps.Locker != nil && !opts.DryRun {
		lease, err := o.deps.Locker.Acquire(ctx, opts.StoreURI)
		if errors.Is(err, lock.ErrHeld) {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeConfig, apperrors.SeverityCritical,
				fmt.Sprintf("another run holds the lock for %s", opts.StoreURI))
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeConnection, apperrors.SeverityCritical,
				fmt.Sprintf("could not reach the run lock for %s", opts.StoreURI))
		}
		stop := lease.KeepAlive(ctx)
		defer func() {
			stop()
			if err := lease.Release(context.Background()); err != nil {
				o.deps.Logger.WithError(err).Warn("Failed to release run lock")
			}
		}()
	}

	run := &ledger.Run{
		ID:          summary.RunID,
		Plan:        summary.Plan,
		Fingerprint: summary.Fingerprint,
		StoreURI:    opts.StoreURI,
		DryRun:      opts.DryRun,
		StartedAt:   started,
	}
	if err := o.deps.Ledger.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}

	completed := o.resumePoint(exp, opts)

	o.deps.Logger.WithFields(logrus.Fields{
		"run_id":      summary.RunID,
		"plan":        summary.Plan,
		"fingerprint": summary.Fingerprint,
		"groups":      len(exp.Steps),
		"operations":  exp.Operations(),
		"dry_run":     opts.DryRun,
		"resume":      len(completed.Completed) > 0,
	}).Info("Starting run")

	var (
		fatal     error
		cancelled bool
		hadErrors bool
	)

	for i, step := range exp.Steps {
		name := step.Group.Name()

		if ctx.Err() != nil {
			cancelled = true
			break
		}

		if completed.Done(name) || opts.DryRun {
			o.skipGroup(ctx, summary, i, step, completed.RunID, opts.DryRun)
			continue
		}

		outcome := o.runGroup(ctx, summary, i, step)
		err := outcome.Result.Err

		switch {
		case err == nil:
			o.checkpoint(exp, summary.RunID, name)
		case ctx.Err() != nil:
			cancelled = true
		case apperrors.Is(err, apperrors.ErrStatementRejected):
			hadErrors = true
			if step.OnError == plan.OnErrorAbort {
				fatal = err
			}
		default:
			// StoreUnavailable or PartialFailure
			fatal = err
		}
		if fatal != nil || cancelled {
			break
		}

		if step.Drain != nil {
			report := o.drain(ctx, summary, name, step.Drain)
			switch report.Outcome {
			case poller.TimedOut:
				hadErrors = true
			case poller.Cancelled:
				cancelled = true
			}
			if cancelled {
				break
			}
		}
	}

	if fatal == nil && !cancelled && exp.FinalDrain != nil {
		if opts.DryRun {
			o.deps.Logger.WithFields(logrus.Fields{
				"query":    exp.FinalDrain.Query.Name,
				"interval": exp.FinalDrain.Interval,
				"max_wait": exp.FinalDrain.MaxWait,
			}).Info("Would wait for background jobs")
		} else {
			report := o.drain(ctx, summary, "", exp.FinalDrain)
			switch report.Outcome {
			case poller.TimedOut:
				hadErrors = true
			case poller.Cancelled:
				cancelled = true
			}
		}
	}

	switch {
	case fatal != nil:
		summary.Status = ledger.StatusFailed
		summary.Err = fatal
	case cancelled:
		summary.Status = ledger.StatusCancelled
		summary.Err = fmt.Errorf("run cancelled: %w", context.Cause(ctx))
	case hadErrors:
		summary.Status = ledger.StatusCompletedWithErrors
	default:
		summary.Status = ledger.StatusSucceeded
	}
	summary.Elapsed = o.now().Sub(started)

	if !opts.DryRun && (summary.Status == ledger.StatusSucceeded || summary.Status == ledger.StatusCompletedWithErrors) {
		o.clearCheckpoint(exp)
	}

	errMsg := ""
	if summary.Err != nil {
		errMsg = summary.Err.Error()
	}
	// The run may have been cancelled; history is written regardless
	if err := o.deps.Ledger.FinishRun(context.Background(), summary.RunID, summary.Status, errMsg, o.now()); err != nil {
		o.deps.Logger.WithError(err).Warn("Failed to record run result")
	}

	o.logSummary(summary)
	return summary, summary.Err
}

// resumePoint returns the groups to skip. Without --resume any stale state for
// the fingerprint is dropped so the next --resume starts from this run.
func (o *Orchestrator) resumePoint(exp *plan.Expanded, opts Options) checkpoint.State {
	if o.deps.Checkpoints == nil || opts.DryRun {
		return checkpoint.State{}
	}

	if !opts.Resume {
		if err := o.deps.Checkpoints.Clear(exp.Fingerprint); err != nil {
			o.deps.Logger.WithError(err).Warn("Failed to clear stale checkpoint")
		}
		return checkpoint.State{}
	}

	state, ok, err := o.deps.Checkpoints.Load(exp.Fingerprint)
	if err != nil {
		o.deps.Logger.WithError(err).Warn("Failed to load checkpoint, running every group")
		return checkpoint.State{}
	}
	if !ok {
		o.deps.Logger.WithField("fingerprint", exp.Fingerprint).Info("No checkpoint for this plan, running every group")
		return checkpoint.State{}
	}

	o.deps.Logger.WithFields(logrus.Fields{
		"previous_run": state.RunID,
		"completed":    len(state.Completed),
	}).Info("Resuming from checkpoint")
	return state
}

func (o *Orchestrator) runGroup(ctx context.Context, summary *Summary, position int, step plan.Step) GroupOutcome {
	name := step.Group.Name()
	o.deps.Logger.WithFields(logrus.Fields{
		"group":      name,
		"position":   position + 1,
		"operations": step.Group.Len(),
		"retryable":  step.Group.Retryable(),
	}).Info("Running group")

	result := o.deps.Runner.Submit(ctx, step.Group)
	outcome := GroupOutcome{
		Name:   name,
		Status: groupStatus(result.Err),
		Result: result,
	}
	summary.Groups = append(summary.Groups, outcome)

	entry := o.deps.Logger.WithFields(logrus.Fields{
		"group":    name,
		"applied":  result.Applied(),
		"chunks":   result.Chunks,
		"attempts": result.Attempts,
		"run_time": result.Elapsed.Round(time.Millisecond).String(),
	})
	switch {
	case result.Err == nil:
		entry.Info("Group completed")
	case outcome.Status == ledger.GroupRejected && step.OnError != plan.OnErrorAbort:
		entry.WithError(result.Err).Warn("Group had rejected operations, continuing")
	default:
		entry.WithError(result.Err).Error("Group failed")
	}

	rec := groupRecord(summary.RunID, position, step, result, o.now())
	if err := o.deps.Ledger.RecordGroup(context.Background(), rec); err != nil {
		o.deps.Logger.WithError(err).WithField("group", name).Warn("Failed to record group result")
	}
	if recs := rejections(summary.RunID, name, result, o.now()); len(recs) > 0 {
		if err := o.deps.Ledger.RecordRejections(context.Background(), recs); err != nil {
			o.deps.Logger.WithError(err).WithField("group", name).Warn("Failed to record rejected statements")
		}
	}
	return outcome
}

func (o *Orchestrator) skipGroup(ctx context.Context, summary *Summary, position int, step plan.Step, previousRun string, dryRun bool) {
	name := step.Group.Name()
	fields := logrus.Fields{
		"group":      name,
		"position":   position + 1,
		"operations": step.Group.Len(),
	}
	if dryRun {
		if step.Drain != nil {
			fields["drain"] = step.Drain.Query.Name
		}
		for i, op := range step.Group.Operations() {
			o.deps.Logger.WithFields(logrus.Fields{"group": name, "statement": op.Label(i)}).Debug(op.Cypher)
		}
		o.deps.Logger.WithFields(fields).Info("Would run group")
	} else {
		fields["previous_run"] = previousRun
		o.deps.Logger.WithFields(fields).Info("Skipping group completed by an earlier run")
	}

	summary.Groups = append(summary.Groups, GroupOutcome{Name: name, Status: ledger.GroupSkipped, Skipped: true})

	rec := &ledger.GroupRecord{
		RunID:      summary.RunID,
		Position:   position + 1,
		Name:       name,
		Operations: step.Group.Len(),
		Status:     ledger.GroupSkipped,
		FinishedAt: o.now(),
	}
	if err := o.deps.Ledger.RecordGroup(ctx, rec); err != nil {
		o.deps.Logger.WithError(err).WithField("group", name).Warn("Failed to record skipped group")
	}
}

func (o *Orchestrator) drain(ctx context.Context, summary *Summary, afterGroup string, d *plan.Drain) poller.Report {
	o.deps.Logger.WithFields(logrus.Fields{
		"query":       d.Query.Name,
		"after_group": afterGroup,
		"interval":    d.Interval.String(),
		"max_wait":    d.MaxWait.String(),
		"threshold":   d.Query.Threshold,
	}).Info("Waiting for background jobs")

	report := o.deps.Poller.Drain(ctx, d.Query, d.Interval, d.MaxWait)
	summary.Drains = append(summary.Drains, DrainOutcome{AfterGroup: afterGroup, Report: report})

	entry := o.deps.Logger.WithFields(logrus.Fields{
		"query":    d.Query.Name,
		"outcome":  report.Outcome.String(),
		"attempts": report.Attempts,
		"elapsed":  report.Elapsed.String(),
	})
	if report.Outcome == poller.TimedOut {
		entry.WithError(report.Err()).Warn("Background jobs still running, continuing")
	} else {
		entry.Info("Background jobs finished")
	}

	if err := o.deps.Ledger.RecordDrain(context.Background(), drainRecord(summary.RunID, afterGroup, report, o.now())); err != nil {
		o.deps.Logger.WithError(err).WithField("query", d.Query.Name).Warn("Failed to record drain result")
	}
	return report
}

func (o *Orchestrator) checkpoint(exp *plan.Expanded, runID, group string) {
	if o.deps.Checkpoints == nil {
		return
	}
	if err := o.deps.Checkpoints.MarkCompleted(exp.Fingerprint, exp.Plan.Name, runID, group); err != nil {
		o.deps.Logger.WithError(err).WithField("group", group).Warn("Failed to checkpoint group")
	}
}

func (o *Orchestrator) clearCheckpoint(exp *plan.Expanded) {
	if o.deps.Checkpoints == nil {
		return
	}
	if err := o.deps.Checkpoints.Clear(exp.Fingerprint); err != nil {
		o.deps.Logger.WithError(err).Warn("Failed to clear checkpoint")
	}
}

func (o *Orchestrator) logSummary(s *Summary) {
	if o.deps.Runner != nil {
		for _, stats := range o.deps.Runner.Timings().All() {
			o.deps.Logger.WithFields(logrus.Fields{
				"group":      stats.Group,
				"executions": stats.Executions,
				"failures":   stats.Failures,
				"run_time":   stats.LastDuration.Round(time.Millisecond).String(),
			}).Debug("Group timing")
		}
	}

	entry := o.deps.Logger.WithFields(logrus.Fields{
		"run_id":    s.RunID,
		"status":    s.Status,
		"groups":    len(s.Groups),
		"rejected":  s.Rejected(),
		"drains":    len(s.Drains),
		"timed_out": s.TimedOut(),
		"duration":  s.Elapsed.Round(time.Second).String(),
	})
	if s.Err != nil {
		entry.WithError(s.Err).Error("Run stopped")
		return
	}
	entry.Info("Run finished")
}

// Drain runs a standalone drain cycle and records it as its own ledger run
func (o *Orchestrator) Drain(ctx context.Context, d plan.Drain, storeURI string) (poller.Report, error) {
	if o.deps.Poller == nil {
		return poller.Report{}, apperrors.ConfigErrorf("orchestrator needs a poller to drain")
	}

	summary := &Summary{RunID: o.newID(), Plan: "drain:" + d.Query.Name}
	started := o.now()
	run := &ledger.Run{
		ID:        summary.RunID,
		Plan:      summary.Plan,
		StoreURI:  storeURI,
		StartedAt: started,
	}
	if err := o.deps.Ledger.StartRun(ctx, run); err != nil {
		return poller.Report{}, fmt.Errorf("failed to record run start: %w", err)
	}

	report := o.drain(ctx, summary, "", &d)

	status := ledger.StatusSucceeded
	var err error
	switch report.Outcome {
	case poller.TimedOut:
		status = ledger.StatusCompletedWithErrors
	case poller.Cancelled:
		status = ledger.StatusCancelled
		err = fmt.Errorf("drain cancelled: %w", context.Cause(ctx))
	}

	errMsg := ""
	if rerr := report.Err(); rerr != nil {
		errMsg = rerr.Error()
	} else if err != nil {
		errMsg = err.Error()
	}
	if ferr := o.deps.Ledger.FinishRun(context.Background(), summary.RunID, status, errMsg, o.now()); ferr != nil {
		o.deps.Logger.WithError(ferr).Warn("Failed to record run result")
	}
	return report, err
}
