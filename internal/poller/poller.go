package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/graph"
)

// Querier runs a read-only introspection statement against the store
type Querier interface {
	Query(ctx context.Context, stmt graph.Statement) ([][]any, error)
}

// Clock abstracts time for the poll loop
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Phase is a drain cycle state. Drained, TimedOut and Cancelled are terminal.
type Phase int

const (
	Idle Phase = iota
	Polling
	Drained
	TimedOut
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Drained:
		return "drained"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a drain cycle
func (p Phase) Terminal() bool {
	return p == Drained || p == TimedOut || p == Cancelled
}

// PollState lives for one drain cycle. Elapsed never decreases.
type PollState struct {
	Query     string
	Interval  time.Duration
	MaxWait   time.Duration
	Elapsed   time.Duration
	Phase     Phase
	Attempts  int
	LastCount int // -1 until an introspection call succeeds
	LastErr   error
}

// Running reports whether the last attempt left jobs outstanding
func (s PollState) Running() bool {
	return s.Phase == Polling
}

// Report is the outcome of a drain cycle
type Report struct {
	PollState
	Outcome          Phase
	Threshold        int
	ConnectionErrors int
	RejectedErrors   int
	StartedAt        time.Time
}

// Err returns TimeoutExceeded for a timed-out drain and nil otherwise.
// It is informational: a timeout never stops the caller's flow by itself.
func (r Report) Err() error {
	if r.Outcome != TimedOut {
		return nil
	}
	err := apperrors.TimeoutExceededf("job query %q still reported running after %s (%d attempts)",
		r.Query, r.Elapsed, r.Attempts)
	if r.LastErr != nil {
		err.Cause = r.LastErr
	}
	return err
}

// Options configure a Poller
type Options struct {
	// AbortOnRejected ends the drain as TimedOut on the first rejected
	// introspection query instead of waiting out maxWait.
	AbortOnRejected bool
	// Clock defaults to the wall clock
	Clock Clock
	// OnAttempt is called after every introspection attempt
	OnAttempt func(PollState)
}

// Poller waits for background store jobs to finish. It only observes: no
// store-side job is ever cancelled, even when the wait gives up.
type Poller struct {
	store  Querier
	opts   Options
	clock  Clock
	logger *slog.Logger
}

// New creates a poller over store
func New(store Querier, opts Options) *Poller {
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Poller{
		store:  store,
		opts:   opts,
		clock:  clock,
		logger: slog.Default().With("component", "poller"),
	}
}

// Drain polls query until its count is at or below the query's threshold, or
// maxWait has elapsed.
//
// Every attempt that finds jobs running, or fails, is followed by one sleep of
// interval; elapsed is then read from the clock. Attempts continue while
// elapsed < maxWait, and the first attempt always happens. A query that never
// drains is therefore issued exactly ceil(maxWait/interval) times. Counts
// [3,2,1,0] with threshold 0 give four attempts and three sleeps.
//
// Introspection failures count as still running and are never returned.
// Cancelling ctx ends the cycle as Cancelled.
func (p *Poller) Drain(ctx context.Context, query JobQuery, interval, maxWait time.Duration) Report {
	if interval <= 0 {
		interval = time.Second
	}

	start := p.clock.Now()
	report := Report{
		PollState: PollState{
			Query:     query.Name,
			Interval:  interval,
			MaxWait:   maxWait,
			Phase:     Idle,
			LastCount: -1,
		},
		Threshold: query.Threshold,
		StartedAt: start,
	}

	p.logger.Info("draining background jobs",
		"query", query.Name,
		"threshold", query.Threshold,
		"interval_seconds", interval.Seconds(),
		"max_wait_seconds", maxWait.Seconds())

	report.Phase = Polling
	for report.Attempts == 0 || report.Elapsed < maxWait {
		if ctx.Err() != nil {
			return p.finish(report, Cancelled)
		}

		report.Attempts++
		count, err := p.count(ctx, query)
		if err != nil {
			report.LastErr = err
			if ctx.Err() != nil {
				return p.finish(report, Cancelled)
			}
			rejected := p.recordFailure(&report, err)
			p.notify(report.PollState)
			if rejected && p.opts.AbortOnRejected {
				return p.finish(report, TimedOut)
			}
		} else {
			report.LastCount = count
			report.LastErr = nil
			if count <= query.Threshold {
				p.notify(report.PollState)
				return p.finish(report, Drained)
			}
			p.logger.Info("background jobs still running",
				"query", query.Name,
				"running", count,
				"attempt", report.Attempts,
				"elapsed_seconds", report.Elapsed.Seconds())
			p.notify(report.PollState)
		}

		if err := p.clock.Sleep(ctx, interval); err != nil {
			p.advance(&report, start)
			return p.finish(report, Cancelled)
		}
		p.advance(&report, start)
	}

	return p.finish(report, TimedOut)
}

// advance moves elapsed forward from the clock, never backwards
func (p *Poller) advance(report *Report, start time.Time) {
	if elapsed := p.clock.Now().Sub(start); elapsed > report.Elapsed {
		report.Elapsed = elapsed
	}
}

// recordFailure classifies an introspection error and reports whether the
// store rejected the query itself
func (p *Poller) recordFailure(report *Report, err error) bool {
	if apperrors.Is(err, apperrors.ErrIntrospection) || graph.Classify(err) == apperrors.ErrorTypeStatement {
		report.RejectedErrors++
		p.logger.Error("job query rejected, assuming jobs still running",
			"query", report.Query,
			"attempt", report.Attempts,
			"error", err)
		return true
	}

	report.ConnectionErrors++
	p.logger.Warn("job query failed, assuming jobs still running",
		"query", report.Query,
		"attempt", report.Attempts,
		"error", err)
	return false
}

func (p *Poller) count(ctx context.Context, query JobQuery) (int, error) {
	rows, err := p.store.Query(ctx, query.Statement)
	if err != nil {
		return 0, err
	}
	count, err := countFromRows(rows)
	if err != nil {
		return 0, apperrors.IntrospectionError(err, fmt.Sprintf("job query %q", query.Name))
	}
	return count, nil
}

func (p *Poller) finish(report Report, outcome Phase) Report {
	report.Phase = outcome
	report.Outcome = outcome

	switch outcome {
	case Drained:
		p.logger.Info("background jobs drained",
			"query", report.Query,
			"attempts", report.Attempts,
			"elapsed_seconds", report.Elapsed.Seconds())
	case TimedOut:
		p.logger.Warn("stopped waiting for background jobs",
			"query", report.Query,
			"attempts", report.Attempts,
			"last_count", report.LastCount,
			"connection_errors", report.ConnectionErrors,
			"rejected_errors", report.RejectedErrors,
			"elapsed_seconds", report.Elapsed.Seconds())
	case Cancelled:
		p.logger.Warn("drain cancelled",
			"query", report.Query,
			"attempts", report.Attempts,
			"elapsed_seconds", report.Elapsed.Seconds())
	}
	return report
}

func (p *Poller) notify(state PollState) {
	if p.opts.OnAttempt != nil {
		p.opts.OnAttempt(state)
	}
}

// countFromRows reads the running count from row[0]. An empty or non-numeric
// result is an error, which the caller treats as still running.
func countFromRows(rows [][]any) (int, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, fmt.Errorf("job query returned no count")
	}

	switch v := rows[0][0].(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("job query returned %T, want an integer count", v)
	}
}
