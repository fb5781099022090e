package batch

import (
	"time"

	"github.com/vfbgraph/graphmaint/internal/graph"
)

// MutationGroup is a named, ordered batch of idempotent operations submitted as
// one unit of work. It is immutable: the constructor and accessors copy.
type MutationGroup struct {
	name      string
	ops       []graph.Statement
	retryable bool
}

// GroupOption configures a MutationGroup at construction
type GroupOption func(*MutationGroup)

// WithRetry marks the group idempotent-safe for automatic resubmission after
// connection failures
func WithRetry() GroupOption {
	return func(g *MutationGroup) {
		g.retryable = true
	}
}

// NewMutationGroup creates a group from ops. Every op must be safe to re-execute.
func NewMutationGroup(name string, ops []graph.Statement, opts ...GroupOption) MutationGroup {
	g := MutationGroup{
		name: name,
		ops:  cloneStatements(ops),
	}
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

// Name returns the human-readable group name used in logs and the ledger
func (g MutationGroup) Name() string { return g.name }

// Len returns the number of operations
func (g MutationGroup) Len() int { return len(g.ops) }

// Retryable reports whether the group may be resubmitted automatically
func (g MutationGroup) Retryable() bool { return g.retryable }

// Operations returns a copy of the group's operations
func (g MutationGroup) Operations() []graph.Statement {
	return cloneStatements(g.ops)
}

func cloneStatements(ops []graph.Statement) []graph.Statement {
	out := make([]graph.Statement, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

// ExecutionResult is the outcome of submitting a MutationGroup
type ExecutionResult struct {
	Group    string
	Results  []graph.StatementResult // one per operation that reached the store, in order
	Chunks   int                     // chunk submissions issued on the final attempt
	Attempts int
	Elapsed  time.Duration // wall clock across all attempts
	Err      error         // nil, StatementRejected, StoreUnavailable or PartialFailure
}

// Succeeded reports whether every operation was applied
func (r ExecutionResult) Succeeded() bool {
	return r.Err == nil
}

// Applied returns the number of operations the store accepted
func (r ExecutionResult) Applied() int {
	n := 0
	for _, res := range r.Results {
		if !res.Failed() {
			n++
		}
	}
	return n
}

// Rejected returns the results of operations the store rejected
func (r ExecutionResult) Rejected() []graph.StatementResult {
	var out []graph.StatementResult
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Rows returns the rows of every applied operation, in submission order
func (r ExecutionResult) Rows() [][]any {
	var rows [][]any
	for _, res := range r.Results {
		rows = append(rows, res.Rows...)
	}
	return rows
}
