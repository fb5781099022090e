package graph

import "fmt"

// Statement is one opaque store operation: Cypher text plus bound parameters.
// Row data always travels in Params, never spliced into Cypher.
type Statement struct {
	Name   string         `yaml:"name"`
	Cypher string         `yaml:"cypher"`
	Params map[string]any `yaml:"params,omitempty"`
}

// StatementResult is the per-statement outcome of a submission
type StatementResult struct {
	Statement string
	Rows      [][]any
	Err       error // classified, see Classify
}

// Failed reports whether the store rejected the statement
func (r StatementResult) Failed() bool {
	return r.Err != nil
}

// Label returns the statement name, or a positional fallback for unnamed statements
func (s Statement) Label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("statement-%d", index+1)
}

// Clone returns a copy whose Params map can be mutated independently
func (s Statement) Clone() Statement {
	out := Statement{Name: s.Name, Cypher: s.Cypher}
	if s.Params != nil {
		out.Params = make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			out.Params[k] = v
		}
	}
	return out
}
