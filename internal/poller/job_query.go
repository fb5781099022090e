package poller

import (
	"fmt"
	"sort"

	"github.com/vfbgraph/graphmaint/internal/graph"
)

// JobQuery is a store-side introspection statement returning the number of
// running background jobs in row[0]. The store is considered drained once that
// count is at or below Threshold.
//
// Built-in queries exclude their own text from the count, so they use a
// threshold of 0. Hand-written queries that count themselves should set 1.
type JobQuery struct {
	Name      string          `yaml:"name"`
	Statement graph.Statement `yaml:"statement"`
	Threshold int             `yaml:"threshold"`
}

// Validate checks the query can be issued
func (q JobQuery) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("job query has no name")
	}
	if q.Statement.Cypher == "" {
		return fmt.Errorf("job query %q has no statement", q.Name)
	}
	if q.Threshold < 0 {
		return fmt.Errorf("job query %q: threshold must be >= 0, got %d", q.Name, q.Threshold)
	}
	return nil
}

// Markers used by the built-in job queries
const (
	MarkerPeriodicCommit  = "USING PERIODIC COMMIT"
	MarkerLoadCSV         = "LOAD CSV"
	MarkerPeriodicIterate = "apoc.periodic.iterate"
)

// ListQueriesJob counts running queries whose text contains marker, using
// dbms.listQueries (Neo4j 3.5 and 4.x). The marker is bound as a parameter
// so the monitor's own text never matches it.
func ListQueriesJob(name, marker string) JobQuery {
	return JobQuery{
		Name: name,
		Statement: graph.Statement{
			Name: name,
			Cypher: "CALL dbms.listQueries() YIELD query, status " +
				"WHERE query CONTAINS $marker AND status = 'running' " +
				"AND NOT query CONTAINS 'dbms.listQueries' " +
				"RETURN count(*) AS running",
			Params: map[string]any{"marker": marker},
		},
	}
}

// ShowTransactionsJob counts running transactions whose current query contains
// marker, using SHOW TRANSACTIONS (Neo4j 5).
func ShowTransactionsJob(name, marker string) JobQuery {
	return JobQuery{
		Name: name,
		Statement: graph.Statement{
			Name: name,
			Cypher: "SHOW TRANSACTIONS YIELD currentQuery, status " +
				"WHERE currentQuery CONTAINS $marker AND status = 'Running' " +
				"AND NOT currentQuery CONTAINS 'SHOW TRANSACTIONS' " +
				"RETURN count(*) AS running",
			Params: map[string]any{"marker": marker},
		},
	}
}

var builtins = map[string]JobQuery{
	"periodic-commit":  ListQueriesJob("periodic-commit", MarkerPeriodicCommit),
	"load-csv":         ShowTransactionsJob("load-csv", MarkerLoadCSV),
	"periodic-iterate": ShowTransactionsJob("periodic-iterate", MarkerPeriodicIterate),
}

// Builtin returns a built-in job query by name
func Builtin(name string) (JobQuery, bool) {
	q, ok := builtins[name]
	if !ok {
		return JobQuery{}, false
	}
	q.Statement = q.Statement.Clone()
	return q, true
}

// BuiltinNames returns the names of the built-in job queries, sorted
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
