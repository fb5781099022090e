package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1m5s", formatDuration(65*time.Second+300*time.Millisecond))
	assert.Equal(t, "2h30m0s", formatDuration(2*time.Hour+30*time.Minute+20*time.Second))
}

func TestOneLineAndShortID(t *testing.T) {
	assert.Equal(t, "MATCH (n) SET n.x = 1", oneLine("MATCH (n)\n\t  SET n.x = 1\n"))
	assert.Equal(t, "abcdef012345", shortID("abcdef0123456789"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestResolveJobQuery(t *testing.T) {
	t.Cleanup(func() { drainPlan, drainQuery = "", "periodic-commit" })

	drainPlan, drainQuery = "", "periodic-commit"
	q, err := resolveJobQuery()
	require.NoError(t, err)
	assert.Equal(t, "periodic-commit", q.Name)
	assert.Zero(t, q.Threshold)

	drainQuery = "nope"
	_, err = resolveJobQuery()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: custom
job_queries:
  - name: loader-jobs
    threshold: 1
    statement:
      cypher: "CALL dbms.listQueries() YIELD query RETURN count(*)"
groups:
  - name: only
    statements:
      - cypher: "RETURN 1"
`), 0644))

	drainPlan, drainQuery = path, "loader-jobs"
	q, err = resolveJobQuery()
	require.NoError(t, err)
	assert.Equal(t, 1, q.Threshold)
	assert.Equal(t, "loader-jobs", q.Statement.Name)

	drainQuery = "periodic-iterate"
	q, err = resolveJobQuery()
	require.NoError(t, err)
	assert.Equal(t, "periodic-iterate", q.Name, "built-ins stay reachable through a plan")
}
