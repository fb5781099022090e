package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) Ledger {
	t.Helper()
	l, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func exerciseLedger(t *testing.T, l Ledger) {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Millisecond)

	run := &Run{
		ID:          uuid.NewString(),
		Plan:        "final-step",
		Fingerprint: "abc123",
		StoreURI:    "bolt://localhost:7687",
		StartedAt:   started,
	}
	require.NoError(t, l.StartRun(ctx, run))
	assert.Equal(t, StatusRunning, run.Status)

	require.NoError(t, l.RecordGroup(ctx, &GroupRecord{
		RunID: run.ID, Position: 1, Name: "Fix RO id edge types",
		Operations: 6, Applied: 6, Chunks: 1, Attempts: 1, DurationMS: 1200,
		Status: GroupSucceeded, FinishedAt: started.Add(time.Second),
	}))
	require.NoError(t, l.RecordGroup(ctx, &GroupRecord{
		RunID: run.ID, Position: 2, Name: "Clean NBLAST",
		Operations: 5, Applied: 4, Rejected: 1, Chunks: 1, Attempts: 1, DurationMS: 300,
		Status: GroupRejected, Error: "1 of 5 operations rejected", FinishedAt: started.Add(2 * time.Second),
	}))
	require.NoError(t, l.RecordRejections(ctx, []Rejection{{
		RunID: run.ID, Group: "Clean NBLAST", Statement: "Clean NBLAST #3",
		Error: "Invalid input 'MATC'", RecordedAt: started.Add(2 * time.Second),
	}}))
	require.NoError(t, l.RecordRejections(ctx, nil))
	require.NoError(t, l.RecordDrain(ctx, &DrainRecord{
		RunID: run.ID, Query: "periodic-commit", Outcome: "drained",
		Attempts: 3, ElapsedMS: 3_600_000, LastCount: 0, FinishedAt: started.Add(time.Hour),
	}))

	finished := started.Add(time.Hour + time.Minute)
	require.NoError(t, l.FinishRun(ctx, run.ID, StatusCompletedWithErrors, "", finished))

	got, err := l.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "final-step", got.Plan)
	assert.Equal(t, StatusCompletedWithErrors, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.WithinDuration(t, finished, *got.FinishedAt, time.Second)
	assert.InDelta(t, (time.Hour + time.Minute).Seconds(), got.Duration().Seconds(), 1)

	groups, err := l.Groups(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Fix RO id edge types", groups[0].Name)
	assert.Equal(t, GroupRejected, groups[1].Status)
	assert.Equal(t, 1, groups[1].Rejected)
	assert.NotZero(t, groups[0].ID)

	drains, err := l.Drains(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, drains, 1)
	assert.Equal(t, "drained", drains[0].Outcome)
	assert.Equal(t, int64(3_600_000), drains[0].ElapsedMS)
	assert.Empty(t, drains[0].AfterGroup)

	rejections, err := l.Rejections(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, "Clean NBLAST #3", rejections[0].Statement)
	assert.Equal(t, "Clean NBLAST", rejections[0].Group)

	recent, err := l.Rejections(ctx, "", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, recent)

	_, err = l.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, l.FinishRun(ctx, "missing", StatusFailed, "x", finished), ErrNotFound)
}

func TestSQLiteLedger(t *testing.T) {
	exerciseLedger(t, openSQLite(t))
}

func TestListRunsNewestFirst(t *testing.T) {
	l := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, plan := range []string{"first", "second", "third"} {
		require.NoError(t, l.StartRun(ctx, &Run{
			ID: uuid.NewString(), Plan: plan, Fingerprint: "f",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := l.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].Plan)
	assert.Equal(t, "second", runs[1].Plan)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Zero(t, runs[0].Duration())
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.StartRun(ctx, &Run{ID: "run-1", Plan: "p", Fingerprint: "f", StartedAt: time.Now(), DryRun: true}))
	require.NoError(t, l.Close())

	l, err = NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer l.Close()

	run, err := l.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.DryRun)
}

func TestOpen(t *testing.T) {
	l, err := Open("none", "", nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, l)

	l, err = Open("sqlite", filepath.Join(t.TempDir(), "l.db"), nil)
	require.NoError(t, err)
	assert.NoError(t, l.Close())

	_, err = Open("mongo", "", nil)
	assert.Error(t, err)
}

func TestPostgresLedger(t *testing.T) {
	dsn := os.Getenv("GRAPHMAINT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GRAPHMAINT_TEST_POSTGRES_DSN not set")
	}

	l, err := NewPostgresStore(dsn, nil)
	require.NoError(t, err)
	defer l.Close()

	exerciseLedger(t, l)
}
