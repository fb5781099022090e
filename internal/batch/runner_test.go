package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/graph"
)

// fakeStore records applied statements as a set, which models a store
// receiving idempotent operations.
type fakeStore struct {
	calls      [][]graph.Statement
	state      map[string]struct{}
	reject     map[string]bool
	failOnCall map[int]error // connection error raised on the given call
	failAfter  int           // statements applied in the failing call before the error
	onCall     func(call int)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		state:      make(map[string]struct{}),
		reject:     make(map[string]bool),
		failOnCall: make(map[int]error),
	}
}

func (f *fakeStore) Submit(_ context.Context, _ string, stmts []graph.Statement) ([]graph.StatementResult, error) {
	call := len(f.calls)
	f.calls = append(f.calls, stmts)
	if f.onCall != nil {
		f.onCall(call)
	}

	results := make([]graph.StatementResult, 0, len(stmts))
	for i, s := range stmts {
		if err, ok := f.failOnCall[call]; ok && i >= f.failAfter {
			return results, err
		}
		if f.reject[s.Name] {
			results = append(results, graph.StatementResult{
				Statement: s.Name,
				Err:       apperrors.StatementRejectedf(errors.New("Neo.ClientError.Statement.SyntaxError"), "statement %q", s.Name),
			})
			continue
		}
		f.state[fmt.Sprintf("%s|%v", s.Cypher, s.Params)] = struct{}{}
		results = append(results, graph.StatementResult{Statement: s.Name, Rows: [][]any{{int64(1)}}})
	}
	return results, nil
}

func (f *fakeStore) snapshot() []string {
	out := make([]string, 0, len(f.state))
	for k := range f.state {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newTestRunner(store Submitter, opts Options) *Runner {
	r := NewRunner(store, opts)
	r.wait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func statements(n int) []graph.Statement {
	ops := make([]graph.Statement, n)
	for i := range ops {
		ops[i] = graph.Statement{
			Name:   fmt.Sprintf("op-%d", i),
			Cypher: "MERGE (n:Item {id: $id}) SET n.flag = true",
			Params: map[string]any{"id": i},
		}
	}
	return ops
}

func TestSubmitIsIdempotent(t *testing.T) {
	store := newFakeStore()
	runner := newTestRunner(store, Options{ChunkLength: 2})
	group := NewMutationGroup("flag items", statements(5))

	first := runner.Submit(context.Background(), group)
	require.NoError(t, first.Err)
	once := store.snapshot()

	second := runner.Submit(context.Background(), group)
	require.NoError(t, second.Err)

	assert.Equal(t, once, store.snapshot())
	assert.Len(t, once, 5)
}

func TestSubmitChunksOperations(t *testing.T) {
	store := newFakeStore()
	runner := newTestRunner(store, Options{ChunkLength: 2000})

	result := runner.Submit(context.Background(), NewMutationGroup("bulk", statements(4500)))
	require.NoError(t, result.Err)

	require.Len(t, store.calls, 3)
	assert.Len(t, store.calls[0], 2000)
	assert.Len(t, store.calls[1], 2000)
	assert.Len(t, store.calls[2], 500)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, 4500, result.Applied())
	assert.Equal(t, 1, result.Attempts)
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		ops   int
		size  int
		sizes []int
	}{
		{"empty", 0, 10, nil},
		{"exact fit", 4, 2, []int{2, 2}},
		{"remainder", 5, 2, []int{2, 2, 1}},
		{"single chunk", 3, 10, []int{3}},
		{"unbounded", 7, 0, []int{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(statements(tt.ops), tt.size)
			var sizes []int
			for _, c := range chunks {
				sizes = append(sizes, len(c))
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestSubmitReportsRejectedStatements(t *testing.T) {
	store := newFakeStore()
	store.reject["op-1"] = true
	runner := newTestRunner(store, Options{ChunkLength: 2, RetryAttempts: 3})

	result := runner.Submit(context.Background(), NewMutationGroup("fix labels", statements(4), WithRetry()))

	require.Error(t, result.Err)
	assert.True(t, apperrors.Is(result.Err, apperrors.ErrStatementRejected))
	assert.False(t, result.Succeeded())
	assert.Equal(t, 3, result.Applied())
	require.Len(t, result.Rejected(), 1)
	assert.Equal(t, "op-1", result.Rejected()[0].Statement)
	assert.Equal(t, 2, result.Chunks, "remaining chunks still run after a rejection")
	assert.Equal(t, 1, result.Attempts, "rejections are never retried")
}

func TestSubmitStoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.failOnCall[0] = errors.New("dial tcp 10.0.0.1:7687: connection refused")
	runner := newTestRunner(store, Options{ChunkLength: 2})

	result := runner.Submit(context.Background(), NewMutationGroup("unreachable", statements(4)))

	assert.True(t, apperrors.Is(result.Err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, 0, result.Applied())
	assert.Len(t, store.calls, 1)
}

func TestSubmitPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.failOnCall[1] = errors.New("connection reset by peer")
	store.failAfter = 1
	runner := newTestRunner(store, Options{ChunkLength: 2})

	result := runner.Submit(context.Background(), NewMutationGroup("half done", statements(6)))

	assert.True(t, apperrors.Is(result.Err, apperrors.ErrPartialFailure))
	assert.Equal(t, 3, result.Applied())
	assert.Equal(t, 2, result.Chunks)
}

func TestSubmitRetriesRetryableGroups(t *testing.T) {
	store := newFakeStore()
	store.failOnCall[0] = errors.New("connection refused")
	runner := newTestRunner(store, Options{ChunkLength: 10, RetryAttempts: 2})

	result := runner.Submit(context.Background(), NewMutationGroup("retry me", statements(3), WithRetry()))

	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 3, result.Applied())
}

func TestSubmitDoesNotRetryUnmarkedGroups(t *testing.T) {
	store := newFakeStore()
	store.failOnCall[0] = errors.New("connection refused")
	runner := newTestRunner(store, Options{ChunkLength: 10, RetryAttempts: 2})

	result := runner.Submit(context.Background(), NewMutationGroup("no retry", statements(3)))

	assert.True(t, apperrors.Is(result.Err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, 1, result.Attempts)
}

func TestSubmitStopsAfterRetryAttempts(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 10; i++ {
		store.failOnCall[i] = errors.New("connection refused")
	}
	runner := newTestRunner(store, Options{ChunkLength: 10, RetryAttempts: 2})

	result := runner.Submit(context.Background(), NewMutationGroup("down", statements(1), WithRetry()))

	assert.True(t, apperrors.Is(result.Err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, store.calls, 3)
}

func TestSubmitEmptyGroup(t *testing.T) {
	store := newFakeStore()
	runner := newTestRunner(store, DefaultOptions())

	result := runner.Submit(context.Background(), NewMutationGroup("nothing", nil))

	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Chunks)
	assert.Empty(t, store.calls)
}

func TestSubmitRecordsTimings(t *testing.T) {
	store := newFakeStore()
	store.reject["op-0"] = true
	runner := newTestRunner(store, DefaultOptions())

	runner.Submit(context.Background(), NewMutationGroup("a", statements(1)))
	runner.Submit(context.Background(), NewMutationGroup("b", statements(2)[1:]))
	runner.Submit(context.Background(), NewMutationGroup("a", statements(1)))

	all := runner.Timings().All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Group)
	assert.Equal(t, 2, all[0].Executions)
	assert.Equal(t, 2, all[0].Failures)
	assert.Equal(t, "b", all[1].Group)
	assert.Equal(t, 0, all[1].Failures)
}

func TestMutationGroupIsImmutable(t *testing.T) {
	ops := statements(2)
	group := NewMutationGroup("frozen", ops)

	ops[0].Cypher = "DETACH DELETE everything"
	ops[1].Params["id"] = 99

	got := group.Operations()
	assert.Equal(t, "MERGE (n:Item {id: $id}) SET n.flag = true", got[0].Cypher)
	assert.Equal(t, 1, got[1].Params["id"])

	got[0].Name = "mutated"
	assert.Equal(t, "op-0", group.Operations()[0].Name)
}

func TestRowsConcatenatesAppliedResults(t *testing.T) {
	result := ExecutionResult{Results: []graph.StatementResult{
		{Statement: "a", Rows: [][]any{{1}}},
		{Statement: "b", Err: errors.New("x")},
		{Statement: "c", Rows: [][]any{{2}, {3}}},
	}}
	assert.Equal(t, [][]any{{1}, {2}, {3}}, result.Rows())
}

func TestSubmitPacesChunks(t *testing.T) {
	store := newFakeStore()
	runner := newTestRunner(store, Options{ChunkLength: 1, ChunkRate: 20})

	start := time.Now()
	result := runner.Submit(context.Background(), NewMutationGroup("paced", statements(3)))
	elapsed := time.Since(start)

	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Chunks)
	// burst of one: the second and third chunks each wait 1/20s
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestSubmitCancelledBeforeFirstChunk(t *testing.T) {
	store := newFakeStore()
	runner := newTestRunner(store, Options{ChunkLength: 1, ChunkRate: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := runner.Submit(ctx, NewMutationGroup("cancelled", statements(2)))
	require.Error(t, result.Err)
	assert.True(t, apperrors.Is(result.Err, apperrors.ErrStoreUnavailable))
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Zero(t, result.Chunks)
	assert.Empty(t, store.calls)
}

func TestSubmitCancelledWhileWaitingForRate(t *testing.T) {
	store := newFakeStore()
	runner := newTestRunner(store, Options{ChunkLength: 1, ChunkRate: 0.5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onCall = func(int) { cancel() }

	start := time.Now()
	result := runner.Submit(ctx, NewMutationGroup("cancelled", statements(3)))

	require.Error(t, result.Err)
	assert.True(t, apperrors.Is(result.Err, apperrors.ErrPartialFailure))
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, 1, result.Applied())
	assert.Less(t, time.Since(start), time.Second, "the 2s rate wait must not be served")
}
