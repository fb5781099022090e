package batch

import (
	"time"

	"github.com/vfbgraph/graphmaint/internal/graph"
)

// Options control how the runner submits a group
//
// ChunkLength bounds how many operations go to the store in one submission.
// Large generated groups (TSV row batches) are the usual reason to chunk;
// hand-written groups fit in a single chunk.
type Options struct {
	ChunkLength   int           // operations per submission; <= 0 means one submission
	ChunkRate     float64       // submissions per second; 0 = unlimited
	RetryAttempts int           // extra attempts for retryable groups
	RetryDelay    time.Duration // fixed delay between attempts
}

// DefaultOptions returns the runner defaults
func DefaultOptions() Options {
	return Options{
		ChunkLength:   2000,
		RetryAttempts: 2,
		RetryDelay:    30 * time.Second,
	}
}

// Chunk splits ops into consecutive slices of at most size operations.
// 4500 ops with size 2000 yield chunks of 2000, 2000 and 500.
func Chunk(ops []graph.Statement, size int) [][]graph.Statement {
	if len(ops) == 0 {
		return nil
	}
	if size <= 0 || size >= len(ops) {
		return [][]graph.Statement{ops}
	}

	chunks := make([][]graph.Statement, 0, (len(ops)+size-1)/size)
	for i := 0; i < len(ops); i += size {
		end := i + size
		if end > len(ops) {
			end = len(ops)
		}
		chunks = append(chunks, ops[i:end])
	}
	return chunks
}
