package graph

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
)

// Classify maps a driver error onto the store taxonomy.
//
// Only ErrorTypeConnection and ErrorTypeStatement are returned. Anything the
// driver cannot attribute to the submitted statement is treated as a
// connection problem, since we cannot tell whether it was applied.
func Classify(err error) apperrors.ErrorType {
	if err == nil {
		return apperrors.ErrorTypeInternal
	}

	if apperrors.Is(err, apperrors.ErrStatementRejected) {
		return apperrors.ErrorTypeStatement
	}
	if apperrors.Is(err, apperrors.ErrStoreUnavailable) {
		return apperrors.ErrorTypeConnection
	}

	if neo4j.IsConnectivityError(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return apperrors.ErrorTypeConnection
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		// Bad credentials look like an unreachable store to the caller
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security."):
			return apperrors.ErrorTypeConnection
		// Submit retries these first; one that persists means the store
		// cannot take work right now, not that the statement is wrong.
		case isTransient(err):
			return apperrors.ErrorTypeConnection
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError."),
			strings.HasPrefix(neoErr.Code, "Neo.DatabaseError."):
			return apperrors.ErrorTypeStatement
		}
	}

	if neo4j.IsUsageError(err) {
		return apperrors.ErrorTypeStatement
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.ErrorTypeConnection
	}

	return apperrors.ErrorTypeConnection
}

// classified wraps err in the typed error matching its classification.
// attrs are key/value pairs attached as error context.
func classified(err error, message string, attrs ...string) error {
	if err == nil {
		return nil
	}

	var e *apperrors.Error
	if Classify(err) == apperrors.ErrorTypeStatement {
		e = apperrors.StatementRejectedf(err, "%s", message)
	} else {
		e = apperrors.StoreUnavailable(err, message)
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		e.WithContext("neo4j_code", neoErr.Code)
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		e.WithContext(attrs[i], attrs[i+1])
	}
	return e
}

const (
	transientAttempts = 3
	transientBackoff  = 2 * time.Second
)

// isTransient reports whether the server rolled the statement back with a
// Neo.TransientError (deadlock, leader switch, memory pressure).
// Such a statement had no effect and can be run again.
func isTransient(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.TransientError.")
}

// retryTransient calls run up to attempts times while it fails with a transient
// error, sleeping backoff*attempt between tries. onRetry is called before each retry.
// The last error is returned unchanged so callers classify it as usual.
func retryTransient(ctx context.Context, attempts int, backoff time.Duration, run func() ([][]any, error), onRetry func(attempt int, err error)) ([][]any, error) {
	var (
		rows [][]any
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		rows, err = run()
		if err == nil || !isTransient(err) || attempt == attempts {
			return rows, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return rows, err
}
