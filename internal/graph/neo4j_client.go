package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
)

// ClientOptions carries the connection settings for the store
type ClientOptions struct {
	URI                string
	User               string
	Password           string
	Database           string
	MaxPoolSize        int
	AcquisitionTimeout time.Duration
	ConnectTimeout     time.Duration
}

// Client wraps the Neo4j driver. One Client is created per run, shared by the
// runner and the poller, and closed when the run ends.
type Client struct {
	driver   neo4j.DriverWithContext
	logger   *slog.Logger
	database string
}

// NewClient creates a Neo4j client and verifies connectivity.
// Security: credentials come from the environment or the OS keyring, never from plan files.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.URI == "" || opts.User == "" || opts.Password == "" {
		return nil, apperrors.ConfigErrorf("neo4j credentials missing: uri=%q, user=%q", opts.URI, opts.User)
	}
	if opts.Database == "" {
		opts.Database = "neo4j"
	}
	if opts.MaxPoolSize <= 0 {
		opts.MaxPoolSize = 10
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI,
		neo4j.BasicAuth(opts.User, opts.Password, ""),
		func(config *neo4j.Config) {
			// A run uses one session at a time; keep the pool small.
			config.MaxConnectionPoolSize = opts.MaxPoolSize
			if opts.AcquisitionTimeout > 0 {
				config.ConnectionAcquisitionTimeout = opts.AcquisitionTimeout
			}
			config.MaxConnectionLifetime = time.Hour
			if opts.ConnectTimeout > 0 {
				config.SocketConnectTimeout = opts.ConnectTimeout
			}
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, apperrors.StoreUnavailable(err, "failed to create neo4j driver")
	}

	// Fail fast on startup
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, apperrors.StoreUnavailable(err, fmt.Sprintf("failed to connect to neo4j at %s", opts.URI))
	}

	logger := slog.Default().With("component", "neo4j")
	logger.Info("neo4j client connected",
		"uri", opts.URI,
		"user", opts.User,
		"database", opts.Database,
		"max_pool_size", opts.MaxPoolSize)

	return &Client{
		driver:   driver,
		logger:   logger,
		database: opts.Database,
	}, nil
}

// Close closes the Neo4j driver connection
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.logger.Info("neo4j client closed")
	return nil
}

// Ping verifies connectivity and returns the round-trip latency
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	txConfig := GetConfigForOperation(OpHealthCheck)
	pingCtx, cancel := context.WithTimeout(ctx, txConfig.Timeout)
	defer cancel()

	start := time.Now()
	if err := c.driver.VerifyConnectivity(pingCtx); err != nil {
		return 0, apperrors.StoreUnavailable(err, "neo4j health check failed")
	}
	return time.Since(start), nil
}

// Submit runs each statement as an auto-commit query in a single write session.
//
// Auto-commit is required for USING PERIODIC COMMIT and CALL {} IN TRANSACTIONS.
// A statement rolled back with a transient error is run again, up to
// transientAttempts times. A statement the store rejects is recorded in its
// StatementResult and the remaining statements still run. A connection-level failure stops the chunk:
// the results gathered so far are returned together with a StoreUnavailable error.
func (c *Client) Submit(ctx context.Context, group string, stmts []Statement) ([]StatementResult, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	results := make([]StatementResult, 0, len(stmts))
	for i, stmt := range stmts {
		label := stmt.Label(i)
		txConfig := GetConfigForOperation(operationFor(stmt)).
			WithCustomMetadata("group", group).
			WithCustomMetadata("statement", label)

		start := time.Now()
		rows, err := retryTransient(ctx, transientAttempts, transientBackoff, func() ([][]any, error) {
			return runAutoCommit(ctx, session, stmt, txConfig)
		}, func(attempt int, err error) {
			c.logger.Warn("transient error, retrying statement",
				"group", group,
				"statement", label,
				"attempt", attempt,
				"error", err)
		})
		if err != nil {
			wrapped := classified(err, fmt.Sprintf("statement %q", label), "group", group, "statement", label)
			if apperrors.Is(wrapped, apperrors.ErrStoreUnavailable) {
				c.logger.Error("connection lost during submission",
					"group", group,
					"statement", label,
					"applied", len(results),
					"error", err)
				return results, wrapped
			}

			c.logger.Warn("statement rejected",
				"group", group,
				"statement", label,
				"error", err)
			results = append(results, StatementResult{Statement: label, Err: wrapped})
			continue
		}

		c.logger.Debug("statement applied",
			"group", group,
			"statement", label,
			"rows", len(rows),
			"duration_seconds", time.Since(start).Seconds())
		results = append(results, StatementResult{Statement: label, Rows: rows})
	}

	return results, nil
}

// Query runs a read-only introspection statement and returns its rows
func (c *Client) Query(ctx context.Context, stmt Statement) ([][]any, error) {
	txConfig := GetConfigForOperation(OpIntrospection)
	queryCtx := ctx
	if txConfig.Timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, txConfig.Timeout)
		defer cancel()
	}

	result, err := neo4j.ExecuteQuery(queryCtx, c.driver, stmt.Cypher, stmt.Params,
		neo4j.EagerResultTransformer, introspectionOptions(c.database)...)
	if err != nil {
		return nil, classified(err, fmt.Sprintf("query %q", stmt.Label(0)), "query", stmt.Label(0))
	}

	rows := make([][]any, 0, len(result.Records))
	for _, record := range result.Records {
		rows = append(rows, record.Values)
	}

	c.logger.Debug("query executed", "query", stmt.Label(0), "record_count", len(rows))
	return rows, nil
}

// introspectionOptions routes job-status queries to the writer. dbms.listQueries
// and SHOW TRANSACTIONS only see the member they run on, and Submit's jobs run
// on the writer; a follower would report 0 while the job is still running.
func introspectionOptions(database string) []neo4j.ExecuteQueryConfigurationOption {
	return []neo4j.ExecuteQueryConfigurationOption{
		neo4j.ExecuteQueryWithDatabase(database),
		neo4j.ExecuteQueryWithWritersRouting(),
	}
}

// Database returns the configured database name
func (c *Client) Database() string {
	return c.database
}

func runAutoCommit(ctx context.Context, session neo4j.SessionWithContext, stmt Statement, txConfig TransactionConfig) ([][]any, error) {
	result, err := session.Run(ctx, stmt.Cypher, stmt.Params, txConfig.AsNeo4jConfig()...)
	if err != nil {
		return nil, err
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(records))
	for _, record := range records {
		rows = append(rows, record.Values)
	}
	return rows, nil
}
