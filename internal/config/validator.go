package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vfbgraph/graphmaint/internal/errors"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextRun - gmaint run submits mutations and drains
	ValidationContextRun ValidationContext = "run"
	// ValidationContextDrain - gmaint drain and ping only need the store
	ValidationContextDrain ValidationContext = "drain"
	// ValidationContextOffline - dry runs and history never connect to the store
	ValidationContextOffline ValidationContext = "offline"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  ❌ %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠️  %s\n", warn))
		}
	}

	return sb.String()
}

// Err returns a Config error carrying every problem, or nil
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigErrorf("%s", strings.TrimRight(vr.Error(), "\n"))
}

// Validate validates configuration for the given context. Every problem is
// reported, not just the first.
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextRun:
		c.validateStore(result, true)
		c.validateRunner(result)
		c.validatePoller(result)
		c.validateLedger(result)
		c.validateCheckpoint(result)
		c.validateLock(result)
	case ValidationContextDrain:
		c.validateStore(result, true)
		c.validatePoller(result)
		c.validateLedger(result)
	case ValidationContextOffline:
		c.validateStore(result, false)
		c.validateRunner(result)
		c.validatePoller(result)
		c.validateLedger(result)
	}
	c.validateLog(result)

	return result
}

func (c *Config) validateStore(result *ValidationResult, required bool) {
	if c.Store.URI == "" {
		if required {
			result.AddError("store.uri is required but not set (PDBserver or GRAPHMAINT_STORE_URI)")
		}
	} else if u, err := url.Parse(c.Store.URI); err != nil {
		result.AddError("store.uri is invalid: %v", err)
	} else {
		switch u.Scheme {
		case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
		default:
			result.AddError("store.uri scheme %q is not a bolt or neo4j scheme", u.Scheme)
		}
	}

	if c.Store.User == "" && required {
		result.AddError("store.user is required but not set")
	}

	if c.Store.Password == "" && required {
		result.AddError("store password is required but not set. Set PDBpass or run gmaint configure.")
	}

	if c.Store.MaxPoolSize < 0 {
		result.AddError("store.max_pool_size must not be negative, got %d", c.Store.MaxPoolSize)
	}
	if c.Store.Database == "" {
		result.AddWarning("store.database is not set, will use 'neo4j' as default")
	}
}

func (c *Config) validateRunner(result *ValidationResult) {
	if c.Runner.ChunkLength < 0 {
		result.AddError("runner.chunk_length must not be negative, got %d", c.Runner.ChunkLength)
	}
	if c.Runner.ChunkRate < 0 {
		result.AddError("runner.chunk_rate must not be negative, got %.2f", c.Runner.ChunkRate)
	}
	if c.Runner.RetryAttempts < 0 {
		result.AddError("runner.retry_attempts must not be negative, got %d", c.Runner.RetryAttempts)
	}
	if c.Runner.RetryDelay < 0 {
		result.AddError("runner.retry_delay must not be negative, got %s", c.Runner.RetryDelay)
	}
	if c.Runner.TSVBatchRows <= 0 {
		result.AddWarning("runner.tsv_batch_rows is not positive, will use default (1000)")
	}
}

func (c *Config) validatePoller(result *ValidationResult) {
	if c.Poller.Interval <= 0 {
		result.AddError("poller.interval must be positive, got %s", c.Poller.Interval)
	}
	if c.Poller.MaxWait < 0 {
		result.AddError("poller.max_wait must not be negative, got %s", c.Poller.MaxWait)
	}
	if c.Poller.Interval > 0 && c.Poller.MaxWait > 0 && c.Poller.Interval > c.Poller.MaxWait {
		result.AddWarning("poller.interval (%s) exceeds poller.max_wait (%s); drains will poll once",
			c.Poller.Interval, c.Poller.MaxWait)
	}
}

func (c *Config) validateLedger(result *ValidationResult) {
	switch strings.ToLower(c.Ledger.Driver) {
	case "", "none":
		result.AddWarning("ledger disabled; runs will not be recorded")
	case "sqlite", "sqlite3":
		if c.Ledger.DSN == "" {
			result.AddError("ledger.dsn (database path) is required for the sqlite ledger")
		}
	case "postgres", "pgx":
		if c.Ledger.DSN == "" {
			result.AddError("ledger.dsn is required for the postgres ledger")
		} else if !strings.HasPrefix(c.Ledger.DSN, "postgres://") && !strings.HasPrefix(c.Ledger.DSN, "postgresql://") {
			result.AddError("ledger.dsn must start with postgres:// or postgresql://")
		}
	default:
		result.AddError("ledger.driver %q is not one of sqlite, postgres, none", c.Ledger.Driver)
	}
}

func (c *Config) validateCheckpoint(result *ValidationResult) {
	if c.Checkpoint.Path == "" {
		result.AddWarning("checkpoint.path is not set; --resume will be unavailable")
	}
}

func (c *Config) validateLock(result *ValidationResult) {
	if !c.Lock.Enabled {
		return
	}
	if c.Lock.Addr == "" {
		result.AddError("lock.addr is required when lock.enabled is set")
	}
	if c.Lock.TTL <= 0 {
		result.AddError("lock.ttl must be positive, got %s", c.Lock.TTL)
	}
}

func (c *Config) validateLog(result *ValidationResult) {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result.AddError("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		result.AddError("log.format %q is not one of text, json", c.Log.Format)
	}
}
