package graph

import (
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Operation names used to look up transaction configs
const (
	OpMutation      = "mutation"
	OpBulkLoad      = "bulk_load"
	OpIntrospection = "introspection"
	OpHealthCheck   = "health_check"
)

// TransactionConfig defines timeout and metadata for transactions
//
// Transaction metadata is shown by dbms.listQueries / SHOW TRANSACTIONS and in
// query.log, which lets an operator attribute a running job to its group.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns recommended configs per operation type
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		// Mutations may run for hours (periodic iterate over the whole graph);
		// the server-side limit applies.
		OpMutation: {
			Metadata: map[string]any{
				"app":  "graphmaint",
				"type": "write",
			},
		},

		OpBulkLoad: {
			Metadata: map[string]any{
				"app":  "graphmaint",
				"type": "bulk_load",
			},
		},

		OpIntrospection: {
			Timeout: 30 * time.Second,
			Metadata: map[string]any{
				"app":  "graphmaint",
				"type": "introspection",
			},
		},

		OpHealthCheck: {
			Timeout: 5 * time.Second,
			Metadata: map[string]any{
				"app":  "graphmaint",
				"type": "read",
			},
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions
// Use with session.Run or ExecuteRead/ExecuteWrite
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}

	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}

	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}

	return configs
}

// GetConfigForOperation retrieves the appropriate transaction config
// Returns default config if operation not found
func GetConfigForOperation(operation string) TransactionConfig {
	configs := DefaultTransactionConfigs()
	if config, ok := configs[operation]; ok {
		return config
	}

	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"app":  "graphmaint",
			"type": operation,
		},
	}
}

// WithCustomMetadata creates a config with custom metadata
func (tc TransactionConfig) WithCustomMetadata(key string, value any) TransactionConfig {
	newConfig := TransactionConfig{
		Timeout:  tc.Timeout,
		Metadata: make(map[string]any, len(tc.Metadata)+1),
	}

	for k, v := range tc.Metadata {
		newConfig.Metadata[k] = v
	}
	newConfig.Metadata[key] = value

	return newConfig
}

// operationFor picks the transaction config for a submitted statement.
// File loads and row batches are tagged bulk_load so they can be told apart
// from graph-wide mutations in SHOW TRANSACTIONS.
func operationFor(stmt Statement) string {
	cypher := strings.ToUpper(strings.Join(strings.Fields(stmt.Cypher), " "))
	if strings.Contains(cypher, "LOAD CSV") || strings.HasPrefix(cypher, "UNWIND $ROWS AS ROW") {
		return OpBulkLoad
	}
	return OpMutation
}
