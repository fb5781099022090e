package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vfbgraph/graphmaint/internal/config"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the graph store is reachable",
	RunE:  runPing,
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	client, err := connectStore(ctx, config.ValidationContextDrain)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	latency, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %s (database %s) answered in %s\n", cfg.Store.URI, client.Database(), latency)

	info, err := client.ServerInfo(ctx)
	if err != nil {
		logger.WithError(err).Warn("Could not read server version")
		return nil
	}
	fmt.Printf("  Server: %s\n", info)
	if info.Major() >= 5 {
		fmt.Println("  Note: dbms.listQueries is gone in Neo4j 5; use the load-csv or periodic-iterate job queries")
	}
	return nil
}
