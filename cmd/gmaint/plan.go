package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vfbgraph/graphmaint/internal/plan"
	"github.com/vfbgraph/graphmaint/internal/poller"
)

var (
	planBaseDir string
	planCypher  bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect maintenance plans",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in plans and job queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("📋 Built-in plans:")
		for _, name := range plan.CatalogNames() {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println("\n⏳ Built-in job queries:")
		for _, name := range poller.BuiltinNames() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan>",
	Short: "Expand a plan and print its groups",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <plan>",
	Short: "Check a plan parses and expands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := loadPlan(args[0], planBaseDir)
		if err != nil {
			return err
		}
		fmt.Printf("✅ %s: %d group(s), %d operation(s), fingerprint %s\n",
			exp.Plan.Name, len(exp.Steps), exp.Operations(), shortID(exp.Fingerprint))
		return nil
	},
}

func init() {
	planCmd.PersistentFlags().StringVar(&planBaseDir, "base-dir", "", "directory for relative TSV files")
	planShowCmd.Flags().BoolVar(&planCypher, "cypher", false, "print every statement")
	planCmd.AddCommand(planListCmd, planShowCmd, planValidateCmd)
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	exp, err := loadPlan(args[0], planBaseDir)
	if err != nil {
		return err
	}

	fmt.Printf("📋 %s\n", exp.Plan.Name)
	if exp.Plan.Description != "" {
		fmt.Printf("%s\n", strings.TrimSpace(exp.Plan.Description))
	}
	fmt.Printf("%s\n", strings.Repeat("═", 50))

	for i, step := range exp.Steps {
		flags := []string{string(step.OnError)}
		if step.Group.Retryable() {
			flags = append(flags, "retryable")
		}
		fmt.Printf("\n%d. %s (%d operation(s), %s)\n", i+1, step.Group.Name(), step.Group.Len(), strings.Join(flags, ", "))
		if planCypher {
			for j, op := range step.Group.Operations() {
				fmt.Printf("   [%s] %s\n", op.Label(j), oneLine(op.Cypher))
			}
		}
		if step.Drain != nil {
			printDrain("   then wait for", step.Drain)
		}
	}

	if exp.FinalDrain != nil {
		fmt.Println()
		printDrain("Finally wait for", exp.FinalDrain)
	}
	fmt.Printf("\nFingerprint: %s\n", exp.Fingerprint)
	return nil
}

func printDrain(prefix string, d *plan.Drain) {
	fmt.Printf("%s %s (threshold %d, every %s, up to %s)\n",
		prefix, d.Query.Name, d.Query.Threshold, d.Interval, d.MaxWait)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shortID(id string) string {
	return id[:min(12, len(id))]
}
