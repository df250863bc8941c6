package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	policyPaths []string
	noBuiltins  bool
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mlgate",
		Short: "mlgate - policy gate for ML infrastructure",
		Long: `mlgate evaluates governance policies against infrastructure changes
before they reach production.

It gates two surfaces:
  - Terraform plans (resource changes from 'terraform show -json')
  - Kubernetes admission reviews (validating webhook payloads)

Policies are YAML/JSON documents with three enforcement levels:
advisory (warn), soft-mandatory (record), and hard-mandatory (deny).
Custom conditions can be written as expressions or OPA/rego modules.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringSliceVarP(&policyPaths, "policies", "p", nil, "policy file or directory paths")
	rootCmd.PersistentFlags().BoolVar(&noBuiltins, "no-builtins", false, "skip the built-in policy set")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newAdmitCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newAuditCommand())

	return rootCmd
}
