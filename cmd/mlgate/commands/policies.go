package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect and validate the policy set",
	}

	cmd.AddCommand(newPoliciesListCommand())
	cmd.AddCommand(newPoliciesValidateCommand())

	return cmd
}

func newPoliciesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded policies",
		Example: `  # List the built-in policy set
  mlgate policies list

  # List builtins plus custom policies
  mlgate policies list --policies ./policies`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyVerbosity()

			reg, err := buildRegistry()
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.Policies())
			}

			for _, p := range reg.Policies() {
				scope := "all kinds"
				if len(p.Scope.Kinds) > 0 {
					scope = fmt.Sprintf("%v", p.Scope.Kinds)
				}
				fmt.Printf("%-28s %-15s checks=%d scope=%s\n", p.Name, p.Level, len(p.Checks), scope)
			}
			fmt.Printf("\n%d policies loaded\n", reg.Len())
			return nil
		},
	}
}

func newPoliciesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate policy documents without evaluating anything",
		Long: `Load, parse, and compile the given policy files or directories.

Validation covers document structure, enforcement levels, check
parameters, expression syntax, and rego compilation. Exits non-zero on
the first configuration error so CI can gate policy changes.`,
		Example: `  # Validate a policy directory before merging
  mlgate policies validate ./policies`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyVerbosity()

			loader := newLoaderFromFlags()
			reg, err := loader.LoadRegistry(args, false)
			if err != nil {
				return fmt.Errorf("policy validation failed: %w", err)
			}

			log.Info().Int("policies", reg.Len()).Msg("Policy set is valid")
			fmt.Printf("OK: %d policies validated\n", reg.Len())
			return nil
		},
	}
}
