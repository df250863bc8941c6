package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mlgate/mlgate/pkg/policy"
)

func newEvaluateCommand() *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "evaluate <plan.json>",
		Short: "Evaluate a Terraform plan against the policy set",
		Long: `Evaluate the resource changes in a Terraform plan JSON file against
the loaded policies.

Every created or updated resource is checked; resources that are only
being destroyed are skipped. The command exits non-zero when any
hard-mandatory policy is violated.`,
		Example: `  # Gate a plan with the built-in policies
  terraform show -json plan.tfplan > plan.json
  mlgate evaluate plan.json

  # Gate with custom policies only
  mlgate evaluate --policies ./policies --no-builtins plan.json

  # Machine-readable output with per-resource decisions
  mlgate evaluate --json --detailed plan.json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyVerbosity()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read plan file: %w", err)
			}

			engine, err := buildEngine()
			if err != nil {
				return err
			}

			log.Info().
				Str("plan", args[0]).
				Int("policies", engine.Registry().Len()).
				Msg("Evaluating Terraform plan")

			decision, resources := engine.EvaluatePlan(cmd.Context(), raw)

			if jsonOutput {
				out := map[string]any{
					"allowed":    decision.Allowed,
					"violations": decision.Violations,
					"warnings":   decision.Warnings,
				}
				if detailed {
					out["resources"] = resources
				}
				if !decision.Allowed {
					out["deny_reason"] = decision.DenyReason()
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				printDecision(decision, len(resources))
			}

			if !decision.Allowed {
				return fmt.Errorf("plan denied: %s", decision.DenyReason())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "include per-resource decisions in JSON output")

	return cmd
}

func printDecision(decision policy.Decision, resourceCount int) {
	for _, v := range decision.Warnings {
		fmt.Printf("WARN  [%s] %s\n", v.Policy, v.Message)
	}
	for _, v := range decision.Violations {
		fmt.Printf("FAIL  [%s/%s] %s\n", v.Policy, v.Level, v.Message)
	}

	if decision.Allowed {
		fmt.Printf("PASS: %d resource(s), %d warning(s)\n", resourceCount, len(decision.Warnings))
	} else {
		fmt.Printf("DENY: %d violation(s) across %d resource(s)\n", len(decision.Violations), resourceCount)
	}
}
