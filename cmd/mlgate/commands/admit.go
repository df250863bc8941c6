package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newAdmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admit [review.json]",
		Short: "Evaluate a Kubernetes admission review",
		Long: `Evaluate a Kubernetes AdmissionReview payload against the loaded
policies and print the review response.

Reads the review from the given file, or from stdin when no file is
given. The response echoes the request UID; a denied review carries the
deny reason in status.message. The command exits non-zero on denial so
it can back CI checks as well as webhooks.`,
		Example: `  # Evaluate a captured admission review
  mlgate admit review.json

  # Pipe a review through stdin
  kubectl get deploy payments -o json | mlgate-wrap-review | mlgate admit`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyVerbosity()

			var raw []byte
			var err error
			if len(args) > 0 {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("read admission review: %w", err)
			}

			engine, err := buildEngine()
			if err != nil {
				return err
			}

			decision, uid := engine.EvaluateAdmission(cmd.Context(), raw)

			log.Info().
				Str("uid", uid).
				Bool("allowed", decision.Allowed).
				Int("violations", len(decision.Violations)).
				Msg("Admission review evaluated")

			response := map[string]any{
				"apiVersion": "admission.k8s.io/v1",
				"kind":       "AdmissionReview",
				"response": map[string]any{
					"uid":     uid,
					"allowed": decision.Allowed,
				},
			}
			if !decision.Allowed {
				response["response"].(map[string]any)["status"] = map[string]any{
					"message": decision.DenyReason(),
				}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(response); err != nil {
				return err
			}

			if !decision.Allowed {
				return fmt.Errorf("admission denied: %s", decision.DenyReason())
			}
			return nil
		},
	}

	return cmd
}
