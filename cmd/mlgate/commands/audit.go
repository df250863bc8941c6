package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlgate/mlgate/pkg/audit"
)

func newAuditCommand() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent recorded decisions",
		Long: `List recent policy decisions from the audit database, newest first.

The audit log is written by 'mlgate serve --db'; it records verdict,
subject identity, finding counts, and the verbatim deny reason.`,
		Example: `  # Show the last 50 decisions
  mlgate audit --db mlgate.db

  # Show the last 10 as JSON
  mlgate audit --db mlgate.db --limit 10 --json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyVerbosity()

			store, err := audit.NewStore(audit.Config{Path: dbPath})
			if err != nil {
				return err
			}
			if err := store.Init(cmd.Context()); err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			defer store.Close()

			records, err := store.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			for _, rec := range records {
				verdict := "ALLOW"
				if !rec.Allowed {
					verdict = "DENY "
				}
				subject := rec.SubjectKind
				if rec.SubjectName != "" {
					subject += "/" + rec.SubjectName
				}
				fmt.Printf("%s  %s  %-9s %-40s violations=%d warnings=%d",
					rec.CreatedAt.Format("2006-01-02 15:04:05"), verdict, rec.Source, subject,
					rec.Violations, rec.Warnings)
				if rec.DenyReason != "" {
					fmt.Printf("  reason=%q", rec.DenyReason)
				}
				fmt.Println()
			}
			if len(records) == 0 {
				fmt.Println("No decisions recorded")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "mlgate.db", "audit database path")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of decisions to list")

	return cmd
}
