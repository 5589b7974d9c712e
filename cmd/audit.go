package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the import audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List imported external ids and their CRM leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		credential, _ := cmd.Flags().GetString("credential")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.AuditFilter{Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}
		if credential != "" {
			cred, err := st.GetCredential(ctx, credential)
			if err != nil {
				return eris.Wrap(err, "audit list")
			}
			filter.CredentialID = cred.ID
		}

		entries, err := st.ListAudit(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "audit list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No audit entries found.")
			return nil
		}
		formatAudit(os.Stdout, entries)
		return nil
	},
}

func init() {
	auditListCmd.Flags().String("credential", "", "filter by credential name")
	auditListCmd.Flags().Duration("since", 0, "only entries newer than this (e.g. 24h)")
	auditListCmd.Flags().Int("limit", 100, "max number of entries to display")

	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}

func formatAudit(out io.Writer, entries []model.SyncAuditEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXTERNAL_ID\tLEAD\tCREDENTIAL\tIMPORTED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			e.ExternalID, e.LeadRef, e.CredentialID, e.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = w.Flush()
}
