package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/teams"
	"github.com/sells-group/lead-sync/pkg/notion"
)

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Manage the sales team directory",
}

var teamsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert sales teams from a YAML file or the Notion team database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		file, _ := cmd.Flags().GetString("file")
		fromNotion, _ := cmd.Flags().GetBool("notion")

		var src teams.Source
		switch {
		case file != "" && fromNotion:
			return eris.New("teams import: use either --file or --notion")
		case file != "":
			src = teams.YAMLSource{Path: file}
		case fromNotion:
			if err := cfg.Validate("teams-notion"); err != nil {
				return err
			}
			src = teams.NotionSource{Directory: notion.NewDirectory(cfg.Notion.Token, cfg.Notion.TeamDB)}
		default:
			return eris.New("teams import: --file or --notion is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := teams.Import(ctx, src, st, logger)
		if err != nil {
			return eris.Wrap(err, "teams import")
		}
		logger.Info("teams import complete", zap.Int64("upserted", n))
		return nil
	},
}

var teamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sales teams",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		activeOnly, _ := cmd.Flags().GetBool("active")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := st.ListTeams(ctx, activeOnly)
		if err != nil {
			return eris.Wrap(err, "teams list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No teams found.")
			return nil
		}
		formatTeams(os.Stdout, list)
		return nil
	},
}

func init() {
	teamsImportCmd.Flags().String("file", "", "path to a teams YAML file")
	teamsImportCmd.Flags().Bool("notion", false, "read teams from the configured Notion database")
	teamsListCmd.Flags().Bool("active", false, "only list active teams")

	teamsCmd.AddCommand(teamsImportCmd)
	teamsCmd.AddCommand(teamsListCmd)
	rootCmd.AddCommand(teamsCmd)
}

func formatTeams(out io.Writer, list []model.SalesTeam) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tACTIVE\tPREFERRED_CITIES")
	for _, t := range list {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", t.ID, t.Name, t.Active, t.PreferredCities)
	}
	_ = w.Flush()
}
