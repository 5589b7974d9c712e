package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "Manage the built-in course catalog used by the local CRM",
}

var coursesAddCmd = &cobra.Command{
	Use:   "add <name>...",
	Short: "Add courses to the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		names := make([]string, 0, len(args))
		for _, a := range args {
			if n := strings.TrimSpace(a); n != "" {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			return eris.New("courses add: no course names given")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertCourses(ctx, names); err != nil {
			return eris.Wrap(err, "courses add")
		}
		logger.Info("courses upserted", zap.Int("count", len(names)))
		return nil
	},
}

var coursesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog courses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		courses, err := st.ListCourses(ctx)
		if err != nil {
			return eris.Wrap(err, "courses list")
		}
		for _, c := range courses {
			fmt.Fprintf(os.Stdout, "%s\t%s\n", c.ID, c.Name)
		}
		return nil
	},
}

func init() {
	coursesCmd.AddCommand(coursesAddCmd)
	coursesCmd.AddCommand(coursesListCmd)
	rootCmd.AddCommand(coursesCmd)
}
