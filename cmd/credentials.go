package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/model"
)

// secretEnv is read when --password is not given, so secrets can stay out of
// shell history.
const secretEnv = "LEADSYNC_PORTAL_SECRET"

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage portal credentials",
}

// -- credentials add --

var credentialsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a portal credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cred, err := credentialFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CreateCredential(ctx, cred); err != nil {
			return eris.Wrap(err, "credentials add")
		}
		logger.Info("credential added", zap.String("name", cred.Name), zap.Int64("id", cred.ID))
		return nil
	},
}

func credentialFromFlags(cmd *cobra.Command, name string) (*model.PortalCredential, error) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	loginURL, _ := cmd.Flags().GetString("login-url")
	dataURL, _ := cmd.Flags().GetString("data-url")
	days, _ := cmd.Flags().GetInt("days")
	strategy, _ := cmd.Flags().GetString("strategy")
	inactive, _ := cmd.Flags().GetBool("inactive")

	if password == "" {
		password = os.Getenv(secretEnv)
	}
	if username == "" || password == "" {
		return nil, eris.Errorf("credentials add: --username and --password (or %s) are required", secretEnv)
	}

	switch s := model.SessionStrategy(strategy); s {
	case model.SessionStrategyForm, model.SessionStrategyCSRF, model.SessionStrategyBasic:
	default:
		return nil, eris.Errorf("credentials add: unknown strategy %q", s)
	}

	cred := &model.PortalCredential{
		Name:            name,
		LoginURL:        loginURL,
		DataURL:         dataURL,
		Username:        username,
		Secret:          password,
		DaysToSync:      days,
		Active:          !inactive,
		SessionStrategy: model.SessionStrategy(strategy),
	}
	cred.ApplyDefaults()
	return cred, nil
}

// -- credentials list --

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List portal credentials",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		creds, err := st.ListCredentials(ctx)
		if err != nil {
			return eris.Wrap(err, "credentials list")
		}
		if len(creds) == 0 {
			fmt.Fprintln(os.Stderr, "No credentials found.")
			return nil
		}
		formatCredentials(os.Stdout, creds)
		return nil
	},
}

// -- credentials deactivate --

var credentialsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <name>",
	Short: "Stop syncing a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeactivateCredential(ctx, args[0]); err != nil {
			return eris.Wrap(err, "credentials deactivate")
		}
		logger.Info("credential deactivated", zap.String("name", args[0]))
		return nil
	},
}

func init() {
	f := credentialsAddCmd.Flags()
	f.String("username", "", "portal username")
	f.String("password", "", "portal password (default $"+secretEnv+")")
	f.String("login-url", model.DefaultLoginURL, "portal login URL")
	f.String("data-url", model.DefaultDataURL, "portal export URL")
	f.Int("days", model.DefaultDaysToSync, "days of leads to request per run")
	f.String("strategy", string(model.SessionStrategyForm), "session strategy (form, csrf, basic)")
	f.Bool("inactive", false, "create the credential deactivated")

	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsDeactivateCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func formatCredentials(out io.Writer, creds []model.PortalCredential) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tUSERNAME\tSTRATEGY\tDAYS\tACTIVE\tLAST_SYNC")
	for _, c := range creds {
		last := "never"
		if c.LastSync != nil {
			last = c.LastSync.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			c.Name, c.Username, c.SessionStrategy, c.DaysToSync, c.Active, last)
	}
	_ = w.Flush()
}
