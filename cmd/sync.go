package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/assemble"
	"github.com/sells-group/lead-sync/internal/config"
	"github.com/sells-group/lead-sync/internal/crm"
	"github.com/sells-group/lead-sync/internal/fetcher"
	"github.com/sells-group/lead-sync/internal/leadsync"
	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/monitoring"
	"github.com/sells-group/lead-sync/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one lead sync for a portal credential",
	Long:  "Fetches the credential's lead export for its sync window, imports new leads into the CRM and prints the run report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		orch, cleanup, err := buildOrchestrator(st)
		if err != nil {
			return err
		}
		defer cleanup()

		credential, _ := cmd.Flags().GetString("credential")
		report, err := orch.Run(ctx, credential)
		if err != nil {
			return eris.Wrap(err, "sync")
		}
		return writeReport(os.Stdout, report)
	},
}

func init() {
	syncCmd.Flags().String("credential", "", "credential name (defaults to the single active credential)")
	rootCmd.AddCommand(syncCmd)
}

// buildOrchestrator wires the orchestrator from config. The returned func
// releases connections opened here; the store stays owned by the caller.
func buildOrchestrator(st store.Store) (*leadsync.Orchestrator, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sink, err := initSink(st)
	if err != nil {
		return nil, cleanup, err
	}
	guarded := crm.NewGuarded(sink,
		cfg.CRM.Retry.Policy(),
		cfg.CRM.Breaker(),
		logger,
	)

	chooser, err := assemble.ChooserFor(cfg.CRM.TeamFallback)
	if err != nil {
		return nil, cleanup, err
	}

	locks, closeLocks, err := initLocks(st)
	closers = append(closers, closeLocks)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	pub, closePub, err := initPublisher()
	closers = append(closers, closePub)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	orch := leadsync.New(leadsync.Deps{
		Store:   st,
		Fetcher: fetcher.NewPortalFetcher(fetcherOptions(cfg, logger)),
		Sink:    guarded,
		Assembler: assemble.New(guarded, assemble.Options{
			SourceTag:   cfg.CRM.SourceTag,
			DetectOwner: cfg.CRM.DetectOwner,
			Chooser:     chooser,
			Logger:      logger,
		}),
		Locks:       locks,
		LockRefresh: cfg.Lock.RefreshInterval(),
		Reporter:    monitoring.NewAlerter(cfg.Monitoring, cfg.CRM.MaxErrorRate, logger),
		Publisher:   pub,
		Logger:      logger,
	})
	return orch, cleanup, nil
}

func fetcherOptions(c *config.Config, log *zap.Logger) fetcher.Options {
	return fetcher.Options{
		Session: fetcher.SessionOptions{
			UserAgent:        c.Portal.UserAgent,
			Timeout:          c.Portal.Timeout(),
			UsernameField:    c.Portal.UsernameField,
			PasswordField:    c.Portal.PasswordField,
			CSRFField:        c.Portal.CSRFField,
			InvalidLoginText: c.Portal.InvalidLoginText,
			QuotePassword:    c.Portal.QuotePassword,
		},
		MaxBodyBytes:      c.Portal.MaxBodyBytes,
		NoRecordsText:     c.Portal.NoRecordsText,
		RequestsPerSecond: c.Portal.RequestsPerSecond,
		Retry:             c.Portal.Retry.Policy(),
		Logger:            log,
	}
}

func writeReport(w io.Writer, report model.SyncReport) error {
	if report.Errors == nil {
		report.Errors = []model.RowError{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return eris.Wrap(err, "encode report")
	}
	if len(report.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "%d row(s) failed; see errors above.\n", len(report.Errors))
	}
	return nil
}

