// Package leadsync runs one credential's fetch, dedup, assemble and persist
// cycle.
package leadsync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-sync/internal/crm"
	"github.com/sells-group/lead-sync/internal/dedup"
	"github.com/sells-group/lead-sync/internal/events"
	"github.com/sells-group/lead-sync/internal/fetcher"
	"github.com/sells-group/lead-sync/internal/lock"
	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/monitoring"
	"github.com/sells-group/lead-sync/internal/store"
	"github.com/sells-group/lead-sync/internal/teammatch"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	store.CredentialStore
	store.TeamStore
	store.AuditStore
	store.RunStore
}

// Assembler turns a raw row into a lead.
type Assembler interface {
	Assemble(ctx context.Context, raw model.RawLeadRecord, teams []model.SalesTeam) (model.NormalizedLead, error)
}

// Reporter receives every finished run.
type Reporter interface {
	Report(ctx context.Context, out monitoring.RunOutcome)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, monitoring.RunOutcome) {}

// Deps are the orchestrator's collaborators. Reporter, Publisher, Logger and
// Now are optional. LockRefresh is how often the run lock is renewed while a
// run is active; it defaults to one minute.
type Deps struct {
	Store       Store
	Fetcher     fetcher.Fetcher
	Sink        crm.Sink
	Assembler   Assembler
	Locks       lock.Factory
	LockRefresh time.Duration
	Reporter    Reporter
	Publisher   events.Publisher
	Logger      *zap.Logger
	Now         func() time.Time
}

// Orchestrator runs lead syncs.
type Orchestrator struct {
	store     Store
	fetcher   fetcher.Fetcher
	sink      crm.Sink
	assembler Assembler
	gate      *dedup.Gate
	locks     lock.Factory
	refresh   time.Duration
	reporter  Reporter
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:     d.Store,
		fetcher:   d.Fetcher,
		sink:      d.Sink,
		assembler: d.Assembler,
		gate:      dedup.New(d.Store),
		locks:     d.Locks,
		refresh:   d.LockRefresh,
		reporter:  d.Reporter,
		publisher: d.Publisher,
		log:       d.Logger,
		now:       d.Now,
	}
	if o.reporter == nil {
		o.reporter = nopReporter{}
	}
	if o.publisher == nil {
		o.publisher = events.NopPublisher{}
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.refresh == 0 {
		o.refresh = time.Minute
	}
	return o
}

// Run syncs the named credential, or the single active one when name is
// empty. Row-level failures are collected in the report; a returned error
// means the run failed and last_sync was left unchanged.
func (o *Orchestrator) Run(ctx context.Context, credentialName string) (model.SyncReport, error) {
	var report model.SyncReport

	cred, err := o.resolveCredential(ctx, credentialName)
	if err != nil {
		return report, err
	}
	log := o.log.With(zap.String("credential", cred.Name), zap.Int64("credential_id", cred.ID))

	lk := o.locks(lock.Key(cred.ID))
	acquired, err := lk.Acquire(ctx)
	if err != nil {
		return report, eris.Wrap(err, "leadsync: acquire run lock")
	}
	if !acquired {
		return report, eris.Wrapf(ErrRunInProgress, "credential %s", cred.Name)
	}
	defer func() {
		if rerr := lk.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn("leadsync: release run lock", zap.Error(rerr))
		}
	}()

	runCtx, stopRefresh := lock.Keepalive(ctx, lk, o.refresh, log)
	defer stopRefresh()

	startedAt := o.now().UTC()
	run, err := o.store.StartRun(runCtx, cred.ID, startedAt)
	if err != nil {
		return report, eris.Wrap(err, "leadsync: start run")
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("leadsync: run started")

	report, err = o.execute(runCtx, *cred, run.ID, log)
	if err == nil {
		err = o.finish(runCtx, cred.ID, run.ID, report, startedAt)
	}
	if err != nil && errors.Is(context.Cause(runCtx), lock.ErrLeaseLost) {
		err = eris.Wrap(lock.ErrLeaseLost, "leadsync: run lock lost")
	}

	out := monitoring.RunOutcome{
		RunID:      run.ID,
		Credential: cred.Name,
		Report:     report,
		Err:        err,
		StartedAt:  startedAt,
		FinishedAt: o.now().UTC(),
	}
	if err != nil {
		if ferr := o.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error(), out.FinishedAt); ferr != nil {
			log.Error("leadsync: record run failure", zap.Error(ferr))
		}
		log.Error("leadsync: run failed", zap.Error(err))
		o.reporter.Report(context.WithoutCancel(ctx), out)
		return report, err
	}

	log.Info("leadsync: run complete",
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("errored", len(report.Errors)),
		zap.Duration("elapsed", out.FinishedAt.Sub(startedAt)),
	)
	o.reporter.Report(ctx, out)
	return report, nil
}

func (o *Orchestrator) resolveCredential(ctx context.Context, name string) (*model.PortalCredential, error) {
	if name = strings.TrimSpace(name); name != "" {
		cred, err := o.store.GetCredential(ctx, name)
		if err != nil {
			return nil, eris.Wrapf(err, "leadsync: credential %s", name)
		}
		if !cred.Active {
			return nil, eris.Wrapf(ErrCredentialInactive, "credential %s", name)
		}
		return cred, nil
	}

	active, err := o.store.ActiveCredentials(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "leadsync: list active credentials")
	}
	switch len(active) {
	case 0:
		return nil, ErrNoActiveCredential
	case 1:
		return &active[0], nil
	default:
		return nil, ErrAmbiguousCredential
	}
}

// execute runs the fetch and row iteration. Only fatal errors are returned.
func (o *Orchestrator) execute(ctx context.Context, cred model.PortalCredential, runID string, log *zap.Logger) (model.SyncReport, error) {
	var report model.SyncReport

	o.setState(ctx, runID, model.RunStateFetching, log)

	var (
		rows  []model.RawLeadRecord
		teams []model.SalesTeam
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = o.fetcher.Fetch(gctx, cred)
		return err
	})
	g.Go(func() error {
		var err error
		teams, err = o.store.ListTeams(gctx, true)
		return eris.Wrap(err, "leadsync: load teams")
	})
	if err := g.Wait(); err != nil {
		return report, err
	}
	teams = teammatch.SortTeams(model.ActiveTeams(teams))
	log.Info("leadsync: fetched", zap.Int("rows", len(rows)), zap.Int("active_teams", len(teams)))

	o.setState(ctx, runID, model.RunStateIterating, log)

	seen := make(map[string]bool, len(rows))
	for _, raw := range rows {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "leadsync: run cancelled")
		}

		id := strings.TrimSpace(raw.ExternalID())
		if id == "" {
			report.Errors = append(report.Errors, model.RowError{Message: "missing external id"})
			continue
		}
		if seen[id] {
			log.Debug("leadsync: duplicate id in payload", zap.String("external_id", id))
			report.Skipped++
			continue
		}
		seen[id] = true

		imported, err := o.gate.HasImported(ctx, id)
		if err != nil {
			report.Errors = append(report.Errors, model.RowError{ExternalID: id, Message: err.Error()})
			continue
		}
		if imported {
			report.Skipped++
			continue
		}

		lead, err := o.assembler.Assemble(ctx, raw, teams)
		if err != nil {
			report.Errors = append(report.Errors, model.RowError{ExternalID: id, Message: err.Error()})
			continue
		}

		ref, err := o.persist(ctx, cred.ID, lead, log)
		if err != nil {
			log.Warn("leadsync: row failed", zap.String("external_id", id), zap.Error(err))
			report.Errors = append(report.Errors, model.RowError{ExternalID: id, Message: err.Error()})
			continue
		}
		report.Created++

		ev := events.LeadImported{
			RunID:        runID,
			CredentialID: cred.ID,
			ExternalID:   id,
			LeadRef:      ref,
			TeamID:       lead.TeamID,
			SourceTag:    lead.SourceTag,
			ImportedAt:   o.now().UTC(),
		}
		if err := o.publisher.PublishLeadImported(ctx, ev); err != nil {
			log.Warn("leadsync: publish lead imported", zap.String("external_id", id), zap.Error(err))
		}
	}

	return report, nil
}

// persist creates the lead and then its audit entry. When the audit write
// fails the lead is deleted again so no lead exists without exactly one
// audit entry.
func (o *Orchestrator) persist(ctx context.Context, credentialID int64, lead model.NormalizedLead, log *zap.Logger) (string, error) {
	ref, err := o.sink.CreateLead(ctx, lead)
	if err != nil {
		return "", &RowPersistError{ExternalID: lead.ExternalID, Err: err}
	}

	if err := o.gate.RecordImport(ctx, credentialID, lead.ExternalID, ref); err != nil {
		if derr := o.sink.DeleteLead(context.WithoutCancel(ctx), ref); derr != nil {
			log.Error("leadsync: compensating delete failed",
				zap.String("external_id", lead.ExternalID),
				zap.String("lead_ref", ref),
				zap.Error(derr),
			)
			err = errors.Join(err, eris.Wrapf(derr, "delete orphaned lead %s", ref))
		}
		return "", &RowPersistError{ExternalID: lead.ExternalID, Err: err}
	}
	return ref, nil
}

func (o *Orchestrator) finish(ctx context.Context, credentialID int64, runID string, report model.SyncReport, startedAt time.Time) error {
	if err := o.store.SetLastSync(ctx, credentialID, startedAt); err != nil {
		return eris.Wrap(err, "leadsync: advance last sync")
	}
	if err := o.store.CompleteRun(ctx, runID, report, o.now().UTC()); err != nil {
		return eris.Wrap(err, "leadsync: complete run")
	}
	return nil
}

func (o *Orchestrator) setState(ctx context.Context, runID string, state model.RunState, log *zap.Logger) {
	if err := o.store.UpdateRunState(ctx, runID, state); err != nil {
		log.Warn("leadsync: update run state", zap.String("state", string(state)), zap.Error(err))
	}
}
