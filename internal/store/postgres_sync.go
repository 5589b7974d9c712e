package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/model"
)

// Audit

func (s *PostgresStore) HasImported(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sync_audit WHERE external_id = $1)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: has imported %s", externalID)
	}
	return exists, nil
}

func (s *PostgresStore) RecordImport(ctx context.Context, entry model.SyncAuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_audit (credential_id, external_id, lead_ref, created_at) VALUES ($1, $2, $3, $4)`,
		entry.CredentialID, entry.ExternalID, entry.LeadRef, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return pgConstraint(err, "postgres: record import "+entry.ExternalID)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.SyncAuditEntry, error) {
	query := `SELECT id, credential_id, external_id, lead_ref, created_at FROM sync_audit WHERE true`
	var args []any
	if filter.CredentialID != 0 {
		args = append(args, filter.CredentialID)
		query += fmt.Sprintf(` AND credential_id = $%d`, len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var entries []model.SyncAuditEntry
	for rows.Next() {
		var e model.SyncAuditEntry
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.ExternalID, &e.LeadRef, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate audit")
}

// Runs

func (s *PostgresStore) StartRun(ctx context.Context, credentialID int64, startedAt time.Time) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:           newID(),
		CredentialID: credentialID,
		State:        model.RunStateFetching,
		StartedAt:    startedAt.UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, credential_id, state, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.CredentialID, string(run.State), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunState(ctx context.Context, runID string, state model.RunState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET state = $1 WHERE id = $2`, string(state), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run state %s", runID)
	}
	return pgRowsAffected(tag, "run", runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, report model.SyncReport, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET state = $1, completed_at = $2, created = $3, skipped = $4, errored = $5 WHERE id = $6`,
		string(model.RunStateDone), completedAt.UTC(), report.Created, report.Skipped, len(report.Errors), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return pgRowsAffected(tag, "run", runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET state = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(model.RunStateFailed), completedAt.UTC(), cause, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return pgRowsAffected(tag, "run", runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, credential_id, state, started_at, completed_at, created, skipped, errored, error FROM sync_runs`
	var args []any
	if filter.CredentialID != 0 {
		args = append(args, filter.CredentialID)
		query += fmt.Sprintf(` WHERE credential_id = $%d`, len(args))
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var (
			r     model.SyncRun
			state string
		)
		if err := rows.Scan(&r.ID, &r.CredentialID, &state, &r.StartedAt, &r.CompletedAt,
			&r.Created, &r.Skipped, &r.Errored, &r.Error); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.State = model.RunState(state)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}
