package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/model"
)

// Audit

func (s *SQLiteStore) HasImported(ctx context.Context, externalID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sync_audit WHERE external_id = ?)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: has imported %s", externalID)
	}
	return exists == 1, nil
}

func (s *SQLiteStore) RecordImport(ctx context.Context, entry model.SyncAuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_audit (credential_id, external_id, lead_ref, created_at) VALUES (?, ?, ?, ?)`,
		entry.CredentialID, entry.ExternalID, entry.LeadRef, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return sqliteConstraint(err, "sqlite: record import "+entry.ExternalID)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.SyncAuditEntry, error) {
	query := `SELECT id, credential_id, external_id, lead_ref, created_at FROM sync_audit WHERE 1 = 1`
	var args []any
	if filter.CredentialID != 0 {
		query += ` AND credential_id = ?`
		args = append(args, filter.CredentialID)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.SyncAuditEntry
	for rows.Next() {
		var e model.SyncAuditEntry
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.ExternalID, &e.LeadRef, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate audit")
}

// Runs

func (s *SQLiteStore) StartRun(ctx context.Context, credentialID int64, startedAt time.Time) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:           newID(),
		CredentialID: credentialID,
		State:        model.RunStateFetching,
		StartedAt:    startedAt.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, credential_id, state, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.CredentialID, string(run.State), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRunState(ctx context.Context, runID string, state model.RunState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET state = ? WHERE id = ?`, string(state), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run state %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, report model.SyncReport, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET state = ?, completed_at = ?, created = ?, skipped = ?, errored = ? WHERE id = ?`,
		string(model.RunStateDone), completedAt.UTC(), report.Created, report.Skipped, len(report.Errors), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET state = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunStateFailed), completedAt.UTC(), cause, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, credential_id, state, started_at, completed_at, created, skipped, errored, error FROM sync_runs`
	var args []any
	if filter.CredentialID != 0 {
		query += ` WHERE credential_id = ?`
		args = append(args, filter.CredentialID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.SyncRun
	for rows.Next() {
		var (
			r         model.SyncRun
			state     string
			completed sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.CredentialID, &state, &r.StartedAt, &completed,
			&r.Created, &r.Skipped, &r.Errored, &r.Error); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.State = model.RunState(state)
		if completed.Valid {
			t := completed.Time.UTC()
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}
