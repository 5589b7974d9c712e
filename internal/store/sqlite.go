package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/lead-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying handle for subsystems that share the database,
// such as the table-backed run lock.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS portal_credentials (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL UNIQUE,
	login_url        TEXT NOT NULL,
	data_url         TEXT NOT NULL,
	username         TEXT NOT NULL,
	secret           TEXT NOT NULL,
	days_to_sync     INTEGER NOT NULL DEFAULT 7,
	active           INTEGER NOT NULL DEFAULT 1,
	session_strategy TEXT NOT NULL DEFAULT 'form',
	last_sync        DATETIME,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sales_teams (
	id               INTEGER PRIMARY KEY,
	name             TEXT NOT NULL,
	preferred_cities TEXT NOT NULL DEFAULT '',
	active           INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sync_audit (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	credential_id INTEGER NOT NULL,
	external_id   TEXT NOT NULL UNIQUE,
	lead_ref      TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id            TEXT PRIMARY KEY,
	credential_id INTEGER NOT NULL,
	state         TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	created       INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	errored       INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_locks (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS crm_courses (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS crm_sources (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS crm_leads (
	id           TEXT PRIMARY KEY,
	external_id  TEXT NOT NULL,
	name         TEXT NOT NULL,
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	phone_digits TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	team_id      INTEGER,
	team_name    TEXT NOT NULL DEFAULT '',
	course_id    TEXT,
	source_id    TEXT,
	owner        TEXT,
	notes        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_audit_credential ON sync_audit(credential_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_credential ON sync_runs(credential_id, started_at);
CREATE INDEX IF NOT EXISTS idx_crm_leads_email ON crm_leads(email);
CREATE INDEX IF NOT EXISTS idx_crm_leads_phone_digits ON crm_leads(phone_digits);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Credentials

const sqliteCredentialColumns = `id, name, login_url, data_url, username, secret, days_to_sync, active, session_strategy, last_sync, created_at, updated_at`

func (s *SQLiteStore) CreateCredential(ctx context.Context, cred *model.PortalCredential) error {
	cred.ApplyDefaults()
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO portal_credentials (name, login_url, data_url, username, secret, days_to_sync, active, session_strategy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.Name, cred.LoginURL, cred.DataURL, cred.Username, cred.Secret,
		cred.DaysToSync, cred.Active, string(cred.SessionStrategy), now, now,
	)
	if err != nil {
		return sqliteConstraint(err, "sqlite: insert credential "+cred.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: credential id")
	}

	cred.ID = id
	cred.CreatedAt = now
	cred.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateCredential(ctx context.Context, cred model.PortalCredential) error {
	cred.ApplyDefaults()
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_credentials
		 SET name = ?, login_url = ?, data_url = ?, username = ?, secret = ?, days_to_sync = ?, active = ?, session_strategy = ?, updated_at = ?
		 WHERE id = ?`,
		cred.Name, cred.LoginURL, cred.DataURL, cred.Username, cred.Secret, cred.DaysToSync,
		cred.Active, string(cred.SessionStrategy), time.Now().UTC(), cred.ID,
	)
	if err != nil {
		return sqliteConstraint(err, "sqlite: update credential "+cred.Name)
	}
	return checkRowsAffected(res, "credential", cred.Name)
}

func (s *SQLiteStore) GetCredential(ctx context.Context, name string) (*model.PortalCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCredentialColumns+` FROM portal_credentials WHERE name = ?`, name)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "credential %q", name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get credential")
	}
	return cred, nil
}

func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]model.PortalCredential, error) {
	return s.queryCredentials(ctx, `SELECT `+sqliteCredentialColumns+` FROM portal_credentials ORDER BY name`)
}

func (s *SQLiteStore) ActiveCredentials(ctx context.Context) ([]model.PortalCredential, error) {
	return s.queryCredentials(ctx, `SELECT `+sqliteCredentialColumns+` FROM portal_credentials WHERE active = 1 ORDER BY name`)
}

func (s *SQLiteStore) queryCredentials(ctx context.Context, query string) ([]model.PortalCredential, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list credentials")
	}
	defer rows.Close() //nolint:errcheck

	var creds []model.PortalCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan credential")
		}
		creds = append(creds, *c)
	}
	return creds, eris.Wrap(rows.Err(), "sqlite: iterate credentials")
}

func (s *SQLiteStore) SetLastSync(ctx context.Context, credentialID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_credentials SET last_sync = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), credentialID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set last sync %d", credentialID)
	}
	return checkRowsAffected(res, "credential", credentialID)
}

func (s *SQLiteStore) DeactivateCredential(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_credentials SET active = 0, updated_at = ? WHERE name = ?`,
		time.Now().UTC(), name,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate credential %s", name)
	}
	return checkRowsAffected(res, "credential", name)
}

// Teams

func (s *SQLiteStore) UpsertTeams(ctx context.Context, teams []model.SalesTeam) (int64, error) {
	if len(teams) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert teams")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, t := range teams {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sales_teams (id, name, preferred_cities, active) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name, preferred_cities = excluded.preferred_cities, active = excluded.active`,
			t.ID, t.Name, t.PreferredCities, t.Active,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert team %d", t.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert teams")
	}
	return n, nil
}

func (s *SQLiteStore) ListTeams(ctx context.Context, activeOnly bool) ([]model.SalesTeam, error) {
	query := `SELECT id, name, preferred_cities, active FROM sales_teams`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list teams")
	}
	defer rows.Close() //nolint:errcheck

	var teams []model.SalesTeam
	for rows.Next() {
		var t model.SalesTeam
		if err := rows.Scan(&t.ID, &t.Name, &t.PreferredCities, &t.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan team")
		}
		teams = append(teams, t)
	}
	return teams, eris.Wrap(rows.Err(), "sqlite: iterate teams")
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}

// sqliteConstraint maps unique violations to ErrDuplicate.
func sqliteConstraint(err error, msg string) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return eris.Wrap(ErrDuplicate, msg)
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return eris.Wrap(ErrDuplicate, msg)
	}
	return eris.Wrap(err, msg)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCredential(row scannable) (*model.PortalCredential, error) {
	var (
		c        model.PortalCredential
		strategy string
		lastSync sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &c.LoginURL, &c.DataURL, &c.Username, &c.Secret,
		&c.DaysToSync, &c.Active, &strategy, &lastSync, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.SessionStrategy = model.SessionStrategy(strategy)
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		c.LastSync = &t
	}
	return &c, nil
}

func newID() string {
	return uuid.New().String()
}
