package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/db"
	"github.com/sells-group/lead-sync/internal/model"
)

// pgUniqueViolation is the SQLSTATE of a unique constraint violation.
const pgUniqueViolation = "23505"

// courseSimilarityThreshold is the minimum pg_trgm similarity for a fuzzy
// course match.
const courseSimilarityThreshold = 0.3

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	cfg := db.PoolConfig{MaxConns: 10, MinConns: 2}
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			cfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			cfg.MinConns = poolCfg.MinConns
		}
	}
	pool, err := db.Connect(ctx, connString, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that share it,
// such as the advisory run lock.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS portal_credentials (
	id               BIGSERIAL PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	login_url        TEXT NOT NULL,
	data_url         TEXT NOT NULL,
	username         TEXT NOT NULL,
	secret           TEXT NOT NULL,
	days_to_sync     INTEGER NOT NULL DEFAULT 7,
	active           BOOLEAN NOT NULL DEFAULT true,
	session_strategy TEXT NOT NULL DEFAULT 'form',
	last_sync        TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sales_teams (
	id               BIGINT PRIMARY KEY,
	name             TEXT NOT NULL,
	preferred_cities TEXT NOT NULL DEFAULT '',
	active           BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS sync_audit (
	id            BIGSERIAL PRIMARY KEY,
	credential_id BIGINT NOT NULL,
	external_id   TEXT NOT NULL UNIQUE,
	lead_ref      TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id            TEXT PRIMARY KEY,
	credential_id BIGINT NOT NULL,
	state         TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	created       INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	errored       INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS crm_courses (
	id   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS crm_sources (
	id   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS crm_leads (
	id           TEXT PRIMARY KEY,
	external_id  TEXT NOT NULL,
	name         TEXT NOT NULL,
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	phone_digits TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	team_id      BIGINT,
	team_name    TEXT NOT NULL DEFAULT '',
	course_id    TEXT REFERENCES crm_courses(id),
	source_id    TEXT REFERENCES crm_sources(id),
	owner        TEXT,
	notes        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sync_audit_credential ON sync_audit(credential_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_credential ON sync_runs(credential_id, started_at);
CREATE INDEX IF NOT EXISTS idx_crm_courses_name_trgm ON crm_courses USING gin (name gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_crm_leads_email ON crm_leads(lower(email));
CREATE INDEX IF NOT EXISTS idx_crm_leads_phone_digits ON crm_leads(phone_digits);
`

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Credentials

const pgCredentialColumns = `id, name, login_url, data_url, username, secret, days_to_sync, active, session_strategy, last_sync, created_at, updated_at`

func (s *PostgresStore) CreateCredential(ctx context.Context, cred *model.PortalCredential) error {
	cred.ApplyDefaults()
	now := time.Now().UTC()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO portal_credentials (name, login_url, data_url, username, secret, days_to_sync, active, session_strategy, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		cred.Name, cred.LoginURL, cred.DataURL, cred.Username, cred.Secret,
		cred.DaysToSync, cred.Active, string(cred.SessionStrategy), now, now,
	).Scan(&cred.ID)
	if err != nil {
		return pgConstraint(err, "postgres: insert credential "+cred.Name)
	}
	cred.CreatedAt = now
	cred.UpdatedAt = now
	return nil
}

func (s *PostgresStore) UpdateCredential(ctx context.Context, cred model.PortalCredential) error {
	cred.ApplyDefaults()
	tag, err := s.pool.Exec(ctx,
		`UPDATE portal_credentials
		 SET name = $1, login_url = $2, data_url = $3, username = $4, secret = $5, days_to_sync = $6, active = $7, session_strategy = $8, updated_at = $9
		 WHERE id = $10`,
		cred.Name, cred.LoginURL, cred.DataURL, cred.Username, cred.Secret, cred.DaysToSync,
		cred.Active, string(cred.SessionStrategy), time.Now().UTC(), cred.ID,
	)
	if err != nil {
		return pgConstraint(err, "postgres: update credential "+cred.Name)
	}
	return pgRowsAffected(tag, "credential", cred.Name)
}

func (s *PostgresStore) GetCredential(ctx context.Context, name string) (*model.PortalCredential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCredentialColumns+` FROM portal_credentials WHERE name = $1`, name)
	cred, err := scanPGCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "credential %q", name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get credential")
	}
	return cred, nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context) ([]model.PortalCredential, error) {
	return s.queryCredentials(ctx, `SELECT `+pgCredentialColumns+` FROM portal_credentials ORDER BY name`)
}

func (s *PostgresStore) ActiveCredentials(ctx context.Context) ([]model.PortalCredential, error) {
	return s.queryCredentials(ctx, `SELECT `+pgCredentialColumns+` FROM portal_credentials WHERE active ORDER BY name`)
}

func (s *PostgresStore) queryCredentials(ctx context.Context, query string) ([]model.PortalCredential, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list credentials")
	}
	defer rows.Close()

	var creds []model.PortalCredential
	for rows.Next() {
		c, err := scanPGCredential(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan credential")
		}
		creds = append(creds, *c)
	}
	return creds, eris.Wrap(rows.Err(), "postgres: iterate credentials")
}

func (s *PostgresStore) SetLastSync(ctx context.Context, credentialID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portal_credentials SET last_sync = $1, updated_at = now() WHERE id = $2`,
		at.UTC(), credentialID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set last sync %d", credentialID)
	}
	return pgRowsAffected(tag, "credential", credentialID)
}

func (s *PostgresStore) DeactivateCredential(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE portal_credentials SET active = false, updated_at = now() WHERE name = $1`, name,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate credential %s", name)
	}
	return pgRowsAffected(tag, "credential", name)
}

// Teams

var teamColumns = []string{"id", "name", "preferred_cities", "active"}

// UpsertTeams replaces the directory entries it is given in one transaction.
// The batch is copied into a staging table first so a large directory costs
// one round trip, then merged by team id.
func (s *PostgresStore) UpsertTeams(ctx context.Context, teams []model.SalesTeam) (int64, error) {
	if len(teams) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert teams")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE team_stage (LIKE sales_teams INCLUDING DEFAULTS) ON COMMIT DROP`,
	); err != nil {
		return 0, eris.Wrap(err, "postgres: create team stage")
	}

	src := pgx.CopyFromSlice(len(teams), func(i int) ([]any, error) {
		t := teams[i]
		return []any{t.ID, t.Name, t.PreferredCities, t.Active}, nil
	})
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"team_stage"}, teamColumns, src); err != nil {
		return 0, eris.Wrap(err, "postgres: copy teams into stage")
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO sales_teams (id, name, preferred_cities, active)
		 SELECT id, name, preferred_cities, active FROM team_stage
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			preferred_cities = EXCLUDED.preferred_cities,
			active = EXCLUDED.active`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: merge teams")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert teams")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, activeOnly bool) ([]model.SalesTeam, error) {
	query := `SELECT id, name, preferred_cities, active FROM sales_teams`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list teams")
	}
	defer rows.Close()

	var teams []model.SalesTeam
	for rows.Next() {
		var t model.SalesTeam
		if err := rows.Scan(&t.ID, &t.Name, &t.PreferredCities, &t.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan team")
		}
		teams = append(teams, t)
	}
	return teams, eris.Wrap(rows.Err(), "postgres: iterate teams")
}

// helpers

func pgConstraint(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return eris.Wrap(ErrDuplicate, msg)
	}
	return eris.Wrap(err, msg)
}

func pgRowsAffected(tag pgconn.CommandTag, entity string, id any) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}

func scanPGCredential(row scannable) (*model.PortalCredential, error) {
	var (
		c        model.PortalCredential
		strategy string
	)
	err := row.Scan(&c.ID, &c.Name, &c.LoginURL, &c.DataURL, &c.Username, &c.Secret,
		&c.DaysToSync, &c.Active, &strategy, &c.LastSync, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.SessionStrategy = model.SessionStrategy(strings.TrimSpace(strategy))
	return &c, nil
}
