package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/model"
)

func (s *PostgresStore) CreateLead(ctx context.Context, lead model.NormalizedLead) (string, error) {
	id := newID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crm_leads (id, external_id, name, email, phone, phone_digits, city, team_id, team_name, course_id, source_id, owner, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, lead.ExternalID, lead.Name, lead.Email, lead.Phone, model.DigitsOnly(lead.Phone), lead.City,
		lead.TeamID, lead.TeamName, lead.CourseRef, nullIfEmpty(lead.SourceRef), lead.AssignedOwner, lead.Notes,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert lead %s", lead.ExternalID)
	}
	return id, nil
}

func (s *PostgresStore) DeleteLead(ctx context.Context, ref string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crm_leads WHERE id = $1`, ref)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete lead %s", ref)
	}
	return pgRowsAffected(tag, "lead", ref)
}

// FindCourse prefers an exact case-insensitive match, then a substring match
// in either direction, then the closest trigram match.
func (s *PostgresStore) FindCourse(ctx context.Context, name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, nil
	}

	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM crm_courses
		 WHERE lower(name) = lower($1)
		    OR name ILIKE '%' || $1 || '%'
		    OR $1 ILIKE '%' || name || '%'
		    OR similarity(name, $1) > $2
		 ORDER BY (lower(name) = lower($1)) DESC, similarity(name, $1) DESC, length(name)
		 LIMIT 1`,
		name, courseSimilarityThreshold,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: find course")
	}
	return id, true, nil
}

func (s *PostgresStore) EnsureSourceTag(ctx context.Context, tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", eris.New("postgres: empty source tag")
	}
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO crm_sources (id, name) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = crm_sources.name
		 RETURNING id`,
		newID(), tag,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: ensure source %s", tag)
	}
	return id, nil
}

func (s *PostgresStore) FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error) {
	if email == "" && phoneDigits == "" {
		return "", false, nil
	}
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT owner FROM crm_leads
		 WHERE owner IS NOT NULL AND owner <> ''
		   AND (($1 <> '' AND lower(email) = lower($1)) OR ($2 <> '' AND phone_digits = $2))
		 ORDER BY created_at DESC LIMIT 1`,
		email, phoneDigits,
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: find owner")
	}
	return owner, true, nil
}

func (s *PostgresStore) UpsertCourses(ctx context.Context, names []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert courses")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO crm_courses (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
			newID(), n,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert course %s", n)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert courses")
}

func (s *PostgresStore) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM crm_courses ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list courses")
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan course")
		}
		courses = append(courses, c)
	}
	return courses, eris.Wrap(rows.Err(), "postgres: iterate courses")
}
