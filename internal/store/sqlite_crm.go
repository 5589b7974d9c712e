package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/model"
)

func (s *SQLiteStore) CreateLead(ctx context.Context, lead model.NormalizedLead) (string, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crm_leads (id, external_id, name, email, phone, phone_digits, city, team_id, team_name, course_id, source_id, owner, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, lead.ExternalID, lead.Name, lead.Email, lead.Phone, model.DigitsOnly(lead.Phone), lead.City,
		lead.TeamID, lead.TeamName, lead.CourseRef, nullIfEmpty(lead.SourceRef), lead.AssignedOwner,
		lead.Notes, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert lead %s", lead.ExternalID)
	}
	return id, nil
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, ref string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM crm_leads WHERE id = ?`, ref)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete lead %s", ref)
	}
	return checkRowsAffected(res, "lead", ref)
}

// FindCourse matches a course by exact name first, then by substring in either
// direction, preferring the shortest catalog name.
func (s *SQLiteStore) FindCourse(ctx context.Context, name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, nil
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM crm_courses WHERE name = ? COLLATE NOCASE`, name,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, eris.Wrap(err, "sqlite: find course")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM crm_courses
		 WHERE instr(lower(name), lower(?1)) > 0 OR instr(lower(?1), lower(name)) > 0
		 ORDER BY length(name), name LIMIT 1`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: fuzzy find course")
	}
	return id, true, nil
}

func (s *SQLiteStore) EnsureSourceTag(ctx context.Context, tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", eris.New("sqlite: empty source tag")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crm_sources (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		newID(), tag,
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: ensure source %s", tag)
	}

	var id string
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM crm_sources WHERE name = ? COLLATE NOCASE`, tag,
	).Scan(&id); err != nil {
		return "", eris.Wrapf(err, "sqlite: load source %s", tag)
	}
	return id, nil
}

// FindOwnerByContact returns the owner of the most recent lead sharing the
// email or phone digits.
func (s *SQLiteStore) FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error) {
	if email == "" && phoneDigits == "" {
		return "", false, nil
	}
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner FROM crm_leads
		 WHERE owner IS NOT NULL AND owner <> ''
		   AND ((?1 <> '' AND lower(email) = lower(?1)) OR (?2 <> '' AND phone_digits = ?2))
		 ORDER BY created_at DESC LIMIT 1`,
		email, phoneDigits,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: find owner")
	}
	return owner, true, nil
}

func (s *SQLiteStore) UpsertCourses(ctx context.Context, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert courses")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO crm_courses (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			newID(), n,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert course %s", n)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert courses")
}

func (s *SQLiteStore) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM crm_courses ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list courses")
	}
	defer rows.Close() //nolint:errcheck

	var courses []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan course")
		}
		courses = append(courses, c)
	}
	return courses, eris.Wrap(rows.Err(), "sqlite: iterate courses")
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
