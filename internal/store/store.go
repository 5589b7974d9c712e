// Package store persists credentials, teams, the import audit log, run
// history and the built-in CRM tables.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = eris.New("store: duplicate")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	CredentialID int64 `json:"credential_id,omitempty"`
	Limit        int   `json:"limit,omitempty"`
}

// AuditFilter specifies criteria for listing audit entries.
type AuditFilter struct {
	CredentialID int64     `json:"credential_id,omitempty"`
	Since        time.Time `json:"since,omitempty"`
	Limit        int       `json:"limit,omitempty"`
}

func (f AuditFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// CredentialStore manages portal credentials.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *model.PortalCredential) error
	UpdateCredential(ctx context.Context, cred model.PortalCredential) error
	GetCredential(ctx context.Context, name string) (*model.PortalCredential, error)
	ListCredentials(ctx context.Context) ([]model.PortalCredential, error)
	ActiveCredentials(ctx context.Context) ([]model.PortalCredential, error)
	SetLastSync(ctx context.Context, credentialID int64, at time.Time) error
	DeactivateCredential(ctx context.Context, name string) error
}

// TeamStore manages the local copy of the sales team directory.
type TeamStore interface {
	UpsertTeams(ctx context.Context, teams []model.SalesTeam) (int64, error)
	ListTeams(ctx context.Context, activeOnly bool) ([]model.SalesTeam, error)
}

// AuditStore is the import audit log. RecordImport returns ErrDuplicate when
// the external id was already recorded.
type AuditStore interface {
	HasImported(ctx context.Context, externalID string) (bool, error)
	RecordImport(ctx context.Context, entry model.SyncAuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]model.SyncAuditEntry, error)
}

// RunStore records sync run history.
type RunStore interface {
	StartRun(ctx context.Context, credentialID int64, startedAt time.Time) (*model.SyncRun, error)
	UpdateRunState(ctx context.Context, runID string, state model.RunState) error
	CompleteRun(ctx context.Context, runID string, report model.SyncReport, completedAt time.Time) error
	FailRun(ctx context.Context, runID string, cause string, completedAt time.Time) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)
}

// LeadStore holds the built-in CRM tables used when no external CRM is
// configured.
type LeadStore interface {
	CreateLead(ctx context.Context, lead model.NormalizedLead) (string, error)
	DeleteLead(ctx context.Context, ref string) error
	FindCourse(ctx context.Context, name string) (string, bool, error)
	EnsureSourceTag(ctx context.Context, tag string) (string, error)
	FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error)
	UpsertCourses(ctx context.Context, names []string) error
	ListCourses(ctx context.Context) ([]Course, error)
}

// Course is a row of the built-in course catalog.
type Course struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store defines the persistence interface for lead sync.
type Store interface {
	CredentialStore
	TeamStore
	AuditStore
	RunStore
	LeadStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
