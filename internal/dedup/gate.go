// Package dedup decides whether a portal lead has already been imported.
//
// The audit log is the only source of truth: a lead counts as imported once
// its external id has a row in the audit table, regardless of which
// credential imported it or whether the CRM record still exists.
package dedup

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/store"
)

var (
	// ErrAlreadyRecorded is returned by RecordImport when the external id
	// already has an audit entry.
	ErrAlreadyRecorded = eris.New("dedup: external id already recorded")
	// ErrEmptyExternalID is returned for blank external ids.
	ErrEmptyExternalID = eris.New("dedup: empty external id")
)

// AuditLog is the subset of the store used by the gate.
type AuditLog interface {
	HasImported(ctx context.Context, externalID string) (bool, error)
	RecordImport(ctx context.Context, entry model.SyncAuditEntry) error
}

// Gate answers has-this-been-imported and records successful imports.
type Gate struct {
	audit AuditLog
	now   func() time.Time
}

// New creates a Gate over the given audit log.
func New(audit AuditLog) *Gate {
	return &Gate{audit: audit, now: time.Now}
}

// HasImported reports whether externalID has an audit entry.
func (g *Gate) HasImported(ctx context.Context, externalID string) (bool, error) {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return false, ErrEmptyExternalID
	}
	ok, err := g.audit.HasImported(ctx, id)
	if err != nil {
		return false, eris.Wrapf(err, "dedup: check %s", id)
	}
	return ok, nil
}

// RecordImport writes the audit entry linking externalID to the created CRM
// lead. A second record for the same id fails with ErrAlreadyRecorded.
func (g *Gate) RecordImport(ctx context.Context, credentialID int64, externalID, leadRef string) error {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return ErrEmptyExternalID
	}
	err := g.audit.RecordImport(ctx, model.SyncAuditEntry{
		CredentialID: credentialID,
		ExternalID:   id,
		LeadRef:      leadRef,
		CreatedAt:    g.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return eris.Wrapf(ErrAlreadyRecorded, "external id %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "dedup: record %s", id)
	}
	return nil
}
