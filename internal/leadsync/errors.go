package leadsync

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrRunInProgress is returned when another run holds the credential's
	// lock.
	ErrRunInProgress = eris.New("leadsync: run already in progress")
	// ErrNoActiveCredential is returned when no credential name was given
	// and none is active.
	ErrNoActiveCredential = eris.New("leadsync: no active credential")
	// ErrAmbiguousCredential is returned when no credential name was given
	// and more than one is active.
	ErrAmbiguousCredential = eris.New("leadsync: more than one active credential, pass a name")
	// ErrCredentialInactive is returned when the named credential is
	// deactivated.
	ErrCredentialInactive = eris.New("leadsync: credential is inactive")
)

// RowPersistError is a per-row failure while writing a lead. It never aborts
// the run.
type RowPersistError struct {
	ExternalID string
	Err        error
}

func (e *RowPersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.ExternalID, e.Err)
}

func (e *RowPersistError) Unwrap() error { return e.Err }
