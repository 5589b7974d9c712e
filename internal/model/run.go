package model

import "time"

// RunState is a state of the per-run sync state machine.
type RunState string

const (
	RunStateFetching   RunState = "fetching"
	RunStateParsing    RunState = "parsing"
	RunStateIterating  RunState = "iterating"
	RunStatePersisting RunState = "persisting"
	RunStateDone       RunState = "done"
	RunStateFailed     RunState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// RowError records a non-fatal per-row failure.
type RowError struct {
	ExternalID string `json:"external_id"`
	Message    string `json:"message"`
}

// SyncReport summarizes one sync run.
type SyncReport struct {
	Created int        `json:"created"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// Processed returns the number of rows the run looked at.
func (r SyncReport) Processed() int {
	return r.Created + r.Skipped + len(r.Errors)
}

// ErrorRate returns the share of processed rows that failed.
func (r SyncReport) ErrorRate() float64 {
	n := r.Processed()
	if n == 0 {
		return 0
	}
	return float64(len(r.Errors)) / float64(n)
}

// SyncRun is one row of the run history.
type SyncRun struct {
	ID           string     `json:"id"`
	CredentialID int64      `json:"credential_id"`
	State        RunState   `json:"state"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Created      int        `json:"created"`
	Skipped      int        `json:"skipped"`
	Errored      int        `json:"errored"`
	Error        string     `json:"error,omitempty"`
}
