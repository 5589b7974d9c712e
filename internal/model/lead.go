package model

import (
	"strings"
	"time"
)

// RawLeadRecord is one row of the fetched tabular file. Columns keeps the
// normalized header names in the file's original order.
type RawLeadRecord struct {
	Columns []string          `json:"columns"`
	Values  map[string]string `json:"values"`
}

// NewRawLeadRecord builds a record from parallel column and value slices.
// Missing trailing values become empty strings.
func NewRawLeadRecord(columns, values []string) RawLeadRecord {
	rec := RawLeadRecord{
		Columns: columns,
		Values:  make(map[string]string, len(columns)),
	}
	for i, col := range columns {
		if i < len(values) {
			rec.Values[col] = values[i]
		} else {
			rec.Values[col] = ""
		}
	}
	return rec
}

// Get returns the value stored under the normalized column name.
func (r RawLeadRecord) Get(col string) string {
	return r.Values[col]
}

// ExternalID returns the portal-assigned lead id.
func (r RawLeadRecord) ExternalID() string {
	return r.Values[ColumnID]
}

// Required columns of every portal export.
const (
	ColumnID    = "id"
	ColumnName  = "name"
	ColumnEmail = "email"
	ColumnPhone = "phone"
	ColumnCity  = "city"
)

// RequiredColumns lists the columns a payload must contain, in report order.
var RequiredColumns = []string{ColumnID, ColumnName, ColumnEmail, ColumnPhone, ColumnCity}

// NormalizedLead is a lead ready to be written to the CRM.
type NormalizedLead struct {
	ExternalID     string  `json:"external_id"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	City           string  `json:"city"`
	NormalizedCity string  `json:"normalized_city"`
	TeamID         *int64  `json:"team_id,omitempty"`
	TeamName       string  `json:"team_name,omitempty"`
	CourseRef      *string `json:"course_ref,omitempty"`
	SourceTag      string  `json:"source_tag"`
	SourceRef      string  `json:"source_ref,omitempty"`
	AssignedOwner  *string `json:"assigned_owner,omitempty"`
	Notes          string  `json:"notes"`
}

// SyncAuditEntry proves that an external id has been imported. Entries are
// immutable once written.
type SyncAuditEntry struct {
	ID           int64     `json:"id"`
	CredentialID int64     `json:"credential_id"`
	ExternalID   string    `json:"external_id"`
	LeadRef      string    `json:"lead_ref"`
	CreatedAt    time.Time `json:"created_at"`
}

// DigitsOnly strips everything but ASCII digits from a phone number.
func DigitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
