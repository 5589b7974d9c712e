package model

import (
	"fmt"
	"time"
)

// SessionStrategy names the portal login recipe used for a credential.
type SessionStrategy string

const (
	SessionStrategyForm  SessionStrategy = "form"
	SessionStrategyCSRF  SessionStrategy = "csrf"
	SessionStrategyBasic SessionStrategy = "basic"
)

// Portal defaults carried over from the original portal integration.
const (
	DefaultLoginURL   = "https://www.cindrebay.in/action.php"
	DefaultDataURL    = "https://www.cindrebay.in/download-data.php"
	DefaultDaysToSync = 7

	windowDateLayout = "2006-01-02"
)

// PortalCredential holds the login and download settings for one lead portal.
// It is created by an operator and is read-only to the sync pipeline, except
// for LastSync which advances after every completed run.
type PortalCredential struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	LoginURL        string          `json:"login_url"`
	DataURL         string          `json:"data_url"`
	Username        string          `json:"username"`
	Secret          string          `json:"-"`
	DaysToSync      int             `json:"days_to_sync"`
	Active          bool            `json:"active"`
	SessionStrategy SessionStrategy `json:"session_strategy"`
	LastSync        *time.Time      `json:"last_sync,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ApplyDefaults fills unset fields with the portal defaults.
func (c *PortalCredential) ApplyDefaults() {
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.DataURL == "" {
		c.DataURL = DefaultDataURL
	}
	if c.DaysToSync <= 0 {
		c.DaysToSync = DefaultDaysToSync
	}
	if c.SessionStrategy == "" {
		c.SessionStrategy = SessionStrategyForm
	}
}

// Window returns the from/to dates (YYYY-MM-DD) of the fetch window ending at now.
func (c PortalCredential) Window(now time.Time) (from, to string) {
	days := c.DaysToSync
	if days <= 0 {
		days = DefaultDaysToSync
	}
	end := now.UTC()
	return end.AddDate(0, 0, -days).Format(windowDateLayout), end.Format(windowDateLayout)
}

// String renders the credential without its secret.
func (c PortalCredential) String() string {
	return fmt.Sprintf("PortalCredential{id=%d name=%q user=%q secret=[redacted]}", c.ID, c.Name, c.Username)
}
