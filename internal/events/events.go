// Package events publishes lead lifecycle notifications.
package events

import (
	"context"
	"time"
)

const (
	// DefaultExchange is the topic exchange lead events are published to.
	DefaultExchange = "lead-sync"
	// RoutingKeyLeadImported is the routing key of LeadImported events.
	RoutingKeyLeadImported = "lead.imported"
)

// LeadImported is emitted after a lead was created and its audit entry
// recorded.
type LeadImported struct {
	RunID        string    `json:"run_id"`
	CredentialID int64     `json:"credential_id"`
	ExternalID   string    `json:"external_id"`
	LeadRef      string    `json:"lead_ref"`
	TeamID       *int64    `json:"team_id,omitempty"`
	SourceTag    string    `json:"source_tag"`
	ImportedAt   time.Time `json:"imported_at"`
}

// Publisher delivers lead events.
type Publisher interface {
	PublishLeadImported(ctx context.Context, ev LeadImported) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishLeadImported(context.Context, LeadImported) error { return nil }
