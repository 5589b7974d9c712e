// Package crm writes assembled leads to the configured CRM.
package crm

import (
	"context"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/store"
)

// Sink creates leads and serves the enrichment lookups.
type Sink interface {
	CreateLead(ctx context.Context, lead model.NormalizedLead) (string, error)
	DeleteLead(ctx context.Context, ref string) error
	FindCourse(ctx context.Context, name string) (string, bool, error)
	EnsureSourceTag(ctx context.Context, tag string) (string, error)
	FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error)
}

// LocalSink writes to the built-in CRM tables of the store.
type LocalSink struct {
	leads store.LeadStore
}

// NewLocalSink creates a LocalSink.
func NewLocalSink(leads store.LeadStore) *LocalSink {
	return &LocalSink{leads: leads}
}

func (s *LocalSink) CreateLead(ctx context.Context, lead model.NormalizedLead) (string, error) {
	return s.leads.CreateLead(ctx, lead)
}

func (s *LocalSink) DeleteLead(ctx context.Context, ref string) error {
	return s.leads.DeleteLead(ctx, ref)
}

func (s *LocalSink) FindCourse(ctx context.Context, name string) (string, bool, error) {
	return s.leads.FindCourse(ctx, name)
}

func (s *LocalSink) EnsureSourceTag(ctx context.Context, tag string) (string, error) {
	return s.leads.EnsureSourceTag(ctx, tag)
}

func (s *LocalSink) FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error) {
	return s.leads.FindOwnerByContact(ctx, email, phoneDigits)
}
