package crm

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/pkg/salesforce"
)

// Custom Lead fields provisioned in the org.
const (
	FieldExternalID = "External_Id__c"
	FieldSalesTeam  = "Sales_Team__c"
	FieldCourse     = "Course__c"
)

// SalesforceSink writes leads as Salesforce Lead records. Courses are Product2
// records and source tags are Campaigns.
type SalesforceSink struct {
	client  salesforce.Client
	company string
	log     *zap.Logger

	mu        sync.Mutex
	campaigns map[string]string
}

// NewSalesforceSink creates a SalesforceSink. company fills the required Lead
// Company field, since portal leads are individuals.
func NewSalesforceSink(client salesforce.Client, company string, log *zap.Logger) *SalesforceSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &SalesforceSink{
		client:    client,
		company:   company,
		log:       log,
		campaigns: make(map[string]string),
	}
}

// CreateLead inserts the Lead and, when the lead carries a campaign reference,
// links it through a CampaignMember. A failed link removes the Lead again.
func (s *SalesforceSink) CreateLead(ctx context.Context, lead model.NormalizedLead) (string, error) {
	id, err := salesforce.CreateLead(ctx, s.client, leadFields(lead, s.company))
	if err != nil {
		return "", eris.Wrapf(err, "crm: salesforce lead %s", lead.ExternalID)
	}
	if lead.SourceRef == "" {
		return id, nil
	}

	_, err = s.client.InsertOne(ctx, "CampaignMember", map[string]any{
		"CampaignId": lead.SourceRef,
		"LeadId":     id,
		"Status":     "Responded",
	})
	if err != nil {
		if derr := salesforce.DeleteLead(ctx, s.client, id); derr != nil {
			s.log.Error("crm: orphaned salesforce lead",
				zap.String("lead_id", id), zap.String("external_id", lead.ExternalID), zap.Error(derr))
		}
		return "", eris.Wrapf(err, "crm: campaign member for %s", lead.ExternalID)
	}
	return id, nil
}

func (s *SalesforceSink) DeleteLead(ctx context.Context, ref string) error {
	return salesforce.DeleteLead(ctx, s.client, ref)
}

func (s *SalesforceSink) FindCourse(ctx context.Context, name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, nil
	}
	p, err := salesforce.FindProductByName(ctx, s.client, name)
	if err != nil {
		return "", false, err
	}
	if p == nil {
		return "", false, nil
	}
	return p.ID, true, nil
}

// EnsureSourceTag resolves the campaign once per sink.
func (s *SalesforceSink) EnsureSourceTag(ctx context.Context, tag string) (string, error) {
	s.mu.Lock()
	id, ok := s.campaigns[tag]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := salesforce.FindOrCreateCampaign(ctx, s.client, tag)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.campaigns[tag] = id
	s.mu.Unlock()
	return id, nil
}

func (s *SalesforceSink) FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error) {
	owner, err := salesforce.FindLeadOwner(ctx, s.client, email, phoneDigits)
	if err != nil {
		return "", false, err
	}
	return owner, owner != "", nil
}

func leadFields(lead model.NormalizedLead, company string) map[string]any {
	fields := map[string]any{
		"LastName":      lead.Name,
		"Company":       company,
		"LeadSource":    lead.SourceTag,
		FieldExternalID: lead.ExternalID,
	}
	set := func(k, v string) {
		if v != "" {
			fields[k] = v
		}
	}
	set("Email", lead.Email)
	set("Phone", lead.Phone)
	set("City", lead.City)
	set("Description", lead.Notes)
	set(FieldSalesTeam, lead.TeamName)
	if lead.CourseRef != nil {
		fields[FieldCourse] = *lead.CourseRef
	}
	if lead.AssignedOwner != nil {
		fields["OwnerId"] = *lead.AssignedOwner
	}
	return fields
}
