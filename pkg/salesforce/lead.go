package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead is the subset of a Salesforce Lead read back by the sink.
type Lead struct {
	ID      string `json:"Id" salesforce:"Id"`
	OwnerID string `json:"OwnerId" salesforce:"OwnerId"`
	Email   string `json:"Email" salesforce:"Email"`
	Phone   string `json:"Phone" salesforce:"Phone"`
}

// Product2 is a catalog product; courses are stored as products.
type Product2 struct {
	ID   string `json:"Id" salesforce:"Id"`
	Name string `json:"Name" salesforce:"Name"`
}

// Campaign groups leads by acquisition source.
type Campaign struct {
	ID   string `json:"Id" salesforce:"Id"`
	Name string `json:"Name" salesforce:"Name"`
}

// CreateLead inserts a Lead and returns its Salesforce ID. LastName and
// Company are required by the Lead object.
func CreateLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	for _, f := range []string{"LastName", "Company"} {
		if v, _ := fields[f].(string); v == "" {
			return "", eris.Errorf("sf: lead %s is required", f)
		}
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// DeleteLead removes a Lead by ID.
func DeleteLead(ctx context.Context, c Client, id string) error {
	if id == "" {
		return eris.New("sf: lead id is required")
	}
	return eris.Wrap(c.DeleteOne(ctx, "Lead", id), "sf: delete lead")
}

// FindProductByName returns the active product whose name best matches name:
// an exact match first, then the shortest name containing it. Returns nil if
// nothing matches.
func FindProductByName(ctx context.Context, c Client, name string) (*Product2, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name FROM Product2 WHERE IsActive = true AND Name LIKE '%%%s%%' LIMIT 20",
		escapeLike(name),
	)
	var products []Product2
	if err := c.Query(ctx, soql, &products); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find product %s", name))
	}
	if len(products) == 0 {
		return nil, nil
	}
	best := 0
	for i, p := range products {
		if strings.EqualFold(p.Name, name) {
			return &products[i], nil
		}
		if len(p.Name) < len(products[best].Name) {
			best = i
		}
	}
	return &products[best], nil
}

// FindOrCreateCampaign returns the ID of the campaign named name, creating it
// when absent.
func FindOrCreateCampaign(ctx context.Context, c Client, name string) (string, error) {
	if name == "" {
		return "", eris.New("sf: campaign name is required")
	}
	soql := fmt.Sprintf("SELECT Id, Name FROM Campaign WHERE Name = '%s' LIMIT 1", escapeSoql(name))
	var campaigns []Campaign
	if err := c.Query(ctx, soql, &campaigns); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: find campaign %s", name))
	}
	if len(campaigns) > 0 {
		return campaigns[0].ID, nil
	}
	id, err := c.InsertOne(ctx, "Campaign", map[string]any{"Name": name, "IsActive": true})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create campaign %s", name))
	}
	return id, nil
}

// phoneSuffixLen is how many trailing digits identify a phone number. It
// drops country codes and trunk prefixes. Stored phones are free-form, so the
// query only filters on the last phoneLikeLen digits and the rest is checked
// after digits are extracted.
const (
	phoneSuffixLen = 10
	phoneLikeLen   = 4
)

// FindLeadOwner returns the owner of the newest Lead with the same email or a
// phone ending in the same digits. Returns "" if none.
func FindLeadOwner(ctx context.Context, c Client, email, phoneDigits string) (string, error) {
	var conds []string
	if email != "" {
		conds = append(conds, fmt.Sprintf("Email = '%s'", escapeSoql(email)))
	}
	suffix := phoneDigits
	if len(suffix) > phoneSuffixLen {
		suffix = suffix[len(suffix)-phoneSuffixLen:]
	}
	if len(suffix) >= phoneLikeLen {
		conds = append(conds, fmt.Sprintf("Phone LIKE '%%%s'", escapeLike(suffix[len(suffix)-phoneLikeLen:])))
	} else {
		suffix = ""
	}
	if len(conds) == 0 {
		return "", nil
	}

	soql := "SELECT Id, OwnerId, Email, Phone FROM Lead WHERE " +
		strings.Join(conds, " OR ") + " ORDER BY CreatedDate DESC LIMIT 10"
	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return "", eris.Wrap(err, "sf: find lead owner")
	}
	for _, l := range leads {
		if l.OwnerID == "" {
			continue
		}
		if email != "" && strings.EqualFold(l.Email, email) {
			return l.OwnerID, nil
		}
		if suffix != "" && strings.HasSuffix(digits(l.Phone), suffix) {
			return l.OwnerID, nil
		}
	}
	return "", nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// escapeLike also escapes the LIKE wildcards.
func escapeLike(s string) string {
	s = escapeSoql(s)
	s = strings.ReplaceAll(s, "%", "\\%")
	return strings.ReplaceAll(s, "_", "\\_")
}
