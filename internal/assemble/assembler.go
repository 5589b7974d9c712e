// Package assemble turns raw portal rows into CRM-ready leads.
package assemble

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/teammatch"
)

// DefaultSourceTag is the lead source used when none is configured.
const DefaultSourceTag = "Portal"

// Columns consulted when the row has no explicit city, in priority order.
var addressColumns = []string{"address", "street", "location"}

// Columns holding the course name, in priority order.
var courseColumns = []string{"course", "course_name", "program"}

var noteExcluded = map[string]bool{
	model.ColumnID:    true,
	model.ColumnName:  true,
	model.ColumnEmail: true,
	model.ColumnPhone: true,
	model.ColumnCity:  true,
}

// EnrichmentPorts are the CRM lookups used while assembling a lead.
type EnrichmentPorts interface {
	// FindCourse resolves a course name to a catalog reference.
	FindCourse(ctx context.Context, name string) (string, bool, error)
	// EnsureSourceTag returns the reference for tag, creating it on first use.
	EnsureSourceTag(ctx context.Context, tag string) (string, error)
	// FindOwnerByContact returns the salesperson already working a lead with
	// the same email or phone digits.
	FindOwnerByContact(ctx context.Context, email, phoneDigits string) (string, bool, error)
}

// Options configures an Assembler.
type Options struct {
	SourceTag   string
	DetectOwner bool
	Chooser     TeamChooser
	Logger      *zap.Logger
}

// Assembler maps RawLeadRecords to NormalizedLeads.
type Assembler struct {
	ports   EnrichmentPorts
	opts    Options
	log     *zap.Logger
	chooser TeamChooser
}

// New creates an Assembler. A nil Chooser falls back to RandomChooser.
func New(ports EnrichmentPorts, opts Options) *Assembler {
	if opts.SourceTag == "" {
		opts.SourceTag = DefaultSourceTag
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	chooser := opts.Chooser
	if chooser == nil {
		chooser = NewRandomChooser()
	}
	return &Assembler{ports: ports, opts: opts, log: log, chooser: chooser}
}

// Assemble builds a NormalizedLead from raw. teams may include inactive
// entries; only active teams are matched or chosen. Only a source tag failure
// is returned as an error; course and owner lookup failures leave the
// corresponding field empty.
func (a *Assembler) Assemble(ctx context.Context, raw model.RawLeadRecord, teams []model.SalesTeam) (model.NormalizedLead, error) {
	extID := strings.TrimSpace(raw.ExternalID())
	lead := model.NormalizedLead{
		ExternalID: extID,
		Name:       strings.TrimSpace(raw.Get(model.ColumnName)),
		Email:      strings.TrimSpace(raw.Get(model.ColumnEmail)),
		Phone:      strings.TrimSpace(raw.Get(model.ColumnPhone)),
		SourceTag:  a.opts.SourceTag,
		Notes:      BuildNotes(raw),
	}
	if lead.Name == "" {
		lead.Name = lead.Email
	}
	if lead.Name == "" {
		lead.Name = extID
	}

	lead.City = ExtractCity(raw)
	lead.NormalizedCity = teammatch.NormalizeCity(lead.City)

	active := model.ActiveTeams(teams)
	if team, ok := teammatch.Match(lead.City, active); ok {
		lead.TeamID, lead.TeamName = &team.ID, team.Name
	} else if team, ok := a.chooser.Choose(active); ok {
		lead.TeamID, lead.TeamName = &team.ID, team.Name
		a.log.Debug("assemble: fallback team",
			zap.String("external_id", extID),
			zap.String("city", lead.NormalizedCity),
			zap.Int64("team_id", team.ID),
		)
	}

	if course := firstValue(raw, courseColumns); course != "" {
		ref, found, err := a.ports.FindCourse(ctx, course)
		switch {
		case err != nil:
			a.log.Debug("assemble: course lookup failed",
				zap.String("external_id", extID), zap.String("course", course), zap.Error(err))
		case found:
			lead.CourseRef = &ref
		default:
			a.log.Debug("assemble: course not found",
				zap.String("external_id", extID), zap.String("course", course))
		}
	}

	src, err := a.ports.EnsureSourceTag(ctx, a.opts.SourceTag)
	if err != nil {
		return model.NormalizedLead{}, eris.Wrapf(err, "assemble: source tag %q", a.opts.SourceTag)
	}
	lead.SourceRef = src

	if a.opts.DetectOwner {
		digits := model.DigitsOnly(lead.Phone)
		if lead.Email != "" || digits != "" {
			owner, found, err := a.ports.FindOwnerByContact(ctx, lead.Email, digits)
			if err != nil {
				a.log.Debug("assemble: owner lookup failed",
					zap.String("external_id", extID), zap.Error(err))
			} else if found {
				lead.AssignedOwner = &owner
			}
		}
	}

	return lead, nil
}

// ExtractCity returns the city column, or the last comma-separated segment of
// the first non-empty address-like column.
func ExtractCity(raw model.RawLeadRecord) string {
	if city := strings.TrimSpace(raw.Get(model.ColumnCity)); city != "" {
		return city
	}
	addr := firstValue(raw, addressColumns)
	if addr == "" {
		return ""
	}
	parts := strings.Split(addr, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(parts[i]); seg != "" {
			return seg
		}
	}
	return ""
}

// BuildNotes renders every non-empty column outside the five identity columns
// as "column: value", one per line, in the row's column order.
func BuildNotes(raw model.RawLeadRecord) string {
	var lines []string
	for _, col := range raw.Columns {
		if noteExcluded[col] {
			continue
		}
		v := strings.TrimSpace(raw.Get(col))
		if v == "" {
			continue
		}
		lines = append(lines, col+": "+v)
	}
	return strings.Join(lines, "\n")
}

func firstValue(raw model.RawLeadRecord, cols []string) string {
	for _, c := range cols {
		if v := strings.TrimSpace(raw.Get(c)); v != "" {
			return v
		}
	}
	return ""
}
