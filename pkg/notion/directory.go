// Package notion reads the sales team directory from a Notion database.
package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-sync/internal/model"
)

// Directory database property names.
const (
	PropName            = "Name"
	PropPreferredCities = "Preferred Cities"
	PropActive          = "Active"
	PropTeamID          = "Team ID"
)

// Querier is the part of the Notion database API the directory needs.
// notionapi.Client.Database satisfies it.
type Querier interface {
	Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// Option configures a Directory.
type Option func(*Directory)

// WithRateLimit overrides the default of 3 requests per second, Notion's
// published limit. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(d *Directory) {
		if rps > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			d.limiter = nil
		}
	}
}

// WithPageSize sets how many rows each query returns (Notion caps it at 100).
func WithPageSize(n int) Option {
	return func(d *Directory) {
		if n > 0 && n <= 100 {
			d.pageSize = n
		}
	}
}

// Directory reads teams from one Notion database.
type Directory struct {
	api      Querier
	dbID     notionapi.DatabaseID
	limiter  *rate.Limiter
	pageSize int
}

// NewDirectory connects to Notion with an integration token.
func NewDirectory(token, dbID string, opts ...Option) *Directory {
	return NewDirectoryWithQuerier(notionapi.NewClient(notionapi.Token(token)).Database, dbID, opts...)
}

// NewDirectoryWithQuerier builds a Directory over an existing API handle.
func NewDirectoryWithQuerier(api Querier, dbID string, opts ...Option) *Directory {
	d := &Directory{
		api:      api,
		dbID:     notionapi.DatabaseID(dbID),
		limiter:  rate.NewLimiter(3, 1),
		pageSize: 100,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Teams reads every directory row ordered by team id. Rows without a
// positive Team ID or a name are skipped.
func (d *Directory) Teams(ctx context.Context) ([]model.SalesTeam, error) {
	req := &notionapi.DatabaseQueryRequest{
		Sorts:    []notionapi.SortObject{{Property: PropTeamID, Direction: notionapi.SortOrderASC}},
		PageSize: d.pageSize,
	}

	var teams []model.SalesTeam
	for {
		resp, err := d.query(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Results {
			if team, ok := TeamFromPage(p); ok {
				teams = append(teams, team)
			}
		}
		if !resp.HasMore {
			return teams, nil
		}

		next := *req
		next.StartCursor = resp.NextCursor
		req = &next
	}
}

func (d *Directory) query(ctx context.Context, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "notion: read team directory")
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "notion: rate limit")
		}
	}
	resp, err := d.api.Query(ctx, d.dbID, req)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: query team directory %s", d.dbID)
	}
	return resp, nil
}

// TeamFromPage maps a directory row to a SalesTeam. It reports false for rows
// that cannot identify a team.
func TeamFromPage(p notionapi.Page) (model.SalesTeam, bool) {
	var team model.SalesTeam

	if prop, ok := p.Properties[PropTeamID].(*notionapi.NumberProperty); ok {
		team.ID = int64(prop.Number)
	}
	if prop, ok := p.Properties[PropName].(*notionapi.TitleProperty); ok {
		team.Name = plainText(prop.Title)
	}
	if prop, ok := p.Properties[PropPreferredCities].(*notionapi.RichTextProperty); ok {
		team.PreferredCities = plainText(prop.RichText)
	}
	if prop, ok := p.Properties[PropActive].(*notionapi.CheckboxProperty); ok {
		team.Active = prop.Checkbox
	}

	if team.ID <= 0 || team.Name == "" {
		return model.SalesTeam{}, false
	}
	return team, true
}

func plainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, r := range rt {
		b.WriteString(r.PlainText)
	}
	return strings.TrimSpace(b.String())
}
