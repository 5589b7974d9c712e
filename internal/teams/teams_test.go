package teams

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/store"
	"github.com/sells-group/lead-sync/pkg/notion"
)

const sampleYAML = `
teams:
  - id: 1
    name: Bangalore
    preferred_cities: Mysore, Mangalore
    active: true
  - id: 2
    name: Chennai
    preferred_cities: Coimbatore
    active: false
`

func TestParseYAML(t *testing.T) {
	teams, err := ParseYAML(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, []model.SalesTeam{
		{ID: 1, Name: "Bangalore", PreferredCities: "Mysore, Mangalore", Active: true},
		{ID: 2, Name: "Chennai", PreferredCities: "Coimbatore", Active: false},
	}, teams)
}

func TestParseYAML_ActiveDefaultsTrue(t *testing.T) {
	teams, err := ParseYAML(strings.NewReader("teams:\n  - id: 4\n    name: Kochi\n    preferred_cities: Ernakulam\n"))
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.True(t, teams[0].Active)
}

func TestParseYAML_Empty(t *testing.T) {
	teams, err := ParseYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, teams)
}

func TestParseYAML_UnknownField(t *testing.T) {
	_, err := ParseYAML(strings.NewReader("teams:\n  - id: 1\n    name: A\n    colour: red\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	err := Validate([]model.SalesTeam{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}, {ID: 0, Name: ""}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id 1")
	assert.Contains(t, err.Error(), "id must be positive")
	assert.Contains(t, err.Error(), "name is required")

	assert.NoError(t, Validate(nil))
}

func TestImport_YAMLIntoSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "teams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	s, err := store.NewSQLite(filepath.Join(dir, "teams.db"))
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	n, err := Import(ctx, YAMLSource{Path: path}, s, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err := s.ListTeams(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Bangalore", active[0].Name)
}

func TestImport_MissingFile(t *testing.T) {
	_, err := Import(context.Background(), YAMLSource{Path: "/nonexistent/teams.yaml"}, nil, zap.NewNop())
	assert.Error(t, err)
}

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func TestNotionSource(t *testing.T) {
	mc := &mockNotion{}
	mc.On("Query", mock.Anything, notionapi.DatabaseID("db"), mock.Anything).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{Properties: notionapi.Properties{
			"Team ID": &notionapi.NumberProperty{Number: 4},
			"Name":    &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: "Pune"}}},
			"Active":  &notionapi.CheckboxProperty{Checkbox: true},
		}}},
	}, nil)

	dir := notion.NewDirectoryWithQuerier(mc, "db", notion.WithRateLimit(0))
	teams, err := NotionSource{Directory: dir}.Teams(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.SalesTeam{{ID: 4, Name: "Pune", Active: true}}, teams)
}
