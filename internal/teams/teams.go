// Package teams loads the sales team directory from a YAML file or a Notion
// database into the store.
package teams

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-sync/internal/model"
	"github.com/sells-group/lead-sync/internal/store"
	"github.com/sells-group/lead-sync/pkg/notion"
)

// Source yields the team directory.
type Source interface {
	Teams(ctx context.Context) ([]model.SalesTeam, error)
}

// File is the YAML layout of a team directory file.
type File struct {
	Teams []Entry `yaml:"teams"`
}

// Entry is one team in a directory file. A missing active key means active.
type Entry struct {
	ID              int64  `yaml:"id"`
	Name            string `yaml:"name"`
	PreferredCities string `yaml:"preferred_cities"`
	Active          *bool  `yaml:"active"`
}

// Team converts the entry to a SalesTeam.
func (e Entry) Team() model.SalesTeam {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return model.SalesTeam{ID: e.ID, Name: e.Name, PreferredCities: e.PreferredCities, Active: active}
}

// YAMLSource reads teams from a YAML document.
type YAMLSource struct {
	Path string
}

func (s YAMLSource) Teams(_ context.Context) ([]model.SalesTeam, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "teams: open %s", s.Path)
	}
	defer f.Close() //nolint:errcheck
	return ParseYAML(f)
}

// ParseYAML decodes and validates a team directory document.
func ParseYAML(r io.Reader) ([]model.SalesTeam, error) {
	var doc File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "teams: decode yaml")
	}
	teams := make([]model.SalesTeam, 0, len(doc.Teams))
	for _, e := range doc.Teams {
		teams = append(teams, e.Team())
	}
	if err := Validate(teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// NotionSource reads teams from a Notion directory database.
type NotionSource struct {
	Directory *notion.Directory
}

func (s NotionSource) Teams(ctx context.Context) ([]model.SalesTeam, error) {
	teams, err := s.Directory.Teams(ctx)
	if err != nil {
		return nil, err
	}
	if err := Validate(teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// Validate rejects teams without a positive id or name and duplicate ids.
func Validate(teams []model.SalesTeam) error {
	var problems []string
	seen := make(map[int64]bool, len(teams))
	for i, t := range teams {
		switch {
		case t.ID <= 0:
			problems = append(problems, fmt.Sprintf("team %d: id must be positive", i))
		case seen[t.ID]:
			problems = append(problems, fmt.Sprintf("team %d: duplicate id %d", i, t.ID))
		}
		seen[t.ID] = true
		if strings.TrimSpace(t.Name) == "" {
			problems = append(problems, fmt.Sprintf("team %d: name is required", i))
		}
	}
	if len(problems) > 0 {
		return eris.Errorf("teams: invalid directory: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Import reads src and upserts every team by id.
func Import(ctx context.Context, src Source, st store.TeamStore, log *zap.Logger) (int64, error) {
	teams, err := src.Teams(ctx)
	if err != nil {
		return 0, err
	}
	n, err := st.UpsertTeams(ctx, teams)
	if err != nil {
		return 0, eris.Wrap(err, "teams: upsert")
	}
	log.Info("teams imported",
		zap.Int("read", len(teams)),
		zap.Int64("upserted", n),
		zap.Int("active", len(model.ActiveTeams(teams))),
	)
	return n, nil
}
