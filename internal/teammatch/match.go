// Package teammatch picks the sales team whose name or preferred cities best
// fit a lead's city.
package teammatch

import (
	"sort"
	"strings"

	"github.com/sells-group/lead-sync/internal/model"
)

// NormalizeCity trims and lowercases a city for matching.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// Match returns the first team whose name, then whose preferred-city list,
// overlaps the city by substring in either direction. Teams are consulted in
// slice order; callers that need a stable tie-break should pass teams through
// SortTeams first. A blank city never matches.
func Match(city string, teams []model.SalesTeam) (model.SalesTeam, bool) {
	norm := NormalizeCity(city)
	if norm == "" {
		return model.SalesTeam{}, false
	}

	for _, t := range teams {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			continue
		}
		if overlaps(norm, name) {
			return t, true
		}
	}

	for _, t := range teams {
		for _, c := range t.Cities() {
			if overlaps(norm, c) {
				return t, true
			}
		}
	}

	return model.SalesTeam{}, false
}

func overlaps(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// SortTeams orders teams by ascending id in place and returns the slice.
func SortTeams(teams []model.SalesTeam) []model.SalesTeam {
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams
}
