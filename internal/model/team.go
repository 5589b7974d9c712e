package model

import "strings"

// SalesTeam is a CRM sales team. Teams are owned by the team directory and are
// read-only to the sync pipeline.
type SalesTeam struct {
	ID              int64  `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	PreferredCities string `json:"preferred_cities" yaml:"preferred_cities"`
	Active          bool   `json:"active" yaml:"active"`
}

// Cities splits PreferredCities on commas and returns the trimmed, lowercased,
// non-empty tokens.
func (t SalesTeam) Cities() []string {
	if strings.TrimSpace(t.PreferredCities) == "" {
		return nil
	}
	parts := strings.Split(t.PreferredCities, ",")
	cities := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			cities = append(cities, p)
		}
	}
	return cities
}

// ActiveTeams returns the active subset of teams, preserving order.
func ActiveTeams(teams []SalesTeam) []SalesTeam {
	active := make([]SalesTeam, 0, len(teams))
	for _, t := range teams {
		if t.Active {
			active = append(active, t)
		}
	}
	return active
}
