package config

import (
	"github.com/antzucaro/matchr"
)

// minSimilarity is the Jaro-Winkler score a fuzzy match needs.
const minSimilarity = 0.8

// FindTeam resolves query to a team: an exact club code, "UF-code" or name
// wins, otherwise the name closest to query.
func (c Config) FindTeam(query string) (TeamConfig, bool) {
	query = normalize(query)
	if query == "" {
		return TeamConfig{}, false
	}

	for _, team := range c.Teams {
		if query == normalize(team.ClubCode) ||
			query == normalize(team.RegionCode+"-"+team.ClubCode) ||
			query == normalize(team.Name) {
			return team, true
		}
	}

	best := -1
	bestScore := 0.0
	for i, team := range c.Teams {
		score := matchr.JaroWinkler(query, normalize(team.Name), false)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 || bestScore < minSimilarity {
		return TeamConfig{}, false
	}
	return c.Teams[best], true
}
