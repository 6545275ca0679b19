package config

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var teamCodeVar = regexp.MustCompile(`^TEAM_(\d+)_CODE$`)

// ApplyEnv overlays environment variables on the config:
//
//	TWOCAPTCHA_API_KEY
//	TEAM_<n>_CODE, TEAM_<n>_UF, TEAM_<n>_NAME
//	TWITTER_ACCOUNT_<n>_API_KEY, _SECRET, _ACCESS_TOKEN, _ACCESS_SECRET
//
// Teams from the environment are appended after the configured ones, ordered
// by n. A team whose club is already configured only fills in missing x
// credentials.
func (c *Config) ApplyEnv(environ []string) {
	env := map[string]string{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if ok {
			env[key] = value
		}
	}

	if key := env["TWOCAPTCHA_API_KEY"]; key != "" {
		c.Captcha.ApiKey = key
	}

	var indexes []int
	for key := range env {
		groups := teamCodeVar.FindStringSubmatch(key)
		if groups == nil {
			continue
		}
		n, err := strconv.Atoi(groups[1])
		if err != nil {
			continue
		}
		indexes = append(indexes, n)
	}
	slices.Sort(indexes)

	for _, n := range indexes {
		get := func(format string) string {
			return strings.TrimSpace(env[fmt.Sprintf(format, n)])
		}

		team := TeamConfig{
			Name:       get("TEAM_%d_NAME"),
			RegionCode: strings.ToUpper(get("TEAM_%d_UF")),
			ClubCode:   get("TEAM_%d_CODE"),
		}
		team.Publisher.Kind = PublisherX
		team.Publisher.X.ApiKey = get("TWITTER_ACCOUNT_%d_API_KEY")
		team.Publisher.X.ApiSecret = get("TWITTER_ACCOUNT_%d_SECRET")
		team.Publisher.X.AccessToken = get("TWITTER_ACCOUNT_%d_ACCESS_TOKEN")
		team.Publisher.X.AccessSecret = get("TWITTER_ACCOUNT_%d_ACCESS_SECRET")

		existing := c.findClub(team.RegionCode, team.ClubCode)
		if existing == nil {
			c.Teams = append(c.Teams, team)
			continue
		}
		if existing.Publisher.Kind == PublisherX && !existing.Publisher.X.Complete() {
			existing.Publisher.X = team.Publisher.X
		}
	}
}

func (c *Config) findClub(region, club string) *TeamConfig {
	for i := range c.Teams {
		if normalize(c.Teams[i].RegionCode) == normalize(region) && c.Teams[i].ClubCode == club {
			return &c.Teams[i]
		}
	}
	return nil
}
