package config

import (
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/publish"
	"bidwatch/internal/registry"
	"bidwatch/internal/store"
	"bidwatch/pkg/configutil"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "0 */10 8-19 * * 1-5"

const (
	PublisherX     = "x"
	PublisherEmail = "email"
	PublisherLog   = "log"
)

type RegistryConfig struct {
	BaseUrl                 string  `json:"base_url"`
	TimeoutSeconds          int     `json:"timeout_seconds"`
	RequestsPerSecond       float64 `json:"requests_per_second"`
	MaxRetries              *int    `json:"max_retries"`
	Timezone                string  `json:"timezone"`
	DisableCloudflareBypass bool    `json:"disable_cloudflare_bypass"`
}

func (c RegistryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c RegistryConfig) Retries() int {
	if c.MaxRetries == nil {
		return registry.DefaultMaxRetries
	}
	return *c.MaxRetries
}

type CaptchaConfig struct {
	ApiKey              string `json:"api_key"`
	BaseUrl             string `json:"base_url"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	Numeric             int    `json:"numeric"`
}

// Validate is separate from Config.Validate since only the commands that talk
// to the registry need a solver.
func (c CaptchaConfig) Validate() error {
	if c.ApiKey == "" {
		return fmt.Errorf("captcha.api_key (or TWOCAPTCHA_API_KEY) is not set")
	}
	return nil
}

type RenderConfig struct {
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	ExecPath       string `json:"exec_path"`
}

type ScheduleConfig struct {
	// Cron has a leading seconds field.
	Cron       string `json:"cron"`
	RunOnStart *bool  `json:"run_on_start"`
}

func (c ScheduleConfig) ShouldRunOnStart() bool {
	return c.RunOnStart == nil || *c.RunOnStart
}

type EmailConfig struct {
	Smtp publish.SmtpOptions `json:"smtp"`
	To   []string            `json:"to"`
}

type PublisherConfig struct {
	Kind  string               `json:"kind"`
	X     publish.XCredentials `json:"x"`
	Email EmailConfig          `json:"email"`
}

type TeamConfig struct {
	Name       string          `json:"name"`
	RegionCode string          `json:"uf"`
	ClubCode   string          `json:"code"`
	Publisher  PublisherConfig `json:"publisher"`
}

type Config struct {
	Registry RegistryConfig `json:"registry"`
	Captcha  CaptchaConfig  `json:"captcha"`
	Storage  store.Options  `json:"storage"`
	Render   RenderConfig   `json:"render"`
	Schedule ScheduleConfig `json:"schedule"`
	Teams    []TeamConfig   `json:"teams"`
}

// Load reads path (plus its .local override), then .env and the environment.
// A missing config file is fine as long as the environment describes teams.
func Load(path string) (Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	cfg.ApplyEnv(os.Environ())
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) ApplyDefaults() {
	if c.Registry.BaseUrl == "" {
		c.Registry.BaseUrl = registry.DefaultBaseUrl
	}
	if c.Registry.Timezone == "" {
		c.Registry.Timezone = chrono.DefaultLocation
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = store.DriverSQLite
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = DefaultSchedule
	}
	for i := range c.Teams {
		team := &c.Teams[i]
		if team.Name == "" {
			team.Name = fmt.Sprintf("%s-%s", team.RegionCode, team.ClubCode)
		}
		if team.Publisher.Kind == "" {
			team.Publisher.Kind = PublisherX
		}
	}
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (c Config) Validate() error {
	var errs []error

	if len(c.Teams) == 0 {
		errs = append(errs, fmt.Errorf("no teams configured"))
	}
	seen := map[string]bool{}
	for i, team := range c.Teams {
		label := fmt.Sprintf("teams[%d] (%s)", i, team.Name)
		if team.ClubCode == "" || team.RegionCode == "" {
			errs = append(errs, fmt.Errorf("%s: both code and uf are required", label))
		}
		id := team.RegionCode + "-" + team.ClubCode
		if seen[id] {
			errs = append(errs, fmt.Errorf("%s: club %s is tracked twice", label, id))
		}
		seen[id] = true

		switch team.Publisher.Kind {
		case PublisherX:
			if !team.Publisher.X.Complete() {
				errs = append(errs, fmt.Errorf("%s: x publisher is missing credentials", label))
			}
		case PublisherEmail:
			if team.Publisher.Email.Smtp.Server == "" || len(team.Publisher.Email.To) == 0 {
				errs = append(errs, fmt.Errorf("%s: email publisher needs smtp.server and to", label))
			}
		case PublisherLog:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown publisher kind %q", label, team.Publisher.Kind))
		}
	}

	switch c.Storage.Driver {
	case store.DriverSQLite, store.DriverBadger, store.DriverRedis, store.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if _, err := cronParser.Parse(c.Schedule.Cron); err != nil {
		errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
	}
	if _, err := time.LoadLocation(c.Registry.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("registry.timezone: %w", err))
	}
	if c.Registry.MaxRetries != nil && *c.Registry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("registry.max_retries must not be negative"))
	}

	return errors.Join(errs...)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
