// Package config loads and validates the sniper configuration from a YAML
// file plus environment overrides. Everything downstream receives typed,
// validated values; nothing else in the tree touches os.Getenv.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/recgov-sniper/internal/snipe"
)

// Duration is a time.Duration that decodes from YAML strings like "100ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Credentials struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type Target struct {
	CampgroundID  string   `yaml:"campground_id"`
	CampsiteIDs   []string `yaml:"campsite_ids"`
	ArrivalDate   string   `yaml:"arrival_date"`   // 2006-01-02
	DepartureDate string   `yaml:"departure_date"` // exclusive
}

type Schedule struct {
	WindowOpens string   `yaml:"window_opens"` // 2006-01-02 15:04:05, local to Timezone
	Timezone    string   `yaml:"timezone"`
	PrepLead    Duration `yaml:"prep_lead"`
	EarlyOffset Duration `yaml:"early_offset"`
}

type API struct {
	BaseURL           string   `yaml:"base_url"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             float64  `yaml:"burst"`
}

type Retry struct {
	MaxAttempts      int      `yaml:"max_attempts"`
	MaxTotalAttempts int      `yaml:"max_total_attempts"`
	BaseDelay        Duration `yaml:"base_delay"`
	MaxDelay         Duration `yaml:"max_delay"`
	Multiplier       float64  `yaml:"multiplier"`
	Jitter           Duration `yaml:"jitter"`
	RateLimitPenalty float64  `yaml:"rate_limit_penalty"`
}

type Webhook struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type Email struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	From           string `yaml:"from"`
	SendgridAPIKey string `yaml:"sendgrid_api_key"`
}

type SMS struct {
	Enabled          bool   `yaml:"enabled"`
	Phone            string `yaml:"phone"`
	TwilioAccountSID string `yaml:"twilio_account_sid"`
	TwilioAuthToken  string `yaml:"twilio_auth_token"`
	TwilioFromNumber string `yaml:"twilio_from_number"`
}

type Notifications struct {
	Webhook Webhook `yaml:"webhook"`
	Email   Email   `yaml:"email"`
	SMS     SMS     `yaml:"sms"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Session struct {
	File       string `yaml:"file"`
	Passphrase string `yaml:"passphrase"`
}

type Config struct {
	Credentials   Credentials   `yaml:"credentials"`
	Target        Target        `yaml:"target"`
	Schedule      Schedule      `yaml:"schedule"`
	API           API           `yaml:"api"`
	Retry         Retry         `yaml:"retry"`
	Notifications Notifications `yaml:"notifications"`
	Logging       Logging       `yaml:"logging"`
	Session       Session       `yaml:"session"`
	DatabaseURL   string        `yaml:"database_url"`
}

// Defaults mirror the values the engine was tuned with.
func defaults() Config {
	return Config{
		Schedule: Schedule{
			Timezone:    "America/Los_Angeles",
			PrepLead:    Duration(5 * time.Minute),
			EarlyOffset: Duration(100 * time.Millisecond),
		},
		API: API{
			Timeout:           Duration(10 * time.Second),
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Retry: Retry{
			MaxAttempts:      10,
			BaseDelay:        Duration(100 * time.Millisecond),
			MaxDelay:         Duration(5 * time.Second),
			Multiplier:       2,
			Jitter:           Duration(50 * time.Millisecond),
			RateLimitPenalty: 2,
		},
		Logging: Logging{Level: "info"},
		Session: Session{File: "session.enc"},
	}
}

// Load reads the YAML file at path, folds in the environment, and validates.
// A .env file in the working directory is honored but not required.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets secrets live outside the YAML file. Environment always wins
// over file values so deployments can override a checked-in config.
func (c *Config) applyEnv() {
	setenv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setenv(&c.Credentials.Email, "RECGOV_EMAIL")
	setenv(&c.Credentials.Password, "RECGOV_PASSWORD")
	setenv(&c.Target.CampgroundID, "RECGOV_CAMPGROUND_ID")
	setenv(&c.Target.ArrivalDate, "RECGOV_ARRIVAL_DATE")
	setenv(&c.Target.DepartureDate, "RECGOV_DEPARTURE_DATE")
	setenv(&c.Schedule.WindowOpens, "RECGOV_WINDOW_OPENS")
	setenv(&c.Session.Passphrase, "RECGOV_SESSION_KEY")
	setenv(&c.Notifications.Email.SendgridAPIKey, "SENDGRID_API_KEY")
	setenv(&c.Notifications.SMS.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	setenv(&c.Notifications.SMS.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	setenv(&c.DatabaseURL, "DATABASE_URL")

	if v := os.Getenv("RECGOV_CAMPSITE_IDS"); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		c.Target.CampsiteIDs = ids
	}
}

// Validate checks the fields every run needs. Database and notification
// settings are validated lazily by their consumers since both are optional.
func (c *Config) Validate() error {
	if c.Target.CampgroundID == "" {
		return fmt.Errorf("config: target.campground_id is required")
	}
	if _, err := c.ArrivalDay(); err != nil {
		return fmt.Errorf("config: target.arrival_date: %w", err)
	}
	if _, err := c.DepartureDay(); err != nil {
		return fmt.Errorf("config: target.departure_date: %w", err)
	}
	arr, _ := c.ArrivalDay()
	dep, _ := c.DepartureDay()
	if !dep.After(arr) {
		return fmt.Errorf("config: departure_date must be after arrival_date")
	}
	if c.Schedule.WindowOpens != "" {
		if _, err := c.WindowTime(); err != nil {
			return fmt.Errorf("config: schedule.window_opens: %w", err)
		}
	}
	if c.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("config: api.requests_per_second must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("config: retry.multiplier must be at least 1")
	}
	return nil
}

// ArrivalDay parses the arrival date at UTC midnight.
func (c *Config) ArrivalDay() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", c.Target.ArrivalDate, time.UTC)
}

// DepartureDay parses the departure date at UTC midnight.
func (c *Config) DepartureDay() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", c.Target.DepartureDate, time.UTC)
}

// WindowTime resolves the window-opens instant in the configured timezone.
func (c *Config) WindowTime() (time.Time, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("timezone: %w", err)
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, c.Schedule.WindowOpens, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", c.Schedule.WindowOpens)
}

// Policy converts the retry section into the engine's retry policy.
func (c *Config) Policy() snipe.Policy {
	return snipe.Policy{
		MaxAttempts:      c.Retry.MaxAttempts,
		BaseDelay:        c.Retry.BaseDelay.Std(),
		Multiplier:       c.Retry.Multiplier,
		MaxDelay:         c.Retry.MaxDelay.Std(),
		Jitter:           c.Retry.Jitter.Std(),
		RateLimitPenalty: c.Retry.RateLimitPenalty,
	}
}
