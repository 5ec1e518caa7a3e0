// Package config provides YAML-based configuration loading for routeops.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level routeops configuration, loaded from routeops.yaml.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Ordering    OrderingConfig    `yaml:"ordering"`
	Materialize MaterializeConfig `yaml:"materialize"`
	Lock        LockConfig        `yaml:"lock"`
	Notify      NotifyConfig      `yaml:"notify"`
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
}

// DatabaseConfig selects the gorm driver and its connection settings. DSN,
// when set, wins over the individual fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql, postgres
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// OrderingConfig controls stop-order key spacing.
type OrderingConfig struct {
	Gap int `yaml:"gap"`
}

// MaterializeConfig controls the nightly series materialization job.
type MaterializeConfig struct {
	Schedule    string `yaml:"schedule"` // 5-field cron expression
	HorizonDays int    `yaml:"horizon_days"`
	Concurrency int    `yaml:"concurrency"`
	Timezone    string `yaml:"timezone"`
	RunOnStart  bool   `yaml:"run_on_start"`
}

// LockConfig selects how per-series work is serialized across processes.
type LockConfig struct {
	Backend   string        `yaml:"backend"` // local, db, redis
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// NotifyConfig holds optional chat sinks for domain events.
type NotifyConfig struct {
	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackChannel    string `yaml:"slack_channel"`
	DiscordBotToken string `yaml:"discord_bot_token"`
	DiscordChannel  string `yaml:"discord_channel"`
}

// LogConfig selects the logger flavour and an optional rotating log file.
type LogConfig struct {
	Mode string `yaml:"mode"` // dev, prod
	File string `yaml:"file"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file in the working directory, when present, is loaded into the
// process environment first so ROUTEOPS_* overrides can live there.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied,
// suitable for a local sqlite setup.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Location returns the configured materialization time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Materialize.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "routeops"
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "routeops.db"
	}
	if c.Ordering.Gap == 0 {
		c.Ordering.Gap = 1000
	}
	if c.Materialize.Schedule == "" {
		c.Materialize.Schedule = "0 2 * * *"
	}
	if c.Materialize.HorizonDays == 0 {
		c.Materialize.HorizonDays = 14
	}
	if c.Materialize.Concurrency == 0 {
		c.Materialize.Concurrency = 4
	}
	if c.Materialize.Timezone == "" {
		c.Materialize.Timezone = "UTC"
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = "local"
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 30 * time.Second
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "dev"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// applyEnv overrides selected fields from ROUTEOPS_* environment variables.
func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"ROUTEOPS_DB_DRIVER", &c.Database.Driver},
		{"ROUTEOPS_DB_DSN", &c.Database.DSN},
		{"ROUTEOPS_REDIS_ADDR", &c.Lock.RedisAddr},
		{"ROUTEOPS_SLACK_BOT_TOKEN", &c.Notify.SlackBotToken},
		{"ROUTEOPS_DISCORD_BOT_TOKEN", &c.Notify.DiscordBotToken},
		{"ROUTEOPS_LOG_MODE", &c.Log.Mode},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Ordering.Gap < 2 {
		errs = append(errs, "ordering.gap must be at least 2")
	}
	if _, err := cron.ParseStandard(c.Materialize.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("materialize.schedule %q: %v", c.Materialize.Schedule, err))
	}
	if c.Materialize.HorizonDays < 1 {
		errs = append(errs, "materialize.horizon_days must be at least 1")
	}
	if c.Materialize.Concurrency < 1 {
		errs = append(errs, "materialize.concurrency must be at least 1")
	}
	if _, err := time.LoadLocation(c.Materialize.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("materialize.timezone %q: %v", c.Materialize.Timezone, err))
	}
	switch c.Lock.Backend {
	case "local", "db":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, "lock.redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.backend %q is not one of local, db, redis", c.Lock.Backend))
	}
	if (c.Notify.SlackBotToken == "") != (c.Notify.SlackChannel == "") {
		errs = append(errs, "notify.slack_bot_token and notify.slack_channel must be set together")
	}
	if (c.Notify.DiscordBotToken == "") != (c.Notify.DiscordChannel == "") {
		errs = append(errs, "notify.discord_bot_token and notify.discord_channel must be set together")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
