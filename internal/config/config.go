package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DataDir string `yaml:"data_dir" validate:"required"`

	Sync struct {
		RetentionYears int           `yaml:"retention_years" validate:"min=1,max=50"`
		// MaxFillRun bounds forward fill; -1 disables filling.
		MaxFillRun     int           `yaml:"max_fill_run" validate:"gte=-1"`
		Workers        int           `yaml:"workers" validate:"min=1,max=64"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	} `yaml:"sync"`

	Attributes struct {
		TTL  time.Duration `yaml:"ttl" validate:"gt=0"`
		ETFs []string      `yaml:"etfs"`
	} `yaml:"attributes"`

	Provider struct {
		Name            string        `yaml:"name" validate:"oneof=yahoo mock"`
		BaseURL         string        `yaml:"base_url" validate:"omitempty,url"`
		Proxy           string        `yaml:"proxy" validate:"omitempty,url"`
		RatePerSecond   float64       `yaml:"rate_per_second" validate:"gte=0"`
		Burst           int           `yaml:"burst" validate:"min=1"`
		BreakerFailures uint32        `yaml:"breaker_failures" validate:"min=1"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout" validate:"gt=0"`
	} `yaml:"provider"`

	Schedule struct {
		SyncCron   string `yaml:"sync_cron" validate:"required"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Telegram struct {
		BotToken string `yaml:"bot_token" validate:"required_with=ChatID"`
		ChatID   string `yaml:"chat_id" validate:"required_with=BotToken"`
		Polling  bool   `yaml:"polling"`
	} `yaml:"telegram"`

	Metrics struct {
		Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"EQUITYSYNC_DATA_DIR":          &c.DataDir,
		"EQUITYSYNC_PROVIDER":          &c.Provider.Name,
		"EQUITYSYNC_PROVIDER_BASE_URL": &c.Provider.BaseURL,
		"EQUITYSYNC_SYNC_CRON":         &c.Schedule.SyncCron,
		"EQUITYSYNC_SQLITE_PATH":       &c.Database.SQLitePath,
		"EQUITYSYNC_METRICS_LISTEN":    &c.Metrics.Listen,
		"EQUITYSYNC_LOG_LEVEL":         &c.Log.Level,
		"TELEGRAM_BOT_TOKEN":           &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":             &c.Telegram.ChatID,
		"HTTPS_PROXY":                  &c.Provider.Proxy,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("EQUITYSYNC_RETENTION_YEARS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EQUITYSYNC_RETENTION_YEARS: %w", err)
		}
		c.Sync.RetentionYears = n
	}
	if v := os.Getenv("EQUITYSYNC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EQUITYSYNC_WORKERS: %w", err)
		}
		c.Sync.Workers = n
	}
	if v := os.Getenv("EQUITYSYNC_ATTRIBUTE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EQUITYSYNC_ATTRIBUTE_TTL: %w", err)
		}
		c.Attributes.TTL = d
	}
	if v := os.Getenv("EQUITYSYNC_ETFS"); v != "" {
		c.Attributes.ETFs = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Sync.RetentionYears == 0 {
		c.Sync.RetentionYears = 5
	}
	if c.Sync.MaxFillRun == 0 {
		c.Sync.MaxFillRun = 3
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.FetchTimeout == 0 {
		c.Sync.FetchTimeout = 30 * time.Second
	}
	if c.Attributes.TTL == 0 {
		c.Attributes.TTL = 7 * 24 * time.Hour
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "yahoo"
	}
	if c.Provider.BaseURL == "" && c.Provider.Name == "yahoo" {
		c.Provider.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.Provider.RatePerSecond == 0 {
		c.Provider.RatePerSecond = 2
	}
	if c.Provider.Burst == 0 {
		c.Provider.Burst = 1
	}
	if c.Provider.BreakerFailures == 0 {
		c.Provider.BreakerFailures = 5
	}
	if c.Provider.BreakerTimeout == 0 {
		c.Provider.BreakerTimeout = time.Minute
	}
	if c.Schedule.SyncCron == "" {
		// Weekdays after the US close.
		c.Schedule.SyncCron = "0 30 22 * * 1-5"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = filepath.Join(c.DataDir, "equitysync.db")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

var validate = validator.New()

// Validate checks field constraints and that the cron expression parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).
		Parse(c.Schedule.SyncCron); err != nil {
		return fmt.Errorf("config: schedule.sync_cron: %w", err)
	}
	return nil
}

// FillRun is MaxFillRun with the disable sentinel mapped to zero.
func (c *Config) FillRun() int {
	if c.Sync.MaxFillRun < 0 {
		return 0
	}
	return c.Sync.MaxFillRun
}

// Path helpers for the on-disk layout under DataDir.

func (c *Config) IndexPath() string    { return filepath.Join(c.DataDir, "prices_log.json") }
func (c *Config) RegistryPath() string { return filepath.Join(c.DataDir, "all_tickers.csv") }
