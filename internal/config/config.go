package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment
type Config struct {
	DBType      string `env:"DB_TYPE" envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/lexisync.db"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogMode  string `env:"LOG_MODE" envDefault:"development"`
	Timezone string `env:"TIMEZONE" envDefault:"Local"`

	// Sync ingestion, server side
	SyncSharedSecret   string        `env:"SYNC_SHARED_SECRET"`
	SyncMaxClockSkew   time.Duration `env:"SYNC_MAX_CLOCK_SKEW" envDefault:"5m"`
	SyncWorkerInterval time.Duration `env:"SYNC_WORKER_INTERVAL" envDefault:"5s"`
	SyncLeaseDuration  time.Duration `env:"SYNC_LEASE_DURATION" envDefault:"10m"`
	SyncReaperInterval time.Duration `env:"SYNC_REAPER_INTERVAL" envDefault:"1m"`
	SyncMaxAttempts    int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"3"`

	// Sync ingestion, client side
	SyncURL               string        `env:"SYNC_URL" envDefault:"http://localhost:8080"`
	SyncClientMaxAttempts int           `env:"SYNC_CLIENT_MAX_ATTEMPTS" envDefault:"5"`
	SyncPollInterval      time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"2s"`
	SyncMaxPolls          int           `env:"SYNC_MAX_POLLS" envDefault:"60"`

	// Daily content selection
	TodayPageSize        int    `env:"TODAY_PAGE_SIZE" envDefault:"7"`
	HardCandidatePool    int    `env:"HARD_CANDIDATE_POOL" envDefault:"2000"`
	HardRepeatWindowDays int    `env:"HARD_REPEAT_WINDOW_DAYS" envDefault:"14"`
	HardPhoneticMarkers  string `env:"HARD_PHONETIC_MARKERS" envDefault:"ʁçøœʏxʔθðŋʒ"`
	DefaultLang          string `env:"DEFAULT_LANG" envDefault:"de"`

	// XP credited for each new active day
	RewardActiveDay int `env:"REWARD_ACTIVE_DAY" envDefault:"10"`

	// Telegram delivery channel, disabled when the token is empty
	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN"`
	NotificationStartHour int    `env:"NOTIFICATION_START_HOUR" envDefault:"8"`
	NotificationEndHour   int    `env:"NOTIFICATION_END_HOUR" envDefault:"22"`
	NotificationHour      int    `env:"NOTIFICATION_HOUR" envDefault:"9"`
}

// Load reads .env (if present) and parses the environment into a Config
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using process environment: %v", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the parser can't
func (c *Config) Validate() error {
	switch c.DBType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q", c.DBType)
	}
	if c.DBType == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for postgres")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RewardActiveDay < 0 {
		return fmt.Errorf("REWARD_ACTIVE_DAY must not be negative")
	}
	if c.TodayPageSize <= 0 {
		return fmt.Errorf("TODAY_PAGE_SIZE must be positive")
	}
	return nil
}

// Location resolves the server-local timezone used for day keys
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
