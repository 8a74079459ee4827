// Package config loads application settings from a .env file and environment variables.
// Environment variables always take precedence over .env file values.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/padraicbc/orienteer/relay"
	"github.com/padraicbc/orienteer/standings"
)

// Config holds all application configuration.
type Config struct {
	// PostgreSQL – either set DatabaseURL directly, or the individual fields.
	DatabaseURL string
	DBUser      string
	DBPass      string
	DBHost      string
	DBPort      string
	DBName      string
	DBSSLMode   string

	// JWT signing secret (required in production).
	JWTSecret string

	// Server
	Debug      bool
	Port       string
	TLSDomains []string

	// MySQL – legacy read-out database, used only by cmd/readout-import.
	MySQLDSN string

	// Result engine
	PunchTolerance         time.Duration
	RecomputeInterval      time.Duration
	HandoffRule            string
	SumLegTimes            bool
	NoExtraPunches         bool
	ScorePenaltyPerMinute  float64
	ScorePenaltyPerMissing float64
}

// Load reads configuration from a .env file (if present) and then from
// environment variables. Environment variables always win.
func Load() *Config {
	v := newViper()

	// Defaults
	v.SetDefault("DB_USER", "orienteer")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "orienteer")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("PORT", ":9000")
	v.SetDefault("TLS_DOMAINS", "")
	v.SetDefault("DEBUG", false)
	v.SetDefault("PUNCH_TOLERANCE", "2s")
	v.SetDefault("RECOMPUTE_INTERVAL", "5s")
	v.SetDefault("HANDOFF_RULE", "slowest")
	v.SetDefault("SUM_LEG_TIMES", false)
	v.SetDefault("NO_EXTRA_PUNCHES", false)
	v.SetDefault("SCORE_PENALTY_PER_MINUTE", 1)
	v.SetDefault("SCORE_PENALTY_PER_MISSING", 0)

	cfg := &Config{
		DatabaseURL:            v.GetString("DATABASE_URL"),
		DBUser:                 v.GetString("DB_USER"),
		DBPass:                 v.GetString("DB_PASS"),
		DBHost:                 v.GetString("DB_HOST"),
		DBPort:                 v.GetString("DB_PORT"),
		DBName:                 v.GetString("DB_NAME"),
		DBSSLMode:              v.GetString("DB_SSLMODE"),
		JWTSecret:              v.GetString("JWT_SECRET"),
		Debug:                  v.GetBool("DEBUG"),
		Port:                   v.GetString("PORT"),
		TLSDomains:             splitTrimmed(v.GetString("TLS_DOMAINS")),
		MySQLDSN:               v.GetString("MYSQL_DSN"),
		PunchTolerance:         v.GetDuration("PUNCH_TOLERANCE"),
		RecomputeInterval:      v.GetDuration("RECOMPUTE_INTERVAL"),
		HandoffRule:            strings.ToLower(strings.TrimSpace(v.GetString("HANDOFF_RULE"))),
		SumLegTimes:            v.GetBool("SUM_LEG_TIMES"),
		NoExtraPunches:         v.GetBool("NO_EXTRA_PUNCHES"),
		ScorePenaltyPerMinute:  v.GetFloat64("SCORE_PENALTY_PER_MINUTE"),
		ScorePenaltyPerMissing: v.GetFloat64("SCORE_PENALTY_PER_MISSING"),
	}

	cfg.validate()
	return cfg
}

// PostgresDSN returns the full PostgreSQL connection string.
// DATABASE_URL takes precedence over individual fields.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser,
		c.DBPass,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// JWTKey returns the JWT signing key as a byte slice.
func (c *Config) JWTKey() []byte {
	return []byte(c.JWTSecret)
}

// Options returns the result engine settings.
func (c *Config) Options() standings.Options {
	// validate has already rejected unknown rules.
	handoff, _ := relay.ParseHandoff(c.HandoffRule)
	return standings.Options{
		Relay:             relay.Policy{Handoff: handoff, SumLegTimes: c.SumLegTimes},
		NoExtraPunches:    c.NoExtraPunches,
		PenaltyPerMissing: c.ScorePenaltyPerMissing,
		PenaltyPerMinute:  c.ScorePenaltyPerMinute,
	}
}

func (c *Config) validate() {
	if c.DatabaseURL == "" && c.DBPass == "" {
		log.Fatal("config: DATABASE_URL or DB_PASS must be set")
	}
	if c.JWTSecret == "" {
		log.Fatal("config: JWT_SECRET must be set")
	}
	if _, err := relay.ParseHandoff(c.HandoffRule); err != nil {
		log.Fatalf("config: HANDOFF_RULE: %v", err)
	}
	if c.PunchTolerance < 0 {
		log.Fatal("config: PUNCH_TOLERANCE must not be negative")
	}
	if c.RecomputeInterval <= 0 {
		log.Fatal("config: RECOMPUTE_INTERVAL must be positive")
	}
}

func newViper() *viper.Viper {
	// Silently load .env – OK if the file doesn't exist (production uses real env vars).
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables only")
	}

	v := viper.New()
	v.AutomaticEnv()
	return v
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
