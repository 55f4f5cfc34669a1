// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Allocation backends
const (
	BackendSQL  = "sql"
	BackendFile = "file"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	Backend      string
	DataDir      string

	SessionTimeout time.Duration
	LockTimeout    time.Duration
	LockPoll       time.Duration
	// LockLease is how long a busy flag is honoured before another worker may
	// take the record over. Zero disables takeover.
	LockLease time.Duration

	LogLevel string
}

// ParseFlags reads flags, then the environment (after loading the env file),
// then defaults. Flags win over environment variables.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var envFile string

	fset := flag.NewFlagSet("quickly-assign", flag.ContinueOnError)

	fset.StringVar(&envFile, "env-file", ".env", "Env file loaded before reading the environment")

	// Network and storage (can be CLI args or env)
	fset.IntVar(&cfg.Port, "p", 3318, "Server port")
	fset.StringVar(&cfg.DatabaseURL, "d", "file:quickly-assign.db", "Database URL")
	fset.StringVar(&cfg.DatabaseType, "t", "sqlite", "Database type (sqlite or postgres)")
	fset.StringVar(&cfg.Backend, "backend", BackendSQL, "Allocation record backend (sql or file)")
	fset.StringVar(&cfg.DataDir, "data-dir", "./data", "Directory for the file backend")

	// Allocation tuning
	fset.DurationVar(&cfg.SessionTimeout, "session-timeout", 24*time.Hour, "Time after which a started session no longer holds its slot")
	fset.DurationVar(&cfg.LockTimeout, "lock-timeout", 10*time.Second, "How long to wait for a busy record")
	fset.DurationVar(&cfg.LockPoll, "lock-poll", time.Second, "Poll interval while waiting for a busy record")
	fset.DurationVar(&cfg.LockLease, "lock-lease", time.Minute, "Busy flag lease, 0 disables takeover")

	fset.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	set := map[string]bool{}
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Fall back to environment variables
	if !set["p"] {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		}
	}
	envString(set, "d", "DATABASE_URL", &cfg.DatabaseURL)
	envString(set, "t", "DATABASE_TYPE", &cfg.DatabaseType)
	envString(set, "backend", "ALLOCATION_BACKEND", &cfg.Backend)
	envString(set, "data-dir", "DATA_DIR", &cfg.DataDir)
	envString(set, "log-level", "LOG_LEVEL", &cfg.LogLevel)
	for _, d := range []struct {
		flag, env string
		dst       *time.Duration
	}{
		{"session-timeout", "SESSION_TIMEOUT", &cfg.SessionTimeout},
		{"lock-timeout", "LOCK_TIMEOUT", &cfg.LockTimeout},
		{"lock-poll", "LOCK_POLL", &cfg.LockPoll},
		{"lock-lease", "LOCK_LEASE", &cfg.LockLease},
	} {
		if err := envDuration(set, d.flag, d.env, d.dst); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envString(set map[string]bool, flagName, env string, dst *string) {
	if set[flagName] {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func envDuration(set map[string]bool, flagName, env string, dst *time.Duration) error {
	if set[flagName] {
		return nil
	}
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s env variable: %w", env, err)
	}
	*dst = d
	return nil
}

// Validate checks value ranges and known names.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.DatabaseType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database type %q (use sqlite or postgres)", c.DatabaseType)
	}
	switch c.Backend {
	case BackendSQL:
		if c.DatabaseURL == "" {
			return errors.New("database URL required (use -d or DATABASE_URL env)")
		}
	case BackendFile:
		if c.DataDir == "" {
			return errors.New("data dir required for the file backend (use -data-dir or DATA_DIR env)")
		}
	default:
		return fmt.Errorf("unknown allocation backend %q (use sql or file)", c.Backend)
	}
	if c.SessionTimeout <= 0 {
		return errors.New("session timeout must be positive")
	}
	if c.LockTimeout <= 0 || c.LockPoll <= 0 {
		return errors.New("lock timeout and poll interval must be positive")
	}
	if c.LockPoll > c.LockTimeout {
		return errors.New("lock poll interval cannot exceed the lock timeout")
	}
	if c.LockLease < 0 {
		return errors.New("lock lease cannot be negative")
	}
	if c.LockLease > 0 && c.LockLease <= c.LockPoll {
		return errors.New("lock lease must exceed the poll interval")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return lvl, nil
}
