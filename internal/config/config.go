// Package config handles engine configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"dynfilter/internal/ddl"
)

// Dialects accepted in DYNFILTER_DIALECT.
var Dialects = []string{"sqlite", "duckdb", "postgres"}

// Config holds the filter engine configuration.
type Config struct {
	Dialect          string // SQL dialect: sqlite (default), duckdb, postgres
	DSN              string // data source for the CLI (default ":memory:" for sqlite and duckdb)
	ParamPrefix      string // synthetic parameter name prefix (default "dfp")
	PreferConceptual bool   // apply filters on the conceptual plan, before lowering
	LateralJoins     *bool  // overrides the dialect's first-row reduction capability
	ModelCache       string // msgpack snapshot of filter definitions loaded at start
	LogLevel         string // log level: debug, info, warn, error (default "info")

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{Dialect: "sqlite", DSN: ":memory:", ParamPrefix: "dfp", LogLevel: "info"}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Dialect:          strings.ToLower(strings.TrimSpace(os.Getenv("DYNFILTER_DIALECT"))),
		DSN:              os.Getenv("DYNFILTER_DSN"),
		ParamPrefix:      os.Getenv("DYNFILTER_PARAM_PREFIX"),
		PreferConceptual: parseBoolEnvDefault("DYNFILTER_PREFER_CONCEPTUAL", false),
		ModelCache:       os.Getenv("DYNFILTER_MODEL_CACHE"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}
	if v := strings.TrimSpace(os.Getenv("DYNFILTER_LATERAL_JOINS")); v != "" {
		b := parseBoolEnvDefault("DYNFILTER_LATERAL_JOINS", false)
		cfg.LateralJoins = &b
	}

	// Defaults
	if cfg.Dialect == "" {
		cfg.Dialect = "sqlite"
	}
	if cfg.DSN == "" && cfg.Dialect != "postgres" {
		cfg.DSN = ":memory:"
	}
	if cfg.ParamPrefix == "" {
		cfg.ParamPrefix = "dfp"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ModelCache != "" {
		if _, err := os.Stat(cfg.ModelCache); err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("DYNFILTER_MODEL_CACHE %q is not readable and will be ignored", cfg.ModelCache))
			cfg.ModelCache = ""
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	known := false
	for _, d := range Dialects {
		if c.Dialect == d {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("DYNFILTER_DIALECT must be one of %s, got %q", strings.Join(Dialects, ", "), c.Dialect)
	}
	if err := ddl.ValidateIdentifier(c.ParamPrefix); err != nil {
		return fmt.Errorf("DYNFILTER_PARAM_PREFIX: %w", err)
	}
	if c.LateralJoins != nil && *c.LateralJoins && c.Dialect == "sqlite" {
		return fmt.Errorf("DYNFILTER_LATERAL_JOINS cannot be enabled for sqlite")
	}
	if c.Dialect == "postgres" && c.DSN == "" {
		c.Warnings = append(c.Warnings, "DYNFILTER_DSN is not set; postgres commands can be explained but not executed")
	}
	return nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
