package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DYNFILTER_DIALECT", "DYNFILTER_DSN", "DYNFILTER_PARAM_PREFIX",
		"DYNFILTER_PREFER_CONCEPTUAL", "DYNFILTER_LATERAL_JOINS", "DYNFILTER_MODEL_CACHE", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Dialect)
	assert.Equal(t, ":memory:", cfg.DSN)
	assert.Equal(t, "dfp", cfg.ParamPrefix)
	assert.False(t, cfg.PreferConceptual)
	assert.Nil(t, cfg.LateralJoins)
	assert.Empty(t, cfg.ModelCache)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	cache := filepath.Join(t.TempDir(), "filters.msgpack")
	require.NoError(t, os.WriteFile(cache, []byte{0x90}, 0o600))

	t.Setenv("DYNFILTER_DIALECT", "DuckDB")
	t.Setenv("DYNFILTER_DSN", "/tmp/shop.duckdb")
	t.Setenv("DYNFILTER_PARAM_PREFIX", "flt")
	t.Setenv("DYNFILTER_PREFER_CONCEPTUAL", "yes")
	t.Setenv("DYNFILTER_LATERAL_JOINS", "off")
	t.Setenv("DYNFILTER_MODEL_CACHE", cache)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "duckdb", cfg.Dialect)
	assert.Equal(t, "/tmp/shop.duckdb", cfg.DSN)
	assert.Equal(t, "flt", cfg.ParamPrefix)
	assert.True(t, cfg.PreferConceptual)
	require.NotNil(t, cfg.LateralJoins)
	assert.False(t, *cfg.LateralJoins)
	assert.Equal(t, cache, cfg.ModelCache)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadFromEnv_UnknownDialect(t *testing.T) {
	clearEnv(t)
	t.Setenv("DYNFILTER_DIALECT", "oracle")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DYNFILTER_DIALECT")
}

func TestLoadFromEnv_InvalidPrefix(t *testing.T) {
	clearEnv(t)
	t.Setenv("DYNFILTER_PARAM_PREFIX", "1bad-prefix")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DYNFILTER_PARAM_PREFIX")
}

func TestLoadFromEnv_LateralJoinsOnSQLite(t *testing.T) {
	clearEnv(t)
	t.Setenv("DYNFILTER_LATERAL_JOINS", "true")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_MissingModelCacheWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv("DYNFILTER_MODEL_CACHE", "/nonexistent/filters.msgpack")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.ModelCache)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "DYNFILTER_MODEL_CACHE")
}

func TestLoadFromEnv_PostgresWithoutDSNWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv("DYNFILTER_DIALECT", "postgres")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.DSN)
	assert.Len(t, cfg.Warnings, 1)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, (&Config{LogLevel: tt.level}).SlogLevel())
		})
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_KEY=test_value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_KEY"); val != "test_value" {
		t.Errorf("TEST_KEY = %q, want %q", val, "test_value")
	}
	_ = os.Unsetenv("TEST_KEY")
}

func TestLoadDotEnv_SkipsComments(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nTEST_COMMENT_KEY=value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_COMMENT_KEY"); val != "value" {
		t.Errorf("TEST_COMMENT_KEY = %q, want %q", val, "value")
	}
	_ = os.Unsetenv("TEST_COMMENT_KEY")
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_PRECEDENCE_KEY"); val != "from_env" {
		t.Errorf("TEST_PRECEDENCE_KEY = %q, want %q (env precedence)", val, "from_env")
	}
}
