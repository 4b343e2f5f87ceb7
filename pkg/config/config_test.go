package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Covenant-Labs/covenant/core/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HOST", "PORT", "NODE_ENV", "EVENT_STORE_BACKEND", "DATABASE_URL",
		"JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE",
		"RATE_LIMIT_BACKEND", "RATE_LIMIT_REDIS_URL",
		"LLM_SERVICE_URL", "LLM_API_KEY", "LLM_MODEL",
		"BOOTSTRAP_PRIMORDIAL_REALM_ID", "BOOTSTRAP_PRIMORDIAL_SYSTEM_ID",
		"LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.NodeEnv)
	assert.Equal(t, "memory", cfg.EventStore.Backend)
	assert.Equal(t, "none", cfg.RateLimit.Backend)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, config.DefaultPrimordialRealmID, cfg.Bootstrap.PrimordialRealmID)
	assert.Equal(t, config.DefaultPrimordialSystemID, cfg.Bootstrap.PrimordialSystemID)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("EVENT_STORE_BACKEND", "relational")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("RATE_LIMIT_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "relational", cfg.EventStore.Backend)
	assert.Equal(t, "postgres://production:5432/db", cfg.EventStore.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RateLimit.RedisURL)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	cases := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"defaults", func(c *config.Config) {}, true},
		{"bad nodeEnv", func(c *config.Config) { c.Server.NodeEnv = "staging" }, false},
		{"bad store backend", func(c *config.Config) { c.EventStore.Backend = "dynamo" }, false},
		{"relational without url", func(c *config.Config) { c.EventStore.Backend = "relational" }, false},
		{"relational with url", func(c *config.Config) {
			c.EventStore.Backend = "relational"
			c.EventStore.DatabaseURL = "postgres://x"
		}, true},
		{"redis without url", func(c *config.Config) { c.RateLimit.Backend = "redis" }, false},
		{"production without secret", func(c *config.Config) { c.Server.NodeEnv = "production" }, false},
		{"production with secret", func(c *config.Config) {
			c.Server.NodeEnv = "production"
			c.Auth.JWTSecret = "s3cret"
		}, true},
		{"empty bootstrap id", func(c *config.Config) { c.Bootstrap.PrimordialRealmID = "" }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Load()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadFile_Overlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")

	path := filepath.Join(t.TempDir(), "covenant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7070"
auth:
  jwtSecret: file-secret
rateLimit:
  backend: redis
  redisUrl: redis://localhost:6379/1
`), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	// File wins over env; untouched keys keep env values.
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile_UnknownKeyRejected(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "covenant.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shadowMode: true\n"), 0o600))

	_, err := config.LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	clearEnv(t)
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
