// Package config loads server configuration from the environment, with an
// optional YAML file overlay for deployment profiles.
package config

import (
	"fmt"
	"os"
)

// Fixed bootstrap identities. Every fresh deployment gets the same
// primordial realm and system entity so bootstrap is idempotent.
const (
	DefaultPrimordialRealmID  = "00000000-0000-0000-0000-000000000001"
	DefaultPrimordialSystemID = "00000000-0000-0000-0000-000000000002"
)

// Config holds server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	EventStore EventStoreConfig `yaml:"eventStore"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	LLM        LLMConfig        `yaml:"llm"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	LogLevel   string           `yaml:"logLevel"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	NodeEnv string `yaml:"nodeEnv"`
}

type EventStoreConfig struct {
	// Backend is "memory" or "relational".
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"databaseUrl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

type RateLimitConfig struct {
	// Backend is "none" or "redis".
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redisUrl"`
}

// LLMConfig carries adapter credentials. Optional; no effect on the core.
type LLMConfig struct {
	ServiceURL string `yaml:"serviceUrl"`
	APIKey     string `yaml:"apiKey"`
	Model      string `yaml:"model"`
}

type BootstrapConfig struct {
	PrimordialRealmID  string `yaml:"primordialRealmId"`
	PrimordialSystemID string `yaml:"primordialSystemId"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    envOr("HOST", "0.0.0.0"),
			Port:    envOr("PORT", "8080"),
			NodeEnv: envOr("NODE_ENV", "development"),
		},
		EventStore: EventStoreConfig{
			Backend:     envOr("EVENT_STORE_BACKEND", "memory"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    envOr("JWT_ISSUER", "covenant"),
			Audience:  envOr("JWT_AUDIENCE", "covenant-api"),
		},
		RateLimit: RateLimitConfig{
			Backend:  envOr("RATE_LIMIT_BACKEND", "none"),
			RedisURL: os.Getenv("RATE_LIMIT_REDIS_URL"),
		},
		LLM: LLMConfig{
			ServiceURL: os.Getenv("LLM_SERVICE_URL"),
			APIKey:     os.Getenv("LLM_API_KEY"),
			Model:      os.Getenv("LLM_MODEL"),
		},
		Bootstrap: BootstrapConfig{
			PrimordialRealmID:  envOr("BOOTSTRAP_PRIMORDIAL_REALM_ID", DefaultPrimordialRealmID),
			PrimordialSystemID: envOr("BOOTSTRAP_PRIMORDIAL_SYSTEM_ID", DefaultPrimordialSystemID),
		},
		LogLevel: envOr("LOG_LEVEL", "INFO"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate checks option values and cross-option requirements.
func (c *Config) Validate() error {
	switch c.Server.NodeEnv {
	case "development", "production":
	default:
		return fmt.Errorf("config: unknown server.nodeEnv %q", c.Server.NodeEnv)
	}

	switch c.EventStore.Backend {
	case "memory":
	case "relational":
		if c.EventStore.DatabaseURL == "" {
			return fmt.Errorf("config: eventStore.backend relational requires a database url")
		}
	default:
		return fmt.Errorf("config: unknown eventStore.backend %q", c.EventStore.Backend)
	}

	switch c.RateLimit.Backend {
	case "none":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("config: rateLimit.backend redis requires rateLimit.redisUrl")
		}
	default:
		return fmt.Errorf("config: unknown rateLimit.backend %q", c.RateLimit.Backend)
	}

	if c.Server.NodeEnv == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwtSecret is required in production")
	}

	if c.Bootstrap.PrimordialRealmID == "" || c.Bootstrap.PrimordialSystemID == "" {
		return fmt.Errorf("config: bootstrap ids must not be empty")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool { return c.Server.NodeEnv == "production" }

// Addr is the listen address.
func (c *Config) Addr() string { return c.Server.Host + ":" + c.Server.Port }
