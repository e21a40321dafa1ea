package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is read when present; every setting can also come from the environment.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for the logic generator service.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	CodeGen  CodeGenConfig  `yaml:"codegen"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Session  SessionConfig  `yaml:"session"`

	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool `yaml:"migrate_on_start" env:"MIGRATE_ON_START" env-default:"true"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// Audience expected in the aud claim.
	Audience string `yaml:"audience" env:"AUTH_AUDIENCE" env-default:"workflowplus"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"workflowplus"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"workflowplus"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis and
// editing sessions are kept in memory.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// CodeGenConfig selects and configures the code generation provider.
type CodeGenConfig struct {
	Provider    string        `yaml:"provider" env:"CODEGEN_PROVIDER" env-default:"openrouter"`
	Endpoint    string        `yaml:"endpoint" env:"CODEGEN_ENDPOINT" env-default:""`
	Model       string        `yaml:"model" env:"CODEGEN_MODEL" env-default:""`
	MaxTokens   int           `yaml:"max_tokens" env:"CODEGEN_MAX_TOKENS" env-default:"4000"`
	Temperature float32       `yaml:"temperature" env:"CODEGEN_TEMPERATURE" env-default:"0.1"`
	Timeout     time.Duration `yaml:"timeout" env:"CODEGEN_TIMEOUT" env-default:"2m"`
	Referer     string        `yaml:"referer" env:"CODEGEN_REFERER" env-default:""`

	OpenRouterAPIKey string `yaml:"-" env:"OPENROUTER_API_KEY"` // Secret - not in YAML
	AnthropicAPIKey  string `yaml:"-" env:"ANTHROPIC_API_KEY"`  // Secret - not in YAML
}

// APIKey returns the key for the configured provider.
func (c *CodeGenConfig) APIKey() string {
	if strings.EqualFold(c.Provider, "anthropic") {
		return c.AnthropicAPIKey
	}
	return c.OpenRouterAPIKey
}

// SandboxConfig bounds execution of generated code.
type SandboxConfig struct {
	Timeout       time.Duration `yaml:"timeout" env:"SANDBOX_TIMEOUT" env-default:"5s"`
	LLMTimeout    time.Duration `yaml:"llm_timeout" env:"SANDBOX_LLM_TIMEOUT" env-default:"2m"`
	MaxConcurrent int64         `yaml:"max_concurrent" env:"SANDBOX_MAX_CONCURRENT" env-default:"4"`
}

// SessionConfig configures editing sessions and the cookie that remembers them.
type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl" env:"SESSION_TTL" env-default:"24h"`
	CookieName   string        `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"workflowplus_session"`
	CookieSecure bool          `yaml:"cookie_secure" env:"SESSION_COOKIE_SECURE" env-default:"false"`
	CookieDomain string        `yaml:"cookie_domain" env:"SESSION_COOKIE_DOMAIN" env-default:""`
	Secret       string        `yaml:"-" env:"SESSION_SECRET"` // Secret - not in YAML
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; the environment and defaults are used.
func Load(version string) (*Config, error) {
	return LoadFile(DefaultConfigPath, version)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.validateTLS(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if c.Sandbox.LLMTimeout < c.Sandbox.Timeout {
		return fmt.Errorf("sandbox.llm_timeout must not be shorter than sandbox.timeout")
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be at least 1")
	}
	switch strings.ToLower(c.CodeGen.Provider) {
	case "openrouter", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown codegen.provider %q", c.CodeGen.Provider)
	}
	if !c.IsLocal() && c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required outside local environments")
	}
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth.jwks_endpoints is required when verification is enabled")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns the host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}

// IsLocal reports whether the service runs in a developer environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == "dev"
}
