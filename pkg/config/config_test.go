package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp moves the test into an empty directory, optionally holding config.yaml.
func chdirTemp(t *testing.T, yamlContent string) string {
	t.Helper()
	tmpDir := t.TempDir()
	if yamlContent != "" {
		if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
	}
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})
	return tmpDir
}

// clearEnv unsets variables a developer shell might carry into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "BASE_URL", "PGHOST", "PGPASSWORD", "REDIS_HOST",
		"OPENROUTER_API_KEY", "ANTHROPIC_API_KEY", "CODEGEN_PROVIDER", "CODEGEN_MODEL",
		"SANDBOX_TIMEOUT", "SANDBOX_LLM_TIMEOUT", "SANDBOX_MAX_CONCURRENT",
		"SESSION_SECRET", "SESSION_TTL", "AUTH_ENABLE_VERIFICATION", "JWKS_ENDPOINTS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	chdirTemp(t, `
port: "3000"
env: "test"
auth:
  enable_verification: false
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
redis:
  host: "redis.example.com"
codegen:
  provider: "openrouter"
  model: "deepseek/deepseek-chat-v3.1:free"
sandbox:
  timeout: 3s
`)

	t.Setenv("PORT", "4000")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("SESSION_SECRET", "test-secret")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4000" {
		t.Errorf("expected Port=4000 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.BaseURL != "http://localhost:4000" {
		t.Errorf("expected BaseURL auto-derived from PORT, got %s", cfg.BaseURL)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host from yaml, got %s", cfg.Database.Host)
	}
	if cfg.Redis.Host != "redis.example.com" {
		t.Errorf("expected Redis.Host from yaml, got %s", cfg.Redis.Host)
	}
	if cfg.Sandbox.Timeout != 3*time.Second {
		t.Errorf("expected Sandbox.Timeout=3s, got %s", cfg.Sandbox.Timeout)
	}
	if cfg.CodeGen.APIKey() != "sk-or-test" {
		t.Errorf("expected OpenRouter key from env, got %q", cfg.CodeGen.APIKey())
	}
}

func TestLoad_MissingFileUsesEnvAndDefaults(t *testing.T) {
	clearEnv(t)
	chdirTemp(t, "")
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() without config.yaml failed: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("expected default port 3000, got %s", cfg.Port)
	}
	if cfg.Sandbox.Timeout != 5*time.Second {
		t.Errorf("expected default sandbox timeout 5s, got %s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.LLMTimeout != 2*time.Minute {
		t.Errorf("expected default LLM timeout 2m, got %s", cfg.Sandbox.LLMTimeout)
	}
	if cfg.Sandbox.MaxConcurrent != 4 {
		t.Errorf("expected default max_concurrent 4, got %d", cfg.Sandbox.MaxConcurrent)
	}
	if cfg.CodeGen.MaxTokens != 4000 {
		t.Errorf("expected default max tokens 4000, got %d", cfg.CodeGen.MaxTokens)
	}
	if cfg.CodeGen.Temperature != 0.1 {
		t.Errorf("expected default temperature 0.1, got %v", cfg.CodeGen.Temperature)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("expected default session TTL 24h, got %s", cfg.Session.TTL)
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected redis disabled by default, got %q", cfg.Redis.Host)
	}
	if !cfg.IsLocal() {
		t.Error("expected default env to be local")
	}
}

func TestLoad_SecretsNotReadFromYAML(t *testing.T) {
	clearEnv(t)
	chdirTemp(t, `
auth:
  enable_verification: false
database:
  password: "from-yaml"
session:
  secret: "from-yaml"
`)

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.Password != "" {
		t.Errorf("database password must only come from env, got %q", cfg.Database.Password)
	}
	if cfg.Session.Secret != "" {
		t.Errorf("session secret must only come from env, got %q", cfg.Session.Secret)
	}
}

func TestLoad_AnthropicProviderKey(t *testing.T) {
	clearEnv(t)
	chdirTemp(t, "")
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")
	t.Setenv("CODEGEN_PROVIDER", "anthropic")
	t.Setenv("OPENROUTER_API_KEY", "sk-or")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.CodeGen.APIKey() != "sk-ant" {
		t.Errorf("expected anthropic key, got %q", cfg.CodeGen.APIKey())
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown provider",
			env:     map[string]string{"CODEGEN_PROVIDER": "llamafarm"},
			wantErr: "unknown codegen.provider",
		},
		{
			name:    "llm timeout shorter than timeout",
			env:     map[string]string{"SANDBOX_TIMEOUT": "10s", "SANDBOX_LLM_TIMEOUT": "1s"},
			wantErr: "llm_timeout",
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"SANDBOX_MAX_CONCURRENT": "0"},
			wantErr: "max_concurrent",
		},
		{
			name:    "production without session secret",
			env:     map[string]string{"ENVIRONMENT": "production"},
			wantErr: "SESSION_SECRET",
		},
		{
			name:    "verification without jwks",
			env:     map[string]string{"AUTH_ENABLE_VERIFICATION": "true"},
			wantErr: "jwks_endpoints",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			chdirTemp(t, "")
			t.Setenv("AUTH_ENABLE_VERIFICATION", "false")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("dev")
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_TLSRequiresBothFiles(t *testing.T) {
	clearEnv(t)
	chdirTemp(t, "")
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")
	t.Setenv("TLS_CERT_PATH", "/tmp/cert.pem")

	if _, err := Load("dev"); err == nil || !strings.Contains(err.Error(), "tls_key_path") {
		t.Errorf("expected TLS pairing error, got %v", err)
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	got := parseJWKSEndpoints("https://a.example=https://a.example/jwks.json, https://b.example=https://b.example/keys,garbage")
	if len(got) != 2 {
		t.Fatalf("expected 2 endpoints, got %d: %v", len(got), got)
	}
	if got["https://b.example"] != "https://b.example/keys" {
		t.Errorf("unexpected endpoint for b: %q", got["https://b.example"])
	}
	if len(parseJWKSEndpoints("")) != 0 {
		t.Error("expected empty map for empty string")
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	if IsRunningInDocker() {
		t.Skip("host is rewritten inside Docker")
	}
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "wf", Password: "p@ss", Database: "wfdb", SSLMode: "require"}
	want := "postgres://wf:p%40ss@db:5433/wfdb?sslmode=require"
	if got := cfg.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
