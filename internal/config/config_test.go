package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_TokenDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"Validity", cfg.Tokens.Validity, 15 * time.Minute},
		{"RateLimitWindow", cfg.Tokens.RateLimitWindow, 24 * time.Hour},
		{"Retention", cfg.Tokens.Retention, 30 * 24 * time.Hour},
		{"CleanupInterval", cfg.Tokens.CleanupInterval, 1 * time.Hour},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Tokens.MaxIssues != 3 {
		t.Errorf("MaxIssues: got %d, want 3", cfg.Tokens.MaxIssues)
	}
	if cfg.Tokens.Store != StorePostgres {
		t.Errorf("Store: got %q, want %q", cfg.Tokens.Store, StorePostgres)
	}
	if cfg.Email.Provider != EmailProviderLog {
		t.Errorf("Email.Provider: got %q, want %q", cfg.Email.Provider, EmailProviderLog)
	}
}

func TestLoad_ServerTimeouts_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("SERVER_WRITE_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout: got %v, want 30s", cfg.Server.ReadTimeout)
	}
	// Invalid duration should fall back to default
	if cfg.Server.WriteTimeout != 15*time.Second {
		t.Errorf("WriteTimeout: got %v, want 15s", cfg.Server.WriteTimeout)
	}
}

func TestLoad_RedisStore(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_STORE", "Redis")
	t.Setenv("REDIS_PREFIX", "staging")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Tokens.Store != StoreRedis {
		t.Errorf("Store: got %q, want %q", cfg.Tokens.Store, StoreRedis)
	}
	if cfg.Redis.Prefix != "staging" {
		t.Errorf("Redis.Prefix: got %q, want %q", cfg.Redis.Prefix, "staging")
	}
}

func TestLoad_TrustedProxies(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if len(cfg.Server.TrustedProxies) != 2 {
		t.Fatalf("TrustedProxies: got %d prefixes, want 2", len(cfg.Server.TrustedProxies))
	}
	if got := cfg.Server.TrustedProxies[1].String(); got != "192.168.0.0/16" {
		t.Errorf("TrustedProxies[1]: got %q", got)
	}
}

func TestLoad_LoginDelayDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Auth.LoginDelayBase != 300*time.Millisecond {
		t.Errorf("LoginDelayBase: got %v", cfg.Auth.LoginDelayBase)
	}
	if cfg.Auth.LoginDelayJitter != 100*time.Millisecond {
		t.Errorf("LoginDelayJitter: got %v", cfg.Auth.LoginDelayJitter)
	}
}

func TestLoad_RevocationFailClosed(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"false", false},
		{"0", false},
		{"true", true},
		{"maybe", true},
	}

	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("REVOCATION_FAIL_CLOSED", tt.value)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() = %v, want nil", err)
			}
			if cfg.Auth.RevocationFailClosed != tt.want {
				t.Errorf("RevocationFailClosed: got %v, want %v", cfg.Auth.RevocationFailClosed, tt.want)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			env:     map[string]string{"JWT_SECRET": "", "DB_PASSWORD": "test"},
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "missing db password",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": ""},
			wantErr: "DB_PASSWORD is required",
		},
		{
			name:    "short secret in production",
			env:     map[string]string{"JWT_SECRET": "only-twenty-chars!!!", "DB_PASSWORD": "test", "ENV": "production"},
			wantErr: "at least 32 characters",
		},
		{
			name:    "unknown store",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": "test", "TOKEN_STORE": "mongo"},
			wantErr: "TOKEN_STORE",
		},
		{
			name:    "retention shorter than window",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": "test", "TOKEN_RETENTION": "12h"},
			wantErr: "TOKEN_RETENTION",
		},
		{
			name:    "ses without sender",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": "test", "EMAIL_PROVIDER": "ses"},
			wantErr: "EMAIL_FROM_ADDRESS",
		},
		{
			name:    "redis store still needs the account database",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": "", "TOKEN_STORE": "redis"},
			wantErr: "DB_PASSWORD is required",
		},
		{
			name:    "bad proxy cidr",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": "test", "TRUSTED_PROXIES": "10.0.0.1/99"},
			wantErr: "TRUSTED_PROXIES",
		},
		{
			name:    "zero issues",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!", "DB_PASSWORD": "test", "RATE_LIMIT_MAX_ISSUES": "0"},
			wantErr: "RATE_LIMIT_MAX_ISSUES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "tw", SSLMode: "disable"}

	want := "host=db port=5433 user=u password=p dbname=tw sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := ParseFlags([]string{"-p", "9090", "--log-level=debug", "--migrate-only"})
	if err != nil {
		t.Fatalf("ParseFlags() = %v", err)
	}
	if opts.Port != "9090" || opts.LogLevel != "debug" || !opts.MigrateOnly {
		t.Errorf("ParseFlags() = %+v", opts)
	}

	if _, err := ParseFlags([]string{"--no-such-flag"}); err == nil {
		t.Error("ParseFlags() accepted an unknown flag")
	}
}

func TestLoadWithOptions_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "8081")

	cfg, err := LoadWithOptions(Options{Port: "9090", LogLevel: "debug"})
	if err != nil {
		t.Fatalf("LoadWithOptions() = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port: got %q, want 9090", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want debug", cfg.Server.LogLevel)
	}
}

func TestLoadWithOptions_EnvFile(t *testing.T) {
	setRequiredEnv(t)
	// godotenv never overrides variables that are already set
	if _, ok := os.LookupEnv("NOTIFY_QUEUE_SIZE"); ok {
		t.Skip("NOTIFY_QUEUE_SIZE set in the environment")
	}
	t.Cleanup(func() { os.Unsetenv("NOTIFY_QUEUE_SIZE") })

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("NOTIFY_QUEUE_SIZE=64\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithOptions(Options{EnvFile: path})
	if err != nil {
		t.Fatalf("LoadWithOptions() = %v", err)
	}
	if cfg.Email.QueueSize != 64 {
		t.Errorf("QueueSize: got %d, want 64", cfg.Email.QueueSize)
	}

	if _, err := LoadWithOptions(Options{EnvFile: filepath.Join(t.TempDir(), "missing.env")}); err == nil {
		t.Error("LoadWithOptions() accepted a missing env file")
	}
}
