package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseYAML = `port: "8080"
databaseURL: postgres://localhost/marefa
redisAddr: localhost:6379
sessionSecret: 0123456789abcdef
corsOrigins:
  - http://localhost:5173
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionTTL != "720h" || cfg.GenerationTimeout != "60s" || cfg.StorageBackend != "local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.OptimisticTierUpgrade == nil || !*cfg.OptimisticTierUpgrade {
		t.Fatalf("optimistic tier upgrade should default on")
	}
	if cfg.StripePriceResearch != "price_research" {
		t.Fatalf("research price = %q", cfg.StripePriceResearch)
	}
	if cfg.SignupRateLimitPerMinute != 5 || cfg.LoginRateLimitPerMinute != 10 {
		t.Fatalf("unexpected rate limits: %d/%d", cfg.SignupRateLimitPerMinute, cfg.LoginRateLimitPerMinute)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/override")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("STRIPE_PRICE_TEAMS", "price_live_teams")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OPTIMISTIC_TIER_UPGRADE", "false")
	t.Setenv("LOGIN_RATE_LIMIT_PER_MINUTE", "3")

	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db/override" || cfg.LLMAPIKey != "sk-env" || cfg.StripePriceTeams != "price_live_teams" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if *cfg.OptimisticTierUpgrade {
		t.Fatalf("optimistic tier upgrade should be off")
	}
	if cfg.LoginRateLimitPerMinute != 3 {
		t.Fatalf("login rate = %d", cfg.LoginRateLimitPerMinute)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "missing port", yaml: strings.Replace(baseYAML, `port: "8080"`, "", 1), want: "port is required"},
		{name: "short secret", yaml: strings.Replace(baseYAML, "0123456789abcdef", "short", 1), want: "sessionSecret"},
		{name: "bad ttl", yaml: baseYAML + "sessionTTL: soon\n", want: "sessionTTL"},
		{name: "minio without endpoint", yaml: baseYAML + "storageBackend: minio\n", want: "minioEndpoint"},
		{name: "unknown backend", yaml: baseYAML + "storageBackend: ftp\n", want: "unknown storageBackend"},
		{name: "admin without password", yaml: baseYAML + "adminEmail: admin@example.com\n", want: "adminPassword"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDuration = %v, %v", d, err)
	}
	if _, err := ParseDuration("x", "-1s"); err == nil {
		t.Fatalf("expected negative duration to fail")
	}
}
