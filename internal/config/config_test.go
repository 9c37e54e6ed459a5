package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.DataDir != "./data/csv_data" {
		t.Errorf("expected default data dir, got %s", cfg.DataDir)
	}
	if cfg.RateLimitRPS != 100 || cfg.RateLimitBurst != 200 {
		t.Errorf("unexpected rate limit defaults: %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Errorf("expected 10s api timeout, got %s", cfg.APITimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9100")
	t.Setenv("DATA_DIR", "/srv/carenav")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("API_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9100" || cfg.DataDir != "/srv/carenav" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.CORSOrigins); diff != "" {
		t.Errorf("CORSOrigins mismatch (-want +got):\n%s", diff)
	}
	if cfg.APITimeout != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.APITimeout)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{Port: "8000", Env: "production", DataDir: "d", RateLimitRPS: 1, RateLimitBurst: 1,
			CORSOrigins: []string{"https://app.example"}}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad env", func(c *Config) { c.Env = "staging" }, "ENV"},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "DATA_DIR"},
		{"zero rps", func(c *Config) { c.RateLimitRPS = 0 }, "RATE_LIMIT_RPS"},
		{"zero burst", func(c *Config) { c.RateLimitBurst = 0 }, "RATE_LIMIT_BURST"},
		{"wildcard cors in production", func(c *Config) { c.CORSOrigins = []string{"*"} }, "CORS_ORIGINS"},
		{"wildcard cors in development", func(c *Config) { c.Env = "development"; c.CORSOrigins = []string{"*"} }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}
