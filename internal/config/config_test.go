package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("SUBMISSION_STORE", "")
	t.Setenv("ARCHIVE_DRIVER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ValidatorURL != "https://r4.ontoserver.csiro.au/fhir/Bundle/$validate" {
		t.Errorf("unexpected validator url %s", cfg.ValidatorURL)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("expected session ttl 1h, got %s", cfg.SessionTTL)
	}
	if cfg.FetchTimeout != 15*time.Second || cfg.ValidationTimeout != 30*time.Second {
		t.Errorf("unexpected timeouts %s / %s", cfg.FetchTimeout, cfg.ValidationTimeout)
	}
	if cfg.IDMode != "random" {
		t.Errorf("expected random id mode, got %s", cfg.IDMode)
	}
	if cfg.FetchPageSize != 100 || cfg.FetchRPS != 20 || cfg.FetchBurst != 40 {
		t.Errorf("unexpected fetch settings %+v", cfg)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("ID_MODE", "deterministic")
	t.Setenv("SUBMISSION_STORE", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/ips.db")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL != 15*time.Minute {
		t.Errorf("expected 15m, got %s", cfg.SessionTTL)
	}
	if cfg.IDMode != "deterministic" || cfg.SubmissionStore != "sqlite" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %q", cfg.CORSOrigins)
	}
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SESSION_SECRET", "short")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SESSION_SECRET") {
		t.Fatalf("expected SESSION_SECRET error, got %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Env:             "development",
		SessionTTL:      time.Hour,
		ValidatorURL:    "https://validator.example/fhir/Bundle/$validate",
		FHIRBaseURL:     "https://fhir.example/r4",
		IDMode:          "random",
		SubmissionStore: "memory",
		ArchiveDriver:   "none",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown env", func(c *Config) { c.Env = "staging" }, "ENV"},
		{"missing validator", func(c *Config) { c.ValidatorURL = "" }, "VALIDATOR_URL"},
		{"relative validator", func(c *Config) { c.ValidatorURL = "/validate" }, "VALIDATOR_URL"},
		{"bad fhir url", func(c *Config) { c.FHIRBaseURL = "ftp://x" }, "FHIR_BASE_URL"},
		{"empty fhir url allowed", func(c *Config) { c.FHIRBaseURL = "" }, ""},
		{"bad id mode", func(c *Config) { c.IDMode = "sequential" }, "ID_MODE"},
		{"negative rps", func(c *Config) { c.FetchRPS = -1 }, "rate limits"},
		{"postgres without url", func(c *Config) { c.SubmissionStore = "postgres" }, "DATABASE_URL"},
		{"sqlite without path", func(c *Config) { c.SubmissionStore = "sqlite" }, "SQLITE_PATH"},
		{"unknown store", func(c *Config) { c.SubmissionStore = "redis" }, "SUBMISSION_STORE"},
		{"s3 without bucket", func(c *Config) { c.ArchiveDriver = "s3" }, "ARCHIVE_S3_BUCKET"},
		{"s3 half credentials", func(c *Config) {
			c.ArchiveDriver = "s3"
			c.ArchiveS3Bucket = "ips"
			c.ArchiveS3AccessKeyID = "AKIA"
		}, "must be set together"},
		{"unknown archive", func(c *Config) { c.ArchiveDriver = "gcs" }, "ARCHIVE_DRIVER"},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() || !c.IsProduction() {
		t.Error("expected production mode")
	}
}
