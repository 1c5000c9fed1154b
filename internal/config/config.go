package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	FHIRBaseURL       string        `mapstructure:"FHIR_BASE_URL"`
	ValidatorURL      string        `mapstructure:"VALIDATOR_URL"`
	ValidationTimeout time.Duration `mapstructure:"VALIDATION_TIMEOUT"`

	SessionSecret     string        `mapstructure:"SESSION_SECRET"`
	SessionTTL        time.Duration `mapstructure:"SESSION_TTL"`
	SMARTClientID     string        `mapstructure:"SMART_CLIENT_ID"`
	DevPatientID      string        `mapstructure:"DEV_PATIENT_ID"`
	DevPractitionerID string        `mapstructure:"DEV_PRACTITIONER_ID"`

	IDMode      string `mapstructure:"ID_MODE"`
	IDNamespace string `mapstructure:"ID_NAMESPACE"`

	FetchTimeout  time.Duration `mapstructure:"FETCH_TIMEOUT"`
	FetchPageSize int           `mapstructure:"FETCH_PAGE_SIZE"`
	FetchMaxPages int           `mapstructure:"FETCH_MAX_PAGES"`
	FetchRPS      float64       `mapstructure:"FETCH_RPS"`
	FetchBurst    int           `mapstructure:"FETCH_BURST"`

	SubmissionStore string `mapstructure:"SUBMISSION_STORE"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	SQLitePath      string `mapstructure:"SQLITE_PATH"`

	ArchiveDriver        string `mapstructure:"ARCHIVE_DRIVER"`
	ArchiveS3Bucket      string `mapstructure:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Region      string `mapstructure:"ARCHIVE_S3_REGION"`
	ArchiveS3Endpoint    string `mapstructure:"ARCHIVE_S3_ENDPOINT"`
	ArchiveS3PathStyle   bool   `mapstructure:"ARCHIVE_S3_PATH_STYLE"`
	ArchiveS3AccessKeyID string `mapstructure:"ARCHIVE_S3_ACCESS_KEY_ID"`
	ArchiveS3SecretKey   string `mapstructure:"ARCHIVE_S3_SECRET_ACCESS_KEY"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"FHIR_BASE_URL", "VALIDATOR_URL", "VALIDATION_TIMEOUT",
	"SESSION_SECRET", "SESSION_TTL", "SMART_CLIENT_ID", "DEV_PATIENT_ID", "DEV_PRACTITIONER_ID",
	"ID_MODE", "ID_NAMESPACE",
	"FETCH_TIMEOUT", "FETCH_PAGE_SIZE", "FETCH_MAX_PAGES", "FETCH_RPS", "FETCH_BURST",
	"SUBMISSION_STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH",
	"ARCHIVE_DRIVER", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_REGION", "ARCHIVE_S3_ENDPOINT",
	"ARCHIVE_S3_PATH_STYLE", "ARCHIVE_S3_ACCESS_KEY_ID", "ARCHIVE_S3_SECRET_ACCESS_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FHIR_BASE_URL", "https://launch.smarthealthit.org/v/r4/fhir")
	v.SetDefault("VALIDATOR_URL", "https://r4.ontoserver.csiro.au/fhir/Bundle/$validate")
	v.SetDefault("VALIDATION_TIMEOUT", "30s")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("SMART_CLIENT_ID", "ips-exporter")
	v.SetDefault("ID_MODE", "random")
	v.SetDefault("FETCH_TIMEOUT", "15s")
	v.SetDefault("FETCH_PAGE_SIZE", 100)
	v.SetDefault("FETCH_MAX_PAGES", 20)
	v.SetDefault("FETCH_RPS", 20)
	v.SetDefault("FETCH_BURST", 40)
	v.SetDefault("SUBMISSION_STORE", "memory")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "ips-exporter.db")
	v.SetDefault("ARCHIVE_DRIVER", "none")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: POST /session mints launch sessions without a SMART launch.")
		log.Println("WARNING: Set ENV=production and SESSION_SECRET before deploying.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the cross-field rules. Outside development a session
// secret of at least 32 bytes is required.
func (c *Config) Validate() error {
	if !c.IsDev() && !c.IsProduction() {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}

	if !c.IsDev() && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes outside development")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}

	if err := checkURL("VALIDATOR_URL", c.ValidatorURL, true); err != nil {
		return err
	}
	if err := checkURL("FHIR_BASE_URL", c.FHIRBaseURL, false); err != nil {
		return err
	}

	switch c.IDMode {
	case "random", "deterministic":
	default:
		return fmt.Errorf("ID_MODE must be \"random\" or \"deterministic\", got %q", c.IDMode)
	}

	if c.FetchRPS < 0 || c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	switch c.SubmissionStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SUBMISSION_STORE is \"postgres\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when SUBMISSION_STORE is \"sqlite\"")
		}
	default:
		return fmt.Errorf("SUBMISSION_STORE must be \"memory\", \"postgres\", or \"sqlite\", got %q", c.SubmissionStore)
	}

	switch c.ArchiveDriver {
	case "none", "", "memory":
	case "s3":
		if c.ArchiveS3Bucket == "" {
			return fmt.Errorf("ARCHIVE_S3_BUCKET is required when ARCHIVE_DRIVER is \"s3\"")
		}
		if (c.ArchiveS3AccessKeyID == "") != (c.ArchiveS3SecretKey == "") {
			return fmt.Errorf("ARCHIVE_S3_ACCESS_KEY_ID and ARCHIVE_S3_SECRET_ACCESS_KEY must be set together")
		}
	default:
		return fmt.Errorf("ARCHIVE_DRIVER must be \"none\", \"memory\", or \"s3\", got %q", c.ArchiveDriver)
	}

	return nil
}

func checkURL(key, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", key)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}
