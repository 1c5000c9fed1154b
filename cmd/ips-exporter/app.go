package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/ips-exporter/internal/config"
	"github.com/ehr/ips-exporter/internal/domain/ips"
	"github.com/ehr/ips-exporter/internal/domain/submission"
	"github.com/ehr/ips-exporter/internal/platform/auth"
	"github.com/ehr/ips-exporter/internal/platform/blobstore"
	"github.com/ehr/ips-exporter/internal/platform/db"
	"github.com/ehr/ips-exporter/internal/platform/fhirclient"
	"github.com/ehr/ips-exporter/internal/platform/middleware"
	"github.com/ehr/ips-exporter/internal/platform/telemetry"
)

// app holds the wired service graph shared by the serve and assemble
// commands.
type app struct {
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	service     *ips.Service
	submissions submission.Repository
	archive     blobstore.Store
	closers     []func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{logger: logger, metrics: telemetry.New()}

	repo, closeRepo, err := openSubmissions(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("submission store: %w", err)
	}
	a.submissions = repo
	if closeRepo != nil {
		a.closers = append(a.closers, closeRepo)
	}
	logger.Info().Str("store", cfg.SubmissionStore).Msg("submission log ready")

	archive, err := blobstore.Open(ctx, cfg.ArchiveDriver, blobstore.S3Config{
		Bucket:          cfg.ArchiveS3Bucket,
		Region:          cfg.ArchiveS3Region,
		Endpoint:        cfg.ArchiveS3Endpoint,
		PathStyle:       cfg.ArchiveS3PathStyle,
		AccessKeyID:     cfg.ArchiveS3AccessKeyID,
		SecretAccessKey: cfg.ArchiveS3SecretKey,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("document archive: %w", err)
	}
	a.archive = archive

	ids, err := ips.NewIDGenerator(cfg.IDMode, cfg.IDNamespace)
	if err != nil {
		a.Close()
		return nil, err
	}

	sources := fhirclient.NewFactory(fhirclient.Options{
		BaseURL:  cfg.FHIRBaseURL,
		Timeout:  cfg.FetchTimeout,
		PageSize: cfg.FetchPageSize,
		MaxPages: cfg.FetchMaxPages,
		RPS:      cfg.FetchRPS,
		Burst:    cfg.FetchBurst,
		Logger:   logger,
	})
	openSource := func(lc auth.LaunchContext) (ips.Source, error) {
		src, err := sources.ForLaunch(lc)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	opts := []ips.ServiceOption{ips.WithSubmissionLog(repo)}
	if archive != nil {
		opts = append(opts, ips.WithArchive(archive))
	}
	a.service = ips.NewService(
		ips.NewAssembler(ids, logger, a.metrics),
		ips.NewSubmitter(&http.Client{Timeout: cfg.ValidationTimeout}, cfg.ValidatorURL, logger, a.metrics),
		openSource,
		logger,
		opts...,
	)
	return a, nil
}

func openSubmissions(ctx context.Context, cfg *config.Config) (submission.Repository, func(), error) {
	switch cfg.SubmissionStore {
	case "postgres":
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, nil, err
		}
		return submission.NewRepoPG(pool), pool.Close, nil
	case "sqlite":
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if _, err := db.NewMigrator(db.SQLiteTarget(sqlDB), submission.SQLiteMigrations()).Up(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return submission.NewRepoSQLite(sqlDB), func() { _ = sqlDB.Close() }, nil
	default:
		return submission.NewMemoryRepo(), nil, nil
	}
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// router builds the HTTP surface.
func (a *app) router(cfg *config.Config) (*echo.Echo, error) {
	codec, err := sessionCodec(cfg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-IPS-Placeholders"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RateLimitRPS > 0 {
		e.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
			Skipper:           auth.AuthSkipper,
		}))
	}
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Launch session
	sessionCfg := auth.SessionConfig{
		Codec:              codec,
		DefaultFHIRBaseURL: cfg.FHIRBaseURL,
	}
	if cfg.IsDev() {
		sessionCfg.Defaults = auth.LaunchContext{
			PatientID:      cfg.DevPatientID,
			PractitionerID: cfg.DevPractitionerID,
			FHIRBaseURL:    cfg.FHIRBaseURL,
		}
		auth.NewSessionHandler(codec, false).RegisterRoutes(e)
	}
	e.Use(auth.SessionMiddleware(sessionCfg))

	// Operational endpoints
	e.GET("/health", db.HealthHandler(map[string]db.Pinger{"submissions": a.submissions}, func() map[string]interface{} {
		return map[string]interface{}{
			"archive": cfg.ArchiveDriver,
			"store":   cfg.SubmissionStore,
		}
	}))
	e.GET("/metrics", a.metrics.Handler())

	// Patient summary
	g := ips.NewHandler(a.service).RegisterRoutes(e)
	if a.archive != nil {
		blobstore.NewArchiveHandler(a.archive).RegisterRoutes(g)
	}

	return e, nil
}

// sessionCodec builds the launch-session codec. Development runs without a
// configured secret get an ephemeral one.
func sessionCodec(cfg *config.Config) (*auth.SessionCodec, error) {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 && cfg.IsDev() {
		secret = make([]byte, 32)
		if _, err := crypto_rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return auth.NewSessionCodec(secret, cfg.SMARTClientID, ttl)
}
