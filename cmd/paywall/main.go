package main

import (
	"context"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/mediavms/paywall/app/controllers"
	"github.com/mediavms/paywall/app/repository"
	"github.com/mediavms/paywall/internal/pkg/apperror"
	"github.com/mediavms/paywall/internal/pkg/cache"
	"github.com/mediavms/paywall/internal/pkg/config"
	"github.com/mediavms/paywall/internal/pkg/database"
	"github.com/mediavms/paywall/internal/pkg/delivery"
	"github.com/mediavms/paywall/internal/pkg/entitlements"
	"github.com/mediavms/paywall/internal/pkg/env"
	"github.com/mediavms/paywall/internal/pkg/flow"
	"github.com/mediavms/paywall/internal/pkg/logging"
	"github.com/mediavms/paywall/internal/pkg/mail"
	"github.com/mediavms/paywall/internal/pkg/metrics"
	"github.com/mediavms/paywall/internal/pkg/payments"
	"github.com/mediavms/paywall/internal/pkg/router"
	"github.com/mediavms/paywall/internal/pkg/session"
)

func main() {
	envFile, envErr := env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(config.LogConfig{}, "paywall", os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.Log, "paywall", os.Stdout)
	if envErr != nil {
		log.Warn().Err(envErr).Msg("could not read .env file")
	} else if envFile != "" {
		log.Info().Str("file", envFile).Msg("loaded environment file")
	}

	app, err := NewApplication(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	log.Info().Str("addr", cfg.App.Addr()).Str("env", cfg.App.Env).Msg("paywall listening")
	if err := app.Listen(cfg.App.Addr()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func NewApplication(cfg *config.Config, log zerolog.Logger) (*fiber.App, error) {
	db, err := database.SetupDatabase(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	cache.SetupCache(cfg.Cache, log)
	repos := repository.NewFactory(db).GetRepositories()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPaywall(reg)

	gateway := flow.NewClient(cfg.Flow, flow.WithMetrics(m))
	if !gateway.IsConfigured() {
		log.Warn().Bool("fake_success", cfg.Flow.FakeSuccess).Msg("FLOW_API_KEY or FLOW_SECRET_KEY missing")
	}

	var mailer mail.Mailer
	if cfg.Mail.Enabled() {
		mailer = mail.NewSMTPMailer(cfg.Mail, log)
	} else {
		log.Warn().Msg("SMTP_HOST not set, purchase emails are disabled")
	}
	notifications := mail.NewNotifications(mail.NotificationsParams{
		Mailer:       mailer,
		PortalName:   cfg.App.PortalName,
		FrontendHost: cfg.App.FrontendHost,
		AdminEmails:  cfg.Mail.AdminEmails,
		Metrics:      m,
		Logger:       log,
	})

	svc := payments.NewService(payments.ServiceParams{
		Payments:     repos.Payment,
		Entitlements: repos.Entitlement,
		Events:       repos.PaymentEvent,
		Gateway:      gateway,
		Notifier:     notifications,
		Metrics:      m,
		Logger:       log,
		Flow:         cfg.Flow,
		Access:       cfg.Access,
	})

	var presigner delivery.Presigner
	if cfg.S3.DeliveryEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p, err := delivery.NewS3Presigner(ctx, cfg.S3)
		cancel()
		if err != nil {
			return nil, err
		}
		presigner = p
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: apperror.ErrorHandler(log),

		// runs behind the portal's reverse proxy
		ProxyHeader: fiber.HeaderXForwardedFor,
	})
	app.Use(recover.New())
	if cfg.App.IsDev() {
		app.Use(logger.New())
	}

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	router.InstallRouter(app, router.Options{
		Deps: controllers.Dependencies{
			Repos:    repos,
			Gate:     entitlements.NewGate(cfg.Access, repos.Entitlement, m),
			Payments: svc,
			Resolver: delivery.NewResolver(cfg.Delivery, presigner),
			Flow:     cfg.Flow,
			Delivery: cfg.Delivery,
			Logger:   log,
		},
		Sessions:        session.NewSessionStore(cfg.Cache),
		Logger:          log,
		LimiterStorage:  cache.NewStorage(cfg.Cache, cache.DBLimiter),
		APIRateLimit:    cfg.App.APIRateLimit,
		Metrics:         reg,
		MetricsUser:     cfg.App.MetricsUser,
		MetricsPassHash: cfg.App.MetricsPassHash,
		HealthChecks: map[string]func(context.Context) error{
			"database": sqlDB.PingContext,
			"cache":    cache.Ping,
		},
	})

	return app, nil
}
