package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/newsletter-engine/internal/config"
	"github.com/kursadbilgin/newsletter-engine/internal/handler"
	"github.com/kursadbilgin/newsletter-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/newsletter-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/newsletter-engine/internal/infra/redis"
	"github.com/kursadbilgin/newsletter-engine/internal/mailer"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/ratelimit"
	"github.com/kursadbilgin/newsletter-engine/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// runtime holds the connections shared by every long-running command.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	db      *gorm.DB
	sqlDB   *sql.DB
	redis   *goredis.Client
	broker  *queue.RabbitMQ
}

type runtimeOptions struct {
	component string
	migrate   bool
	redis     bool
}

func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, opts.component)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}

	rt.db, err = postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.sqlDB, err = rt.db.DB()
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	if opts.migrate {
		if err := migrations.Migrate(rt.db); err != nil {
			rt.close()
			return nil, fmt.Errorf("database migrations failed: %w", err)
		}
	}

	if opts.redis && cfg.RateLimitBackend == config.RateLimitBackendRedis {
		rt.redis, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			rt.close()
			return nil, err
		}
	}

	rt.broker, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		rt.close()
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) close() {
	if rt.broker != nil {
		if err := rt.broker.Close(); err != nil {
			rt.logger.Warn("rabbitmq close failed", zap.Error(err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if rt.sqlDB != nil {
		if err := rt.sqlDB.Close(); err != nil {
			rt.logger.Warn("postgres close failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func (rt *runtime) newMailer() (mailer.Mailer, error) {
	cfg := rt.cfg
	switch cfg.MailTransport {
	case config.MailTransportHTTP:
		return mailer.NewHTTPMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom)
	default:
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Security: mailer.SMTPSecurity(cfg.SMTPSecurity),
			From:     cfg.MailFrom,
			Timeout:  cfg.SendTimeout,
		})
	}
}

func (rt *runtime) newRateLimiter() (ratelimit.RateLimiter, error) {
	if rt.redis != nil {
		return infraredis.NewRedisRateLimiter(rt.redis, rt.cfg.RateLimitPerSec)
	}
	return ratelimit.NewLocalLimiter(rt.cfg.RateLimitPerSec), nil
}

// newApp builds a fiber app with the ops endpoints mounted.
func (rt *runtime) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(rt.logger),
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
	})
	app.Use(observability.CorrelationMiddleware())
	app.Use(rt.metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(rt.metrics.Handler()))
	handler.RegisterHealthRoutes(app, handler.HealthDeps{
		DB:     rt.sqlDB,
		Redis:  rt.redis,
		Broker: rt.broker,
	})
	return app
}

// serveHTTP listens on addr until ctx is done, then shuts the app down.
func serveHTTP(ctx context.Context, app *fiber.App, addr string, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
