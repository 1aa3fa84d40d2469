package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/newsletter-engine/internal/audience"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/render"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"github.com/kursadbilgin/newsletter-engine/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var workerOpsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the dispatch queue and deliver campaigns",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerOpsAddr, "ops-addr", ":9090", "listen address for /metrics, /livez and /readyz")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, runtimeOptions{component: "worker", redis: true})
	if err != nil {
		return err
	}
	defer rt.close()

	logger := rt.logger
	posts := repository.NewGormPostRepo(rt.db)

	mail, err := rt.newMailer()
	if err != nil {
		return fmt.Errorf("mailer initialization failed: %w", err)
	}
	limiter, err := rt.newRateLimiter()
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	consumer := queue.NewRabbitMQConsumer(rt.broker, rt.cfg.WorkerConcurrency, logger.Named("consumer"))
	defer consumer.Close() //nolint:errcheck

	worker, err := service.NewDispatchWorker(service.DispatchDeps{
		Campaigns:   repository.NewGormCampaignRepo(rt.db),
		Logs:        repository.NewGormCampaignLogRepo(rt.db),
		Templates:   repository.NewGormTemplateRepo(rt.db),
		Audience:    audience.NewResolver(repository.NewGormSubscriberRepo(rt.db)),
		Renderer:    render.NewRenderer(render.Config{BaseURL: rt.cfg.BaseURL, FrontendBaseURL: rt.cfg.FrontendBaseURL}, posts),
		Mailer:      mail,
		RateLimiter: limiter,
		Consumer:    consumer,
	}, service.DispatchOptions{
		Consumers:            rt.cfg.WorkerConcurrency,
		RecipientConcurrency: rt.cfg.DispatchConcurrency,
		SendTimeout:          rt.cfg.SendTimeout,
	}, logger.Named("dispatch"))
	if err != nil {
		return err
	}
	worker.SetMetrics(rt.metrics)

	app := rt.newApp()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(groupCtx, app, workerOpsAddr, logger) })
	g.Go(func() error { return worker.Start(groupCtx) })

	logger.Info("newsletter worker started",
		zap.Int("consumers", rt.cfg.WorkerConcurrency),
		zap.Int("recipientConcurrency", rt.cfg.DispatchConcurrency),
		zap.String("rateLimitBackend", rt.cfg.RateLimitBackend),
	)
	err = g.Wait()
	logger.Info("newsletter worker stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
