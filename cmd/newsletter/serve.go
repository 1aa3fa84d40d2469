package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/newsletter-engine/internal/handler"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/render"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"github.com/kursadbilgin/newsletter-engine/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the schedule scanner and the stall monitor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply database migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, runtimeOptions{component: "api", migrate: !skipMigrate})
	if err != nil {
		return err
	}
	defer rt.close()

	logger := rt.logger
	campaigns := repository.NewGormCampaignRepo(rt.db)
	logs := repository.NewGormCampaignLogRepo(rt.db)
	templates := repository.NewGormTemplateRepo(rt.db)
	topics := repository.NewGormTopicRepo(rt.db)
	posts := repository.NewGormPostRepo(rt.db)
	subscribers := repository.NewGormSubscriberRepo(rt.db)

	publisher := queue.NewRabbitMQPublisher(rt.broker)
	renderer := render.NewRenderer(render.Config{
		BaseURL:         rt.cfg.BaseURL,
		FrontendBaseURL: rt.cfg.FrontendBaseURL,
	}, posts)
	mail, err := rt.newMailer()
	if err != nil {
		return fmt.Errorf("mailer initialization failed: %w", err)
	}

	campaignSvc, err := service.NewCampaignService(campaigns, logs, templates, topics, publisher, logger.Named("campaigns"))
	if err != nil {
		return err
	}
	campaignSvc.SetMetrics(rt.metrics)

	subscriptionSvc, err := service.NewSubscriptionService(subscribers, topics, mail, renderer, logger.Named("subscriptions"))
	if err != nil {
		return err
	}

	trigger, err := service.NewPublicationTrigger(templates, topics, posts, campaignSvc, logger.Named("publication"))
	if err != nil {
		return err
	}
	trigger.SetMetrics(rt.metrics)

	scheduler, err := service.NewScheduler(campaigns, campaignSvc, rt.cfg.SchedulerInterval, 0, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	stallMonitor, err := service.NewStallMonitor(campaigns, 0, rt.cfg.StallThreshold, logger.Named("stall"))
	if err != nil {
		return err
	}
	stallMonitor.SetMetrics(rt.metrics)

	app := rt.newApp()
	if err := handler.RegisterCampaignRoutes(app, campaignSvc); err != nil {
		return err
	}
	if err := handler.RegisterNewsletterRoutes(app, subscriptionSvc); err != nil {
		return err
	}
	if err := handler.RegisterContentRoutes(app, posts, trigger); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(groupCtx, app, fmt.Sprintf(":%d", rt.cfg.APIPort), logger)
	})
	g.Go(func() error { return scheduler.Start(groupCtx) })
	g.Go(func() error { return stallMonitor.Start(groupCtx) })

	logger.Info("newsletter api started", zap.Int("port", rt.cfg.APIPort), zap.String("version", version))
	err = g.Wait()
	logger.Info("newsletter api stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
