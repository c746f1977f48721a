package cmd

import (
	"context"
	"log"
	"log/slog"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"lessonpay/config"
	"lessonpay/internal/fees"
	"lessonpay/internal/gateway"
	"lessonpay/internal/handlers"
	"lessonpay/internal/services"
	"lessonpay/internal/store"
	"lessonpay/utils"
	_ "lessonpay/migrations"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	logLevel := slog.LevelInfo
	if cfg.Environment == "development" {
		logLevel = slog.LevelDebug
	}
	slog.SetLogLoggerLevel(logLevel)

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Stripe gateway, constructed once and injected everywhere
	stripeGateway := gateway.NewStripeGateway(cfg.StripeSecretKey)

	// Stores
	paymentStore := store.NewPaymentStore(app)
	lessonStore := store.NewLessonStore(app)
	accountStore := store.NewAccountStore(app)

	// Initialize services
	feeCalc := fees.NewCalculator(cfg.PlatformFeeRate)
	notifier := services.NewPubNubNotifier(pn)

	checkoutService := services.NewCheckoutService(
		paymentStore, lessonStore, accountStore,
		stripeGateway, feeCalc, notifier,
		cfg.BaseURL, cfg.GatewayTimeout,
	)
	releaseService := services.NewReleaseService(
		paymentStore, lessonStore, accountStore,
		stripeGateway, redisClient, notifier,
		cfg.ReleaseBatchSize, cfg.ReleaseLockTTL, cfg.GatewayTimeout,
	)
	refundService := services.NewRefundService(
		paymentStore, lessonStore,
		stripeGateway, redisClient, notifier,
		cfg.GatewayTimeout,
	)
	accountService := services.NewAccountService(accountStore, stripeGateway, cfg.BaseURL, cfg.GatewayTimeout)
	webhookService := services.NewWebhookService(cfg.StripeWebhookSecret, accountService, checkoutService)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(app, checkoutService, refundService)
	payoutHandler := handlers.NewPayoutHandler(app, releaseService, accountService)
	webhookHandler := handlers.NewWebhookHandler(app, webhookService)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Escrow release cron; the HTTP trigger calls the same job function
	app.Cron().MustAdd("escrowRelease", cfg.ReleaseInterval, func() {
		report, err := releaseService.ReleaseDue(context.Background())
		if err != nil {
			if err != services.ErrReleaseRunning {
				slog.Error("escrow release tick failed", "error", err)
			}
			return
		}
		slog.Info("escrow release tick",
			"processed", report.Processed,
			"released", report.Released,
			"skipped", report.Skipped,
			"errors", report.Errors,
		)
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Payment endpoints
		e.Router.POST("/api/v1/payments/checkout", paymentHandler.StartCheckout)
		e.Router.POST("/api/v1/payments/session-status", paymentHandler.SessionStatus)
		e.Router.POST("/api/v1/payments/refund", paymentHandler.Refund)

		// Payout endpoints
		e.Router.POST("/api/v1/payouts/release", payoutHandler.Release)
		e.Router.POST("/api/v1/payouts/onboard", payoutHandler.Onboard)
		e.Router.POST("/api/v1/payouts/status", payoutHandler.Status)

		// Processor webhook (raw body, signature header)
		e.Router.POST("/api/v1/webhooks/payments", webhookHandler.HandleStripeEvent)

		// Prometheus scrape endpoint
		if cfg.EnableMetrics {
			metricsHandler := promhttp.Handler()
			e.Router.GET("/metrics", func(e *core.RequestEvent) error {
				metricsHandler.ServeHTTP(e.Response, e.Request)
				return nil
			})
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}
