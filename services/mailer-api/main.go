package main

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dealerkit/mailer-backend/pkg/apihelpers"
	"github.com/dealerkit/mailer-backend/pkg/dkim"
	"github.com/dealerkit/mailer-backend/pkg/messaging/engine"
	"github.com/dealerkit/mailer-backend/pkg/messaging/queue"
	"github.com/dealerkit/mailer-backend/pkg/messaging/ratelimit"
	"github.com/dealerkit/mailer-backend/pkg/messaging/suppression"
	"github.com/dealerkit/mailer-backend/pkg/messaging/tracking"
	"github.com/dealerkit/mailer-backend/pkg/smtpclient"
	"github.com/dealerkit/mailer-backend/pkg/utils"
	"github.com/dealerkit/mailer-backend/services/mailer-api/apihandlers"
)

func main() {
	suppressionService := suppression.NewService(mailerDBService)
	limiter := ratelimit.NewLimiter(mailerDBService)
	signer := dkim.NewSigner(mailerDBService, conf.SMTPConfig.SendingHost)
	trackingService := tracking.NewService(loadTrackingConfig(), mailerDBService, suppressionService)

	transport := smtpclient.NewTransport(
		conf.SMTPConfig.Transport,
		suppressionService,
		limiter,
		signer,
		nil,
	)

	mailEngine := engine.NewEngine(
		conf.EngineConfig,
		mailerDBService,
		transport,
		suppressionService,
		trackingService,
	)

	processor := queue.NewProcessor(
		loadQueueConfig(),
		mailerDBService,
		transport,
		suppressionService,
	)
	if conf.QueueConfig.Disabled {
		slog.Info("Queue processor disabled by config")
	} else {
		if err := processor.Start(); err != nil {
			slog.Error("Error starting queue processor", slog.String("error", err.Error()))
			panic("Error starting queue processor")
		}
		defer processor.Stop()
	}

	// Start webserver
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     conf.GinConfig.AllowOrigins,
		AllowMethods:     []string{"POST", "GET", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Content-Length", "Api-Key"},
		ExposeHeaders:    []string{"Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Add handlers
	router.GET("/", apihandlers.HealthCheckHandle)
	root := router.Group("/")
	apiModule := apihandlers.NewHTTPHandler(
		conf.ApiKeys,
		mailEngine,
		processor,
		signer,
		trackingService,
		suppressionService,
	)
	apiModule.AddRoutes(root)

	if conf.GinConfig.DebugMode {
		apihelpers.WriteRoutesToFile(router, "mailer-api-routes.txt")
	}

	slog.Info("Starting Mailer API on port " + conf.GinConfig.Port)
	if err := router.Run(":" + conf.GinConfig.Port); err != nil {
		slog.Error("Exited Mailer API", slog.String("error", err.Error()))
		return
	}
}

func loadQueueConfig() queue.Config {
	cfg := queue.Config{
		BatchSize:  conf.QueueConfig.BatchSize,
		MaxRetries: conf.QueueConfig.MaxRetries,
	}
	if conf.QueueConfig.TickInterval != "" {
		interval, err := utils.ParseDurationString(conf.QueueConfig.TickInterval)
		if err != nil {
			slog.Error("Invalid queue tick interval", slog.String("error", err.Error()))
			panic("Invalid queue tick interval")
		}
		cfg.TickInterval = interval
	}
	return cfg
}
