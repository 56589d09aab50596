package main

import (
	"log/slog"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/dkim"
	"github.com/dealerkit/mailer-backend/pkg/messaging/queue"
	"github.com/dealerkit/mailer-backend/pkg/messaging/ratelimit"
	"github.com/dealerkit/mailer-backend/pkg/messaging/suppression"
	"github.com/dealerkit/mailer-backend/pkg/smtpclient"
)

const (
	// The job exits once the due backlog is drained or after this many
	// cycles, whichever comes first. Deferred entries wait for the next
	// cron run.
	MAX_CYCLES = 100

	MAX_FAILED_BEFORE_STOP = 100
)

// One-shot queue drain for cron deployments without the long-running
// API process.
func main() {
	slog.Info("Starting queue runner job")
	start := time.Now()

	suppressionService := suppression.NewService(mailerDBService)
	limiter := ratelimit.NewLimiter(mailerDBService)
	signer := dkim.NewSigner(mailerDBService, conf.SMTPConfig.SendingHost)

	transport := smtpclient.NewTransport(
		conf.SMTPConfig.Transport,
		suppressionService,
		limiter,
		signer,
		nil,
	)

	processor := queue.NewProcessor(queue.Config{
		BatchSize:  conf.QueueConfig.BatchSize,
		MaxRetries: conf.QueueConfig.MaxRetries,
	}, mailerDBService, transport, suppressionService)

	var totalSent, totalDeferred, totalFailed int
	for cycle := 0; cycle < MAX_CYCLES; cycle++ {
		result := processor.Tick()
		totalSent += result.Sent
		totalDeferred += result.Deferred
		totalFailed += result.Failed

		if result.Processed == 0 {
			break
		}
		if totalFailed > MAX_FAILED_BEFORE_STOP {
			slog.Error("Too many failed sends, stopping queue runner")
			break
		}
	}

	slog.Info("Queue runner job completed",
		slog.Int("sent", totalSent),
		slog.Int("deferred", totalDeferred),
		slog.Int("failed", totalFailed),
		slog.String("duration", time.Since(start).String()))
}
