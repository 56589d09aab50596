package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dealerkit/mailer-backend/pkg/db/mailer"
	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
	"github.com/dealerkit/mailer-backend/pkg/smtpclient"
)

// Store is the queue's persistence surface, implemented by
// mailer.MailerDBService.
type Store interface {
	FindDueMessages(now time.Time, limit int) ([]types.OutboundMessage, error)
	ClaimMessage(id primitive.ObjectID, now time.Time, staleBefore time.Time) (*types.OutboundMessage, error)
	MarkMessageSent(id primitive.ObjectID, providerMessageID, providerResponse string) error
	MarkMessageDeferred(id primitive.ObjectID, nextAttemptAt time.Time, errorMessage string) error
	MarkMessageFailed(id primitive.ObjectID, errorMessage string) error
	ResetMessageForRetry(id string) error
	CancelMessage(id string) error
	CountMessagesByStatus() (map[string]int64, error)
	CountMessagesUpdatedSince(status string, since time.Time) (int64, error)
	AddDeliveryLog(log types.DeliveryLog) (types.DeliveryLog, error)
}

// Transport delivers one message, implemented by smtpclient.Transport.
type Transport interface {
	Send(email *smtpclient.Email) smtpclient.DeliveryResult
}

// Suppressor receives hard-bounced addresses.
type Suppressor interface {
	Suppress(email, reason, source, detail string) error
}

type Config struct {
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	TickInterval time.Duration `yaml:"-"`
	// RetryDelays is the backoff ladder indexed by completed attempts.
	RetryDelays []time.Duration `yaml:"-"`
	// LockWindow is how long a PROCESSING claim is honored before the
	// entry counts as abandoned by a dead process.
	LockWindow time.Duration `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, time.Hour}
	}
	if c.LockWindow <= 0 {
		c.LockWindow = 10 * time.Minute
	}
	return c
}

// Processor drains the outbound queue on a recurring tick.
type Processor struct {
	config     Config
	store      Store
	transport  Transport
	suppressor Suppressor
	now        func() time.Time

	cron    *cron.Cron
	running int32
	wg      sync.WaitGroup
}

func NewProcessor(config Config, store Store, transport Transport, suppressor Suppressor) *Processor {
	return &Processor{
		config:     config.withDefaults(),
		store:      store,
		transport:  transport,
		suppressor: suppressor,
		now:        time.Now,
	}
}

// Start schedules the recurring tick. An overlapping tick is skipped,
// never queued behind the running one.
func (p *Processor) Start() error {
	if p.cron != nil {
		return fmt.Errorf("queue processor already started")
	}
	p.cron = cron.New()
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.config.TickInterval), func() {
		p.wg.Add(1)
		defer p.wg.Done()
		p.Tick()
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	slog.Info("Queue processor started", slog.String("interval", p.config.TickInterval.String()))
	return nil
}

// Stop halts the ticker and waits for the in-flight tick to finish.
func (p *Processor) Stop() {
	if p.cron == nil {
		return
	}
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.wg.Wait()
	slog.Info("Queue processor stopped")
}

// TickResult summarizes one processing cycle.
type TickResult struct {
	Processed int
	Sent      int
	Deferred  int
	Failed    int
	Skipped   bool
}

// Tick runs one processing cycle: select due entries, claim each one,
// attempt transport, record the outcome. Entries are processed serially
// so outbound connection concurrency stays at one.
func (p *Processor) Tick() TickResult {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		slog.Debug("Queue tick skipped, previous tick still running")
		return TickResult{Skipped: true}
	}
	defer atomic.StoreInt32(&p.running, 0)

	now := p.now()
	due, err := p.store.FindDueMessages(now, p.config.BatchSize)
	if err != nil {
		slog.Error("Queue tick failed to select due messages", slog.String("error", err.Error()))
		return TickResult{}
	}

	var result TickResult
	for _, msg := range due {
		claimed, err := p.store.ClaimMessage(msg.ID, p.now(), p.now().Add(-p.config.LockWindow))
		if err != nil {
			// Another process got there first, or the entry moved on.
			continue
		}
		result.Processed++
		switch p.processClaimed(claimed) {
		case types.MESSAGE_STATUS_SENT:
			result.Sent++
		case types.MESSAGE_STATUS_DEFERRED:
			result.Deferred++
		default:
			result.Failed++
		}
	}

	if result.Processed > 0 {
		slog.Info("Queue tick finished",
			slog.Int("processed", result.Processed),
			slog.Int("sent", result.Sent),
			slog.Int("deferred", result.Deferred),
			slog.Int("failed", result.Failed))
	}
	return result
}

// processClaimed attempts transport for one PROCESSING entry and
// returns the resulting status.
func (p *Processor) processClaimed(msg *types.OutboundMessage) string {
	delivery := p.attempt(msg)

	if delivery.Success {
		if err := p.store.MarkMessageSent(msg.ID, delivery.ProviderMessageID, delivery.Response); err != nil {
			slog.Error("Failed to mark message sent", slog.String("id", msg.ID.Hex()), slog.String("error", err.Error()))
		}
		p.writeLog(msg, types.DELIVERY_STATUS_SENT, delivery)
		return types.MESSAGE_STATUS_SENT
	}

	errorMessage := delivery.Response
	if delivery.Err != nil {
		errorMessage = delivery.Err.Error()
	}

	if delivery.ShouldRetry && msg.Attempts <= p.config.MaxRetries {
		delay := p.retryDelay(msg.Attempts, delivery.RetryAfter)
		if err := p.store.MarkMessageDeferred(msg.ID, p.now().Add(delay), errorMessage); err != nil {
			slog.Error("Failed to defer message", slog.String("id", msg.ID.Hex()), slog.String("error", err.Error()))
		}
		return types.MESSAGE_STATUS_DEFERRED
	}

	if err := p.store.MarkMessageFailed(msg.ID, errorMessage); err != nil {
		slog.Error("Failed to mark message failed", slog.String("id", msg.ID.Hex()), slog.String("error", err.Error()))
	}

	if delivery.HardBounce {
		p.writeLog(msg, types.DELIVERY_STATUS_BOUNCED, delivery)
		if err := p.suppressor.Suppress(msg.To, types.SUPPRESSION_REASON_BOUNCE_HARD, types.SUPPRESSION_SOURCE_SMTP, errorMessage); err != nil {
			slog.Error("Failed to suppress hard-bounced recipient",
				slog.String("recipient", msg.To), slog.String("error", err.Error()))
		}
	} else {
		p.writeLog(msg, types.DELIVERY_STATUS_FAILED, delivery)
	}
	return types.MESSAGE_STATUS_FAILED
}

// attempt calls the transport, converting a panic into a retryable
// failure so one poisoned message cannot take the tick down.
func (p *Processor) attempt(msg *types.OutboundMessage) (delivery smtpclient.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Transport panic recovered",
				slog.String("id", msg.ID.Hex()), slog.Any("panic", r))
			delivery = smtpclient.DeliveryResult{
				Err:         fmt.Errorf("transport panic: %v", r),
				ShouldRetry: true,
			}
		}
	}()

	email := &smtpclient.Email{
		From:       msg.From,
		FromName:   msg.FromName,
		To:         []string{msg.To},
		Cc:         msg.Cc,
		Bcc:        msg.Bcc,
		ReplyTo:    msg.ReplyTo,
		Subject:    msg.Subject,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackingID: msg.TrackingID,
	}
	return p.transport.Send(email)
}

// retryDelay reads the backoff ladder at the completed-attempt index,
// clamped to the last rung. An explicit server retryAfter wins when it
// is longer.
func (p *Processor) retryDelay(attempts int, retryAfter time.Duration) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.config.RetryDelays) {
		idx = len(p.config.RetryDelays) - 1
	}
	delay := p.config.RetryDelays[idx]
	if retryAfter > delay {
		return retryAfter
	}
	return delay
}

func (p *Processor) writeLog(msg *types.OutboundMessage, status string, delivery smtpclient.DeliveryResult) {
	log := types.DeliveryLog{
		DealerID:          msg.DealerID,
		Recipient:         msg.To,
		Subject:           msg.Subject,
		TrackingID:        msg.TrackingID,
		ProviderMessageID: delivery.ProviderMessageID,
		ProviderResponse:  delivery.Response,
		Status:            status,
		SentAt:            p.now(),
	}
	if status == types.DELIVERY_STATUS_BOUNCED {
		log.BounceType = types.BOUNCE_TYPE_HARD
		if delivery.Err != nil {
			log.BounceReason = delivery.Err.Error()
		} else {
			log.BounceReason = delivery.Response
		}
		log.BouncedAt = p.now()
	}
	if _, err := p.store.AddDeliveryLog(log); err != nil {
		slog.Error("Failed to write delivery log",
			slog.String("trackingId", msg.TrackingID), slog.String("error", err.Error()))
	}
}

// RetryEmail resets a FAILED entry to PENDING with a clean attempt
// counter.
func (p *Processor) RetryEmail(id string) error {
	return p.store.ResetMessageForRetry(id)
}

// CancelEmail moves a waiting entry to FAILED without a transport
// attempt.
func (p *Processor) CancelEmail(id string) error {
	return p.store.CancelMessage(id)
}

// Stats reports per-status counts plus today's sent/failed totals
// windowed at local midnight.
type Stats struct {
	ByStatus    map[string]int64 `json:"byStatus"`
	SentToday   int64            `json:"sentToday"`
	FailedToday int64            `json:"failedToday"`
}

func (p *Processor) Stats() (*Stats, error) {
	byStatus, err := p.store.CountMessagesByStatus()
	if err != nil {
		return nil, err
	}

	now := p.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	sentToday, err := p.store.CountMessagesUpdatedSince(types.MESSAGE_STATUS_SENT, midnight)
	if err != nil {
		return nil, err
	}
	failedToday, err := p.store.CountMessagesUpdatedSince(types.MESSAGE_STATUS_FAILED, midnight)
	if err != nil {
		return nil, err
	}

	return &Stats{ByStatus: byStatus, SentToday: sentToday, FailedToday: failedToday}, nil
}

// Compile-time check that the db service satisfies the queue store.
var _ Store = (*mailer.MailerDBService)(nil)
