package ratelimit

import (
	"log/slog"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

// Store reads and writes the per-domain sending budget.
type Store interface {
	GetDomainConfig(domain string) (*types.DomainConfig, error)
	SaveDomainConfig(config *types.DomainConfig) error
}

// Limiter enforces hourly and daily send budgets per sending domain.
// Domains without a config are unlimited.
type Limiter struct {
	store Store
	now   func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// CheckAndCount consumes one send from the domain budget. A zero return
// means the send may proceed; otherwise the caller should retry after
// the returned duration. Counters roll over lazily: each one resets at
// most once per elapsed window, on the first check after the window end.
func (l *Limiter) CheckAndCount(domain string) (time.Duration, error) {
	config, err := l.store.GetDomainConfig(domain)
	if err != nil || config == nil {
		// Unknown domains are not budgeted.
		return 0, nil
	}

	now := l.now()
	rollWindows(config, now)

	if config.HourlyLimit > 0 && config.HourlySent >= config.HourlyLimit {
		return config.HourResetAt.Sub(now), nil
	}
	if config.DailyLimit > 0 && config.DailySent >= config.DailyLimit {
		return config.DayResetAt.Sub(now), nil
	}

	config.HourlySent++
	config.DailySent++
	if err := l.store.SaveDomainConfig(config); err != nil {
		slog.Error("Failed to persist rate limit counters",
			slog.String("domain", domain), slog.String("error", err.Error()))
	}
	return 0, nil
}

// Usage reports the current counters without consuming budget.
func (l *Limiter) Usage(domain string) (hourlySent, hourlyLimit, dailySent, dailyLimit int, err error) {
	config, err := l.store.GetDomainConfig(domain)
	if err != nil || config == nil {
		return 0, 0, 0, 0, err
	}
	rollWindows(config, l.now())
	return config.HourlySent, config.HourlyLimit, config.DailySent, config.DailyLimit, nil
}

func rollWindows(config *types.DomainConfig, now time.Time) {
	if config.HourResetAt.IsZero() || !now.Before(config.HourResetAt) {
		config.HourlySent = 0
		config.HourResetAt = now.Add(time.Hour)
	}
	if config.DayResetAt.IsZero() || !now.Before(config.DayResetAt) {
		config.DailySent = 0
		config.DayResetAt = now.Add(24 * time.Hour)
	}
}
