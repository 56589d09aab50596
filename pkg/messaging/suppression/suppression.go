package suppression

import (
	"log/slog"
	"strings"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

// Soft bounces clear themselves after a while (full mailboxes get
// emptied); hard bounces and complaints stay until an operator lifts
// them.
const softBounceExpiry = 7 * 24 * time.Hour

// Store is the persistence surface the service needs.
type Store interface {
	UpsertSuppression(entry types.SuppressionEntry) error
	GetSuppression(email string) (*types.SuppressionEntry, error)
	FindSuppressionsByEmails(emails []string) ([]types.SuppressionEntry, error)
	DeactivateSuppression(email string) error
	ListSuppressions(limit int) ([]types.SuppressionEntry, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// FilterSuppressed splits the given addresses into sendable and
// suppressed. Expired and deactivated entries do not block. A store
// failure errs on the side of sending; suppression is best effort, not
// a gate that can take delivery down.
func (s *Service) FilterSuppressed(emails []string) (allowed []string, suppressed []string, err error) {
	if len(emails) == 0 {
		return nil, nil, nil
	}

	entries, err := s.store.FindSuppressionsByEmails(emails)
	if err != nil {
		slog.Error("Suppression lookup failed, sending unfiltered", slog.String("error", err.Error()))
		return emails, nil, nil
	}

	now := s.now()
	blocked := map[string]bool{}
	for _, entry := range entries {
		if entry.IsActiveAt(now) {
			blocked[entry.Email] = true
		}
	}

	for _, email := range emails {
		if blocked[strings.ToLower(strings.TrimSpace(email))] {
			suppressed = append(suppressed, email)
		} else {
			allowed = append(allowed, email)
		}
	}
	return allowed, suppressed, nil
}

// IsSuppressed checks a single address.
func (s *Service) IsSuppressed(email string) bool {
	entry, err := s.store.GetSuppression(email)
	if err != nil || entry == nil {
		return false
	}
	return entry.IsActiveAt(s.now())
}

// Suppress upserts the entry for an address. The expiry follows the
// reason: soft bounces are time-limited, everything else is permanent.
func (s *Service) Suppress(email, reason, source, detail string) error {
	entry := types.SuppressionEntry{
		Email:  email,
		Reason: reason,
		Source: source,
		Detail: detail,
		Active: true,
	}
	if reason == types.SUPPRESSION_REASON_BOUNCE_SOFT {
		entry.ExpiresAt = s.now().Add(softBounceExpiry)
	}
	return s.store.UpsertSuppression(entry)
}

// Unsuppress lifts the block but keeps the entry for the audit trail.
func (s *Service) Unsuppress(email string) error {
	return s.store.DeactivateSuppression(email)
}

func (s *Service) List(limit int) ([]types.SuppressionEntry, error) {
	return s.store.ListSuppressions(limit)
}
