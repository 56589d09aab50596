package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

var (
	ErrInvalidToken = errors.New("invalid unsubscribe token")
	ErrExpiredToken = errors.New("expired unsubscribe token")
)

// Store is the persistence surface for events and delivery log patches.
type Store interface {
	AddTrackingEvent(event types.TrackingEvent) (types.TrackingEvent, error)
	GetDeliveryLogByTrackingID(trackingID string) (*types.DeliveryLog, error)
	GetDeliveryLogByProviderMessageID(providerMessageID string) (*types.DeliveryLog, error)
	MarkDelivered(trackingID string, at time.Time) error
	MarkOpened(trackingID string, at time.Time) error
	MarkClicked(trackingID string, at time.Time) error
	MarkBounced(trackingID, bounceType, reason string, at time.Time) error
	MarkComplaint(trackingID string) error
	CountDeliveries(dealerID string, since time.Time) (types.DeliveryCounters, error)
}

// Suppressor receives the addresses tracking decides to block.
type Suppressor interface {
	Suppress(email, reason, source, detail string) error
}

type Config struct {
	BaseURL             string        `yaml:"base_url"`
	TokenSecret         string        `yaml:"token_secret"`
	UnsubscribeTokenTTL time.Duration `yaml:"-"`
}

type Service struct {
	config     Config
	store      Store
	suppressor Suppressor
	now        func() time.Time
}

func NewService(config Config, store Store, suppressor Suppressor) *Service {
	if config.UnsubscribeTokenTTL == 0 {
		config.UnsubscribeTokenTTL = 30 * 24 * time.Hour
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Service{config: config, store: store, suppressor: suppressor, now: time.Now}
}

// NewTrackingID mints the identifier tying a send to its later events.
func NewTrackingID() string {
	return uuid.NewString()
}

func (s *Service) PixelURL(trackingID string) string {
	return fmt.Sprintf("%s/track/open/%s.gif", s.config.BaseURL, trackingID)
}

func (s *Service) ClickURL(trackingID, originalURL string) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(originalURL))
	return fmt.Sprintf("%s/track/click/%s?url=%s", s.config.BaseURL, trackingID, encoded)
}

// DecodeClickURL reverses ClickURL's parameter encoding.
func DecodeClickURL(encoded string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// InjectOpenTracker places an invisible pixel just before </body>, or
// appends it when the HTML has no body close tag.
func (s *Service) InjectOpenTracker(html, trackingID string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;" />`, s.PixelURL(trackingID))
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}

var hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*"([^"]*)"`)

// InjectClickTracker rewrites every href to redirect through the click
// endpoint. Fragments, mailto:, tel:, data: and URLs already pointing at
// the tracker are left alone.
func (s *Service) InjectClickTracker(html, trackingID string) string {
	return hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		groups := hrefPattern.FindStringSubmatch(match)
		original := groups[1]
		lower := strings.ToLower(original)
		if original == "" ||
			strings.HasPrefix(original, "#") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") ||
			strings.HasPrefix(lower, "data:") ||
			strings.Contains(original, "/track/click/") ||
			strings.Contains(original, "/track/unsubscribe") {
			return match
		}
		return fmt.Sprintf(`href="%s"`, s.ClickURL(trackingID, original))
	})
}

// Inject applies the enabled trackers. Order matters: the click rewrite
// runs first so the pixel URL itself is never rewritten.
func (s *Service) Inject(html, trackingID string, trackOpens, trackClicks bool) string {
	if trackClicks {
		html = s.InjectClickTracker(html, trackingID)
	}
	if trackOpens {
		html = s.InjectOpenTracker(html, trackingID)
	}
	return html
}

type unsubscribePayload struct {
	TrackingID string `json:"trackingId"`
	Email      string `json:"email"`
	Timestamp  int64  `json:"ts"`
}

// UnsubscribeToken issues a signed token binding trackingId and email.
// Format: base64url(payload) + "." + hex(HMAC-SHA256(payload, secret)).
func (s *Service) UnsubscribeToken(trackingID, email string) string {
	payloadJSON, _ := json.Marshal(unsubscribePayload{
		TrackingID: trackingID,
		Email:      email,
		Timestamp:  s.now().Unix(),
	})
	payload := base64.URLEncoding.EncodeToString(payloadJSON)
	return payload + "." + s.signPayload(payload)
}

func (s *Service) UnsubscribeURL(trackingID, email string) string {
	return fmt.Sprintf("%s/track/unsubscribe?token=%s", s.config.BaseURL, s.UnsubscribeToken(trackingID, email))
}

// VerifyUnsubscribeToken checks the signature in constant time and the
// issue timestamp against the configured TTL.
func (s *Service) VerifyUnsubscribeToken(token string) (trackingID, email string, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(s.signPayload(parts[0])), []byte(parts[1])) {
		return "", "", ErrInvalidToken
	}

	payloadJSON, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", ErrInvalidToken
	}
	var payload unsubscribePayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return "", "", ErrInvalidToken
	}
	if s.now().Sub(time.Unix(payload.Timestamp, 0)) > s.config.UnsubscribeTokenTTL {
		return "", "", ErrExpiredToken
	}
	return payload.TrackingID, payload.Email, nil
}

// HandleUnsubscribe validates the token, suppresses the address and
// records the event.
func (s *Service) HandleUnsubscribe(token string) (email string, err error) {
	trackingID, email, err := s.VerifyUnsubscribeToken(token)
	if err != nil {
		return "", err
	}
	if err := s.suppressor.Suppress(email, types.SUPPRESSION_REASON_UNSUBSCRIBE, types.SUPPRESSION_SOURCE_TRACKING, "unsubscribe link"); err != nil {
		return "", err
	}
	s.RecordEvent(types.TrackingEvent{
		TrackingID: trackingID,
		EventType:  types.TRACKING_EVENT_UNSUBSCRIBE,
	})
	return email, nil
}

func (s *Service) signPayload(payload string) string {
	mac := hmac.New(sha256.New, []byte(s.config.TokenSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
