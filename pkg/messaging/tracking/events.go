package tracking

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

var ErrLogNotFound = errors.New("delivery log not found")

// RecordEvent persists the event and patches the matching delivery log.
// A missing log is not an error for the event itself; tracking requests
// for unknown ids still record what happened.
func (s *Service) RecordEvent(event types.TrackingEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if _, err := s.store.AddTrackingEvent(event); err != nil {
		return err
	}

	var err error
	switch event.EventType {
	case types.TRACKING_EVENT_OPEN:
		err = s.store.MarkOpened(event.TrackingID, event.CreatedAt)
	case types.TRACKING_EVENT_CLICK:
		err = s.store.MarkClicked(event.TrackingID, event.CreatedAt)
	case types.TRACKING_EVENT_BOUNCE:
		err = s.store.MarkBounced(event.TrackingID, event.BounceType, event.Reason, event.CreatedAt)
	case types.TRACKING_EVENT_COMPLAINT:
		err = s.store.MarkComplaint(event.TrackingID)
	case types.TRACKING_EVENT_DELIVERY:
		err = s.store.MarkDelivered(event.TrackingID, event.CreatedAt)
	}
	if err != nil {
		slog.Warn("Failed to patch delivery log for tracking event",
			slog.String("trackingId", event.TrackingID),
			slog.String("eventType", event.EventType),
			slog.String("error", err.Error()))
	}
	return nil
}

// ProcessBounce handles a provider bounce notification. Hard bounces
// always suppress; soft bounces are left to queue retry.
func (s *Service) ProcessBounce(providerMessageID, bounceType, reason string) error {
	log, err := s.store.GetDeliveryLogByProviderMessageID(providerMessageID)
	if err != nil || log == nil {
		return ErrLogNotFound
	}

	bounceType = strings.ToUpper(bounceType)
	if bounceType != types.BOUNCE_TYPE_SOFT {
		bounceType = types.BOUNCE_TYPE_HARD
	}

	if err := s.RecordEvent(types.TrackingEvent{
		TrackingID: log.TrackingID,
		EventType:  types.TRACKING_EVENT_BOUNCE,
		BounceType: bounceType,
		Reason:     reason,
	}); err != nil {
		return err
	}

	if bounceType == types.BOUNCE_TYPE_HARD {
		return s.suppressor.Suppress(log.Recipient, types.SUPPRESSION_REASON_BOUNCE_HARD, types.SUPPRESSION_SOURCE_WEBHOOK, reason)
	}
	return nil
}

// ProcessComplaint handles a spam complaint notification. Complaints
// always suppress.
func (s *Service) ProcessComplaint(providerMessageID string) error {
	log, err := s.store.GetDeliveryLogByProviderMessageID(providerMessageID)
	if err != nil || log == nil {
		return ErrLogNotFound
	}

	if err := s.RecordEvent(types.TrackingEvent{
		TrackingID: log.TrackingID,
		EventType:  types.TRACKING_EVENT_COMPLAINT,
	}); err != nil {
		return err
	}
	return s.suppressor.Suppress(log.Recipient, types.SUPPRESSION_REASON_COMPLAINT, types.SUPPRESSION_SOURCE_WEBHOOK, "spam complaint")
}

// ProcessDelivery handles a provider delivery confirmation.
func (s *Service) ProcessDelivery(providerMessageID string) error {
	log, err := s.store.GetDeliveryLogByProviderMessageID(providerMessageID)
	if err != nil || log == nil {
		return ErrLogNotFound
	}
	return s.RecordEvent(types.TrackingEvent{
		TrackingID: log.TrackingID,
		EventType:  types.TRACKING_EVENT_DELIVERY,
	})
}

// TrackingPixelGIF is a valid 1x1 transparent GIF served by the open
// tracking endpoint.
var TrackingPixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// RecordOpen is the open-pixel entry point.
func (s *Service) RecordOpen(trackingID, userAgent, ip string) {
	if err := s.RecordEvent(types.TrackingEvent{
		TrackingID: trackingID,
		EventType:  types.TRACKING_EVENT_OPEN,
		UserAgent:  userAgent,
		IPAddress:  ip,
	}); err != nil {
		slog.Warn("Failed to record open event", slog.String("trackingId", trackingID), slog.String("error", err.Error()))
	}
}

// RecordClick records the click and returns the decoded destination.
func (s *Service) RecordClick(trackingID, encodedURL, userAgent, ip string) (string, error) {
	destination, err := DecodeClickURL(encodedURL)
	if err != nil {
		return "", err
	}
	if err := s.RecordEvent(types.TrackingEvent{
		TrackingID: trackingID,
		EventType:  types.TRACKING_EVENT_CLICK,
		URL:        destination,
		UserAgent:  userAgent,
		IPAddress:  ip,
	}); err != nil {
		slog.Warn("Failed to record click event", slog.String("trackingId", trackingID), slog.String("error", err.Error()))
	}
	return destination, nil
}

// windowDuration maps the analytics window names onto durations.
func windowDuration(window string) time.Duration {
	switch strings.ToLower(window) {
	case "hour":
		return time.Hour
	case "week":
		return 7 * 24 * time.Hour
	case "month":
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
