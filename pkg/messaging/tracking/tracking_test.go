package tracking

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

type memStore struct {
	events   []types.TrackingEvent
	logs     map[string]*types.DeliveryLog // by trackingId
	byProvID map[string]string             // providerMessageId -> trackingId
	counters types.DeliveryCounters
}

func newMemStore() *memStore {
	return &memStore{
		logs:     map[string]*types.DeliveryLog{},
		byProvID: map[string]string{},
	}
}

func (m *memStore) addLog(trackingID, providerMessageID, recipient string) {
	m.logs[trackingID] = &types.DeliveryLog{
		Recipient:         recipient,
		TrackingID:        trackingID,
		ProviderMessageID: providerMessageID,
		Status:            types.DELIVERY_STATUS_SENT,
	}
	m.byProvID[providerMessageID] = trackingID
}

func (m *memStore) AddTrackingEvent(event types.TrackingEvent) (types.TrackingEvent, error) {
	m.events = append(m.events, event)
	return event, nil
}

func (m *memStore) GetDeliveryLogByTrackingID(trackingID string) (*types.DeliveryLog, error) {
	return m.logs[trackingID], nil
}

func (m *memStore) GetDeliveryLogByProviderMessageID(providerMessageID string) (*types.DeliveryLog, error) {
	if tid, ok := m.byProvID[providerMessageID]; ok {
		return m.logs[tid], nil
	}
	return nil, nil
}

func (m *memStore) MarkDelivered(trackingID string, at time.Time) error {
	if log, ok := m.logs[trackingID]; ok && log.Status == types.DELIVERY_STATUS_SENT {
		log.Status = types.DELIVERY_STATUS_DELIVERED
		log.DeliveredAt = at
	}
	return nil
}

func (m *memStore) MarkOpened(trackingID string, at time.Time) error {
	if log, ok := m.logs[trackingID]; ok {
		log.OpenCount++
		if log.OpenedAt.IsZero() {
			log.OpenedAt = at
		}
		if log.Status == types.DELIVERY_STATUS_SENT || log.Status == types.DELIVERY_STATUS_DELIVERED {
			log.Status = types.DELIVERY_STATUS_OPENED
		}
	}
	return nil
}

func (m *memStore) MarkClicked(trackingID string, at time.Time) error {
	if log, ok := m.logs[trackingID]; ok {
		log.ClickCount++
		if log.ClickedAt.IsZero() {
			log.ClickedAt = at
		}
		if log.Status != types.DELIVERY_STATUS_BOUNCED && log.Status != types.DELIVERY_STATUS_FAILED {
			log.Status = types.DELIVERY_STATUS_CLICKED
		}
	}
	return nil
}

func (m *memStore) MarkBounced(trackingID, bounceType, reason string, at time.Time) error {
	if log, ok := m.logs[trackingID]; ok {
		log.Status = types.DELIVERY_STATUS_BOUNCED
		log.BounceType = bounceType
		log.BounceReason = reason
		log.BouncedAt = at
	}
	return nil
}

func (m *memStore) MarkComplaint(trackingID string) error {
	if log, ok := m.logs[trackingID]; ok {
		log.IsComplaint = true
	}
	return nil
}

func (m *memStore) CountDeliveries(dealerID string, since time.Time) (types.DeliveryCounters, error) {
	return m.counters, nil
}

type memSuppressor struct {
	suppressed map[string]string // email -> reason
}

func (m *memSuppressor) Suppress(email, reason, source, detail string) error {
	if m.suppressed == nil {
		m.suppressed = map[string]string{}
	}
	m.suppressed[email] = reason
	return nil
}

func newTestService(store *memStore, sup *memSuppressor) *Service {
	return NewService(Config{
		BaseURL:     "https://mail.dealer.example",
		TokenSecret: "test-secret",
	}, store, sup)
}

func TestInjectOpenTracker(t *testing.T) {
	svc := newTestService(newMemStore(), nil)

	t.Run("before body close", func(t *testing.T) {
		out := svc.InjectOpenTracker("<html><body><p>hi</p></body></html>", "t1")
		if !strings.Contains(out, "/track/open/t1.gif") {
			t.Fatal("pixel missing")
		}
		if !strings.Contains(out, `style="display:none;" /></body>`) {
			t.Errorf("pixel not before </body>: %s", out)
		}
	})

	t.Run("no body tag appends", func(t *testing.T) {
		out := svc.InjectOpenTracker("<p>hi</p>", "t1")
		if !strings.HasSuffix(out, "/>") || !strings.Contains(out, "/track/open/t1.gif") {
			t.Errorf("pixel not appended: %s", out)
		}
	})
}

func TestInjectClickTrackerRewrite(t *testing.T) {
	svc := newTestService(newMemStore(), nil)

	// Scenario: the rewritten parameter must decode back to the exact
	// original URL, query string included.
	original := "https://x.com/a?b=1"
	out := svc.InjectClickTracker(fmt.Sprintf(`<a href="%s">car</a>`, original), "t1")
	if strings.Contains(out, `href="https://x.com/a?b=1"`) {
		t.Fatal("href was not rewritten")
	}

	start := strings.Index(out, "url=") + len("url=")
	end := strings.Index(out[start:], `"`) + start
	decoded, err := DecodeClickURL(out[start:end])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip got %q, want %q", decoded, original)
	}
}

func TestInjectClickTrackerSkips(t *testing.T) {
	svc := newTestService(newMemStore(), nil)

	cases := []string{
		`<a href="#section">x</a>`,
		`<a href="mailto:sales@dealer.example">x</a>`,
		`<a href="tel:+15550100">x</a>`,
		`<a href="data:text/plain,hi">x</a>`,
		`<a href="https://mail.dealer.example/track/click/t0?url=abc">x</a>`,
		`<a href="https://mail.dealer.example/track/unsubscribe?token=abc">x</a>`,
	}
	for _, html := range cases {
		if out := svc.InjectClickTracker(html, "t1"); out != html {
			t.Errorf("should not rewrite %q, got %q", html, out)
		}
	}
}

func TestUnsubscribeTokenRoundTrip(t *testing.T) {
	store := newMemStore()
	sup := &memSuppressor{}
	svc := newTestService(store, sup)

	token := svc.UnsubscribeToken("t1", "u@x.com")

	trackingID, email, err := svc.VerifyUnsubscribeToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if trackingID != "t1" || email != "u@x.com" {
		t.Errorf("got %q %q", trackingID, email)
	}

	// Scenario: altering any character rejects the token.
	for i := 0; i < len(token); i++ {
		altered := []byte(token)
		if altered[i] == 'A' {
			altered[i] = 'B'
		} else {
			altered[i] = 'A'
		}
		if _, _, err := svc.VerifyUnsubscribeToken(string(altered)); err == nil {
			t.Fatalf("altered token at index %d accepted", i)
		}
	}
}

func TestUnsubscribeTokenExpiry(t *testing.T) {
	svc := newTestService(newMemStore(), nil)
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	token := svc.UnsubscribeToken("t1", "u@x.com")

	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	if _, _, err := svc.VerifyUnsubscribeToken(token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestHandleUnsubscribeSuppresses(t *testing.T) {
	store := newMemStore()
	sup := &memSuppressor{}
	svc := newTestService(store, sup)

	token := svc.UnsubscribeToken("t1", "u@x.com")
	email, err := svc.HandleUnsubscribe(token)
	if err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if email != "u@x.com" {
		t.Errorf("email = %q", email)
	}
	if sup.suppressed["u@x.com"] != types.SUPPRESSION_REASON_UNSUBSCRIBE {
		t.Errorf("suppressed = %v", sup.suppressed)
	}
	if len(store.events) != 1 || store.events[0].EventType != types.TRACKING_EVENT_UNSUBSCRIBE {
		t.Errorf("events = %v", store.events)
	}
}

func TestRecordEventPatchesLog(t *testing.T) {
	store := newMemStore()
	store.addLog("t1", "m1", "u@x.com")
	svc := newTestService(store, &memSuppressor{})

	svc.RecordEvent(types.TrackingEvent{TrackingID: "t1", EventType: types.TRACKING_EVENT_OPEN})
	svc.RecordEvent(types.TrackingEvent{TrackingID: "t1", EventType: types.TRACKING_EVENT_OPEN})
	svc.RecordEvent(types.TrackingEvent{TrackingID: "t1", EventType: types.TRACKING_EVENT_CLICK})

	log := store.logs["t1"]
	if log.OpenCount != 2 {
		t.Errorf("openCount = %d", log.OpenCount)
	}
	if log.ClickCount != 1 {
		t.Errorf("clickCount = %d", log.ClickCount)
	}
	if log.Status != types.DELIVERY_STATUS_CLICKED {
		t.Errorf("status = %s", log.Status)
	}
	if len(store.events) != 3 {
		t.Errorf("events = %d", len(store.events))
	}
}

func TestProcessBounce(t *testing.T) {
	t.Run("hard bounce suppresses", func(t *testing.T) {
		store := newMemStore()
		store.addLog("t1", "m1", "gone@x.com")
		sup := &memSuppressor{}
		svc := newTestService(store, sup)

		if err := svc.ProcessBounce("m1", "hard", "user unknown"); err != nil {
			t.Fatalf("bounce: %v", err)
		}
		if store.logs["t1"].Status != types.DELIVERY_STATUS_BOUNCED {
			t.Error("log not marked bounced")
		}
		if sup.suppressed["gone@x.com"] != types.SUPPRESSION_REASON_BOUNCE_HARD {
			t.Errorf("suppressed = %v", sup.suppressed)
		}
	})

	t.Run("soft bounce does not suppress", func(t *testing.T) {
		store := newMemStore()
		store.addLog("t1", "m1", "full@x.com")
		sup := &memSuppressor{}
		svc := newTestService(store, sup)

		svc.ProcessBounce("m1", "soft", "mailbox full")
		if len(sup.suppressed) != 0 {
			t.Errorf("soft bounce suppressed %v", sup.suppressed)
		}
	})

	t.Run("unknown message id", func(t *testing.T) {
		svc := newTestService(newMemStore(), &memSuppressor{})
		if err := svc.ProcessBounce("nope", "hard", ""); err != ErrLogNotFound {
			t.Errorf("err = %v", err)
		}
	})
}

func TestProcessComplaintAlwaysSuppresses(t *testing.T) {
	store := newMemStore()
	store.addLog("t1", "m1", "angry@x.com")
	sup := &memSuppressor{}
	svc := newTestService(store, sup)

	if err := svc.ProcessComplaint("m1"); err != nil {
		t.Fatalf("complaint: %v", err)
	}
	if !store.logs["t1"].IsComplaint {
		t.Error("log not flagged")
	}
	if sup.suppressed["angry@x.com"] != types.SUPPRESSION_REASON_COMPLAINT {
		t.Errorf("suppressed = %v", sup.suppressed)
	}
}

func TestDeliverabilityScore(t *testing.T) {
	cases := []struct {
		bounceRate, complaintRate, want float64
	}{
		{0, 0, 100},
		{2, 0, 80},
		{0, 1, 50},
		{2, 1, 30},
		{5, 2, 0},  // 100-50-100 clamps at 0
		{20, 0, 0}, // 100-200 clamps at 0
	}
	for _, tc := range cases {
		if got := DeliverabilityScore(tc.bounceRate, tc.complaintRate); got != tc.want {
			t.Errorf("score(%v, %v) = %v, want %v", tc.bounceRate, tc.complaintRate, got, tc.want)
		}
	}
}

func TestAnalyticsRates(t *testing.T) {
	store := newMemStore()
	store.counters = types.DeliveryCounters{
		Sent: 200, Delivered: 190, Opened: 50, Clicked: 10, Bounced: 4, Complaints: 1,
	}
	svc := newTestService(store, nil)

	stats, err := svc.Analytics("", "day")
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if stats.DeliveryRate != 95 || stats.OpenRate != 25 || stats.ClickRate != 5 {
		t.Errorf("rates %v %v %v", stats.DeliveryRate, stats.OpenRate, stats.ClickRate)
	}
	if stats.BounceRate != 2 || stats.ComplaintRate != 0.5 {
		t.Errorf("bounce %v complaint %v", stats.BounceRate, stats.ComplaintRate)
	}
	// 100 - 10*2 - 50*0.5 = 55
	if stats.DeliverabilityScore != 55 {
		t.Errorf("score = %v", stats.DeliverabilityScore)
	}
}
