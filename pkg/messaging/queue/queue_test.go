package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
	"github.com/dealerkit/mailer-backend/pkg/smtpclient"
)

type memStore struct {
	mu       sync.Mutex
	messages map[primitive.ObjectID]*types.OutboundMessage
	logs     []types.DeliveryLog
}

func newMemStore() *memStore {
	return &memStore{messages: map[primitive.ObjectID]*types.OutboundMessage{}}
}

func (m *memStore) add(msg types.OutboundMessage) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := primitive.NewObjectID()
	msg.ID = id
	if msg.Status == "" {
		msg.Status = types.MESSAGE_STATUS_PENDING
	}
	m.messages[id] = &msg
	return id
}

func (m *memStore) FindDueMessages(now time.Time, limit int) ([]types.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []types.OutboundMessage{}
	for _, msg := range m.messages {
		if len(due) >= limit {
			break
		}
		waiting := msg.Status == types.MESSAGE_STATUS_PENDING || msg.Status == types.MESSAGE_STATUS_DEFERRED
		if waiting && !msg.ScheduledAt.After(now) && !msg.NextAttemptAt.After(now) {
			due = append(due, *msg)
		}
	}
	return due, nil
}

func (m *memStore) ClaimMessage(id primitive.ObjectID, now time.Time, staleBefore time.Time) (*types.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, errors.New("not found")
	}
	waiting := msg.Status == types.MESSAGE_STATUS_PENDING || msg.Status == types.MESSAGE_STATUS_DEFERRED
	stale := msg.Status == types.MESSAGE_STATUS_PROCESSING && msg.LastAttemptAt.Before(staleBefore)
	if !waiting && !stale {
		return nil, errors.New("message not claimable")
	}
	msg.Status = types.MESSAGE_STATUS_PROCESSING
	msg.Attempts++
	msg.LastAttemptAt = now
	copied := *msg
	return &copied, nil
}

func (m *memStore) MarkMessageSent(id primitive.ObjectID, providerMessageID, providerResponse string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[id]
	msg.Status = types.MESSAGE_STATUS_SENT
	msg.ProviderMessageID = providerMessageID
	msg.ProviderResponse = providerResponse
	return nil
}

func (m *memStore) MarkMessageDeferred(id primitive.ObjectID, nextAttemptAt time.Time, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[id]
	msg.Status = types.MESSAGE_STATUS_DEFERRED
	msg.NextAttemptAt = nextAttemptAt
	msg.ErrorMessage = errorMessage
	return nil
}

func (m *memStore) MarkMessageFailed(id primitive.ObjectID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[id]
	msg.Status = types.MESSAGE_STATUS_FAILED
	msg.ErrorMessage = errorMessage
	return nil
}

func (m *memStore) ResetMessageForRetry(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	msg, ok := m.messages[objID]
	if !ok || msg.Status != types.MESSAGE_STATUS_FAILED {
		return errors.New("message not found or not in FAILED state")
	}
	msg.Status = types.MESSAGE_STATUS_PENDING
	msg.Attempts = 0
	msg.NextAttemptAt = time.Time{}
	return nil
}

func (m *memStore) CancelMessage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	msg, ok := m.messages[objID]
	if !ok || (msg.Status != types.MESSAGE_STATUS_PENDING && msg.Status != types.MESSAGE_STATUS_DEFERRED) {
		return errors.New("message not found or not cancellable")
	}
	msg.Status = types.MESSAGE_STATUS_FAILED
	msg.ErrorMessage = "cancelled by operator"
	return nil
}

func (m *memStore) CountMessagesByStatus() (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int64{}
	for _, msg := range m.messages {
		counts[msg.Status]++
	}
	return counts, nil
}

func (m *memStore) CountMessagesUpdatedSince(status string, since time.Time) (int64, error) {
	counts, _ := m.CountMessagesByStatus()
	return counts[status], nil
}

func (m *memStore) AddDeliveryLog(log types.DeliveryLog) (types.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return log, nil
}

// scriptedTransport returns its results in order, repeating the last.
type scriptedTransport struct {
	mu      sync.Mutex
	results []*smtpclient.DeliveryResult
	calls   int
}

func (s *scriptedTransport) Send(email *smtpclient.Email) smtpclient.DeliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return *s.results[idx]
}

type panicTransport struct{}

func (panicTransport) Send(email *smtpclient.Email) smtpclient.DeliveryResult {
	panic("boom")
}

type memSuppressor struct {
	mu      sync.Mutex
	entries map[string][]string // email -> reasons
}

func (m *memSuppressor) Suppress(email, reason, source, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string][]string{}
	}
	m.entries[email] = append(m.entries[email], reason)
	return nil
}

func newTestProcessor(store *memStore, transport Transport, suppressor *memSuppressor) *Processor {
	return NewProcessor(Config{
		BatchSize:   10,
		MaxRetries:  3,
		RetryDelays: []time.Duration{60 * time.Second, 300 * time.Second, 1800 * time.Second, 3600 * time.Second},
	}, store, transport, suppressor)
}

func pendingMessage() types.OutboundMessage {
	return types.OutboundMessage{
		From:       "sales@dealer.example",
		To:         "buyer@example.com",
		Subject:    "Hi",
		HTMLBody:   "<p>hi</p>",
		TrackingID: "t1",
		Priority:   types.PRIORITY_DEFAULT,
	}
}

func TestTickSendsPendingMessage(t *testing.T) {
	store := newMemStore()
	id := store.add(pendingMessage())
	transport := &scriptedTransport{results: []*smtpclient.DeliveryResult{
		{Success: true, ProviderMessageID: "m1", Response: "250 ok"},
	}}
	proc := newTestProcessor(store, transport, &memSuppressor{})

	result := proc.Tick()
	if result.Sent != 1 || result.Processed != 1 {
		t.Fatalf("result = %+v", result)
	}

	msg := store.messages[id]
	if msg.Status != types.MESSAGE_STATUS_SENT {
		t.Errorf("status = %s", msg.Status)
	}
	if msg.ProviderMessageID != "m1" {
		t.Errorf("providerMessageId = %s", msg.ProviderMessageID)
	}
	if msg.Attempts != 1 {
		t.Errorf("attempts = %d", msg.Attempts)
	}
	if len(store.logs) != 1 || store.logs[0].Status != types.DELIVERY_STATUS_SENT || store.logs[0].ProviderMessageID != "m1" {
		t.Errorf("logs = %+v", store.logs)
	}
}

func TestRetryMonotonicityReachesFailed(t *testing.T) {
	store := newMemStore()
	id := store.add(pendingMessage())
	transport := &scriptedTransport{results: []*smtpclient.DeliveryResult{
		{Success: false, ShouldRetry: true, Response: "451 try later"},
		{Success: false, ShouldRetry: true, Response: "451 try later"},
		{Success: false, ShouldRetry: true, Response: "451 try later"},
		{Success: false, ShouldRetry: false, Response: "550 rejected"},
	}}
	proc := newTestProcessor(store, transport, &memSuppressor{})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	proc.now = func() time.Time { return clock }

	var lastNext time.Time
	for cycle := 0; cycle < 3; cycle++ {
		result := proc.Tick()
		if result.Deferred != 1 {
			t.Fatalf("cycle %d: result = %+v", cycle, result)
		}
		msg := store.messages[id]
		if msg.Status != types.MESSAGE_STATUS_DEFERRED {
			t.Fatalf("cycle %d: status = %s", cycle, msg.Status)
		}
		if msg.Attempts != cycle+1 {
			t.Errorf("cycle %d: attempts = %d", cycle, msg.Attempts)
		}
		if !msg.NextAttemptAt.After(lastNext) {
			t.Errorf("cycle %d: nextAttemptAt %s not after %s", cycle, msg.NextAttemptAt, lastNext)
		}
		lastNext = msg.NextAttemptAt
		clock = msg.NextAttemptAt.Add(time.Second)
	}

	// Fourth attempt exhausts maxRetries and lands on FAILED.
	result := proc.Tick()
	if result.Failed != 1 {
		t.Fatalf("final result = %+v", result)
	}
	msg := store.messages[id]
	if msg.Status != types.MESSAGE_STATUS_FAILED {
		t.Errorf("final status = %s", msg.Status)
	}
	if msg.Attempts != 4 {
		t.Errorf("final attempts = %d", msg.Attempts)
	}
}

func TestBackoffLadder(t *testing.T) {
	store := newMemStore()
	id := store.add(pendingMessage())
	transport := &scriptedTransport{results: []*smtpclient.DeliveryResult{
		{Success: false, ShouldRetry: true, Response: "451 busy"},
	}}
	proc := newTestProcessor(store, transport, &memSuppressor{})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	proc.now = func() time.Time { return clock }

	wantDelays := []time.Duration{60 * time.Second, 300 * time.Second, 1800 * time.Second}
	for i, want := range wantDelays {
		proc.Tick()
		msg := store.messages[id]
		if got := msg.NextAttemptAt.Sub(clock); got != want {
			t.Errorf("attempt %d: delay = %s, want %s", i+1, got, want)
		}
		clock = msg.NextAttemptAt.Add(time.Second)
	}
}

func TestHardBounceSuppressesOnce(t *testing.T) {
	store := newMemStore()
	store.add(pendingMessage())
	transport := &scriptedTransport{results: []*smtpclient.DeliveryResult{
		{Success: false, ShouldRetry: false, HardBounce: true, Response: "550 5.1.1 user unknown"},
	}}
	suppressor := &memSuppressor{}
	proc := newTestProcessor(store, transport, suppressor)

	result := proc.Tick()
	if result.Failed != 1 {
		t.Fatalf("result = %+v", result)
	}

	reasons := suppressor.entries["buyer@example.com"]
	if len(reasons) != 1 || reasons[0] != types.SUPPRESSION_REASON_BOUNCE_HARD {
		t.Errorf("suppression entries = %v", reasons)
	}
	if len(store.logs) != 1 || store.logs[0].Status != types.DELIVERY_STATUS_BOUNCED {
		t.Errorf("logs = %+v", store.logs)
	}
	if store.logs[0].BounceType != types.BOUNCE_TYPE_HARD {
		t.Errorf("bounceType = %s", store.logs[0].BounceType)
	}

	// A later tick must not touch the FAILED entry again.
	if again := proc.Tick(); again.Processed != 0 {
		t.Errorf("second tick reprocessed: %+v", again)
	}
	if transport.calls != 1 {
		t.Errorf("transport called %d times", transport.calls)
	}
}

func TestClaimIdempotence(t *testing.T) {
	store := newMemStore()
	id := store.add(pendingMessage())
	now := time.Now()

	if _, err := store.ClaimMessage(id, now, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := store.ClaimMessage(id, now, now.Add(-10*time.Minute)); err == nil {
		t.Fatal("second claim of a fresh PROCESSING entry must fail")
	}

	// A stale claim is reclaimable.
	stale := now.Add(20 * time.Minute)
	if _, err := store.ClaimMessage(id, stale, stale.Add(-10*time.Minute)); err != nil {
		t.Errorf("stale reclaim: %v", err)
	}
}

func TestTransportPanicIsRetryable(t *testing.T) {
	store := newMemStore()
	id := store.add(pendingMessage())
	proc := newTestProcessor(store, panicTransport{}, &memSuppressor{})

	result := proc.Tick()
	if result.Deferred != 1 {
		t.Fatalf("result = %+v", result)
	}
	if store.messages[id].Status != types.MESSAGE_STATUS_DEFERRED {
		t.Errorf("status = %s", store.messages[id].Status)
	}
}

func TestRateLimitRetryAfterWins(t *testing.T) {
	store := newMemStore()
	id := store.add(pendingMessage())
	transport := &scriptedTransport{results: []*smtpclient.DeliveryResult{
		{Success: false, ShouldRetry: true, RetryAfter: 45 * time.Minute, Err: &smtpclient.RateLimitError{Domain: "dealer.example", RetryAfter: 45 * time.Minute}},
	}}
	proc := newTestProcessor(store, transport, &memSuppressor{})

	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	proc.now = func() time.Time { return clock }

	proc.Tick()
	msg := store.messages[id]
	if got := msg.NextAttemptAt.Sub(clock); got != 45*time.Minute {
		t.Errorf("delay = %s, want the explicit retryAfter", got)
	}
}

func TestScheduledMessageNotSentEarly(t *testing.T) {
	store := newMemStore()
	msg := pendingMessage()
	msg.ScheduledAt = time.Now().Add(time.Hour)
	store.add(msg)
	transport := &scriptedTransport{results: []*smtpclient.DeliveryResult{{Success: true}}}
	proc := newTestProcessor(store, transport, &memSuppressor{})

	if result := proc.Tick(); result.Processed != 0 {
		t.Errorf("future-scheduled entry processed: %+v", result)
	}
	if transport.calls != 0 {
		t.Errorf("transport called %d times", transport.calls)
	}
}

func TestRetryAndCancelOperations(t *testing.T) {
	store := newMemStore()
	proc := newTestProcessor(store, &scriptedTransport{results: []*smtpclient.DeliveryResult{{Success: true}}}, &memSuppressor{})

	t.Run("retry resets failed entry", func(t *testing.T) {
		id := store.add(types.OutboundMessage{To: "a@x.com", Status: types.MESSAGE_STATUS_FAILED, Attempts: 4})
		if err := proc.RetryEmail(id.Hex()); err != nil {
			t.Fatalf("retry: %v", err)
		}
		msg := store.messages[id]
		if msg.Status != types.MESSAGE_STATUS_PENDING || msg.Attempts != 0 {
			t.Errorf("status %s attempts %d", msg.Status, msg.Attempts)
		}
	})

	t.Run("retry rejects non-failed entry", func(t *testing.T) {
		id := store.add(types.OutboundMessage{To: "a@x.com", Status: types.MESSAGE_STATUS_SENT})
		if err := proc.RetryEmail(id.Hex()); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("cancel moves pending to failed", func(t *testing.T) {
		id := store.add(types.OutboundMessage{To: "a@x.com", Status: types.MESSAGE_STATUS_PENDING})
		if err := proc.CancelEmail(id.Hex()); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if store.messages[id].Status != types.MESSAGE_STATUS_FAILED {
			t.Errorf("status = %s", store.messages[id].Status)
		}
	})

	t.Run("cancel rejects sent entry", func(t *testing.T) {
		id := store.add(types.OutboundMessage{To: "a@x.com", Status: types.MESSAGE_STATUS_SENT})
		if err := proc.CancelEmail(id.Hex()); err == nil {
			t.Error("expected error")
		}
	})
}

func TestOverlappingTickSkipped(t *testing.T) {
	store := newMemStore()
	proc := newTestProcessor(store, &scriptedTransport{results: []*smtpclient.DeliveryResult{{Success: true}}}, &memSuppressor{})

	proc.running = 1
	if result := proc.Tick(); !result.Skipped {
		t.Error("tick should be skipped while another runs")
	}
	proc.running = 0
	if result := proc.Tick(); result.Skipped {
		t.Error("tick should run once the guard clears")
	}
}
