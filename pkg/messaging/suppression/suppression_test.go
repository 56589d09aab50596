package suppression

import (
	"strings"
	"testing"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

type memStore struct {
	entries map[string]types.SuppressionEntry
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]types.SuppressionEntry{}}
}

func (m *memStore) UpsertSuppression(entry types.SuppressionEntry) error {
	key := strings.ToLower(strings.TrimSpace(entry.Email))
	entry.Email = key
	entry.Active = true
	m.entries[key] = entry
	return nil
}

func (m *memStore) GetSuppression(email string) (*types.SuppressionEntry, error) {
	entry, ok := m.entries[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memStore) FindSuppressionsByEmails(emails []string) ([]types.SuppressionEntry, error) {
	found := []types.SuppressionEntry{}
	for _, email := range emails {
		if entry, ok := m.entries[strings.ToLower(strings.TrimSpace(email))]; ok {
			found = append(found, entry)
		}
	}
	return found, nil
}

func (m *memStore) DeactivateSuppression(email string) error {
	key := strings.ToLower(strings.TrimSpace(email))
	if entry, ok := m.entries[key]; ok {
		entry.Active = false
		m.entries[key] = entry
	}
	return nil
}

func (m *memStore) ListSuppressions(limit int) ([]types.SuppressionEntry, error) {
	entries := []types.SuppressionEntry{}
	for _, entry := range m.entries {
		if entry.Active {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func TestFilterSuppressed(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	if err := svc.Suppress("blocked@example.com", types.SUPPRESSION_REASON_BOUNCE_HARD, types.SUPPRESSION_SOURCE_SMTP, "550 user unknown"); err != nil {
		t.Fatalf("suppress: %v", err)
	}

	allowed, suppressed, err := svc.FilterSuppressed([]string{"ok@example.com", "Blocked@Example.com"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(allowed) != 1 || allowed[0] != "ok@example.com" {
		t.Errorf("allowed = %v", allowed)
	}
	if len(suppressed) != 1 || suppressed[0] != "Blocked@Example.com" {
		t.Errorf("suppressed = %v (matching must be case insensitive)", suppressed)
	}
}

func TestExpiredSuppressionDoesNotBlock(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	if err := svc.Suppress("soft@example.com", types.SUPPRESSION_REASON_BOUNCE_SOFT, types.SUPPRESSION_SOURCE_SMTP, "mailbox full"); err != nil {
		t.Fatalf("suppress: %v", err)
	}

	if !svc.IsSuppressed("soft@example.com") {
		t.Fatal("fresh soft bounce should block")
	}

	// Past the soft-bounce expiry the address sends again.
	svc.now = func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }
	if svc.IsSuppressed("soft@example.com") {
		t.Error("expired soft bounce should not block")
	}

	allowed, suppressed, _ := svc.FilterSuppressed([]string{"soft@example.com"})
	if len(allowed) != 1 || len(suppressed) != 0 {
		t.Errorf("allowed %v suppressed %v", allowed, suppressed)
	}
}

func TestHardBounceIsPermanent(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	svc.Suppress("gone@example.com", types.SUPPRESSION_REASON_BOUNCE_HARD, types.SUPPRESSION_SOURCE_SMTP, "user unknown")

	svc.now = func() time.Time { return time.Date(2027, 8, 1, 12, 0, 0, 0, time.UTC) }
	if !svc.IsSuppressed("gone@example.com") {
		t.Error("hard bounce should not expire")
	}
}

func TestUnsuppress(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	svc.Suppress("user@example.com", types.SUPPRESSION_REASON_MANUAL, types.SUPPRESSION_SOURCE_MANUAL, "")
	if !svc.IsSuppressed("user@example.com") {
		t.Fatal("expected suppression")
	}
	if err := svc.Unsuppress("user@example.com"); err != nil {
		t.Fatalf("unsuppress: %v", err)
	}
	if svc.IsSuppressed("user@example.com") {
		t.Error("deactivated entry should not block")
	}
}

func TestRepeatedSuppressKeepsSingleEntry(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	svc.Suppress("dup@example.com", types.SUPPRESSION_REASON_BOUNCE_HARD, types.SUPPRESSION_SOURCE_SMTP, "first")
	svc.Suppress("dup@example.com", types.SUPPRESSION_REASON_BOUNCE_HARD, types.SUPPRESSION_SOURCE_WEBHOOK, "second")

	entries, _ := svc.List(100)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Detail != "second" {
		t.Errorf("upsert should refresh detail, got %q", entries[0].Detail)
	}
}
