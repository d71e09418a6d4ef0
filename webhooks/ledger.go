package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultLedgerTTL = 5 * time.Minute
const defaultLedgerMaxEntries = 8192

// DeliveryLedger deduplicates deliveries across retries. Claim returns
// false when the event ID was already claimed within the TTL window.
// Fail releases the claim so a platform redelivery gets processed again.
type DeliveryLedger interface {
	Claim(ctx context.Context, eventID string, payload []byte, ttl time.Duration) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	Fail(ctx context.Context, eventID string, cause error) error
}

// MemoryDeliveryLedger is the single-process default: claims expire after
// a TTL and the entry count is capacity-bounded, evicting the
// closest-to-expiry claim first.
type MemoryDeliveryLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	claims     map[string]time.Time

	Now func() time.Time
}

func NewMemoryDeliveryLedger(defaultTTL time.Duration) *MemoryDeliveryLedger {
	return NewMemoryDeliveryLedgerWithLimits(defaultTTL, defaultLedgerMaxEntries)
}

func NewMemoryDeliveryLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryDeliveryLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultLedgerMaxEntries
	}
	return &MemoryDeliveryLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		claims:     map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryDeliveryLedger) Claim(_ context.Context, eventID string, _ []byte, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("webhooks: delivery ledger is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("webhooks: event id is required for dedupe")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneExpiredLocked(now)
	if expiresAt, ok := l.claims[eventID]; ok {
		if now.Before(expiresAt) {
			return false, nil
		}
		delete(l.claims, eventID)
	}
	l.enforceCapacityLocked(1)
	l.claims[eventID] = now.Add(ttl)
	return true, nil
}

func (l *MemoryDeliveryLedger) MarkProcessed(_ context.Context, eventID string) error {
	// the claim already suppresses duplicates until it expires
	return nil
}

func (l *MemoryDeliveryLedger) Fail(_ context.Context, eventID string, _ error) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil
	}
	l.mu.Lock()
	delete(l.claims, eventID)
	l.mu.Unlock()
	return nil
}

// PurgeExpired drops expired claims and reports how many were removed.
func (l *MemoryDeliveryLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("webhooks: delivery ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.claims)
	l.pruneExpiredLocked(now)
	return before - len(l.claims), nil
}

func (l *MemoryDeliveryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryDeliveryLedger) pruneExpiredLocked(now time.Time) {
	for eventID, expiresAt := range l.claims {
		if !now.Before(expiresAt) {
			delete(l.claims, eventID)
		}
	}
}

func (l *MemoryDeliveryLedger) enforceCapacityLocked(incoming int) {
	target := l.maxEntries - incoming
	if target < 0 {
		target = 0
	}
	for len(l.claims) > target {
		var oldestID string
		var oldestExpiry time.Time
		for eventID, expiry := range l.claims {
			if oldestID == "" || expiry.Before(oldestExpiry) {
				oldestID = eventID
				oldestExpiry = expiry
			}
		}
		if oldestID == "" {
			return
		}
		delete(l.claims, oldestID)
	}
}

var _ DeliveryLedger = (*MemoryDeliveryLedger)(nil)
