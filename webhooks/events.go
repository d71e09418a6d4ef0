package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/onesub/onesub-go/core"
)

// EventType identifies a platform event family.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription.activated"
	EventSubscriptionCanceled  EventType = "subscription.canceled"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventPurchaseCompleted     EventType = "purchase.completed"
	EventCreditLow             EventType = "credit.low"
	EventCreditDepleted        EventType = "credit.depleted"
	EventToolStatusChanged     EventType = "tool.status_changed"
	EventEntitlementGranted    EventType = "entitlement.granted"
	EventEntitlementRevoked    EventType = "entitlement.revoked"
	EventEntitlementChanged    EventType = "entitlement.changed"
	EventVerifyRequired        EventType = "verify.required"
)

var knownEventTypes = map[EventType]struct{}{
	EventSubscriptionActivated: {},
	EventSubscriptionCanceled:  {},
	EventSubscriptionUpdated:   {},
	EventPurchaseCompleted:     {},
	EventCreditLow:             {},
	EventCreditDepleted:        {},
	EventToolStatusChanged:     {},
	EventEntitlementGranted:    {},
	EventEntitlementRevoked:    {},
	EventEntitlementChanged:    {},
	EventVerifyRequired:        {},
}

// KnownEventType reports whether the type belongs to the published
// taxonomy. Unknown types still dispatch as unhandled no-ops so new
// platform events never break an older integration.
func KnownEventType(eventType EventType) bool {
	_, ok := knownEventTypes[eventType]
	return ok
}

// Event is a verified platform delivery. Data stays raw until a handler
// or a typed decoder asks for it.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// EntitlementData is the payload of entitlement.* and verify.required
// events.
type EntitlementData struct {
	VerificationToken string            `json:"verificationToken"`
	OneSubUserID      string            `json:"onesubUserId"`
	Entitlements      core.Entitlements `json:"entitlements"`
}

// EntitlementData decodes the event payload for entitlement lifecycle
// events.
func (e Event) EntitlementData() (EntitlementData, error) {
	switch e.Type {
	case EventEntitlementGranted, EventEntitlementRevoked, EventEntitlementChanged, EventVerifyRequired:
	default:
		return EntitlementData{}, fmt.Errorf("webhooks: event type %q carries no entitlement payload", e.Type)
	}
	var data EntitlementData
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return EntitlementData{}, fmt.Errorf("webhooks: decode entitlement payload: %w", err)
		}
	}
	data.VerificationToken = strings.TrimSpace(data.VerificationToken)
	data.OneSubUserID = strings.TrimSpace(data.OneSubUserID)
	return data, nil
}

// InvalidatesVerification reports whether the event should evict the
// cached verification state for its token before handling.
func (e Event) InvalidatesVerification() bool {
	switch e.Type {
	case EventEntitlementGranted, EventEntitlementRevoked, EventEntitlementChanged, EventVerifyRequired:
		return true
	}
	return false
}
