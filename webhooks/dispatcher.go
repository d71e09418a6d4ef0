package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/onesub/onesub-go/core"
	"github.com/onesub/onesub-go/signature"
)

// SignatureHeader is the HTTP header carrying the delivery signature.
const SignatureHeader = "X-1Sub-Signature"

// CacheInvalidator evicts a cached verification state. Invalidate reports
// whether an entry was present.
type CacheInvalidator interface {
	Invalidate(verificationToken string) bool
}

// Handler processes one trusted event. A returned error releases the
// dedupe claim so the platform's redelivery is handled again.
type Handler func(ctx context.Context, event Event) error

// Outcome describes how a delivery was disposed of. StatusCode is the
// response the receiving endpoint should return; the platform retries
// anything outside 2xx.
type Outcome struct {
	Accepted   bool
	StatusCode int
	Handled    bool
	Deduped    bool
	EventID    string
	EventType  EventType
}

type Option func(*Dispatcher)

func WithTolerance(tolerance time.Duration) Option {
	return func(d *Dispatcher) {
		if tolerance > 0 {
			d.tolerance = tolerance
		}
	}
}

// WithCacheInvalidator wires the verification cache fast path: entitlement
// lifecycle events evict the token's cached state before handlers run.
func WithCacheInvalidator(invalidator CacheInvalidator) Option {
	return func(d *Dispatcher) {
		d.invalidator = invalidator
	}
}

func WithDeliveryLedger(ledger DeliveryLedger) Option {
	return func(d *Dispatcher) {
		d.ledger = ledger
	}
}

func WithLedgerTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ledgerTTL = ttl
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher verifies delivery signatures and routes events to handlers.
// Every delivery moves received -> signature-checked -> trusted -> routed,
// or stops at rejected; no payload byte is interpreted before trust.
type Dispatcher struct {
	secret      string
	tolerance   time.Duration
	invalidator CacheInvalidator
	ledger      DeliveryLedger
	ledgerTTL   time.Duration
	logger      core.Logger
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[EventType]Handler
}

func New(secret string, options ...Option) (*Dispatcher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, core.NewValidationError("webhook secret is required")
	}
	dispatcher := &Dispatcher{
		secret:    secret,
		tolerance: signature.DefaultTolerance,
		ledgerTTL: defaultLedgerTTL,
		logger:    glog.Nop(),
		now: func() time.Time {
			return time.Now().UTC()
		},
		handlers: map[EventType]Handler{},
	}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	return dispatcher, nil
}

// On registers the handler for an event type, replacing any previous one.
func (d *Dispatcher) On(eventType EventType, handler Handler) {
	if d == nil || handler == nil {
		return
	}
	d.mu.Lock()
	d.handlers[eventType] = handler
	d.mu.Unlock()
}

// Off removes the handler for an event type.
func (d *Dispatcher) Off(eventType EventType) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.handlers, eventType)
	d.mu.Unlock()
}

func (d *Dispatcher) handler(eventType EventType) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[eventType]
}

// ConstructEvent authenticates the raw payload against the signature
// header and only then parses it. Verification failures surface as
// WEBHOOK_VERIFICATION_FAILED; the payload is never inspected first.
func (d *Dispatcher) ConstructEvent(payload []byte, signatureHeader string) (Event, error) {
	if d == nil {
		return Event{}, core.NewWebhookVerificationError("dispatcher is not configured")
	}
	if err := signature.Verify(payload, signatureHeader, d.secret, signature.VerifyOptions{
		Tolerance: d.tolerance,
		Now:       d.now,
	}); err != nil {
		return Event{}, err
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, core.NewValidationError("webhook payload is not valid JSON")
	}
	event.ID = strings.TrimSpace(event.ID)
	event.Type = EventType(strings.TrimSpace(string(event.Type)))
	if event.Type == "" {
		return Event{}, core.NewValidationError("webhook event type is required")
	}
	return event, nil
}

// Process runs the full delivery pipeline: verify, parse, dedupe,
// invalidate, route. The Outcome's StatusCode is ready to write back to
// the platform.
func (d *Dispatcher) Process(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	event, err := d.ConstructEvent(payload, signatureHeader)
	if err != nil {
		status := http.StatusUnauthorized
		if core.IsValidation(err) {
			status = http.StatusBadRequest
		}
		d.logger.Warn("webhook delivery rejected", "error", err)
		return Outcome{Accepted: false, StatusCode: status}, err
	}

	outcome := Outcome{
		Accepted:   true,
		StatusCode: http.StatusOK,
		EventID:    event.ID,
		EventType:  event.Type,
	}

	if d.ledger != nil && event.ID != "" {
		claimed, claimErr := d.ledger.Claim(ctx, event.ID, payload, d.ledgerTTL)
		if claimErr != nil {
			return Outcome{Accepted: false, StatusCode: http.StatusInternalServerError}, claimErr
		}
		if !claimed {
			outcome.Deduped = true
			d.logger.Debug("webhook delivery deduplicated", "event_id", event.ID)
			return outcome, nil
		}
	}

	if d.invalidator != nil && event.InvalidatesVerification() {
		if data, dataErr := event.EntitlementData(); dataErr == nil && data.VerificationToken != "" {
			evicted := d.invalidator.Invalidate(data.VerificationToken)
			d.logger.Info("verification cache invalidated by webhook",
				"event_type", string(event.Type),
				"evicted", evicted,
			)
		}
	}

	handler := d.handler(event.Type)
	if handler == nil {
		if !KnownEventType(event.Type) {
			d.logger.Debug("unrecognized webhook event accepted", "event_type", string(event.Type))
		}
		if d.ledger != nil && event.ID != "" {
			_ = d.ledger.MarkProcessed(ctx, event.ID)
		}
		return outcome, nil
	}

	if err := handler(ctx, event); err != nil {
		if d.ledger != nil && event.ID != "" {
			_ = d.ledger.Fail(ctx, event.ID, err)
		}
		outcome.Accepted = false
		outcome.StatusCode = http.StatusInternalServerError
		return outcome, err
	}

	if d.ledger != nil && event.ID != "" {
		_ = d.ledger.MarkProcessed(ctx, event.ID)
	}
	outcome.Handled = true
	return outcome, nil
}
