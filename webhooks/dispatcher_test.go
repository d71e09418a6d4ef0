package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onesub/onesub-go/core"
	"github.com/onesub/onesub-go/signature"
)

const testSecret = "whsec_dispatcher_test"

func signedPayload(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	body = []byte(payload)
	header = signature.Generate(body, testSecret, time.Now())
	return body, header
}

type recordingInvalidator struct {
	tokens []string
	hit    bool
}

func (r *recordingInvalidator) Invalidate(token string) bool {
	r.tokens = append(r.tokens, token)
	return r.hit
}

func TestDispatcherProcessRoutesTrustedEvent(t *testing.T) {
	dispatcher, err := New(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var handled []Event
	dispatcher.On(EventSubscriptionActivated, func(_ context.Context, event Event) error {
		handled = append(handled, event)
		return nil
	})

	body, header := signedPayload(t, `{"id":"evt_1","type":"subscription.activated","data":{"plan":"pro"}}`)
	outcome, err := dispatcher.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Accepted || outcome.StatusCode != http.StatusOK {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !outcome.Handled {
		t.Fatal("expected event to be handled")
	}
	if len(handled) != 1 || handled[0].ID != "evt_1" {
		t.Fatalf("unexpected handled events: %+v", handled)
	}
}

func TestDispatcherRejectsBadSignatureBeforeParsing(t *testing.T) {
	dispatcher, err := New(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	called := 0
	dispatcher.On(EventSubscriptionActivated, func(context.Context, Event) error {
		called++
		return nil
	})

	body := []byte(`{"id":"evt_2","type":"subscription.activated"}`)
	header := signature.Generate(body, "whsec_other_secret", time.Now())

	outcome, err := dispatcher.Process(context.Background(), body, header)
	if err == nil {
		t.Fatal("expected verification error")
	}
	if !core.IsWebhookVerification(err) {
		t.Fatalf("expected WEBHOOK_VERIFICATION_FAILED, got %v", err)
	}
	if outcome.Accepted || outcome.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if called != 0 {
		t.Fatal("handler ran on an untrusted delivery")
	}
}

func TestDispatcherRejectsMissingAndTamperedDeliveries(t *testing.T) {
	dispatcher, err := New(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, header := signedPayload(t, `{"id":"evt_3","type":"credit.low"}`)

	if _, err := dispatcher.Process(context.Background(), body, ""); !core.IsWebhookVerification(err) {
		t.Fatalf("expected verification failure for missing header, got %v", err)
	}

	tampered := []byte(strings.Replace(string(body), "evt_3", "evt_X", 1))
	if _, err := dispatcher.Process(context.Background(), tampered, header); !core.IsWebhookVerification(err) {
		t.Fatalf("expected verification failure for tampered payload, got %v", err)
	}
}

func TestDispatcherRejectsMalformedPayloadAfterTrust(t *testing.T) {
	dispatcher, err := New(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, header := signedPayload(t, `{"id":"evt_4","type":`)
	outcome, err := dispatcher.Process(context.Background(), body, header)
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if outcome.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", outcome.StatusCode)
	}
}

func TestDispatcherAcceptsUnknownTypesUnhandled(t *testing.T) {
	dispatcher, err := New(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, header := signedPayload(t, `{"id":"evt_5","type":"platform.future_thing"}`)
	outcome, err := dispatcher.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Accepted || outcome.Handled {
		t.Fatalf("expected accepted unhandled outcome, got %+v", outcome)
	}
	if outcome.EventType != "platform.future_thing" {
		t.Fatalf("unexpected event type %q", outcome.EventType)
	}
}

func TestDispatcherInvalidatesCacheBeforeHandler(t *testing.T) {
	invalidator := &recordingInvalidator{hit: true}
	dispatcher, err := New(testSecret, WithCacheInvalidator(invalidator))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var order []string
	dispatcher.On(EventEntitlementRevoked, func(_ context.Context, event Event) error {
		order = append(order, "handler")
		data, dataErr := event.EntitlementData()
		if dataErr != nil {
			return dataErr
		}
		if data.VerificationToken != "tok_gone" {
			t.Fatalf("unexpected token %q", data.VerificationToken)
		}
		return nil
	})

	body, header := signedPayload(t,
		`{"id":"evt_6","type":"entitlement.revoked","data":{"verificationToken":"tok_gone","onesubUserId":"u_1"}}`)
	if _, err := dispatcher.Process(context.Background(), body, header); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(invalidator.tokens) != 1 || invalidator.tokens[0] != "tok_gone" {
		t.Fatalf("unexpected invalidations: %v", invalidator.tokens)
	}
	if len(order) != 1 {
		t.Fatal("handler did not run after invalidation")
	}
}

func TestDispatcherVerifyRequiredInvalidatesWithoutHandler(t *testing.T) {
	invalidator := &recordingInvalidator{}
	dispatcher, err := New(testSecret, WithCacheInvalidator(invalidator))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body, header := signedPayload(t,
		`{"id":"evt_7","type":"verify.required","data":{"verificationToken":"tok_check"}}`)
	outcome, err := dispatcher.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Handled {
		t.Fatal("expected unhandled outcome without a registered handler")
	}
	if len(invalidator.tokens) != 1 || invalidator.tokens[0] != "tok_check" {
		t.Fatalf("unexpected invalidations: %v", invalidator.tokens)
	}
}

func TestDispatcherDeduplicatesByEventID(t *testing.T) {
	dispatcher, err := New(testSecret, WithDeliveryLedger(NewMemoryDeliveryLedger(time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handled := 0
	dispatcher.On(EventPurchaseCompleted, func(context.Context, Event) error {
		handled++
		return nil
	})

	body, header := signedPayload(t, `{"id":"evt_8","type":"purchase.completed"}`)

	first, err := dispatcher.Process(context.Background(), body, header)
	if err != nil || !first.Handled {
		t.Fatalf("unexpected first outcome: %+v err=%v", first, err)
	}
	second, err := dispatcher.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Accepted || !second.Deduped || second.Handled {
		t.Fatalf("expected deduped outcome, got %+v", second)
	}
	if handled != 1 {
		t.Fatalf("expected a single handler run, got %d", handled)
	}
}

func TestDispatcherHandlerErrorReleasesClaim(t *testing.T) {
	dispatcher, err := New(testSecret, WithDeliveryLedger(NewMemoryDeliveryLedger(time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	attempts := 0
	dispatcher.On(EventCreditDepleted, func(context.Context, Event) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("downstream unavailable")
		}
		return nil
	})

	body, header := signedPayload(t, `{"id":"evt_9","type":"credit.depleted"}`)

	outcome, err := dispatcher.Process(context.Background(), body, header)
	if err == nil {
		t.Fatal("expected handler error")
	}
	if outcome.Accepted || outcome.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	// platform redelivery after the failure is processed again
	retry, err := dispatcher.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if !retry.Handled || retry.Deduped {
		t.Fatalf("expected redelivery to be handled, got %+v", retry)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 handler attempts, got %d", attempts)
	}
}

func TestDispatcherOffUnregistersHandler(t *testing.T) {
	dispatcher, err := New(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatcher.On(EventToolStatusChanged, func(context.Context, Event) error {
		t.Fatal("handler should be unregistered")
		return nil
	})
	dispatcher.Off(EventToolStatusChanged)

	body, header := signedPayload(t, `{"id":"evt_10","type":"tool.status_changed"}`)
	outcome, err := dispatcher.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Handled {
		t.Fatal("expected unhandled outcome after Off")
	}
}

func TestDispatcherRequiresSecret(t *testing.T) {
	if _, err := New("   "); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConstructEventRequiresType(t *testing.T) {
	dispatcher, err := New(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, header := signedPayload(t, `{"id":"evt_11"}`)
	if _, err := dispatcher.ConstructEvent(body, header); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEventEntitlementDataRejectsWrongType(t *testing.T) {
	event := Event{Type: EventCreditLow}
	if _, err := event.EntitlementData(); err == nil {
		t.Fatal("expected error for non-entitlement event")
	}
}
