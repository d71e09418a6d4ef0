package signature

import (
	"strings"
	"testing"
	"time"

	"github.com/onesub/onesub-go/core"
)

const testSecret = "whsec-test-secret"

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func TestVerify_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"type":"entitlement.revoked","data":{}}`),
		[]byte(`{}`),
		[]byte(`{"type":"credit.low","data":{"balance":3}}`),
	}
	for _, payload := range payloads {
		header := Generate(payload, testSecret, fixedNow())
		err := Verify(payload, header, testSecret, VerifyOptions{Now: fixedNow})
		if err != nil {
			t.Fatalf("round trip failed for %s: %v", payload, err)
		}
	}
}

func TestVerify_TamperDetection(t *testing.T) {
	payload := []byte(`{"type":"subscription.activated","data":{"plan":"pro"}}`)
	header := Generate(payload, testSecret, fixedNow())

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)/2] ^= 0x01

	err := Verify(tampered, header, testSecret, VerifyOptions{Now: fixedNow})
	if err == nil {
		t.Fatalf("expected digest mismatch after single-byte mutation")
	}
	if !core.IsWebhookVerification(err) {
		t.Fatalf("expected webhook verification error, got %v", err)
	}
	if !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch reason, got %q", err.Error())
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	payload := []byte(`{"type":"verify.required"}`)
	header := Generate(payload, testSecret, fixedNow())
	if err := Verify(payload, header, "whsec-other", VerifyOptions{Now: fixedNow}); err == nil {
		t.Fatalf("expected rejection under a different secret")
	}
}

func TestVerify_ReplayRejection(t *testing.T) {
	payload := []byte(`{"type":"purchase.completed"}`)
	stale := Generate(payload, testSecret, fixedNow().Add(-10*time.Minute))

	err := Verify(payload, stale, testSecret, VerifyOptions{Now: fixedNow})
	if err == nil {
		t.Fatalf("expected stale timestamp rejection despite a valid digest")
	}
	if !strings.Contains(err.Error(), "replay window") {
		t.Fatalf("expected replay window reason, got %q", err.Error())
	}

	// A custom tolerance widens the window.
	err = Verify(payload, stale, testSecret, VerifyOptions{Now: fixedNow, Tolerance: 15 * time.Minute})
	if err != nil {
		t.Fatalf("expected acceptance inside the widened window: %v", err)
	}
}

func TestVerify_FutureTimestampRejected(t *testing.T) {
	payload := []byte(`{"type":"credit.depleted"}`)
	future := Generate(payload, testSecret, fixedNow().Add(10*time.Minute))
	if err := Verify(payload, future, testSecret, VerifyOptions{Now: fixedNow}); err == nil {
		t.Fatalf("expected rejection for timestamps ahead of the window")
	}
}

func TestParseHeader(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{name: "well formed", header: "t=1767096000,v1=abc123"},
		{name: "extra unknown fields", header: "t=1767096000,v1=abc123,v2=future"},
		{name: "empty", header: "", wantErr: true},
		{name: "missing digest", header: "t=1767096000", wantErr: true},
		{name: "missing timestamp", header: "v1=abc123", wantErr: true},
		{name: "non numeric timestamp", header: "t=yesterday,v1=abc123", wantErr: true},
		{name: "garbage", header: "signature", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseHeader(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected parse error for %q", tc.header)
				}
				if !core.IsWebhookVerification(err) {
					t.Fatalf("expected webhook verification error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tc.header, err)
			}
			if parsed.Digest != "abc123" {
				t.Fatalf("expected digest abc123, got %q", parsed.Digest)
			}
			if parsed.Timestamp.Unix() != 1767096000 {
				t.Fatalf("expected timestamp 1767096000, got %d", parsed.Timestamp.Unix())
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") {
		t.Fatalf("equal strings must compare true")
	}
	if SecureCompare("abc", "abd") {
		t.Fatalf("unequal strings must compare false")
	}
	if SecureCompare("abc", "abcd") {
		t.Fatalf("length differences must compare false")
	}
	if SecureCompare("", "abc") {
		t.Fatalf("empty vs non-empty must compare false")
	}
	if !SecureCompare("", "") {
		t.Fatalf("two empty strings must compare true")
	}
}
