// Package signature implements the platform's webhook signing scheme:
// HMAC-SHA256 over "<unix-seconds>.<raw body>", carried in a header of the
// form t=<unix-seconds>,v1=<hex-digest>.
//
// The digest is always computed over the raw request bytes, never a parsed
// and re-serialized object, so canonicalization mismatches cannot occur.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onesub/onesub-go/core"
)

// DefaultTolerance is the replay window for signed timestamps. Deliveries
// older or newer than this are rejected even with a valid digest.
const DefaultTolerance = 5 * time.Minute

// Header is the parsed form of a signature header.
type Header struct {
	Timestamp time.Time
	Digest    string
}

// Generate signs a payload at a given instant. Platform-side this produces
// outbound signatures; vendor-side it backs test fixtures.
func Generate(payload []byte, secret string, at time.Time) string {
	ts := at.UTC().Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeDigest(payload, secret, ts))
}

// ParseHeader splits a t=...,v1=... header into its parts. Unknown fields
// are ignored so the scheme can grow (v2 digests) without breaking older
// verifiers.
func ParseHeader(header string) (Header, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Header{}, core.NewWebhookVerificationError("signature header is required")
	}

	var rawTimestamp, digest string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			rawTimestamp = value
		case "v1":
			digest = value
		}
	}
	if rawTimestamp == "" || digest == "" {
		return Header{}, core.NewWebhookVerificationError(
			"signature header must carry t= and v1= fields",
		)
	}
	seconds, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return Header{}, core.NewWebhookVerificationError(
			fmt.Sprintf("signature timestamp %q is not a unix second count", rawTimestamp),
		)
	}
	return Header{
		Timestamp: time.Unix(seconds, 0).UTC(),
		Digest:    strings.ToLower(strings.TrimSpace(digest)),
	}, nil
}

// VerifyOptions tune Verify. The zero value uses DefaultTolerance and the
// wall clock.
type VerifyOptions struct {
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify authenticates a payload against its signature header. Both checks
// must pass: the digest must match in constant time and the timestamp must
// fall inside the tolerance window. The two failure modes carry distinct
// messages for observability but identical rejection behavior.
func Verify(payload []byte, header string, secret string, opts VerifyOptions) error {
	parsed, err := ParseHeader(header)
	if err != nil {
		return err
	}
	if strings.TrimSpace(secret) == "" {
		return core.NewWebhookVerificationError("webhook secret is required")
	}

	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now().UTC()
	if opts.Now != nil {
		now = opts.Now().UTC()
	}

	delta := now.Sub(parsed.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > tolerance {
		return core.NewWebhookVerificationError(
			fmt.Sprintf("signature timestamp outside %s replay window", tolerance),
		)
	}

	expected := computeDigest(payload, secret, parsed.Timestamp.Unix())
	if !SecureCompare(expected, parsed.Digest) {
		return core.NewWebhookVerificationError("signature digest mismatch")
	}
	return nil
}

// IsValid is the boolean form of Verify for callers that branch on
// presence rather than errors.
func IsValid(payload []byte, header string, secret string, opts VerifyOptions) bool {
	return Verify(payload, header, secret, opts) == nil
}

// SecureCompare reports string equality in constant time, independent of
// where the operands differ and of length differences. Both operands are
// HMAC'd under an ephemeral key first so unequal lengths cannot
// short-circuit the comparison.
func SecureCompare(a, b string) bool {
	key := make([]byte, 32)
	macA := hmac.New(sha256.New, key)
	_, _ = macA.Write([]byte(a))
	macB := hmac.New(sha256.New, key)
	_, _ = macB.Write([]byte(b))
	return subtle.ConstantTimeCompare(macA.Sum(nil), macB.Sum(nil)) == 1
}

func computeDigest(payload []byte, secret string, unixSeconds int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(unixSeconds, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
