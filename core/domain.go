package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// AuthorizationCodePrefix is the fixed prefix every platform-issued
	// authorization code carries.
	AuthorizationCodePrefix = "ac_"

	// APIKeyPrefix is the fixed prefix of vendor tool API keys.
	APIKeyPrefix = "sk-tool-"
)

const (
	minAuthorizationCodeSuffix = 20
	minAPIKeySuffix            = 24
)

// NormalizeAuthorizationCode trims surrounding whitespace. Codes are
// case-sensitive, so no case folding happens here.
func NormalizeAuthorizationCode(code string) string {
	return strings.TrimSpace(code)
}

// ValidateAuthorizationCode performs the client-side format pre-check:
// fixed prefix plus at least 20 alphanumeric characters. Authoritative
// validation stays server-side.
func ValidateAuthorizationCode(code string) error {
	code = NormalizeAuthorizationCode(code)
	if code == "" {
		return NewValidationError("authorization code is required")
	}
	if !strings.HasPrefix(code, AuthorizationCodePrefix) {
		return NewValidationError(fmt.Sprintf(
			"authorization code must start with %q", AuthorizationCodePrefix,
		))
	}
	suffix := strings.TrimPrefix(code, AuthorizationCodePrefix)
	if len(suffix) < minAuthorizationCodeSuffix || !isAlphanumeric(suffix) {
		return NewValidationError(fmt.Sprintf(
			"authorization code must carry at least %d alphanumeric characters after %q",
			minAuthorizationCodeSuffix, AuthorizationCodePrefix,
		))
	}
	return nil
}

// IsValidAuthorizationCodeFormat reports whether a code passes the local
// format pre-check without allocating an error.
func IsValidAuthorizationCodeFormat(code string) bool {
	return ValidateAuthorizationCode(code) == nil
}

// ValidateAPIKey checks the vendor API key shape: fixed prefix plus at
// least 24 alphanumeric characters.
func ValidateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return NewValidationError("api key is required")
	}
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return NewValidationError(fmt.Sprintf(
			"api key must start with %q", APIKeyPrefix,
		))
	}
	suffix := strings.TrimPrefix(key, APIKeyPrefix)
	if len(suffix) < minAPIKeySuffix || !isAlphanumeric(suffix) {
		return NewValidationError(fmt.Sprintf(
			"api key must carry at least %d alphanumeric characters after %q",
			minAPIKeySuffix, APIKeyPrefix,
		))
	}
	return nil
}

func isAlphanumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// HashEmail returns the hex SHA-256 of a normalized (lowercased, trimmed)
// email address, the form the platform accepts for subscription lookups.
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Entitlements is the immutable snapshot of what a verified user is allowed.
// A new poll produces a new snapshot; snapshots are never mutated in place.
type Entitlements struct {
	Plans  []string         `json:"plans"`
	Quotas map[string]int64 `json:"quotas"`
	Flags  map[string]bool  `json:"flags"`
}

// Clone returns an independent copy so callers can hold snapshots without
// sharing backing maps.
func (e Entitlements) Clone() Entitlements {
	out := Entitlements{}
	if len(e.Plans) > 0 {
		out.Plans = append([]string(nil), e.Plans...)
	}
	if len(e.Quotas) > 0 {
		out.Quotas = make(map[string]int64, len(e.Quotas))
		for key, value := range e.Quotas {
			out.Quotas[key] = value
		}
	}
	if len(e.Flags) > 0 {
		out.Flags = make(map[string]bool, len(e.Flags))
		for key, value := range e.Flags {
			out.Flags[key] = value
		}
	}
	return out
}

// HasPlan reports whether the snapshot includes a plan identifier.
func (e Entitlements) HasPlan(plan string) bool {
	plan = strings.TrimSpace(plan)
	for _, candidate := range e.Plans {
		if candidate == plan {
			return true
		}
	}
	return false
}

// InvalidReason tags why a verification came back negative.
type InvalidReason string

const (
	ReasonRevoked InvalidReason = "revoked"
	ReasonError   InvalidReason = "error"
)

// VerificationState is the typed outcome of a verification poll. Consumers
// tear down the user's privileged session when Valid is false.
type VerificationState struct {
	Valid        bool
	Reason       InvalidReason
	Entitlements Entitlements
	CheckedAt    time.Time
}

// Revoked reports whether the platform explicitly revoked the token, as
// opposed to a transient verification error.
func (s VerificationState) Revoked() bool {
	return !s.Valid && s.Reason == ReasonRevoked
}
