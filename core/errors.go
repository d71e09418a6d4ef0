package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes mirror the platform's error vocabulary so server-reported
// failures round-trip into the same taxonomy as locally raised ones.
const (
	ErrorCodeValidation          = "VALIDATION_ERROR"
	ErrorCodeUnauthorized        = "UNAUTHORIZED"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeInvalidCode         = "INVALID_CODE"
	ErrorCodeWebhookVerification = "WEBHOOK_VERIFICATION_FAILED"
	ErrorCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrorCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrorCodeTimeout             = "TIMEOUT"
	ErrorCodeNetwork             = "NETWORK_ERROR"
	ErrorCodeAPI                 = "API_ERROR"
)

// NewValidationError reports malformed local input. These are raised before
// any network call and never reach the wire.
func NewValidationError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeValidation)
}

// NewAuthenticationError reports that the platform rejected the vendor's
// credentials.
func NewAuthenticationError(message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "invalid or missing api key"
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorCodeUnauthorized)
}

// NewInvalidCodeError reports an authorization code the platform does not
// recognize: unknown, expired, or already consumed.
func NewInvalidCodeError(message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "invalid or expired authorization code"
	}
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeInvalidCode)
}

// NewNotFoundError reports a missing platform resource.
func NewNotFoundError(message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "resource not found"
	}
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorCodeNotFound)
}

// NewWebhookVerificationError reports a webhook delivery that failed
// signature verification. The delivery must be rejected outright.
func NewWebhookVerificationError(message string) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "invalid webhook signature"
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorCodeWebhookVerification)
}

// NewRateLimitError carries the platform's retry-after guidance as metadata.
func NewRateLimitError(message string, retryAfterSeconds int, limit int, remaining int) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "rate limit exceeded"
	}
	return goerrors.New(message, goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(ErrorCodeRateLimited).
		WithMetadata(map[string]any{
			"retry_after": retryAfterSeconds,
			"limit":       limit,
			"remaining":   remaining,
		})
}

// NewInsufficientCreditsError carries balance context so callers can prompt
// the user with the shortfall.
func NewInsufficientCreditsError(currentBalance int64, required int64) *goerrors.Error {
	return goerrors.New("insufficient credits", goerrors.CategoryOperation).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeInsufficientCredits).
		WithMetadata(map[string]any{
			"current_balance": currentBalance,
			"required":        required,
			"shortfall":       required - currentBalance,
		})
}

// NewTimeoutError wraps a transport-level timeout. Retryable.
func NewTimeoutError(source error, message string) *goerrors.Error {
	return wrapTransportError(source, message, ErrorCodeTimeout)
}

// NewNetworkError wraps a transport-level connection failure. Retryable.
func NewNetworkError(source error, message string) *goerrors.Error {
	return wrapTransportError(source, message, ErrorCodeNetwork)
}

// NewAPIError covers server-reported failures that match no specific code.
func NewAPIError(message string, statusCode int) *goerrors.Error {
	if statusCode <= 0 {
		statusCode = http.StatusInternalServerError
	}
	return goerrors.New(message, goerrors.CategoryExternal).
		WithCode(statusCode).
		WithTextCode(ErrorCodeAPI)
}

func wrapTransportError(source error, message string, textCode string) *goerrors.Error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(textCode)
	}
	return goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(textCode)
}

// ErrorTextCode extracts the taxonomy code from any error, or ErrorCodeAPI
// for errors raised outside the taxonomy.
func ErrorTextCode(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.TextCode) != "" {
		return rich.TextCode
	}
	return ErrorCodeAPI
}

func hasTextCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == textCode
}

// IsValidation reports a malformed-local-input failure.
func IsValidation(err error) bool { return hasTextCode(err, ErrorCodeValidation) }

// IsAuthentication reports a rejected-credentials failure.
func IsAuthentication(err error) bool { return hasTextCode(err, ErrorCodeUnauthorized) }

// IsInvalidCode reports an unknown, expired, or already-used code.
func IsInvalidCode(err error) bool { return hasTextCode(err, ErrorCodeInvalidCode) }

// IsWebhookVerification reports a rejected webhook delivery.
func IsWebhookVerification(err error) bool { return hasTextCode(err, ErrorCodeWebhookVerification) }

// IsRateLimited reports a platform throttle response.
func IsRateLimited(err error) bool { return hasTextCode(err, ErrorCodeRateLimited) }

// IsInsufficientCredits reports a failed credit consumption.
func IsInsufficientCredits(err error) bool { return hasTextCode(err, ErrorCodeInsufficientCredits) }

// IsRetryable distinguishes transport failures worth retrying from
// application-level rejections that are terminal.
func IsRetryable(err error) bool {
	switch ErrorTextCode(err) {
	case ErrorCodeTimeout, ErrorCodeNetwork, ErrorCodeRateLimited:
		return true
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Code >= http.StatusInternalServerError
	}
	return false
}
