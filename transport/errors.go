package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/onesub/onesub-go/core"
)

// apiErrorBody is the platform's failure envelope:
// {valid: false, error: <code>, message: <text>} plus code-specific fields.
type apiErrorBody struct {
	Valid          *bool  `json:"valid,omitempty"`
	Error          string `json:"error"`
	Message        string `json:"message"`
	RetryAfter     int    `json:"retry_after"`
	Limit          int    `json:"limit"`
	Remaining      int    `json:"remaining"`
	CurrentBalance int64  `json:"current_balance"`
	Required       int64  `json:"required"`
}

// decodeAPIError maps a non-success response to the matching typed error.
// Server-reported failures never surface as generic transport errors.
func decodeAPIError(statusCode int, body []byte) error {
	var envelope apiErrorBody
	_ = json.Unmarshal(body, &envelope)

	message := strings.TrimSpace(envelope.Message)
	if message == "" {
		message = strings.TrimSpace(envelope.Error)
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = "unknown platform error"
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return core.NewAuthenticationError(message)
	case http.StatusNotFound:
		return core.NewNotFoundError(message)
	case http.StatusTooManyRequests:
		retryAfter := envelope.RetryAfter
		if retryAfter <= 0 {
			retryAfter = 60
		}
		return core.NewRateLimitError(message, retryAfter, envelope.Limit, envelope.Remaining)
	case http.StatusBadRequest:
		switch strings.ToUpper(strings.TrimSpace(envelope.Error)) {
		case core.ErrorCodeInvalidCode:
			return core.NewInvalidCodeError(message)
		case core.ErrorCodeInsufficientCredits:
			return core.NewInsufficientCreditsError(envelope.CurrentBalance, envelope.Required)
		}
		return core.NewValidationError(message)
	}
	return core.NewAPIError(message, statusCode)
}
