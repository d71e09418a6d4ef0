// Package credits spends platform credits on behalf of a verified user.
// Every consumption carries an idempotency key, so retried requests never
// double-charge.
package credits

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"github.com/onesub/onesub-go/core"
)

const consumePath = "/credits/consume"

const subscriptionVerifyPath = "/tools/subscriptions/verify"

const (
	maxConsumeAmount        = 1_000_000
	maxReasonLength         = 500
	maxIdempotencyKeyLength = 255
)

type ConsumeRequest struct {
	// UserID is the platform user identifier returned by the exchange.
	UserID string

	// Amount in credits, 1..1_000_000.
	Amount int64

	// Reason is a required audit note, at most 500 characters.
	Reason string

	// IdempotencyKey deduplicates retried consumption, required, at most
	// 255 characters. Use NewIdempotencyKey when the caller has no
	// natural key.
	IdempotencyKey string
}

type ConsumeResult struct {
	Success       bool
	NewBalance    int64
	TransactionID string

	// IsDuplicate is true when the idempotency key matched an earlier
	// consumption; the balance was not charged again.
	IsDuplicate bool
}

type Service struct {
	client core.PlatformClient
	logger core.Logger
}

func New(client core.PlatformClient, logger core.Logger) *Service {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Service{
		client: client,
		logger: logger,
	}
}

type consumeRequestBody struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

type consumeResponseBody struct {
	Success       *bool  `json:"success"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
	IsDuplicate   bool   `json:"is_duplicate"`
}

type balanceResponseBody struct {
	CreditsRemaining int64 `json:"creditsRemaining"`
}

// Consume spends credits. Validation failures stay local; an insufficient
// balance surfaces as INSUFFICIENT_CREDITS with balance metadata.
func (s *Service) Consume(ctx context.Context, req ConsumeRequest) (ConsumeResult, error) {
	if s == nil || s.client == nil {
		return ConsumeResult{}, core.NewAPIError("credits service is not configured", 0)
	}
	body, err := buildConsumeBody(req)
	if err != nil {
		return ConsumeResult{}, err
	}

	var response consumeResponseBody
	if err := s.client.Post(ctx, consumePath, body, &response); err != nil {
		return ConsumeResult{}, err
	}

	result := ConsumeResult{
		Success:       response.Success == nil || *response.Success,
		NewBalance:    response.NewBalance,
		TransactionID: response.TransactionID,
		IsDuplicate:   response.IsDuplicate,
	}
	s.logger.Info("credits consumed",
		"amount", req.Amount,
		"new_balance", result.NewBalance,
		"duplicate", result.IsDuplicate,
	)
	return result, nil
}

// TryConsume is Consume without error plumbing; the bool reports whether
// the spend happened.
func (s *Service) TryConsume(ctx context.Context, req ConsumeRequest) (ConsumeResult, bool) {
	result, err := s.Consume(ctx, req)
	if err != nil {
		return ConsumeResult{}, false
	}
	return result, result.Success
}

// HasEnough reports whether the user's balance covers the amount, without
// spending. The balance can change between check and consume; treat the
// answer as advisory. Lookup failures report false.
func (s *Service) HasEnough(ctx context.Context, userID string, amount int64) bool {
	if s == nil || s.client == nil {
		return false
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || amount < 1 {
		return false
	}
	var response balanceResponseBody
	if err := s.client.Post(ctx, subscriptionVerifyPath, map[string]string{
		"oneSubUserId": userID,
	}, &response); err != nil {
		return false
	}
	return response.CreditsRemaining >= amount
}

func buildConsumeBody(req ConsumeRequest) (consumeRequestBody, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return consumeRequestBody{}, core.NewValidationError("user id is required")
	}
	if req.Amount < 1 {
		return consumeRequestBody{}, core.NewValidationError("amount must be a positive integer")
	}
	if req.Amount > maxConsumeAmount {
		return consumeRequestBody{}, core.NewValidationError(
			fmt.Sprintf("amount cannot exceed %d", maxConsumeAmount))
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return consumeRequestBody{}, core.NewValidationError("reason is required")
	}
	if len(reason) > maxReasonLength {
		return consumeRequestBody{}, core.NewValidationError(
			fmt.Sprintf("reason cannot exceed %d characters", maxReasonLength))
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return consumeRequestBody{}, core.NewValidationError("idempotency key is required")
	}
	if len(key) > maxIdempotencyKeyLength {
		return consumeRequestBody{}, core.NewValidationError(
			fmt.Sprintf("idempotency key cannot exceed %d characters", maxIdempotencyKeyLength))
	}
	return consumeRequestBody{
		UserID:         userID,
		Amount:         req.Amount,
		Reason:         reason,
		IdempotencyKey: key,
	}, nil
}

// NewIdempotencyKey joins the given parts with a fresh UUID suffix.
func NewIdempotencyKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts)+1)
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	cleaned = append(cleaned, uuid.NewString())
	return strings.Join(cleaned, "-")
}
