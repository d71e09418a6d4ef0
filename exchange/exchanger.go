// Package exchange converts a one-time authorization code into a long-lived
// verification token plus an entitlements snapshot. The exchange runs once
// at integration time and is never cached: codes are single-use by platform
// contract, so a second attempt with the same code fails server-side.
package exchange

import (
	"context"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/onesub/onesub-go/core"
)

const exchangePath = "/authorize/exchange"

type Request struct {
	Code        string
	RedirectURI string
}

// Result is what a successful exchange yields. The verification token is
// owned by the integrating application and presented on every poll.
type Result struct {
	VerificationToken string
	Entitlements      core.Entitlements
	OneSubUserID      string
}

type Exchanger struct {
	client core.PlatformClient
	logger core.Logger
}

func New(client core.PlatformClient, logger core.Logger) *Exchanger {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Exchanger{client: client, logger: logger}
}

type exchangeRequestBody struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

type exchangeResponseBody struct {
	Valid             bool              `json:"valid"`
	VerificationToken string            `json:"verificationToken"`
	Entitlements      core.Entitlements `json:"entitlements"`
	OneSubUserID      string            `json:"onesubUserId"`
	Error             string            `json:"error"`
	Message           string            `json:"message"`
}

// ExchangeCode validates the code shape locally, then issues exactly one
// POST /authorize/exchange. Format failures never reach the wire; platform
// rejections arrive as typed errors (invalid code, authentication, …).
func (e *Exchanger) ExchangeCode(ctx context.Context, req Request) (Result, error) {
	if e == nil || e.client == nil {
		return Result{}, core.NewAPIError("exchanger is not configured", 0)
	}
	code := core.NormalizeAuthorizationCode(req.Code)
	if err := core.ValidateAuthorizationCode(code); err != nil {
		return Result{}, err
	}
	redirectURI := strings.TrimSpace(req.RedirectURI)

	var body exchangeResponseBody
	err := e.client.Post(ctx, exchangePath, exchangeRequestBody{
		Code:        code,
		RedirectURI: redirectURI,
	}, &body)
	if err != nil {
		e.logger.Debug("code exchange failed", "error_code", core.ErrorTextCode(err))
		return Result{}, err
	}
	if !body.Valid || strings.TrimSpace(body.VerificationToken) == "" {
		// A 2xx body without a token is a platform contract violation;
		// treat it like a rejected code rather than trusting partial data.
		message := strings.TrimSpace(body.Message)
		if message == "" {
			message = "exchange response carried no verification token"
		}
		return Result{}, core.NewInvalidCodeError(message)
	}

	e.logger.Info("authorization code exchanged", "onesub_user_id", body.OneSubUserID)
	return Result{
		VerificationToken: strings.TrimSpace(body.VerificationToken),
		Entitlements:      body.Entitlements.Clone(),
		OneSubUserID:      strings.TrimSpace(body.OneSubUserID),
	}, nil
}

// TryExchangeCode swallows all errors for callers that branch on presence
// instead of error handling.
func (e *Exchanger) TryExchangeCode(ctx context.Context, req Request) (Result, bool) {
	result, err := e.ExchangeCode(ctx, req)
	if err != nil {
		return Result{}, false
	}
	return result, true
}
