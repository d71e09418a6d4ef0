package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/onesub/onesub-go/core"
)

const defaultRunnerInterval = 5 * time.Minute

// TokenVerifier is the slice of Poller that Runner needs.
type TokenVerifier interface {
	Verify(ctx context.Context, verificationToken string) (core.VerificationState, error)
}

// Runner re-verifies a single token on a fixed interval and reports each
// observed state through callbacks. It is a convenience: applications that
// verify lazily on request do not need one.
type Runner struct {
	Verifier TokenVerifier
	Token    string

	// Interval defaults to 5m. Keep it above the poller's cache TTL or
	// every tick will be a cache hit.
	Interval time.Duration

	// OnState fires after every successful verification, valid or not.
	OnState func(core.VerificationState)

	// OnRevoked fires once when the platform reports the token revoked;
	// the runner then stops.
	OnRevoked func(core.VerificationState)

	Logger core.Logger
}

// Run verifies immediately, then on every tick until the context is
// cancelled or the token is revoked. Transient verification errors are
// logged and the loop keeps going; revocation stops it with a nil error.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.Verifier == nil {
		return fmt.Errorf("verification: runner verifier is required")
	}
	token := strings.TrimSpace(r.Token)
	if token == "" {
		return core.NewValidationError("verification token is required")
	}
	logger := r.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRunnerInterval
	}

	if stop, err := r.tick(ctx, token, logger); err != nil {
		return err
	} else if stop {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stop, err := r.tick(ctx, token, logger)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context, token string, logger core.Logger) (stop bool, err error) {
	state, verifyErr := r.Verifier.Verify(ctx, token)
	if verifyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		logger.Warn("verification poll failed", "error", verifyErr)
		return false, nil
	}
	if r.OnState != nil {
		r.OnState(state)
	}
	if state.Revoked() {
		logger.Info("verification token revoked, stopping runner")
		if r.OnRevoked != nil {
			r.OnRevoked(state)
		}
		return true, nil
	}
	return false, nil
}
