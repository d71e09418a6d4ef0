// Package verification re-validates a previously issued verification token
// against the platform, with TTL caching to bound call volume. Polling
// cadence stays a caller responsibility; Runner is a convenience loop for
// callers that want one.
package verification

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/onesub/onesub-go/cache"
	"github.com/onesub/onesub-go/core"
	"golang.org/x/sync/singleflight"
)

const verifyPath = "/authorize/verify"

const cacheKeyPrefix = "verify::"

type Config struct {
	// CacheTTL bounds how long a valid result is served without a network
	// call. Keep it below the polling interval.
	CacheTTL time.Duration

	// RevokedTTL caches negative results for a shorter window so revocation
	// re-propagates quickly even without webhook-driven eviction.
	RevokedTTL time.Duration

	SweepInterval time.Duration
}

type Poller struct {
	client     core.PlatformClient
	store      *cache.Cache[core.VerificationState]
	cacheTTL   time.Duration
	revokedTTL time.Duration
	flight     singleflight.Group
	logger     core.Logger

	Now func() time.Time
}

// New builds a poller owning its cache; callers must Close it to stop the
// cache sweep.
func New(client core.PlatformClient, cfg Config, logger core.Logger) *Poller {
	if logger == nil {
		logger = glog.Nop()
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = core.DefaultCacheTTL
	}
	revokedTTL := cfg.RevokedTTL
	if revokedTTL <= 0 {
		revokedTTL = core.DefaultRevokedCacheTTL
	}
	if revokedTTL > cacheTTL {
		revokedTTL = cacheTTL
	}
	return &Poller{
		client:     client,
		store:      cache.New[core.VerificationState](cfg.SweepInterval),
		cacheTTL:   cacheTTL,
		revokedTTL: revokedTTL,
		logger:     logger,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type verifyRequestBody struct {
	VerificationToken string `json:"verificationToken"`
}

type verifyResponseBody struct {
	Valid        bool              `json:"valid"`
	Entitlements core.Entitlements `json:"entitlements"`
	Reason       string            `json:"reason"`
}

// Verify returns the token's verification state, consulting the cache
// first. Misses issue one network call per token at a time; concurrent
// calls for the same token share the in-flight request. Failures are never
// cached, so a timed-out call retries on the next attempt.
func (p *Poller) Verify(ctx context.Context, verificationToken string) (core.VerificationState, error) {
	if p == nil || p.client == nil {
		return core.VerificationState{}, core.NewAPIError("verification poller is not configured", 0)
	}
	token := strings.TrimSpace(verificationToken)
	if token == "" {
		return core.VerificationState{}, core.NewValidationError("verification token is required")
	}

	key := cacheKeyPrefix + token
	if state, ok := p.store.Get(key); ok {
		return state, nil
	}

	result, err, _ := p.flight.Do(key, func() (any, error) {
		if state, ok := p.store.Get(key); ok {
			return state, nil
		}
		state, verifyErr := p.verifyRemote(ctx, token)
		if verifyErr != nil {
			return core.VerificationState{}, verifyErr
		}
		ttl := p.cacheTTL
		if !state.Valid {
			ttl = p.revokedTTL
		}
		p.store.SetTTL(key, state, ttl)
		return state, nil
	})
	if err != nil {
		return core.VerificationState{}, err
	}
	state, _ := result.(core.VerificationState)
	return state, nil
}

func (p *Poller) verifyRemote(ctx context.Context, token string) (core.VerificationState, error) {
	var body verifyResponseBody
	if err := p.client.Post(ctx, verifyPath, verifyRequestBody{VerificationToken: token}, &body); err != nil {
		return core.VerificationState{}, err
	}

	state := core.VerificationState{
		Valid:     body.Valid,
		CheckedAt: p.now(),
	}
	if body.Valid {
		state.Entitlements = body.Entitlements.Clone()
		return state, nil
	}
	switch strings.ToLower(strings.TrimSpace(body.Reason)) {
	case string(core.ReasonRevoked):
		state.Reason = core.ReasonRevoked
		p.logger.Info("verification token revoked by platform")
	default:
		state.Reason = core.ReasonError
	}
	return state, nil
}

// Invalidate force-evicts the cached state for a token. This is the webhook
// fast path: push-driven revocation bypasses TTL freshness entirely.
func (p *Poller) Invalidate(verificationToken string) bool {
	if p == nil {
		return false
	}
	token := strings.TrimSpace(verificationToken)
	if token == "" {
		return false
	}
	return p.store.Delete(cacheKeyPrefix + token)
}

// Cached reports whether a fresh state exists without touching the network.
func (p *Poller) Cached(verificationToken string) bool {
	if p == nil {
		return false
	}
	return p.store.Has(cacheKeyPrefix + strings.TrimSpace(verificationToken))
}

// Close stops the owned cache's sweep and drops all cached states.
// Idempotent.
func (p *Poller) Close() {
	if p != nil {
		p.store.Destroy()
	}
}

func (p *Poller) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
