// Package subscriptions checks a user's subscription standing by platform
// user ID, by the vendor's own user ID, or by hashed email. Responses can
// be cached briefly to keep request-path checks off the network.
package subscriptions

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/onesub/onesub-go/cache"
	"github.com/onesub/onesub-go/core"
)

const verifyPath = "/tools/subscriptions/verify"

const cacheKeyPrefix = "sub:"

// Query identifies the user to verify. At least one field is required;
// OneSubUserID is the fastest lookup, ToolUserID needs prior account
// linking, EmailSHA256 is the normalized-email hash from core.HashEmail.
type Query struct {
	OneSubUserID string
	ToolUserID   string
	EmailSHA256  string
}

// Subscription is the platform's view of a user's standing.
type Subscription struct {
	OneSubUserID     string     `json:"oneSubUserId"`
	Active           bool       `json:"active"`
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	CreditsRemaining int64      `json:"creditsRemaining"`
	ExpiresAt        *time.Time `json:"expiresAt"`
}

type Config struct {
	// CacheEnabled turns on response caching. Off by default so standing
	// changes are visible immediately.
	CacheEnabled bool

	CacheTTL      time.Duration
	SweepInterval time.Duration
}

type Service struct {
	client   core.PlatformClient
	store    *cache.Cache[Subscription]
	cacheTTL time.Duration
	logger   core.Logger
}

func New(client core.PlatformClient, cfg Config, logger core.Logger) *Service {
	if logger == nil {
		logger = glog.Nop()
	}
	service := &Service{
		client: client,
		logger: logger,
	}
	if cfg.CacheEnabled {
		ttl := cfg.CacheTTL
		if ttl <= 0 {
			ttl = core.DefaultCacheTTL
		}
		service.store = cache.New[Subscription](cfg.SweepInterval, cache.WithDefaultTTL[Subscription](ttl))
		service.cacheTTL = ttl
	}
	return service
}

type verifyRequestBody struct {
	OneSubUserID string `json:"oneSubUserId,omitempty"`
	ToolUserID   string `json:"toolUserId,omitempty"`
	EmailSHA256  string `json:"emailSha256,omitempty"`
}

// Verify looks up the subscription for the queried user. With caching
// enabled, a hit skips the network; responses are cached under both the
// query key and the canonical platform user ID.
func (s *Service) Verify(ctx context.Context, query Query) (Subscription, error) {
	if s == nil || s.client == nil {
		return Subscription{}, core.NewAPIError("subscriptions service is not configured", 0)
	}
	body := verifyRequestBody{
		OneSubUserID: strings.TrimSpace(query.OneSubUserID),
		ToolUserID:   strings.TrimSpace(query.ToolUserID),
		EmailSHA256:  strings.TrimSpace(query.EmailSHA256),
	}
	if body.OneSubUserID == "" && body.ToolUserID == "" && body.EmailSHA256 == "" {
		return Subscription{}, core.NewValidationError(
			"at least one of onesub user id, tool user id, or email hash is required")
	}

	queryKey := body.OneSubUserID
	if queryKey == "" {
		queryKey = body.ToolUserID
	}
	if queryKey == "" {
		queryKey = body.EmailSHA256
	}
	if s.store != nil {
		if cached, ok := s.store.Get(cacheKeyPrefix + queryKey); ok {
			return cached, nil
		}
	}

	var subscription Subscription
	if err := s.client.Post(ctx, verifyPath, body, &subscription); err != nil {
		return Subscription{}, err
	}

	if s.store != nil && subscription.OneSubUserID != "" {
		s.store.Set(cacheKeyPrefix+subscription.OneSubUserID, subscription)
		if queryKey != subscription.OneSubUserID {
			s.store.Set(cacheKeyPrefix+queryKey, subscription)
		}
	}
	return subscription, nil
}

// VerifyByEmail hashes the email before it leaves the process; the raw
// address is never sent.
func (s *Service) VerifyByEmail(ctx context.Context, email string) (Subscription, error) {
	if strings.TrimSpace(email) == "" {
		return Subscription{}, core.NewValidationError("email is required")
	}
	return s.Verify(ctx, Query{EmailSHA256: core.HashEmail(email)})
}

func (s *Service) VerifyByUserID(ctx context.Context, oneSubUserID string) (Subscription, error) {
	if strings.TrimSpace(oneSubUserID) == "" {
		return Subscription{}, core.NewValidationError("user id is required")
	}
	return s.Verify(ctx, Query{OneSubUserID: oneSubUserID})
}

func (s *Service) VerifyByToolUserID(ctx context.Context, toolUserID string) (Subscription, error) {
	if strings.TrimSpace(toolUserID) == "" {
		return Subscription{}, core.NewValidationError("tool user id is required")
	}
	return s.Verify(ctx, Query{ToolUserID: toolUserID})
}

// IsActive reports whether the queried user has an active subscription.
// Lookup failures report false.
func (s *Service) IsActive(ctx context.Context, query Query) bool {
	subscription, err := s.Verify(ctx, query)
	if err != nil {
		return false
	}
	return subscription.Active
}

// InvalidateCache evicts the cached entry for a platform user ID.
func (s *Service) InvalidateCache(oneSubUserID string) bool {
	if s == nil || s.store == nil {
		return false
	}
	return s.store.Delete(cacheKeyPrefix + strings.TrimSpace(oneSubUserID))
}

// ClearCache drops every cached subscription.
func (s *Service) ClearCache() {
	if s != nil && s.store != nil {
		s.store.Clear()
	}
}

// Close stops the cache sweep, if caching was enabled.
func (s *Service) Close() {
	if s != nil && s.store != nil {
		s.store.Destroy()
	}
}
