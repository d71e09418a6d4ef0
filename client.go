// Package onesub is the vendor-side kit for the 1Sub platform: exchange
// an authorization code for a verification token, keep the token's
// entitlements verified on a cached poll loop, receive signed webhooks,
// spend credits, and check subscription standing.
package onesub

import (
	"context"
	"time"

	"github.com/onesub/onesub-go/core"
	"github.com/onesub/onesub-go/credits"
	"github.com/onesub/onesub-go/exchange"
	"github.com/onesub/onesub-go/subscriptions"
	"github.com/onesub/onesub-go/transport"
	"github.com/onesub/onesub-go/verification"
	"github.com/onesub/onesub-go/webhooks"
)

type settings struct {
	runtime           core.Config
	provider          core.ConfigProvider
	webhookSecret     string
	httpClient        transport.Doer
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	deliveryLedger    webhooks.DeliveryLedger
	now               func() time.Time
	subscriptionCache bool
}

type Option func(*settings)

// WithBaseURL overrides the platform API base URL, mostly for sandboxes
// and tests.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) {
		s.runtime.BaseURL = baseURL
	}
}

// WithWebhookSecret enables the webhook dispatcher. Without it,
// Webhooks() is nil and deliveries cannot be verified.
func WithWebhookSecret(secret string) Option {
	return func(s *settings) {
		s.webhookSecret = secret
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.runtime.Timeout = timeout
	}
}

func WithMaxRetries(maxRetries int) Option {
	return func(s *settings) {
		s.runtime.MaxRetries = maxRetries
	}
}

// WithCacheTTL bounds how long verification and subscription results are
// served without a network call.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.runtime.CacheTTL = ttl
	}
}

func WithRevokedCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.runtime.RevokedCacheTTL = ttl
	}
}

func WithWebhookTolerance(tolerance time.Duration) Option {
	return func(s *settings) {
		s.runtime.WebhookTolerance = tolerance
	}
}

// WithHTTPClient swaps the underlying HTTP implementation.
func WithHTTPClient(doer transport.Doer) Option {
	return func(s *settings) {
		s.httpClient = doer
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(s *settings) {
		s.loggerProvider = provider
	}
}

// WithConfigProvider loads configuration between built-in defaults and
// runtime options; runtime options win.
func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(s *settings) {
		s.provider = provider
	}
}

// WithDeliveryLedger replaces the in-memory webhook dedupe ledger,
// typically with the SQL-backed store for multi-process deployments.
func WithDeliveryLedger(ledger webhooks.DeliveryLedger) Option {
	return func(s *settings) {
		s.deliveryLedger = ledger
	}
}

// WithNow pins the clock for signature tolerance checks and cache
// timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithSubscriptionCache caches subscription verify responses with the
// configured cache TTL.
func WithSubscriptionCache() Option {
	return func(s *settings) {
		s.subscriptionCache = true
	}
}

// Client bundles the platform services behind one API key.
type Client struct {
	config core.Config
	logger core.Logger

	transport     *transport.Client
	exchange      *exchange.Exchanger
	verification  *verification.Poller
	webhooks      *webhooks.Dispatcher
	credits       *credits.Service
	subscriptions *subscriptions.Service
}

// New validates the API key, resolves configuration (defaults, then the
// config provider, then runtime options), and wires every service.
func New(apiKey string, options ...Option) (*Client, error) {
	cfg := settings{}
	for _, option := range options {
		if option != nil {
			option(&cfg)
		}
	}

	if err := core.ValidateAPIKey(apiKey); err != nil {
		return nil, err
	}

	defaults := core.DefaultConfig()
	loaded := defaults
	if cfg.provider != nil {
		var err error
		loaded, err = cfg.provider.Load(context.Background(), defaults)
		if err != nil {
			return nil, err
		}
	}
	resolved, err := core.GoOptionsResolver{}.Resolve(defaults, loaded, cfg.runtime)
	if err != nil {
		return nil, err
	}

	_, logger := core.ResolveLogger("onesub", cfg.loggerProvider, cfg.logger)

	platform, err := transport.New(transport.Config{
		APIKey:     apiKey,
		BaseURL:    resolved.BaseURL,
		Timeout:    resolved.Timeout,
		MaxRetries: resolved.MaxRetries,
	}, transport.WithDoer(cfg.httpClient), transport.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	poller := verification.New(platform, verification.Config{
		CacheTTL:      resolved.CacheTTL,
		RevokedTTL:    resolved.RevokedCacheTTL,
		SweepInterval: resolved.SweepInterval,
	}, logger)
	if cfg.now != nil {
		poller.Now = cfg.now
	}

	client := &Client{
		config:       resolved,
		logger:       logger,
		transport:    platform,
		exchange:     exchange.New(platform, logger),
		verification: poller,
		credits:      credits.New(platform, logger),
		subscriptions: subscriptions.New(platform, subscriptions.Config{
			CacheEnabled:  cfg.subscriptionCache,
			CacheTTL:      resolved.CacheTTL,
			SweepInterval: resolved.SweepInterval,
		}, logger),
	}

	if cfg.webhookSecret != "" {
		dispatcherOptions := []webhooks.Option{
			webhooks.WithTolerance(resolved.WebhookTolerance),
			webhooks.WithCacheInvalidator(poller),
			webhooks.WithLogger(logger),
		}
		if cfg.deliveryLedger != nil {
			dispatcherOptions = append(dispatcherOptions, webhooks.WithDeliveryLedger(cfg.deliveryLedger))
		}
		if cfg.now != nil {
			dispatcherOptions = append(dispatcherOptions, webhooks.WithNow(cfg.now))
		}
		dispatcher, err := webhooks.New(cfg.webhookSecret, dispatcherOptions...)
		if err != nil {
			poller.Close()
			client.subscriptions.Close()
			return nil, err
		}
		client.webhooks = dispatcher
	}

	return client, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() core.Config {
	if c == nil {
		return core.Config{}
	}
	return c.config
}

func (c *Client) Exchange() *exchange.Exchanger {
	if c == nil {
		return nil
	}
	return c.exchange
}

func (c *Client) Verification() *verification.Poller {
	if c == nil {
		return nil
	}
	return c.verification
}

// Webhooks returns the dispatcher, or nil when no webhook secret was
// configured.
func (c *Client) Webhooks() *webhooks.Dispatcher {
	if c == nil {
		return nil
	}
	return c.webhooks
}

func (c *Client) Credits() *credits.Service {
	if c == nil {
		return nil
	}
	return c.credits
}

func (c *Client) Subscriptions() *subscriptions.Service {
	if c == nil {
		return nil
	}
	return c.subscriptions
}

// ExchangeCode trades a user's authorization code for a verification
// token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (exchange.Result, error) {
	if c == nil {
		return exchange.Result{}, core.NewAPIError("client is not configured", 0)
	}
	return c.exchange.ExchangeCode(ctx, exchange.Request{Code: code})
}

// VerifyToken re-validates a verification token, serving cached state
// within the TTL.
func (c *Client) VerifyToken(ctx context.Context, verificationToken string) (core.VerificationState, error) {
	if c == nil {
		return core.VerificationState{}, core.NewAPIError("client is not configured", 0)
	}
	return c.verification.Verify(ctx, verificationToken)
}

// ProcessWebhook verifies and routes one delivery. It fails when the
// client was built without a webhook secret.
func (c *Client) ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) (webhooks.Outcome, error) {
	if c == nil || c.webhooks == nil {
		return webhooks.Outcome{}, core.NewWebhookVerificationError("webhook secret is not configured")
	}
	return c.webhooks.Process(ctx, payload, signatureHeader)
}

// Close stops the owned caches. The client must not be used afterwards.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.verification != nil {
		c.verification.Close()
	}
	if c.subscriptions != nil {
		c.subscriptions.Close()
	}
}
