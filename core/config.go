package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL          = "https://1sub.io/api/v1"
	DefaultTimeout          = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultCacheTTL         = 60 * time.Second
	DefaultRevokedCacheTTL  = 10 * time.Second
	DefaultWebhookTolerance = 5 * time.Minute
	DefaultSweepInterval    = 60 * time.Second
)

type Config struct {
	BaseURL    string        `koanf:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxRetries int           `koanf:"max_retries" mapstructure:"max_retries"`

	// CacheTTL bounds how long a valid verification result is trusted without
	// re-checking. Keep it below the polling interval so a cache hit never
	// outlives the next scheduled poll.
	CacheTTL time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`

	// RevokedCacheTTL is intentionally shorter than CacheTTL so a revoked
	// result re-propagates quickly even without webhook-driven eviction.
	RevokedCacheTTL time.Duration `koanf:"revoked_cache_ttl" mapstructure:"revoked_cache_ttl"`

	// WebhookTolerance is the replay window for signed webhook timestamps.
	WebhookTolerance time.Duration `koanf:"webhook_tolerance" mapstructure:"webhook_tolerance"`

	SweepInterval time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Timeout:          DefaultTimeout,
		MaxRetries:       DefaultMaxRetries,
		CacheTTL:         DefaultCacheTTL,
		RevokedCacheTTL:  DefaultRevokedCacheTTL,
		WebhookTolerance: DefaultWebhookTolerance,
		SweepInterval:    DefaultSweepInterval,
	}
}

func (c Config) Validate() error {
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		return fmt.Errorf("core: base_url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("core: base_url must be an absolute url, got %q", c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("core: timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("core: max_retries must not be negative")
	}
	if c.CacheTTL < 0 || c.RevokedCacheTTL < 0 {
		return fmt.Errorf("core: cache ttls must not be negative")
	}
	if c.RevokedCacheTTL > c.CacheTTL && c.CacheTTL > 0 {
		return fmt.Errorf("core: revoked_cache_ttl must not exceed cache_ttl")
	}
	if c.WebhookTolerance < 0 {
		return fmt.Errorf("core: webhook_tolerance must not be negative")
	}
	return nil
}
