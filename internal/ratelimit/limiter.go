package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/feral-file/ff-marketplace/internal/adapter"
	"github.com/feral-file/ff-marketplace/internal/logger"
)

// Config holds per-host rate limits for outbound fetches
type Config struct {
	// RequestsPerSecond applies to every host without an override. Zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// MaxQueueTime bounds how long a request may wait for a token
	MaxQueueTime time.Duration `mapstructure:"max_queue_time"`
	// Hosts overrides the default rate for specific hosts
	Hosts []HostLimit `mapstructure:"hosts"`
}

// HostLimit is the rate for a single host
type HostLimit struct {
	Host              string  `mapstructure:"host"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// httpClient throttles requests per destination host
type httpClient struct {
	next   adapter.HTTPClient
	config Config

	overrides map[string]HostLimit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPClient wraps next so that requests to the same host share a token bucket
func NewHTTPClient(next adapter.HTTPClient, cfg Config) adapter.HTTPClient {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	overrides := make(map[string]HostLimit, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		overrides[strings.ToLower(h.Host)] = h
	}
	return &httpClient{
		next:      next,
		config:    cfg,
		overrides: overrides,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (c *httpClient) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.wait(ctx, rawURL); err != nil {
		return nil, err
	}
	return c.next.GetBytes(ctx, rawURL)
}

func (c *httpClient) Post(ctx context.Context, rawURL string, headers map[string]string, contentType string, body []byte) ([]byte, error) {
	if err := c.wait(ctx, rawURL); err != nil {
		return nil, err
	}
	return c.next.Post(ctx, rawURL, headers, contentType, body)
}

// wait blocks until the host's bucket yields a token. It gives up after MaxQueueTime.
func (c *httpClient) wait(ctx context.Context, rawURL string) error {
	limiter := c.limiterFor(hostOf(rawURL))
	if limiter == nil {
		return nil
	}

	if c.config.MaxQueueTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.MaxQueueTime)
		defer cancel()
	}

	if err := limiter.Wait(ctx); err != nil {
		logger.WarnCtx(ctx, "Rate limit wait aborted", zap.String("url", rawURL), zap.Error(err))
		return fmt.Errorf("rate limit wait for %s: %w", rawURL, err)
	}
	return nil
}

func (c *httpClient) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limiter, ok := c.limiters[host]; ok {
		return limiter
	}

	rps, burst := c.config.RequestsPerSecond, c.config.Burst
	if override, ok := c.overrides[host]; ok {
		rps = override.RequestsPerSecond
		if override.Burst > 0 {
			burst = override.Burst
		}
	}
	if rps <= 0 {
		c.limiters[host] = nil
		return nil
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	c.limiters[host] = limiter
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
