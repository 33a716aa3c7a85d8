package luci

import (
	"net/http"
	"time"

	"github.com/asnowfix/luci-config/pkg/luci/ratelimit"
)

const DefaultTimeout = 10 * time.Second

type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (of optionFunc) apply(c *Client) { of(c) }

// WithTLS selects https to reach the router.
func WithTLS(ssl bool) Option {
	return optionFunc(func(c *Client) {
		c.ssl = ssl
	})
}

// WithVerifyTLS controls the verification of the router certificate.
func WithVerifyTLS(verify bool) Option {
	return optionFunc(func(c *Client) {
		c.verifySSL = verify
	})
}

func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		c.timeout = d
	})
}

// WithHTTPClient replaces the HTTP client; TLS options are then ignored.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) {
		c.httpClient = hc
	})
}

// WithRateLimit spaces consecutive calls to the router.
func WithRateLimit(rl *ratelimit.RateLimiter) Option {
	return optionFunc(func(c *Client) {
		c.limiter = rl
	})
}
