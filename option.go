package checkout

import (
	"net/http"
	"time"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/metrics"
)

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		c.timeout = t
	}
}

// WithHTTPClient replaces the client used for backend calls. Its timeout
// wins over WithTimeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}
