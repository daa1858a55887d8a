package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client reads market data from the TradeIQ REST API.
//
// baseURL carries the API mount point (e.g. http://localhost:8000/api);
// endpoint paths such as /market/technicals/ are joined onto it.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *slog.Logger

	retries    int
	retryDelay time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for the API mounted at baseURL. A non-empty
// token is sent as a bearer token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		hc:         &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		retries:    3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout bounds each HTTP exchange, retries excluded.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.hc.Timeout = d
	}
}

// WithRetries sets how often throttled or failing requests are retried and
// the first retry delay, which doubles per attempt.
func WithRetries(n int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = n
		c.retryDelay = delay
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.hc = hc
	}
}
