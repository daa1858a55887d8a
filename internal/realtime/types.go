package realtime

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"time"
)

// Status is the connection state reported to subscribers.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// Errors
var (
	ErrMissingType   = errors.New("message has no type")
	ErrInvalidTarget = errors.New("invalid websocket target")
)

const (
	// EnvBaseURL overrides the base transport address when the config leaves it empty.
	EnvBaseURL = "TRADEIQ_WS_URL"

	// DefaultBaseURL is used when neither config nor environment supply one.
	DefaultBaseURL = "ws://localhost:8000/ws"

	// DefaultPath is the chat channel.
	DefaultPath = "/chat/"
)

// Config configures a Client.
type Config struct {
	BaseURL string // e.g. ws://localhost:8000/ws; empty resolves via ResolveBaseURL
	Path    string // Endpoint path appended to BaseURL (default /chat/)
	UserID  string // Optional identity sent as the user_id query parameter

	// Zero values below take the DefaultConfig value.
	MaxReconnectAttempts int           // Automatic attempts before giving up (<0 = none)
	ReconnectBaseDelay   time.Duration // Delay before the first attempt; doubles per attempt
	ReconnectMaxDelay    time.Duration // Upper bound on a single delay (<0 = unbounded)

	HandshakeTimeout time.Duration // Dial timeout (<0 = none)
	WriteTimeout     time.Duration // Write deadline for sends (<0 = none)
	PingInterval     time.Duration // Keepalive ping period (<0 = disabled)
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Path:                 DefaultPath,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	return c
}

// ResolveBaseURL returns configured if set, then $TRADEIQ_WS_URL, then DefaultBaseURL.
func ResolveBaseURL(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv(EnvBaseURL); env != "" {
		return env
	}
	return DefaultBaseURL
}

// BuildTarget composes base + path + optional user_id query parameter.
func BuildTarget(base, path, userID string) string {
	target := base + path
	if userID != "" {
		target += "?" + url.Values{"user_id": {userID}}.Encode()
	}
	return target
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1), capped at max when max > 0 and never past math.MaxInt64.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// validateTarget checks that target is a dialable ws:// or wss:// URL.
func validateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return nil
}
