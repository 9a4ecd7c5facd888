package bridge

import (
	"time"

	"github.com/Iron-Ham/selfvisor/internal/logging"
)

const (
	defaultAddr         = "127.0.0.1:8089"
	defaultQueueSize    = 64
	defaultMaxClients   = 16
	defaultMaxInFlight  = 32
	defaultWriteTimeout = 5 * time.Second
	readLimit           = 64 << 10
)

// Option configures a Server.
type Option func(*config)

type config struct {
	addr         string
	token        string
	queueSize    int
	maxClients   int
	maxInFlight  int
	writeTimeout time.Duration
	logger       *logging.Logger
}

// WithAddr sets the listen address used by Run.
func WithAddr(addr string) Option {
	return func(c *config) {
		c.addr = addr
	}
}

// WithToken requires clients to send "Authorization: Bearer <token>".
// An empty token disables the check.
func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

// WithQueueSize sets the per-client outbound queue length.
// A zero or negative value is replaced with the default (64).
func WithQueueSize(n int) Option {
	return func(c *config) {
		c.queueSize = n
	}
}

// WithMaxClients bounds concurrent connections. 0 means unlimited.
func WithMaxClients(n int) Option {
	return func(c *config) {
		c.maxClients = n
	}
}

// WithMaxInFlight bounds commands executing concurrently across all clients.
// 0 means unlimited.
func WithMaxInFlight(n int) Option {
	return func(c *config) {
		c.maxInFlight = n
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		c.writeTimeout = d
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
