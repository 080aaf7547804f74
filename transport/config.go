package transport

import "time"

const (
	// DefaultKeepAliveInterval is the TCP keep-alive probe interval
	// applied to pooled sockets.
	DefaultKeepAliveInterval = 1000 * time.Millisecond

	// DefaultMaxFreeSockets caps the idle set of a keep-alive pool.
	DefaultMaxFreeSockets = 256

	// DefaultFreeSocketTimeout is how long an idle socket may sit in the
	// pool before it is considered stale and closed on the next acquire.
	DefaultFreeSocketTimeout = 60000 * time.Millisecond
)

// Config tunes the connection pool of a Transport. The zero value gives
// an unbounded keep-alive pool with the defaults above. It is supplied
// once at construction and never mutated afterwards.
type Config struct {
	// MaxSockets limits concurrent sockets to the host. Zero means
	// unbounded. When the limit is reached, acquisition waits until a
	// socket is released.
	MaxSockets int

	// DisableKeepAlive switches the pool to a fresh socket per request.
	DisableKeepAlive bool

	KeepAliveInterval          time.Duration
	KeepAliveMaxFreeSockets    int
	KeepAliveFreeSocketTimeout time.Duration

	// NewAgentFunc overrides pool construction entirely. When nil the
	// built-in keep-alive pool is used.
	NewAgentFunc func(host *Host, cfg Config) Agent
}

func (c Config) withDefaults() Config {
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.KeepAliveMaxFreeSockets == 0 {
		c.KeepAliveMaxFreeSockets = DefaultMaxFreeSockets
	}
	if c.KeepAliveFreeSocketTimeout == 0 {
		c.KeepAliveFreeSocketTimeout = DefaultFreeSocketTimeout
	}
	return c
}
