package worker

import (
	"time"

	"github.com/okian/rumble/pkg/logger"
)

// Option applies a configuration option to a Pool and its workers.
type Option func(*config)

type config struct {
	name    string
	retries int
	backoff time.Duration
	logger  logger.Logger
}

// WithName sets the name prefix used in logs.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger for the workers.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetries sets how many extra delivery attempts a failing sink gets.
func WithRetries(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBackoff sets the first pause between delivery attempts. Later pauses
// grow exponentially with jitter.
func WithBackoff(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.backoff = d
		}
	}
}
