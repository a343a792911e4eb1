package match

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/okian/rumble/internal/domain/notify"
	"github.com/okian/rumble/internal/domain/scoring"
	"github.com/okian/rumble/pkg/logger"
)

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithLogger sets a custom logger for the controller.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock injects the clock sampled once per command.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithNotifier sets where events are sent.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithBonusTable sets the scoring table.
func WithBonusTable(t *scoring.Table) Option {
	return func(c *Controller) {
		if t != nil {
			c.table = t
		}
	}
}

// WithTracer sets the tracer used for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}
