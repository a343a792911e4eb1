// Package redispub fans notification events out over redis pub/sub so that
// several server processes sharing one postgres store can feed every
// connected client.
package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/rumble/internal/domain/notify"
)

const (
	defaultChannelPrefix = "rumble"
	pingTimeout          = 5 * time.Second
)

// Client is the slice of the redis client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// Publisher is a worker sink that PUBLISHes events as JSON on
// "<prefix>:<party>:events".
type Publisher struct {
	client Client
	prefix string
}

// Option applies a configuration option to the Publisher.
type Option func(*Publisher)

// WithChannelPrefix overrides the channel prefix.
func WithChannelPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// New wraps an existing client.
func New(client Client, opts ...Option) *Publisher {
	p := &Publisher{client: client, prefix: defaultChannelPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects to redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, opts...), nil
}

// Channel returns the channel events of party are published on.
func (p *Publisher) Channel(party string) string {
	return p.prefix + ":" + party + ":events"
}

// Name identifies the sink in logs and metrics.
func (p *Publisher) Name() string { return "redis" }

// Deliver publishes e.
func (p *Publisher) Deliver(ctx context.Context, e notify.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(e.Party), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", e.ID, err)
	}
	return nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
