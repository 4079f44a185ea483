package factory

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"resource-pool/pool/domain"
)

// Redis is a domain.Factory that pools dedicated Redis connections taken off
// a shared client. Make dials and pings with bounded exponential backoff,
// Validate pings, Destroy closes.
type Redis struct {
	client *redis.Client

	db          int
	pingTimeout time.Duration
	dialRetries uint64
}

var _ domain.Factory[*redis.Conn] = (*Redis)(nil)

type RedisOption func(*Redis)

// WithDB selects a logical database on activation.
func WithDB(db int) RedisOption {
	return func(f *Redis) { f.db = db }
}

// WithPingTimeout bounds the health-check ping.
func WithPingTimeout(d time.Duration) RedisOption {
	return func(f *Redis) { f.pingTimeout = d }
}

// WithDialRetries bounds the backoff retries on Make.
func WithDialRetries(n uint64) RedisOption {
	return func(f *Redis) { f.dialRetries = n }
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	f := &Redis{
		client:      client,
		db:          -1,
		pingTimeout: 2 * time.Second,
		dialRetries: 3,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Redis) Make(ctx context.Context) (*redis.Conn, error) {
	conn := f.client.Conn()
	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, f.pingTimeout)
		defer cancel()
		return conn.Ping(pingCtx).Err()
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.dialRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (f *Redis) Destroy(_ context.Context, conn *redis.Conn) error {
	return conn.Close()
}

func (f *Redis) Validate(ctx context.Context, conn *redis.Conn) bool {
	pingCtx, cancel := context.WithTimeout(ctx, f.pingTimeout)
	defer cancel()
	return conn.Ping(pingCtx).Err() == nil
}

func (f *Redis) Activate(ctx context.Context, conn *redis.Conn) error {
	if f.db < 0 {
		return nil
	}
	return conn.Select(ctx, f.db).Err()
}

func (f *Redis) Passivate(context.Context, *redis.Conn) error {
	return nil
}
