package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every store call issued through Context().
const DefaultTimeout = 5 * time.Second

// Config holds cache store configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Store wraps the Redis client shared by the presence registry, rate
// limiter, content cache, queue and bus. Every caller goes through
// Context() so no store call can block its caller indefinitely.
type Store struct {
	client  *redis.Client
	timeout time.Duration
}

// New connects to the store and verifies it with a ping. A store that
// cannot be reached at startup is a fatal error for the process.
func New(cfg Config) (*Store, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache store at %s: %w", cfg.Addr, err)
	}

	return &Store{client: client, timeout: timeout}, nil
}

// Client exposes the underlying Redis client.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Context derives a per-call context bounded by the store timeout.
func (s *Store) Context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.timeout)
}

// Close releases the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}
