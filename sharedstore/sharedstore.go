// Package sharedstore is the optional Redis-backed shared state §5's
// multi-process note allows: breaker/limiter state is process-local by
// default, but a horizontally scaled deployment MAY back the Router's
// score cache with a shared store, and MAY mirror per-process breaker/
// limiter state here for cross-process visibility, without changing
// either component's decision contract. Grounded on the teacher's
// internal/cache.Manager (Redis client wrapper, JSON get/set,
// health-check ticker loop, closed-flag guarded access).
package sharedstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get/GetJSON when key is absent.
var ErrMiss = errors.New("sharedstore: miss")

// IsMiss reports whether err is (or wraps) ErrMiss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// Config mirrors the teacher's cache.Config shape, narrowed to what this
// gateway's shared-state uses.
type Config struct {
	Addr                string
	Password            string
	DB                  int
	DefaultTTL          time.Duration
	MaxRetries          int
	PoolSize            int
	MinIdleConns        int
	HealthCheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DefaultTTL:          5 * time.Minute,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Store is a thin, JSON-oriented wrapper over a redis.Client. Every
// gateway component that can optionally use shared state (Router's score
// cache, breaker/limiter mirrors) depends on this narrow surface rather
// than *redis.Client directly.
type Store struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	stopHealthCheck chan struct{}
}

// New dials Redis per cfg and verifies connectivity with Ping.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	return newStore(client, cfg, logger)
}

// NewWithClient wraps an existing *redis.Client (e.g. one pointed at a
// miniredis instance in tests) instead of dialing a new connection.
func NewWithClient(client *redis.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	return newStore(client, cfg, logger)
}

func newStore(client *redis.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sharedstore: connect: %w", err)
	}

	s := &Store{
		client:          client,
		cfg:             cfg,
		logger:          logger.With(zap.String("component", "sharedstore")),
		stopHealthCheck: make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("sharedstore: closed")
	}
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("sharedstore: get %q: %w", key, err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sharedstore: closed")
	}
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("sharedstore: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("sharedstore: unmarshal %q: %w", key, err)
	}
	return nil
}

func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sharedstore: marshal %q: %w", key, err)
	}
	return s.Set(ctx, key, string(data), ttl)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sharedstore: closed")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("sharedstore: delete: %w", err)
	}
	return nil
}

// DeletePrefix scans and deletes every key starting with prefix. Used by
// Router.InvalidateTenant's shared-cache counterpart.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sharedstore: closed")
	}
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("sharedstore: scan prefix %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("sharedstore: delete prefix %q: %w", prefix, err)
	}
	return nil
}

// IncrBy atomically adds delta to key, returning the post-increment
// value. The mirrors in this package write with Set, not IncrBy.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("sharedstore: closed")
	}
	v, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("sharedstore: incrby %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sharedstore: closed")
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("sharedstore: expire %q: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("sharedstore: closed")
	}
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopHealthCheck)
	return s.client.Close()
}

func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopHealthCheck:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Ping(ctx); err != nil {
				s.logger.Warn("shared store health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}
