package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Redis address, host:port.
	Addr string `yaml:"addr" json:"addr"`

	// Password, empty for none.
	Password string `yaml:"password" json:"password"`

	// Database number.
	DB int `yaml:"db" json:"db"`

	// Key prefix namespacing all blobs of one workspace.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// Maximum retries per command.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultRedisConfig returns the default redis store configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:       "localhost:6379",
		KeyPrefix:  "flowforge:blobs:",
		MaxRetries: 3,
		PoolSize:   10,
	}
}

// RedisStore is a redis-backed BlobStore for workspaces shared between
// processes.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(config RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis_store")),
	}, nil
}

func (s *RedisStore) key(name string) string {
	return s.config.KeyPrefix + name
}

// Put stores data under name.
func (s *RedisStore) Put(ctx context.Context, name string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		s.logger.Error("blob put failed", zap.String("name", name), zap.Error(err))
		return fmt.Errorf("blob write failed: %w", err)
	}
	return nil
}

// Get returns the blob stored under name.
func (s *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("blob get failed", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("blob read failed: %w", err)
	}
	return data, nil
}

// Delete removes the blob stored under name.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("blob delete failed: %w", err)
	}
	return nil
}

// List returns the stored blob names.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var names []string
	iter := s.client.Scan(ctx, 0, s.config.KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.config.KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("blob list failed: %w", err)
	}
	return names, nil
}

// Close closes the redis connection. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var _ BlobStore = (*RedisStore)(nil)
