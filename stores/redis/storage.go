// Package redis provides a Redis backed Storage for coachauth clients.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is prepended to every key when no prefix is configured
const DefaultPrefix = "coachauth:storage:"

// Config configures a Redis backed Storage
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string

	// TTL expires items that are not rewritten. Zero keeps them forever.
	TTL time.Duration
}

// Storage implements coachauth.Storage on Redis strings
type Storage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	ctx    context.Context
}

// Open connects to Redis and checks the connection
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewStorage(client, cfg.Prefix, cfg.TTL), nil
}

// NewStorage wraps an existing client
func NewStorage(client *redis.Client, prefix string, ttl time.Duration) *Storage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Storage{client: client, prefix: prefix, ttl: ttl, ctx: context.Background()}
}

// WithContext returns a copy of the storage with the given context
func (s *Storage) WithContext(ctx context.Context) *Storage {
	return &Storage{client: s.client, prefix: s.prefix, ttl: s.ttl, ctx: ctx}
}

func (s *Storage) key(name string) string {
	return s.prefix + name
}

func (s *Storage) GetItem(key string) ([]byte, error) {
	raw, err := s.client.Get(s.ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Storage) SetItem(key string, value []byte) error {
	return s.client.Set(s.ctx, s.key(key), value, s.ttl).Err()
}

func (s *Storage) RemoveItem(key string) error {
	return s.client.Del(s.ctx, s.key(key)).Err()
}

func (s *Storage) Keys() ([]string, error) {
	var cursor uint64
	keys := make([]string, 0)
	pattern := s.prefix + "*"
	for {
		res, nextCursor, err := s.client.Scan(s.ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range res {
			keys = append(keys, strings.TrimPrefix(key, s.prefix))
		}
		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the underlying client
func (s *Storage) Close() error {
	return s.client.Close()
}
