package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "fusionsolar:session:"
	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

// RedisStore keeps each session as a JSON string under its own key. Sessions
// expire after ttl unless ttl is zero.
type RedisStore struct {
	client   *redis.Client
	addr     string
	password string
	ttl      time.Duration
	sealer   *sealer
}

func configuredRedis(sl *sealer) *RedisStore {
	addr := lflag.String("redis-addr", "", "Redis address (host:port) when session-store=redis")
	password := lflag.String("redis-password", "", "Redis password")
	ttl := lflag.Duration("redis-session-ttl", 7*24*time.Hour, "How long a saved session is kept in Redis (0 keeps it forever)")

	r := &RedisStore{sealer: sl}
	lflag.Do(func() {
		r.addr = strings.TrimSpace(*addr)
		r.password = *password
		r.ttl = *ttl
	})
	return r
}

// Validate checks if the store is properly configured.
func (r *RedisStore) Validate() error {
	if r.addr == "" {
		return errors.New("redis-addr is required")
	}
	if r.ttl < 0 {
		return errors.New("redis-session-ttl cannot be negative")
	}
	return nil
}

// Init connects to Redis and validates the connection with PING.
func (r *RedisStore) Init(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:         r.addr,
		Password:     r.password,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to ping redis at %s: %w", r.addr, err)
	}
	r.client = client
	return nil
}

func (r *RedisStore) key(key string) string {
	return redisKeyPrefix + key
}

// LoadSession returns the session stored under key.
func (r *RedisStore) LoadSession(ctx context.Context, key string) (*types.SessionSnapshot, error) {
	result, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	snap, err := r.sealer.open([]byte(result))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "ignoring unreadable session", slog.String("key", key), slog.Any("err", err))
		return nil, nil
	}
	return snap, nil
}

// SaveSession replaces the session stored under key and resets its expiry.
func (r *RedisStore) SaveSession(ctx context.Context, key string, snap types.SessionSnapshot) error {
	data, err := r.sealer.seal(ctx, snap)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
