// Package presence mirrors which node holds each user's live session into
// Redis so other services can look it up. It never feeds back into the relay.
package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Store records user sessions as they are bound and unbound.
type Store interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
	Close() error
}

// Nop is the Store used when no Redis is configured.
type Nop struct{}

func (Nop) Online(context.Context, string) error  { return nil }
func (Nop) Offline(context.Context, string) error { return nil }
func (Nop) Close() error                          { return nil }

// Config configures a RedisStore.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	NodeID   string
}

const keyPrefix = "chat:presence:"

// Key returns the Redis key holding userID's presence.
func Key(userID string) string { return keyPrefix + userID }

// offlineScript deletes the key only while it still names this node, so a
// session that moved to another node is left alone.
var offlineScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps presence keys in Redis with a TTL.
type RedisStore struct {
	rdb  *redis.Client
	ttl  time.Duration
	node string
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("presence: redis address is empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "presence: ping redis at %s", cfg.Addr)
	}
	return &RedisStore{rdb: rdb, ttl: cfg.TTL, node: cfg.NodeID}, nil
}

// Online marks userID as served by this node and renews the TTL.
func (s *RedisStore) Online(ctx context.Context, userID string) error {
	if err := s.rdb.Set(ctx, Key(userID), s.node, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "presence: set %s", userID)
	}
	return nil
}

// Offline clears userID's presence if this node still owns it.
func (s *RedisStore) Offline(ctx context.Context, userID string) error {
	if err := offlineScript.Run(ctx, s.rdb, []string{Key(userID)}, s.node).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "presence: clear %s", userID)
	}
	return nil
}

// Lookup returns the node serving userID.
func (s *RedisStore) Lookup(ctx context.Context, userID string) (node string, online bool, err error) {
	node, err = s.rdb.Get(ctx, Key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "presence: lookup %s", userID)
	}
	return node, true, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
