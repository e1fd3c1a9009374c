package session

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"playproof/pkg/event"
)

const lockStripes = 64

// RedisStore keeps active-window session state in Redis so multiple
// scoring replicas can share it. Idle eviction is delegated to Redis
// key expiry.
//
// Per-session mutual exclusion is striped locally: within one process
// two updates for the same session id never interleave (ids on the
// same stripe additionally serialize with each other, which bounds
// throughput, not correctness). Across replicas the store relies on
// requests for one session id being routed to one replica.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	prefix string
	locks  [lockStripes]sync.Mutex
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(ctx context.Context, client *redis.Client, cfg Config) (*RedisStore, error) {
	cfg.applyDefaults()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, cfg: cfg, prefix: "playproof:session:"}, nil
}

func (rs *RedisStore) key(id string) string { return rs.prefix + id }

func (rs *RedisStore) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &rs.locks[h.Sum32()%lockStripes]
}

// GetOrCreate implements Store.
func (rs *RedisStore) GetOrCreate(ctx context.Context, id string) (Session, error) {
	return rs.Update(ctx, id, func(*Session) error { return nil })
}

// Update implements Store.
func (rs *RedisStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	mu := rs.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	sess, err := rs.load(ctx, id, now)
	if err != nil {
		return Session{}, err
	}
	if err := fn(&sess); err != nil {
		return Session{}, err
	}
	sess.LastSeen = now
	if err := rs.save(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess.snapshot(), nil
}

// Append implements Store.
func (rs *RedisStore) Append(ctx context.Context, id string, events ...event.Normalized) (Session, error) {
	return rs.Update(ctx, id, func(s *Session) error {
		for _, ev := range events {
			s.Append(ev, rs.cfg.RetentionCap)
		}
		return nil
	})
}

// RetentionCap implements Store.
func (rs *RedisStore) RetentionCap() int { return rs.cfg.RetentionCap }

// Close releases the Redis client.
func (rs *RedisStore) Close() error { return rs.client.Close() }

func (rs *RedisStore) load(ctx context.Context, id string, now time.Time) (Session, error) {
	raw, err := rs.client.Get(ctx, rs.key(id)).Bytes()
	if err == redis.Nil {
		return newSession(id, now), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// Corrupt state: start over rather than fail the request.
		return newSession(id, now), nil
	}
	if sess.stale(rs.cfg.TTL, now) {
		return newSession(id, now), nil
	}
	return sess, nil
}

func (rs *RedisStore) save(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := rs.client.Set(ctx, rs.key(sess.ID), raw, rs.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
