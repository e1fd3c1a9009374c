package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"playproof/pkg/event"
)

const shardCount = 32

// Config configures a session store.
type Config struct {
	RetentionCap  int           // max events kept per session
	TTL           time.Duration // idle lifetime before eviction
	SweepInterval time.Duration // background eviction cadence (memory store)
}

func (c *Config) applyDefaults() {
	if c.RetentionCap <= 0 {
		c.RetentionCap = 256
	}
	if c.TTL <= 0 {
		c.TTL = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

type entry struct {
	mu   sync.Mutex
	sess Session
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

// MemoryStore is the in-process session aggregator. Sessions are
// sharded by id hash; each session carries its own lock so mutation of
// one session never blocks another.
type MemoryStore struct {
	cfg    Config
	shards [shardCount]*shard
	stop   chan struct{}
	once   sync.Once
}

// NewMemoryStore creates an in-memory store and starts its TTL sweep.
func NewMemoryStore(cfg Config) *MemoryStore {
	cfg.applyDefaults()
	ms := &MemoryStore{cfg: cfg, stop: make(chan struct{})}
	for i := range ms.shards {
		ms.shards[i] = &shard{m: make(map[string]*entry)}
	}
	go ms.sweep()
	return ms
}

func (ms *MemoryStore) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return ms.shards[h.Sum32()%shardCount]
}

func (ms *MemoryStore) entryFor(id string) *entry {
	sh := ms.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.m[id]
	sh.mu.RUnlock()
	if ok {
		return e
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.m[id]; ok {
		return e
	}
	e = &entry{sess: newSession(id, time.Now())}
	sh.m[id] = e
	return e
}

// GetOrCreate implements Store.
func (ms *MemoryStore) GetOrCreate(ctx context.Context, id string) (Session, error) {
	return ms.Update(ctx, id, func(*Session) error { return nil })
}

// Update implements Store. fn runs under the per-session lock.
func (ms *MemoryStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	e := ms.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if e.sess.stale(ms.cfg.TTL, now) {
		e.sess = newSession(id, now)
	}
	work := e.sess
	work.Events = append([]event.Normalized(nil), e.sess.Events...)
	if err := fn(&work); err != nil {
		return Session{}, err
	}
	work.LastSeen = now
	e.sess = work
	return work.snapshot(), nil
}

// Append implements Store.
func (ms *MemoryStore) Append(ctx context.Context, id string, events ...event.Normalized) (Session, error) {
	return ms.Update(ctx, id, func(s *Session) error {
		for _, ev := range events {
			s.Append(ev, ms.cfg.RetentionCap)
		}
		return nil
	})
}

// RetentionCap implements Store.
func (ms *MemoryStore) RetentionCap() int { return ms.cfg.RetentionCap }

// Len returns the number of live sessions, for diagnostics.
func (ms *MemoryStore) Len() int {
	n := 0
	for _, sh := range ms.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

// Close stops the TTL sweep.
func (ms *MemoryStore) Close() error {
	ms.once.Do(func() { close(ms.stop) })
	return nil
}

func (ms *MemoryStore) sweep() {
	ticker := time.NewTicker(ms.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ms.stop:
			return
		case <-ticker.C:
			ms.evictIdle(time.Now())
		}
	}
}

func (ms *MemoryStore) evictIdle(now time.Time) {
	for _, sh := range ms.shards {
		sh.mu.Lock()
		for id, e := range sh.m {
			e.mu.Lock()
			idle := now.Sub(e.sess.LastSeen) > ms.cfg.TTL
			e.mu.Unlock()
			if idle {
				delete(sh.m, id)
			}
		}
		sh.mu.Unlock()
	}
}
