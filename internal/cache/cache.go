// Package cache provides the in-process TTL cache that fronts chat formats
// and holds per-chat outboxes.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
)

const (
	defaultShardCount      = 16
	defaultTTL             = 15 * time.Minute
	defaultCleanupInterval = time.Minute
)

type entry struct {
	value     any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type shard struct {
	mu    sync.RWMutex
	items map[string]*entry
}

// Option configures a ShardedCache.
type Option func(*ShardedCache)

// WithCleanupInterval sets how often the cleanup worker runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *ShardedCache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithLogger sets the logger used by the cleanup worker.
func WithLogger(logger *zap.Logger) Option {
	return func(c *ShardedCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ShardedCache is a TTL cache split into independently locked shards.
type ShardedCache struct {
	shards          []*shard
	ttl             time.Duration
	cleanupInterval time.Duration
	logger          *zap.Logger

	workerMu      sync.Mutex
	workerRunning bool
	workerStop    chan struct{}
	workerWg      sync.WaitGroup
}

// NewShardedCache creates a cache. Non-positive arguments take the defaults.
func NewShardedCache(shardCount int, ttl time.Duration, opts ...Option) *ShardedCache {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	c := &ShardedCache{
		shards:          make([]*shard, shardCount),
		ttl:             ttl,
		cleanupInterval: defaultCleanupInterval,
		logger:          zap.NewNop(),
	}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ShardedCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the live value stored under key.
func (c *ShardedCache) Get(ctx context.Context, key string) (any, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key and restarts its TTL.
func (c *ShardedCache) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &entry{value: value, expiresAt: time.Now().Add(c.ttl)}
	return nil
}

// Update replaces the value under key with fn(current) atomically with
// respect to other writers of the same key. current is nil and found is
// false when the key is missing or expired. The TTL restarts.
func (c *ShardedCache) Update(ctx context.Context, key string, fn func(current any, found bool) any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var (
		current any
		found   bool
	)
	if e, ok := s.items[key]; ok && !e.expired(now) {
		current, found = e.value, true
	}
	s.items[key] = &entry{value: fn(current, found), expiresAt: now.Add(c.ttl)}
	return nil
}

// Take removes key and returns its live value.
func (c *ShardedCache) Take(ctx context.Context, key string) (any, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return nil, false
	}
	delete(s.items, key)
	if e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Delete removes key.
func (c *ShardedCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// CleanExpired drops every expired entry.
func (c *ShardedCache) CleanExpired(ctx context.Context) error {
	now := time.Now()
	for _, s := range c.shards {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		for key, e := range s.items {
			if e.expired(now) {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Len counts stored entries, expired ones included.
func (c *ShardedCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// StartCleanupWorker starts periodic removal of expired entries. Calling it
// twice is a no-op.
func (c *ShardedCache) StartCleanupWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if c.workerRunning {
		return
	}
	c.workerRunning = true
	c.workerStop = make(chan struct{})

	c.workerWg.Add(1)
	go c.cleanupLoop(c.workerStop)
}

// StopCleanupWorker stops the worker after a final sweep.
func (c *ShardedCache) StopCleanupWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if !c.workerRunning {
		return
	}
	close(c.workerStop)
	c.workerWg.Wait()
	c.workerRunning = false
}

func (c *ShardedCache) cleanupLoop(stop <-chan struct{}) {
	defer c.workerWg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	sweep := func(timeout time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		before := c.Len()
		if err := c.CleanExpired(ctx); err != nil {
			c.logger.Warn("cache cleanup interrupted", zap.Error(err))
			return
		}
		if removed := before - c.Len(); removed > 0 {
			c.logger.Debug("cache cleanup", zap.Int("removed", removed))
		}
	}

	for {
		select {
		case <-stop:
			sweep(5 * time.Second)
			return
		case <-ticker.C:
			sweep(30 * time.Second)
		}
	}
}

var _ domain.Cache = (*ShardedCache)(nil)
