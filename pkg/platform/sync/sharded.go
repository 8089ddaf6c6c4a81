package sync

import (
	"sync"
)

const defaultShards = 32

// ShardedMutex serializes work per key without a global lock. Keys are hashed
// onto a fixed set of mutexes, so two keys may share a shard but one key
// always maps to the same shard.
type ShardedMutex struct {
	shards []sync.Mutex
}

// NewShardedMutex creates a ShardedMutex with 32 shards.
func NewShardedMutex() *ShardedMutex {
	return NewShardedMutexN(defaultShards)
}

// NewShardedMutexN creates a ShardedMutex with n shards (minimum 1).
func NewShardedMutexN(n int) *ShardedMutex {
	if n < 1 {
		n = 1
	}
	return &ShardedMutex{shards: make([]sync.Mutex, n)}
}

// Lock acquires the lock for key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[Shard(key, len(m.shards))].Lock()
}

// Unlock releases the lock for key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[Shard(key, len(m.shards))].Unlock()
}

// WithLock runs fn while holding key's shard.
func (m *ShardedMutex) WithLock(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

// Shard maps key onto [0, n). Empty keys and n <= 1 map to 0.
// The mapping is stable across processes so callers can use it for routing.
func Shard(key string, n int) int {
	if key == "" || n <= 1 {
		return 0
	}
	return int(hashString(key) % uint32(n))
}

// hashString is a 31-multiplier string hash; cheap and evenly spread
// for UUID-shaped keys.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
