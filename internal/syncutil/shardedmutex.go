// Package syncutil provides keyed locking for partitioned per-session state.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewShardedMutex(0).
const DefaultShards = 256

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Memory stays bounded regardless of how many keys are seen, at the cost of
// occasional false sharing between keys that hash to the same shard.
//
// Shards are channel-based so that waiters can give up when their context
// is cancelled.
type ShardedMutex struct {
	shards []chan struct{}
}

// NewShardedMutex creates a mutex pool with n shards (DefaultShards if n <= 0).
func NewShardedMutex(n int) *ShardedMutex {
	if n <= 0 {
		n = DefaultShards
	}
	m := &ShardedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{} // Start unlocked.
	}
	return m
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (m *ShardedMutex) Lock(key string) func() {
	shard := m.shard(key)
	<-shard
	return func() { shard <- struct{}{} }
}

// LockContext acquires the mutex for the given key, respecting context cancellation.
// On success it returns an unlock function the caller MUST call.
// On cancellation it returns nil and the context error.
func (m *ShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shard(key)
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shards returns the number of shards in the pool.
func (m *ShardedMutex) Shards() int {
	return len(m.shards)
}

func (m *ShardedMutex) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}
