// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package technique

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Key identifies one technique variant. Two keys that differ in any field
// index independent pipelines: toggling a feature flag never invalidates the
// variants built for other flag combinations.
type Key struct {
	// Pass names the render pass the technique implements, for example
	// "bloom_downsample" or "taa_accumulate".
	Pass string

	// Flags is the feature flag combination the shader was specialized
	// for. Cache entries are partitioned by this value.
	Flags uint32

	// Format is the color target format of the pass.
	Format gputypes.TextureFormat

	// Variant distinguishes per-level instances of chain passes that
	// share a program but bind different mip levels.
	Variant uint32

	// ReverseDepth selects the depth convention variant for passes that
	// read scene depth.
	ReverseDepth bool
}

// Hash computes an FNV-1a hash of the key for cache indexing.
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	hashWriteString(h, k.Pass)
	hashWriteUint32(h, k.Flags)
	hashWriteUint32(h, uint32(k.Format))
	hashWriteUint32(h, k.Variant)
	hashWriteBool(h, k.ReverseDepth)
	return h.Sum64()
}

// Cache holds techniques indexed by key hash.
//
// Pipeline creation is expensive because it involves shader compilation and
// validation. The cache guarantees each key variant is built at most once;
// looking up a key that was already requested returns the same Technique,
// whatever its build state.
//
// Thread Safety:
// Cache is safe for concurrent use. It uses RWMutex with double-check
// locking for efficient reads and safe writes.
//
// Usage:
//
//	cache := technique.NewCache()
//	t := cache.Get(technique.Key{Pass: "bloom_prefilter", Format: format})
//	t.EnsureProgram(device, desc)
//	if t.IsReady() {
//	    // record the pass
//	}
//
// The cache tracks hit/miss statistics for performance monitoring.
type Cache struct {
	// mu protects entries.
	mu sync.RWMutex

	// entries stores techniques indexed by key hash.
	entries map[uint64]*Technique

	// hits counts cache hits (atomic for lock-free reads).
	hits uint64

	// misses counts cache misses (atomic for lock-free reads).
	misses uint64
}

// NewCache creates an empty technique cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[uint64]*Technique),
	}
}

// Get returns the technique for key, creating an empty one on first use.
//
// This method implements the "get or create" pattern with double-check locking:
//  1. Fast path: RLock, check cache, return if found
//  2. Slow path: Lock, double-check, create if needed
//
// The returned technique may be in any state; callers follow up with
// EnsureProgram and poll IsReady.
func (c *Cache) Get(key Key) *Technique {
	keyHash := key.Hash()

	// Fast path: read lock
	c.mu.RLock()
	if t, ok := c.entries[keyHash]; ok {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)
		return t
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.entries[keyHash]; ok {
		atomic.AddUint64(&c.hits, 1)
		return t
	}

	t := &Technique{}
	c.entries[keyHash] = t
	atomic.AddUint64(&c.misses, 1)
	return t
}

// Contains reports whether the key has been requested before.
func (c *Cache) Contains(key Key) bool {
	keyHash := key.Hash()
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[keyHash]
	return ok
}

// Stats returns the number of cache hits and misses.
// These values are read atomically and may not be perfectly synchronized.
func (c *Cache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// HitRate returns the cache hit rate as a fraction (0.0 to 1.0).
//
// Returns 0.0 if no requests have been made.
func (c *Cache) HitRate() float64 {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of cached techniques.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DestroyAll destroys all cached techniques and clears the cache.
//
// This releases underlying GPU resources. After calling DestroyAll the
// cache is empty and ready for reuse.
func (c *Cache) DestroyAll(device hal.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.entries {
		if t != nil {
			t.Destroy(device)
		}
	}

	c.entries = make(map[uint64]*Technique)
	atomic.StoreUint64(&c.hits, 0)
	atomic.StoreUint64(&c.misses, 0)
}

// hashWriteUint32 writes a uint32 to the hash.
func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

// hashWriteString writes a length-prefixed string to the hash.
func hashWriteString(h hash.Hash64, s string) {
	hashWriteUint32(h, uint32(len(s))) //nolint:gosec // G115: pass names are short
	_, _ = h.Write([]byte(s))
}

// hashWriteBool writes a bool to the hash.
func hashWriteBool(h hash.Hash64, v bool) {
	if v {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}
}
