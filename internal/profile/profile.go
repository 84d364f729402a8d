// Package profile provides a bounded, sharded cache in front of the
// external profile lookup service, keyed by an opaque digest of the raw
// user ID so raw identifiers never enter the cache directly.
package profile

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Profile is the subset of original_source's Profile DTO the core actually
// consumes: display identity, not the full KYC/banking record that belongs
// to the external profile service. CustomerID is numeric because the
// original DTO declares it `Integer customerId`, serialized as a bare JSON
// number rather than a string.
type Profile struct {
	CustomerID int64  `json:"customerId"`
	Mobile     string `json:"mobile"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

// Loader is the external profile lookup collaborator (spec §1: "core only
// consumes LoadProfile(customerId) -> Profile").
type Loader interface {
	LoadProfile(ctx context.Context, customerID string) (*Profile, error)
}

const (
	defaultShardCount = 16
	defaultCapacity   = 1000
)

// Digest returns the URL-safe unpadded base64 of SHA-256 over the UTF-8
// bytes of raw, used solely as an in-process cache key (spec §3): it is
// deterministic and stable across restarts, never used as a distributed
// identifier.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Cache is a sharded LRU over Loader, following the "thread-affine
// collections" design note (spec §9): the source uses one coarse lock, a
// sharded cache keyed by digest is a drop-in improvement.
type Cache struct {
	loader Loader
	shards []*lru.Cache[string, *Profile]
}

// New builds a Cache with the default total capacity (1,000) split evenly
// across the default shard count (16).
func New(loader Loader) *Cache {
	return NewSized(loader, defaultCapacity, defaultShardCount)
}

// NewSized builds a Cache with an explicit total capacity and shard count,
// for tests that want a small, deterministic cache.
func NewSized(loader Loader, capacity, shardCount int) *Cache {
	if shardCount < 1 {
		shardCount = 1
	}
	perShard := capacity / shardCount
	extra := capacity % shardCount
	if perShard < 1 {
		perShard = 1
		extra = 0
	}
	shards := make([]*lru.Cache[string, *Profile], shardCount)
	for i := range shards {
		size := perShard
		if i < extra {
			size++
		}
		c, err := lru.New[string, *Profile](size)
		if err != nil {
			// Only occurs for a non-positive size, which perShard guards
			// against above.
			panic(err)
		}
		shards[i] = c
	}
	return &Cache{loader: loader, shards: shards}
}

func (c *Cache) shardFor(digest string) *lru.Cache[string, *Profile] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(digest))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the cached profile for digest, loading it via Loader on a
// miss. A load failure returns (nil, false) without caching the negative
// result, per spec §4.8, so a subsequent attempt retries the loader.
func (c *Cache) Get(ctx context.Context, digest, rawID string) (*Profile, bool) {
	shard := c.shardFor(digest)
	if p, ok := shard.Get(digest); ok {
		return p, true
	}
	p, err := c.loader.LoadProfile(ctx, rawID)
	if err != nil || p == nil {
		if err != nil {
			log.Warn().Err(err).Str("digest", digest).Msg("profile load failed")
		}
		return nil, false
	}
	shard.Add(digest, p)
	return p, true
}
