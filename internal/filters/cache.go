package filters

import (
	"encoding/binary"
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/optionscan/engine/internal/models"
)

// cacheTTLByKind is the floor TTL for a filter stage's cached output, keyed
// by filter name. Filters not listed fall back to ttlDefault.
var cacheTTLByKind = map[string]time.Duration{
	"dte":          24 * time.Hour,
	"greeks":       5 * time.Minute,
	"liquidity":    1 * time.Minute,
	"iv_percentile": 1 * time.Hour,
}

const ttlDefault = 5 * time.Minute

// TTLDefault is the cache TTL floor applied to filter kinds with no entry in
// cacheTTLByKind. The engine uses it to decide whether the next scheduled
// tick falls close enough to let this tick's Chain skip heuristics run
// safely (see Chain.SetSkipEnabled).
const TTLDefault = ttlDefault

// cacheEntry is the cached output of one filter stage.
type cacheEntry struct {
	contracts []models.Contract
	expiresAt time.Time
	hitCount  int64
}

// stageCache is the bounded LRU result cache shared by every filter stage in
// a chain. It is owned exclusively by the chain's own tick task, so it needs
// no internal locking beyond what the LRU implementation itself does.
type stageCache struct {
	lru *lru.Cache[string, *cacheEntry]
}

func newStageCache(size int) *stageCache {
	c, _ := lru.New[string, *cacheEntry](size)
	return &stageCache{lru: c}
}

// key builds the cache key for a filter stage: filterName || staticKey ||
// rollingDigest(first min(10,n) contract ids). Using only a bounded prefix
// of ids is a deliberate probabilistic shortcut: it is sufficient when the
// upstream returns contracts in a stable per-symbol order, and any false
// collision is bounded in lifetime by the stage's TTL floor.
func (c *stageCache) key(f Filter, in []models.Contract) string {
	h := fnv.New64a()
	h.Write([]byte(f.Name()))
	h.Write([]byte{'|'})
	h.Write(f.StaticKey())
	h.Write([]byte{'|'})

	limit := len(in)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		h.Write([]byte(in[i].ID()))
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

func ttlFor(filterName string) time.Duration {
	if ttl, ok := cacheTTLByKind[filterName]; ok {
		return ttl
	}
	return ttlDefault
}

func (c *stageCache) get(f Filter, in []models.Contract) ([]models.Contract, bool) {
	k := c.key(f, in)
	entry, ok := c.lru.Get(k)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(k)
		return nil, false
	}
	entry.hitCount++
	return entry.contracts, true
}

func (c *stageCache) set(f Filter, in, out []models.Contract) {
	k := c.key(f, in)
	c.lru.Add(k, &cacheEntry{
		contracts: out,
		expiresAt: time.Now().Add(ttlFor(f.Name())),
	})
}

// invalidateAll drops every cached stage output, used by UpdateFilters
// whenever the chain's filter set changes.
func (c *stageCache) invalidateAll() {
	c.lru.Purge()
}
