package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL is how long a cached decision stays valid.
const DefaultCacheTTL = 300 * time.Second

// DecisionCache maps canonical request fingerprints to previously computed
// enforcement results. Entries expire after the TTL; expiry is enforced
// both lazily on read and by a periodic background sweep.
type DecisionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	ttl           time.Duration
	sweepInterval time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	result    EnforcementResult
	timestamp time.Time
}

// CacheConfig holds decision cache settings.
type CacheConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// NewDecisionCache creates a decision cache. Zero config fields fall back
// to the 300s defaults.
func NewDecisionCache(cfg CacheConfig) *DecisionCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultCacheTTL
	}
	return &DecisionCache{
		entries:       make(map[string]cacheEntry),
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
	}
}

// Start runs the periodic sweep until ctx is cancelled.
func (c *DecisionCache) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := c.Sweep()
				if removed > 0 {
					log.Debug().Int("removed", removed).Msg("Swept expired decision cache entries")
				}
			}
		}
	}()
}

// Get returns the cached result for key. An expired entry is a miss even
// if the sweep has not run yet.
func (c *DecisionCache) Get(key string) (EnforcementResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.timestamp) < c.ttl {
		c.hits.Add(1)
		return entry.result, true
	}

	if ok {
		// Lazy expiry; re-check under the write lock so a concurrent
		// Put for the same key is not clobbered.
		c.mu.Lock()
		if e, still := c.entries[key]; still && time.Since(e.timestamp) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	c.misses.Add(1)
	return EnforcementResult{}, false
}

// Put stores a result under key, resetting its age.
func (c *DecisionCache) Put(key string, result EnforcementResult) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{result: result, timestamp: time.Now()}
	c.mu.Unlock()
}

// Sweep removes all expired entries and returns how many were removed.
func (c *DecisionCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if time.Since(entry.timestamp) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// HitRate returns the fraction of lookups served from the cache.
func (c *DecisionCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Key computes the canonical fingerprint for one request against one
// policy, covering the fields rule conditions can test. Structurally
// equal contexts hash identically regardless of attribute insertion
// order.
func Key(ctx *RequestContext, policyID string) string {
	var b strings.Builder
	b.WriteString("action=")
	b.WriteString(ctx.Action)
	b.WriteString("|user=")
	b.WriteString(ctx.User)
	b.WriteString("|resource=")
	if ctx.Resource != nil {
		b.WriteString(ctx.Resource.Type)
		b.WriteString("/")
		b.WriteString(ctx.Resource.ID)
		b.WriteString("/")
		writeCanonical(&b, ctx.Resource.Attributes)
	}
	b.WriteString("|policy=")
	b.WriteString(policyID)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonical serializes an attribute map deterministically by sorting
// keys at every level.
func writeCanonical(b *strings.Builder, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(strconv.Quote(k))
			b.WriteString(":")
			writeCanonical(b, v[k])
		}
		b.WriteString("}")
	case []any:
		b.WriteString("[")
		for i, item := range v {
			if i > 0 {
				b.WriteString(",")
			}
			writeCanonical(b, item)
		}
		b.WriteString("]")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(raw)
	}
}
