package policy

import (
	"context"
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{TTL: time.Minute})

	result := EnforcementResult{
		RequestID: "req-1",
		Decision:  DecisionAllow,
		PolicyID:  "p1",
	}
	cache.Put("k1", result)

	got, ok := cache.Get("k1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Decision != DecisionAllow || got.PolicyID != "p1" {
		t.Errorf("got %+v", got)
	}

	if _, ok := cache.Get("absent"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCacheLazyExpiry(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{TTL: 10 * time.Millisecond, SweepInterval: time.Hour})

	cache.Put("k1", EnforcementResult{Decision: DecisionAllow})
	time.Sleep(20 * time.Millisecond)

	// The sweep has not run, but the entry is past its TTL.
	if _, ok := cache.Get("k1"); ok {
		t.Error("expired entry should be a miss")
	}
	if cache.Len() != 0 {
		t.Errorf("lazy expiry should remove the entry, len = %d", cache.Len())
	}
}

func TestCacheSweep(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{TTL: 10 * time.Millisecond, SweepInterval: time.Hour})

	cache.Put("k1", EnforcementResult{})
	cache.Put("k2", EnforcementResult{})
	time.Sleep(20 * time.Millisecond)
	cache.Put("k3", EnforcementResult{})

	removed := cache.Sweep()
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if cache.Len() != 1 {
		t.Errorf("len = %d, want 1", cache.Len())
	}
}

func TestCacheBackgroundSweep(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{TTL: 5 * time.Millisecond, SweepInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.Start(ctx)

	cache.Put("k1", EnforcementResult{})

	deadline := time.After(500 * time.Millisecond)
	for cache.Len() > 0 {
		select {
		case <-deadline:
			t.Fatal("background sweep did not remove expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCacheHitRate(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{TTL: time.Minute})

	if rate := cache.HitRate(); rate != 0 {
		t.Errorf("initial hit rate = %f, want 0", rate)
	}

	cache.Put("k1", EnforcementResult{})
	cache.Get("k1")
	cache.Get("k1")
	cache.Get("missing")
	cache.Get("missing")

	if rate := cache.HitRate(); rate != 0.5 {
		t.Errorf("hit rate = %f, want 0.5", rate)
	}
}

func TestKeyOrderIndependence(t *testing.T) {
	a := &RequestContext{
		Action: "read",
		User:   "alice",
		Resource: &Resource{
			Type: "document",
			ID:   "d1",
			Attributes: map[string]any{
				"owner":      "alice",
				"department": "finance",
				"tags":       []any{"a", "b"},
			},
		},
	}
	b := &RequestContext{
		Action: "read",
		User:   "alice",
		Resource: &Resource{
			Type: "document",
			ID:   "d1",
			Attributes: map[string]any{
				"tags":       []any{"a", "b"},
				"department": "finance",
				"owner":      "alice",
			},
		},
	}

	if Key(a, "p1") != Key(b, "p1") {
		t.Error("structurally equal contexts should produce equal keys")
	}
}

func TestKeyDistinguishes(t *testing.T) {
	base := &RequestContext{Action: "read", User: "alice"}

	tests := []struct {
		name     string
		ctx      *RequestContext
		policyID string
	}{
		{"different action", &RequestContext{Action: "write", User: "alice"}, "p1"},
		{"different user", &RequestContext{Action: "read", User: "bob"}, "p1"},
		{"different policy", &RequestContext{Action: "read", User: "alice"}, "p2"},
		{"added resource", &RequestContext{Action: "read", User: "alice", Resource: &Resource{Type: "doc"}}, "p1"},
	}

	baseKey := Key(base, "p1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Key(tt.ctx, tt.policyID) == baseKey {
				t.Error("keys should differ")
			}
		})
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	cache := NewDecisionCache(CacheConfig{TTL: time.Minute})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				key := Key(&RequestContext{Action: "read", User: "u"}, "p")
				cache.Put(key, EnforcementResult{Decision: DecisionAllow})
				cache.Get(key)
				cache.Sweep()
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
