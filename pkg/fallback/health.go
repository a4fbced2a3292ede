package fallback

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ProviderHealth is the cached result of a pre-flight check.
type ProviderHealth struct {
	Provider    string    `json:"provider"`
	Available   bool      `json:"available"`
	LastChecked time.Time `json:"lastChecked"`
	Error       string    `json:"error,omitempty"`
}

// HealthCache keeps provider availability for one session. An entry lives
// until it is invalidated explicitly or its provider fails threshold times in
// a row.
type HealthCache struct {
	mu        sync.Mutex
	entries   map[string]ProviderHealth
	failures  map[string]int
	threshold int
	now       func() time.Time
}

// HealthKey is the cache key of a provider serving capability. Backends that
// serve several capabilities are tracked separately for each.
func HealthKey(capability Capability, provider string) string {
	return string(capability) + "/" + provider
}

func NewHealthCache(threshold int) *HealthCache {
	if threshold < 1 {
		threshold = 3
	}
	return &HealthCache{
		entries:   make(map[string]ProviderHealth),
		failures:  make(map[string]int),
		threshold: threshold,
		now:       time.Now,
	}
}

// Check returns the cached entry, probing the provider when there is none.
// A nil probe means the provider is always available.
func (h *HealthCache) Check(ctx context.Context, provider string, probe func(ctx context.Context) error) ProviderHealth {
	if entry, ok := h.Get(provider); ok {
		return entry
	}

	entry := ProviderHealth{Provider: provider, Available: true}
	if probe != nil {
		if err := probe(ctx); err != nil {
			entry.Available = false
			entry.Error = err.Error()
		}
		if ctx.Err() != nil {
			return entry
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	entry.LastChecked = h.now()
	h.entries[provider] = entry
	return entry
}

func (h *HealthCache) Get(provider string) (ProviderHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[provider]
	return entry, ok
}

// Snapshot lists cached entries sorted by provider name.
func (h *HealthCache) Snapshot() []ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ProviderHealth, 0, len(h.entries))
	for _, entry := range h.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (h *HealthCache) Invalidate(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, provider)
	delete(h.failures, provider)
}

func (h *HealthCache) InvalidateAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[string]ProviderHealth)
	h.failures = make(map[string]int)
}

// InvalidateUnavailable drops the entries of providers that failed their
// check, so the next call probes them again.
func (h *HealthCache) InvalidateUnavailable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for provider, entry := range h.entries {
		if !entry.Available {
			delete(h.entries, provider)
			delete(h.failures, provider)
		}
	}
}

// RecordFailure counts a failed call and drops the cached entry once the
// threshold of consecutive failures is reached.
func (h *HealthCache) RecordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[provider]++
	if h.failures[provider] >= h.threshold {
		delete(h.entries, provider)
		h.failures[provider] = 0
	}
}

func (h *HealthCache) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[provider] = 0
}
