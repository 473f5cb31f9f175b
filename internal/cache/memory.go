package cache

import (
	"context"
	"sync"
	"time"

	"github.com/derivlab/backlab/internal/market"
)

// Memory is an in-process TTL cache used when Redis is not configured.
// Entries expire after the TTL and the least recently used entry is
// evicted once maxEntries is reached.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*memEntry
	ttl        time.Duration
	maxEntries int
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type memEntry struct {
	frame    *market.Frame
	series   *market.Series
	expires  time.Time
	accessed time.Time
}

// NewMemory builds a memory cache. TTL <= 0 disables expiration;
// maxEntries <= 0 applies a default cap.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	m := &Memory{
		entries:    make(map[string]*memEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Stop terminates the expiry sweep goroutine.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// GetFrame returns a cached frame; false on miss or expiry.
func (m *Memory) GetFrame(_ context.Context, key string) (*market.Frame, bool) {
	e := m.get(key)
	if e == nil || e.frame == nil {
		return nil, false
	}
	return e.frame, true
}

// SetFrame stores a frame under key.
func (m *Memory) SetFrame(_ context.Context, key string, f *market.Frame) {
	m.set(key, &memEntry{frame: f})
}

// GetSeries returns a cached metric series; false on miss or expiry.
func (m *Memory) GetSeries(_ context.Context, key string) (market.Series, bool) {
	e := m.get(key)
	if e == nil || e.series == nil {
		return market.Series{}, false
	}
	return *e.series, true
}

// SetSeries stores a metric series under key.
func (m *Memory) SetSeries(_ context.Context, key string, s market.Series) {
	m.set(key, &memEntry{series: &s})
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) get(key string) *memEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.entries, key)
		return nil
	}
	e.accessed = time.Now()
	return e
}

func (m *Memory) set(key string, e *memEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictLRU()
	}
	now := time.Now()
	e.accessed = now
	if m.ttl > 0 {
		e.expires = now.Add(m.ttl)
	}
	m.entries[key] = e
}

// evictLRU removes the least recently accessed entry. Caller holds the
// lock.
func (m *Memory) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, e := range m.entries {
		if oldestKey == "" || e.accessed.Before(oldest) {
			oldest = e.accessed
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, e := range m.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.entries, key)
		}
	}
}
