package cache

import (
	"context"
	"sync"
	"time"

	"shopkeeper/backend/internal/domain"
)

// MemoryDashboardCache keeps dashboards in process. Tests use it to observe
// hits and invalidation without Redis.
type MemoryDashboardCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     domain.Dashboard
	expiresAt time.Time
}

func NewMemoryDashboardCache() *MemoryDashboardCache {
	return &MemoryDashboardCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryDashboardCache) Get(_ context.Context, key string) (*domain.Dashboard, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *MemoryDashboardCache) Set(_ context.Context, key string, value *domain.Dashboard, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryDashboardCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	return nil
}
