package cache

import (
	"context"
	"testing"
	"time"

	"shopkeeper/backend/internal/domain"
)

func TestMemoryDashboardCacheExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDashboardCache()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "2026-03-01", &domain.Dashboard{TodaySalesCents: 500}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "2026-03-01")
	if err != nil || !ok || got.TodaySalesCents != 500 {
		t.Fatalf("expected cached dashboard, got %+v ok=%v err=%v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "2026-03-01"); ok {
		t.Fatalf("expected entry to expire")
	}

	_ = c.Set(ctx, "2026-03-01", &domain.Dashboard{}, time.Minute)
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "2026-03-01"); ok {
		t.Fatalf("expected entry to be invalidated")
	}
}

func TestNoopDashboardCacheNeverHits(t *testing.T) {
	var c DashboardCache = NoopDashboardCache{}
	_ = c.Set(context.Background(), "k", &domain.Dashboard{}, time.Minute)
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Fatalf("noop cache must not hit")
	}
}
