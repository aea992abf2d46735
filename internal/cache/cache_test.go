package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/black-ice-route-service/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(maxEntries int) (*InMemoryCache, *testClock) {
	clock := &testClock{now: time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)}
	c := NewInMemoryCache(maxEntries)
	c.now = clock.Now
	return c, clock
}

func observation(temp float64) models.WeatherObservation {
	return models.WeatherObservation{Temperature: models.Float(temp)}
}

func TestKey(t *testing.T) {
	tests := []struct {
		lat, lon  float64
		precision int
		want      string
	}{
		{47.6062, -122.3321, 2, "47.61,-122.33"},
		{47.6062, -122.3321, 0, "48,-122"},
		{40, -74, 3, "40.000,-74.000"},
		{40.004, -74.004, -1, "40.00,-74.00"},
		{-0.001, -0.004, 2, "0.00,0.00"},
		{-0.3, 0.2, 0, "0,0"},
		{-0.006, -0.001, 2, "-0.01,0.00"},
	}
	for _, tt := range tests {
		if got := Key(tt.lat, tt.lon, tt.precision); got != tt.want {
			t.Errorf("Key(%v, %v, %d) = %q, want %q", tt.lat, tt.lon, tt.precision, got, tt.want)
		}
	}
	if Key(40.001, -74.001, 2) != Key(40.004, -74.004, 2) {
		t.Error("nearby points should share a key at precision 2")
	}
	if Key(-0.001, -0.001, 2) != Key(0.001, 0.001, 2) {
		t.Error("points either side of the equator and prime meridian should share a cell")
	}
}

func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(0)

	if err := c.Set(ctx, "47.61,-122.33", observation(-2), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "47.61,-122.33")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, want hit", ok, err)
	}
	if got.Temperature == nil || *got.Temperature != -2 {
		t.Errorf("Get() temperature = %v, want -2", got.Temperature)
	}
}

func TestInMemoryCache_Get_Miss(t *testing.T) {
	c, _ := newTestCache(0)
	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(0)
	_ = c.Set(ctx, "k", observation(1), 5*time.Minute)

	clock.Advance(4 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() before expiry should hit")
	}

	clock.Advance(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() at expiry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, expired entry should be removed on read", c.Len())
	}
}

func TestInMemoryCache_Set_RejectsNonPositiveTTL(t *testing.T) {
	c, _ := newTestCache(0)
	if err := c.Set(context.Background(), "k", observation(1), 0); err == nil {
		t.Error("Set() with zero TTL should fail")
	}
}

func TestInMemoryCache_MaxEntries(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(3)

	for i := 0; i < 3; i++ {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), observation(float64(i)), time.Hour)
		clock.Advance(time.Second)
	}
	_ = c.Set(ctx, "k3", observation(3), time.Hour)

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "k0"); ok {
		t.Error("oldest entry k0 should have been evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Errorf("entry %s should remain", k)
		}
	}
}

func TestInMemoryCache_MaxEntries_EvictsExpiredFirst(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(2)

	_ = c.Set(ctx, "old", observation(0), time.Hour)
	clock.Advance(time.Second)
	_ = c.Set(ctx, "short", observation(1), time.Second)
	clock.Advance(2 * time.Second)
	_ = c.Set(ctx, "new", observation(2), time.Hour)

	if _, ok, _ := c.Get(ctx, "old"); !ok {
		t.Error("live entry should survive when an expired one can be evicted")
	}
	if _, ok, _ := c.Get(ctx, "new"); !ok {
		t.Error("new entry should be stored")
	}
}

func TestInMemoryCache_Overwrite_DoesNotEvict(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(2)
	_ = c.Set(ctx, "a", observation(0), time.Hour)
	_ = c.Set(ctx, "b", observation(1), time.Hour)
	_ = c.Set(ctx, "a", observation(5), time.Hour)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	got, ok, _ := c.Get(ctx, "a")
	if !ok || *got.Temperature != 5 {
		t.Errorf("Get(a) = %v, %v; want overwritten value 5", got.Temperature, ok)
	}
}

func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%80)
				_ = c.Set(ctx, key, observation(float64(i)), time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Len() = %d, want <= 50", c.Len())
	}
}
