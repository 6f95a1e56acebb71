package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	billing "billing-recon/internal/billing/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCachedDirectory_TTL(t *testing.T) {
	source := NewDirectory(billing.CustomerRecord{CustomerID: "C1", Name: "Alice"})
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	cache, err := NewCachedDirectory(source, 10*time.Minute, WithNow(clock.Now))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()

	if _, err := cache.FetchCustomerDirectory(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	source.Set(billing.CustomerRecord{CustomerID: "C1", Name: "Alice Renamed"})
	clock.Advance(9 * time.Minute)
	records, err := cache.FetchCustomerDirectory(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if records[0].Name != "Alice" || source.Calls() != 1 {
		t.Fatalf("expected cached record, got %+v after %d calls", records, source.Calls())
	}

	clock.Advance(time.Minute)
	records, err = cache.FetchCustomerDirectory(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if records[0].Name != "Alice Renamed" || source.Calls() != 2 {
		t.Fatalf("expected reload after ttl, got %+v after %d calls", records, source.Calls())
	}
}

func TestCachedDirectory_Invalidate(t *testing.T) {
	source := NewDirectory(billing.CustomerRecord{CustomerID: "C1"})
	cache, err := NewCachedDirectory(source, time.Hour)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	_, _ = cache.FetchCustomerDirectory(ctx)
	_, _ = cache.FetchCustomerDirectory(ctx)
	if source.Calls() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", source.Calls())
	}
	cache.Invalidate()
	_, _ = cache.FetchCustomerDirectory(ctx)
	if source.Calls() != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", source.Calls())
	}
}

func TestCachedDirectory_ErrorsNotCached(t *testing.T) {
	source := NewDirectory(billing.CustomerRecord{CustomerID: "C1"})
	source.FailWith(errors.New("gateway down"))
	cache, err := NewCachedDirectory(source, time.Hour)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	if _, err := cache.FetchCustomerDirectory(ctx); err == nil {
		t.Fatalf("expected error")
	}
	source.FailWith(nil)
	records, err := cache.FetchCustomerDirectory(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected recovery, got %v %v", records, err)
	}
}

func TestCachedDirectory_ZeroTTLAlwaysReloads(t *testing.T) {
	source := NewDirectory(billing.CustomerRecord{CustomerID: "C1"})
	cache, err := NewCachedDirectory(source, 0)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, _ = cache.FetchCustomerDirectory(context.Background())
	}
	if source.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", source.Calls())
	}
}

func TestCachedDirectory_ReturnsCopies(t *testing.T) {
	source := NewDirectory(billing.CustomerRecord{CustomerID: "C1", Name: "Alice"})
	cache, err := NewCachedDirectory(source, time.Hour)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	records, _ := cache.FetchCustomerDirectory(context.Background())
	records[0].Name = "mutated"
	again, _ := cache.FetchCustomerDirectory(context.Background())
	if again[0].Name != "Alice" {
		t.Fatalf("cache leaked caller mutation: %+v", again)
	}
}
