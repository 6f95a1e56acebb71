package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	billing "billing-recon/internal/billing/domain"
)

// DirectorySource loads the full customer directory.
type DirectorySource interface {
	FetchCustomerDirectory(ctx context.Context) ([]billing.CustomerRecord, error)
}

// CachedDirectory memoizes a directory source for a fixed TTL.
// Concurrent misses share a single upstream load.
type CachedDirectory struct {
	source DirectorySource
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	records  []billing.CustomerRecord
	loadedAt time.Time
	valid    bool

	group singleflight.Group
}

// CacheOption configures a CachedDirectory.
type CacheOption func(*CachedDirectory)

// WithNow injects the clock.
func WithNow(now func() time.Time) CacheOption {
	return func(c *CachedDirectory) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCachedDirectory wraps source with a ttl cache. A non-positive ttl disables caching.
func NewCachedDirectory(source DirectorySource, ttl time.Duration, opts ...CacheOption) (*CachedDirectory, error) {
	if source == nil {
		return nil, errors.New("memory: nil directory source")
	}
	c := &CachedDirectory{source: source, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchCustomerDirectory serves the cached directory, reloading once the TTL has passed.
// Failed loads are not cached.
func (c *CachedDirectory) FetchCustomerDirectory(ctx context.Context) ([]billing.CustomerRecord, error) {
	if records, ok := c.cached(); ok {
		return records, nil
	}
	v, err, _ := c.group.Do("directory", func() (any, error) {
		if records, ok := c.cached(); ok {
			return records, nil
		}
		records, err := c.source.FetchCustomerDirectory(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.records = append([]billing.CustomerRecord(nil), records...)
		c.loadedAt = c.now()
		c.valid = c.ttl > 0
		c.mu.Unlock()
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]billing.CustomerRecord(nil), v.([]billing.CustomerRecord)...), nil
}

// Invalidate drops the cached directory so the next fetch reloads it.
func (c *CachedDirectory) Invalidate() {
	c.mu.Lock()
	c.records = nil
	c.valid = false
	c.mu.Unlock()
}

func (c *CachedDirectory) cached() ([]billing.CustomerRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || c.now().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	return append([]billing.CustomerRecord(nil), c.records...), true
}
