package accounts

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ChartSource loads the chart of accounts.
type ChartSource interface {
	ListAccounts(ctx context.Context) ([]Account, error)
}

// Chart looks accounts up by code.
type Chart interface {
	Lookup(ctx context.Context, code string) (Account, bool, error)
}

// CachedChart keeps the chart in memory for ttl. Concurrent reloads share one query.
type CachedChart struct {
	source ChartSource
	ttl    time.Duration
	now    func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	byCode   map[string]Account
	loadedAt time.Time
}

// NewCachedChart wraps source. A non-positive ttl reloads on every lookup.
func NewCachedChart(source ChartSource, ttl time.Duration) *CachedChart {
	return &CachedChart{source: source, ttl: ttl, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (c *CachedChart) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Lookup returns the account for code.
func (c *CachedChart) Lookup(ctx context.Context, code string) (Account, bool, error) {
	accounts, err := c.snapshot(ctx)
	if err != nil {
		return Account{}, false, err
	}
	acc, ok := accounts[code]
	return acc, ok, nil
}

// Invalidate drops the cached copy.
func (c *CachedChart) Invalidate() {
	c.mu.Lock()
	c.byCode = nil
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *CachedChart) snapshot(ctx context.Context) (map[string]Account, error) {
	c.mu.RLock()
	cached, loadedAt := c.byCode, c.loadedAt
	c.mu.RUnlock()
	if cached != nil && c.ttl > 0 && c.now().Sub(loadedAt) < c.ttl {
		return cached, nil
	}
	v, err, _ := c.group.Do("chart", func() (any, error) {
		list, err := c.source.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		byCode := make(map[string]Account, len(list))
		for _, acc := range list {
			byCode[acc.Code] = acc
		}
		c.mu.Lock()
		c.byCode = byCode
		c.loadedAt = c.now()
		c.mu.Unlock()
		return byCode, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Account), nil
}
