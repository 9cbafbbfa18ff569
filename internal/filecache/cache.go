// Package filecache keeps recently fetched design-file data in memory so
// repeated plan previews and renders of the same file do not spend the
// design tool's rate limit.
package filecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mockshelf/mockshelf/internal/figma"
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultFetchTimeout = time.Minute
)

// Fetcher loads file data from the source of truth.
type Fetcher interface {
	GetFile(ctx context.Context, token, fileKey string) (*figma.FileData, error)
}

type entry struct {
	data      *figma.FileData
	fetchedAt time.Time
}

// Cache is a read-through TTL cache keyed by file key. It is safe for
// concurrent use; concurrent misses for one key share a single fetch.
type Cache struct {
	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Option customizes the cache.
type Option func(*Cache)

// WithClock replaces time.Now. Tests use it to expire entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(fetcher Fetcher, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		fetcher:      fetcher,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		logger:       logger,
		now:          time.Now,
		entries:      make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns cached data when fresh, otherwise fetches and stores it.
func (c *Cache) Get(ctx context.Context, token, fileKey string) (*figma.FileData, error) {
	c.mu.RLock()
	e, ok := c.entries[fileKey]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.data, nil
	}

	return c.Refresh(ctx, token, fileKey)
}

// Refresh fetches regardless of freshness. When the fetch fails and an old
// entry exists, the old entry is returned instead of the error.
//
// The fetch is shared by every concurrent caller for fileKey, so it runs on a
// context detached from the caller that started it. Each caller stops waiting
// when its own ctx is done.
func (c *Cache) Refresh(ctx context.Context, token, fileKey string) (*figma.FileData, error) {
	ch := c.group.DoChan(fileKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		data, err := c.fetcher.GetFile(fetchCtx, token, fileKey)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[fileKey] = entry{data: data, fetchedAt: c.now()}
		c.mu.Unlock()
		return data, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		if stale := c.Peek(fileKey); stale != nil {
			c.logger.Warn("file fetch failed, serving stale data", "file_key", fileKey, "error", res.Err)
			return stale, nil
		}
		return nil, res.Err
	}
	if res.Shared {
		c.logger.Debug("file fetch shared with concurrent caller", "file_key", fileKey)
	}
	return res.Val.(*figma.FileData), nil
}

// Peek returns whatever is stored for fileKey without fetching.
func (c *Cache) Peek(fileKey string) *figma.FileData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[fileKey]; ok {
		return e.data
	}
	return nil
}

// Prune removes expired entries and returns how many were dropped.
func (c *Cache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
