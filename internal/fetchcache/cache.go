// Package fetchcache coalesces measurement fetches per (variable,
// aggregation) key for the lifetime of one chart load cycle.
//
// The first Get for a key starts the fetch; every later Get for that key,
// including those that arrive while the fetch is still running, waits on the
// same entry. Entries live until Clear.
package fetchcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/derickschaefer/kwchart/internal/metrics"
	"github.com/derickschaefer/kwchart/internal/model"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("fetch cache closed")

// Fetcher retrieves one series. It receives the cache's own context, which
// is cancelled by Clear and Close, not the context of any single caller.
type Fetcher func(ctx context.Context) ([]model.Point, error)

type entry struct {
	done chan struct{}
	pts  []model.Point
	err  error
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	fetches int

	metrics *metrics.Metrics
	log     *slog.Logger
}

// New returns an empty cache. m and log may be nil.
func New(m *metrics.Metrics, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{metrics: m, log: log}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.entries = make(map[string]*entry)
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Get returns the series for (variable, agg), starting fetch only when no
// entry exists for the key. If ctx ends first, Get returns ctx.Err() and the
// shared fetch carries on for the other waiters.
func (c *Cache) Get(ctx context.Context, variable, agg string, fetch Fetcher) ([]model.Point, error) {
	key := model.CacheKey(variable, agg)

	c.mu.Lock()
	if c.entries == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		e = &entry{done: make(chan struct{})}
		c.entries[key] = e
		c.fetches++
		go c.run(c.ctx, key, e, fetch)
	}
	c.mu.Unlock()

	if ok {
		c.metrics.CacheHit()
	} else {
		c.metrics.CacheMiss()
		c.log.Debug("cache miss", "key", key)
	}

	select {
	case <-e.done:
		return e.pts, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, key string, e *entry, fetch Fetcher) {
	start := time.Now()
	e.pts, e.err = fetch(ctx)
	c.metrics.Fetch(time.Since(start), e.err)

	if e.err != nil {
		// Failed entries are not kept so the next cycle fetches again.
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.log.Debug("fetch failed", "key", key, "err", e.err)
	}
	close(e.done)
}

// Clear drops every entry and cancels fetches still in flight. Callers
// already waiting on a dropped entry still receive its outcome.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.reset()
}

// Close cancels in-flight fetches. The cache must not be used afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.entries = nil
}

// Len returns the number of entries, in flight or resolved.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetches returns how many fetches the cache has started since New.
func (c *Cache) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}
