// Package geocache memoizes geocoder lookups behind a bounded LRU.
package geocache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"golang.org/x/sync/singleflight"
)

// CachedGeocoder serves repeated lookups from memory. Concurrent misses for
// the same key share a single upstream call.
type CachedGeocoder struct {
	inner   domain.Geocoder
	lru     *lru
	group   singleflight.Group
	metrics *observability.Metrics
}

// New wraps inner with a cache holding at most maxEntries results.
func New(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{inner: inner, lru: newLRU(maxEntries), metrics: metrics}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, query, state string) (domain.GeocodingResult, error) {
	key := "fwd:" + strings.ToLower(strings.TrimSpace(query)) + "|" + strings.ToUpper(strings.TrimSpace(state))
	return c.lookup(ctx, "forward", key, domain.GeocodingResult.Found, func(ctx context.Context) (domain.GeocodingResult, error) {
		return c.inner.ForwardGeocode(ctx, query, state)
	})
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := fmt.Sprintf("rev:%.6f,%.6f", lat, lon)
	return c.lookup(ctx, "reverse", key, hasPlace, func(ctx context.Context) (domain.GeocodingResult, error) {
		return c.inner.ReverseGeocode(ctx, lat, lon)
	})
}

// lookup answers from the cache or calls fetch. Results failing keep are
// returned but not stored, so an empty answer is retried next time.
func (c *CachedGeocoder) lookup(
	ctx context.Context,
	direction, key string,
	keep func(domain.GeocodingResult) bool,
	fetch func(context.Context) (domain.GeocodingResult, error),
) (domain.GeocodingResult, error) {
	if r, ok := c.lru.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues(direction, "hit").Inc()
		return r, nil
	}
	c.metrics.GeocodeCache.WithLabelValues(direction, "miss").Inc()

	// The shared call outlives any single caller; the inner client's own
	// timeout bounds it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		r, err := fetch(shared)
		if err == nil && keep(r) {
			c.lru.put(key, r)
		}
		return r, err
	})
	select {
	case <-ctx.Done():
		return domain.GeocodingResult{}, ctx.Err()
	case res := <-ch:
		r, _ := res.Val.(domain.GeocodingResult)
		return r, res.Err
	}
}

func hasPlace(r domain.GeocodingResult) bool {
	return r.City != "" || r.State != "" || r.FormattedAddress != ""
}

type lru struct {
	mu    sync.Mutex
	max   int
	order *list.List // front is most recently used
	items map[string]*list.Element
}

type lruItem struct {
	key    string
	result domain.GeocodingResult
}

func newLRU(size int) *lru {
	return &lru{max: max(size, 1), order: list.New(), items: make(map[string]*list.Element)}
}

func (l *lru) get(key string) (domain.GeocodingResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return domain.GeocodingResult{}, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruItem).result, true
}

func (l *lru) put(key string, r domain.GeocodingResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		el.Value.(*lruItem).result = r
		l.order.MoveToFront(el)
		return
	}
	l.items[key] = l.order.PushFront(&lruItem{key: key, result: r})
	for l.order.Len() > l.max {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*lruItem).key)
	}
}

func (l *lru) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
