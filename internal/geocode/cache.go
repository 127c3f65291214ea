package geocode

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache.
type CachedGeocoder struct {
	inner   Geocoder
	cache   *lruCache
	metrics *observability.Metrics
}

func NewCachedGeocoder(inner Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) Search(ctx context.Context, query string, limit int) ([]models.PlaceCandidate, error) {
	key := fmt.Sprintf("search:%s|%d", strings.ToLower(strings.TrimSpace(query)), limit)
	if v, ok := c.lookup("search", key); ok {
		return append([]models.PlaceCandidate(nil), v.places...), nil
	}
	places, err := c.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty results so a miss can be retried.
	if len(places) > 0 {
		c.cache.put(key, cacheValue{places: append([]models.PlaceCandidate(nil), places...)})
	}
	return places, nil
}

func (c *CachedGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	key := fmt.Sprintf("reverse:%.4f,%.4f", lat, lon)
	if v, ok := c.lookup("reverse", key); ok {
		return v.name, nil
	}
	name, err := c.inner.Reverse(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	if name != "" {
		c.cache.put(key, cacheValue{name: name})
	}
	return name, nil
}

func (c *CachedGeocoder) lookup(method, key string) (cacheValue, bool) {
	v, ok := c.cache.get(key)
	result := "miss"
	if ok {
		result = "hit"
	}
	c.metrics.GeocodeCache.WithLabelValues(method, result).Inc()
	return v, ok
}

type cacheValue struct {
	places []models.PlaceCandidate
	name   string
}

// lruCache is a small thread-safe LRU keyed by string.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value cacheValue
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (cacheValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return cacheValue{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value cacheValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	if len(c.entries) > c.maxEntries {
		last := c.tail
		c.unlink(last)
		delete(c.entries, last.key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
