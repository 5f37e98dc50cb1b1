package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/briangreenhill/apodrating/internal/apod"
)

// DefaultCapacity matches the heap pool size the service has always used.
const DefaultCapacity = 10

// Options configures an LRU cache
type Options struct {
	// Capacity is the maximum number of resident entries.
	Capacity int
	// TTL is the lifetime of an entry after insertion; zero disables expiry.
	TTL time.Duration
	// Registerer receives the cache metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// LRU is a capacity bounded record cache. When full, the least recently
// used entry is evicted; a Get hit counts as a use, Contains does not.
type LRU struct {
	// mu makes the peek-then-add in Put atomic. The underlying cache
	// has its own lock for everything else.
	mu    sync.Mutex
	items *expirable.LRU[string, apod.Record]

	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

var _ Cache = (*LRU)(nil)

// NewLRU creates an in-memory cache
func NewLRU(opts Options) *LRU {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL < 0 {
		opts.TTL = 0
	}

	factory := promauto.With(opts.Registerer)
	return &LRU{
		items: expirable.NewLRU[string, apod.Record](opts.Capacity, nil, opts.TTL),
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "apodrating_cache_hits_total",
			Help: "Number of record cache hits.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "apodrating_cache_misses_total",
			Help: "Number of record cache misses.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "apodrating_cache_evictions_total",
			Help: "Number of records evicted to make room for new ones.",
		}),
	}
}

// Get implements Reader
func (c *LRU) Get(key string) (apod.Record, bool) {
	rec, ok := c.items.Get(key)
	if !ok {
		c.misses.Inc()
		return apod.Record{}, false
	}
	c.hits.Inc()
	return rec, true
}

// Contains implements Reader
func (c *LRU) Contains(key string) bool {
	// Peek honours expiry; the library's Contains does not.
	_, ok := c.items.Peek(key)
	return ok
}

// Put implements Writer
func (c *LRU) Put(key string, rec apod.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items.Peek(key); ok {
		return false
	}
	if evicted := c.items.Add(key, rec); evicted {
		c.evictions.Inc()
	}
	return true
}

// Clear implements Writer
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
}

// Len returns the number of unexpired entries. Expired entries the
// underlying cache has not reaped yet are not counted.
func (c *LRU) Len() int {
	n := 0
	for _, key := range c.items.Keys() {
		if _, ok := c.items.Peek(key); ok {
			n++
		}
	}
	return n
}
