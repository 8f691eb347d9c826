package dsaa

import (
	"sync"

	"golang.org/x/tools/go/ssa"
)

type cacheKey struct {
	a, b Location
}

type cacheEntry struct {
	outcome outcome
	// Every value the entry depends on, original and normalized.
	values []ssa.Value
}

// cache memoizes graph outcomes of queries. A nil cache stores nothing.
type cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	index   map[ssa.Value]map[cacheKey]struct{}
}

func newCache() *cache {
	return &cache{
		entries: make(map[cacheKey]cacheEntry),
		index:   make(map[ssa.Value]map[cacheKey]struct{}),
	}
}

// get looks the query up in both operand orders.
func (c *cache) get(a, b Location) (outcome, bool) {
	if c == nil {
		return outcome{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found := c.entries[cacheKey{a, b}]; found {
		return e.outcome, true
	}
	if e, found := c.entries[cacheKey{b, a}]; found {
		return e.outcome, true
	}
	return outcome{}, false
}

func (c *cache) put(a, b Location, o outcome, normalized ...ssa.Value) {
	if c == nil {
		return
	}

	key := cacheKey{a, b}
	values := append([]ssa.Value{a.Ptr, b.Ptr}, normalized...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{o, values}
	for _, v := range values {
		keys := c.index[v]
		if keys == nil {
			keys = make(map[cacheKey]struct{})
			c.index[v] = keys
		}
		keys[key] = struct{}{}
	}
}

// invalidate drops every entry that depends on v.
func (c *cache) invalidate(v ssa.Value) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.index[v] {
		e := c.entries[key]
		delete(c.entries, key)
		for _, w := range e.values {
			if keys := c.index[w]; keys != nil {
				delete(keys, key)
				if len(keys) == 0 {
					delete(c.index, w)
				}
			}
		}
	}
	delete(c.index, v)
}

func (c *cache) len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
