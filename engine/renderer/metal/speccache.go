package metal

import (
	"sync"

	"github.com/spaghettifunk/anima/engine/core"
)

// specializationCache builds each value at most once per key and keeps it
// for the life of the owning pipeline state.
type specializationCache[K comparable, V any] struct {
	name    string
	mu      sync.Mutex
	entries map[K]V
}

func newSpecializationCache[K comparable, V any](name string) *specializationCache[K, V] {
	return &specializationCache[K, V]{name: name, entries: make(map[K]V)}
}

// get returns the cached value for key or builds it. The lock is held
// during build so concurrent misses on one key build once.
func (c *specializationCache[K, V]) get(key K, build func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	core.LogDebug("%s: cache miss for %+v", c.name, key)
	v, err := build()
	if err != nil {
		return v, err
	}
	c.entries[key] = v
	return v, nil
}

func (c *specializationCache[K, V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// drain empties the cache, handing every value to fn.
func (c *specializationCache[K, V]) drain(fn func(V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.entries {
		fn(v)
		delete(c.entries, k)
	}
}
