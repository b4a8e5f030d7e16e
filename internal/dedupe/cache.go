// ABOUTME: Bounded seen-set for skipping duplicate payloads in a batch
// ABOUTME: Keys are content hashes; the oldest key is evicted at capacity

package dedupe

import (
	"container/list"
	"sync"
)

// Cache remembers which keys have been seen, up to a fixed capacity. At
// capacity the oldest key is evicted, so a false "not seen" is possible
// after eviction but a false "seen" is not. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // oldest at front
	maxSize int
}

// New returns a cache remembering up to maxSize keys. Sizes below one take
// a default of 4096.
func New(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 4096
	}
	return &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Seen reports whether key was recorded before and records it if not. The
// check and the mark are one atomic step, so two callers racing on the same
// key see exactly one "new". A repeated key counts as fresh use and moves
// to the back of the eviction order.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.seen[key]; ok {
		c.order.MoveToBack(elem)
		return true
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}
	c.seen[key] = c.order.PushBack(key)
	return false
}

// Len returns the number of keys currently remembered.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
