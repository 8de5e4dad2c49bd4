package monitor

import (
	"sort"
	"sync"

	"github.com/stablewatch/stablewatch/internal/chainrpc"
)

// headerCache is an insertion-ordered header cache keyed by height and
// bounded by the chain's max reorg depth. Fork detection needs ordered
// range scans and range deletion, so it keeps heights in a sorted slice
// alongside the map.
type headerCache struct {
	mu       sync.Mutex
	capacity int
	headers  map[uint64]*chainrpc.Header
	heights  []uint64 // ascending
}

func newHeaderCache(capacity int) *headerCache {
	if capacity < 1 {
		capacity = 1
	}
	return &headerCache{
		capacity: capacity,
		headers:  make(map[uint64]*chainrpc.Header),
	}
}

// put inserts a header, evicting the lowest height when over capacity.
func (c *headerCache) put(h *chainrpc.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.headers[h.Number]; !exists {
		idx := sort.Search(len(c.heights), func(i int) bool { return c.heights[i] >= h.Number })
		c.heights = append(c.heights, 0)
		copy(c.heights[idx+1:], c.heights[idx:])
		c.heights[idx] = h.Number
	}
	c.headers[h.Number] = h

	for len(c.heights) > c.capacity {
		oldest := c.heights[0]
		c.heights = c.heights[1:]
		delete(c.headers, oldest)
	}
}

func (c *headerCache) get(height uint64) (*chainrpc.Header, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.headers[height]
	return h, ok
}

func (c *headerCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.heights)
}

// lowest returns the smallest cached height, or false when empty.
func (c *headerCache) lowest() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.heights) == 0 {
		return 0, false
	}
	return c.heights[0], true
}

// recentBelow returns up to n cached heights strictly below head, highest
// first.
func (c *headerCache) recentBelow(head uint64, n int) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]uint64, 0, n)
	for i := len(c.heights) - 1; i >= 0 && len(out) < n; i-- {
		if c.heights[i] < head {
			out = append(out, c.heights[i])
		}
	}
	return out
}

// clearRange removes all cached headers with from <= height <= to.
func (c *headerCache) clearRange(from, to uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.heights[:0]
	for _, h := range c.heights {
		if h >= from && h <= to {
			delete(c.headers, h)
			continue
		}
		kept = append(kept, h)
	}
	c.heights = kept
}
