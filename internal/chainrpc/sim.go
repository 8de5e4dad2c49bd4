package chainrpc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimClient is an in-process chain used by tests and the demo source set.
// It supports advancing the head and rewriting a suffix of the chain to
// exercise reorg handling without a live endpoint.
type SimClient struct {
	mu      sync.Mutex
	chain   string
	headers map[uint64]*Header
	head    uint64
	forks   int
}

// NewSimClient starts a simulated chain at the given head height.
func NewSimClient(chain string, head uint64) *SimClient {
	c := &SimClient{chain: chain, headers: make(map[uint64]*Header)}
	for h := uint64(0); h <= head; h++ {
		c.appendLocked(h, 0)
	}
	return c
}

func (c *SimClient) appendLocked(height uint64, fork int) {
	parent := ""
	if prev, ok := c.headers[height-1]; ok && height > 0 {
		parent = prev.Hash
	}
	c.headers[height] = &Header{
		Number:     height,
		Hash:       fmt.Sprintf("0x%s-%d-f%d", c.chain, height, fork),
		ParentHash: parent,
		Timestamp:  time.Now().UTC(),
	}
	if height > c.head {
		c.head = height
	}
}

// Advance appends n blocks to the head.
func (c *SimClient) Advance(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.appendLocked(c.head+1, c.forks)
	}
}

// Reorg rewrites every block from fromHeight to the head with new hashes,
// modeling a fork of that depth.
func (c *SimClient) Reorg(fromHeight uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forks++
	for h := fromHeight; h <= c.head; h++ {
		c.appendLocked(h, c.forks)
	}
}

// Drop removes a block entirely, modeling a pruned height.
func (c *SimClient) Drop(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.headers, height)
}

// Height implements Client.
func (c *SimClient) Height(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

// BlockAt implements Client.
func (c *SimClient) BlockAt(ctx context.Context, height uint64) (*Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	header, ok := c.headers[height]
	if !ok {
		return nil, ErrBlockNotFound
	}
	copied := *header
	return &copied, nil
}
