// Package chainrpc implements the chain-RPC capability contract the engine
// consumes: current head height and block-by-height lookups. Two wire
// dialects are provided (EVM JSON-RPC and Solana slot/block); the rest of
// the engine depends only on the Client interface.
package chainrpc

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBlockNotFound means the chain has no block at the requested
	// height. During a reorg this is a signal, not a failure.
	ErrBlockNotFound = errors.New("block not found")

	// ErrAllEndpointsFailed means every configured endpoint was tried and
	// none produced a response.
	ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")
)

// Header is the minimal block header the engine needs for reorg detection.
type Header struct {
	Number     uint64    `json:"number"`
	Hash       string    `json:"hash"`
	ParentHash string    `json:"parent_hash"`
	Timestamp  time.Time `json:"timestamp"`
}

// Client is the capability contract consumed by finality tracking and block
// monitoring. Implementations must be safe for concurrent use.
type Client interface {
	// Height returns the current head height (EVM block number or Solana slot).
	Height(ctx context.Context) (uint64, error)

	// BlockAt returns the header at the given height, or ErrBlockNotFound
	// if the canonical chain has no block there.
	BlockAt(ctx context.Context, height uint64) (*Header, error)
}

// Stats reports transport health counters for one chain client.
type Stats struct {
	Chain        string `json:"chain"`
	CurrentRPC   string `json:"current_rpc"`
	CircuitState string `json:"circuit_state"`
	Total        uint64 `json:"total_requests"`
	Succeeded    uint64 `json:"successful_requests"`
	Failed       uint64 `json:"failed_requests"`
	Failovers    uint64 `json:"failovers"`
}
