package chainrpc

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SolanaClient speaks the Solana slot/block dialect (getSlot, getBlock).
// Slots map onto the engine's notion of height; a skipped slot reads as
// block-not-found, which the monitor treats the same as a reorged block.
type SolanaClient struct {
	t *transport
}

// NewSolanaClient builds a Solana dialect client over the failover transport.
func NewSolanaClient(cfg TransportConfig) *SolanaClient {
	return &SolanaClient{t: newTransport(cfg)}
}

type solanaBlock struct {
	Blockhash         string `json:"blockhash"`
	PreviousBlockhash string `json:"previousBlockhash"`
	ParentSlot        uint64 `json:"parentSlot"`
	BlockTime         *int64 `json:"blockTime"`
}

// Height returns the current slot.
func (c *SolanaClient) Height(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.t.call(ctx, "getSlot", []any{}, &slot); err != nil {
		return 0, fmt.Errorf("getSlot: %w", err)
	}
	return slot, nil
}

// BlockAt returns the header for a slot, or ErrBlockNotFound for skipped
// or reorged slots.
func (c *SolanaClient) BlockAt(ctx context.Context, height uint64) (*Header, error) {
	params := []any{height, map[string]any{
		"transactionDetails":             "none",
		"rewards":                        false,
		"maxSupportedTransactionVersion": 0,
	}}

	var block solanaBlock
	if err := c.t.call(ctx, "getBlock", params, &block); err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("getBlock(%d): %w", height, err)
	}

	ts := time.Time{}
	if block.BlockTime != nil {
		ts = time.Unix(*block.BlockTime, 0).UTC()
	}

	return &Header{
		Number:     height,
		Hash:       block.Blockhash,
		ParentHash: block.PreviousBlockhash,
		Timestamp:  ts,
	}, nil
}

// TransportStats exposes transport health for the /status endpoint.
func (c *SolanaClient) TransportStats() Stats { return c.t.stats() }
