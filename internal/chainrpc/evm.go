package chainrpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EVMClient speaks the Ethereum JSON-RPC dialect (eth_blockNumber,
// eth_getBlockByNumber). Ethereum and Arbitrum share it.
type EVMClient struct {
	t *transport
}

// NewEVMClient builds an EVM dialect client over the failover transport.
func NewEVMClient(cfg TransportConfig) *EVMClient {
	return &EVMClient{t: newTransport(cfg)}
}

type evmBlock struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

// Height returns the current head block number.
func (c *EVMClient) Height(ctx context.Context) (uint64, error) {
	var hexHeight string
	if err := c.t.call(ctx, "eth_blockNumber", []any{}, &hexHeight); err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return parseHexUint(hexHeight)
}

// BlockAt returns the header at height, or ErrBlockNotFound when the
// canonical chain no longer contains a block there.
func (c *EVMClient) BlockAt(ctx context.Context, height uint64) (*Header, error) {
	var block evmBlock
	err := c.t.call(ctx, "eth_getBlockByNumber",
		[]any{fmt.Sprintf("0x%x", height), false}, &block)
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("eth_getBlockByNumber(%d): %w", height, err)
	}

	number, err := parseHexUint(block.Number)
	if err != nil {
		return nil, fmt.Errorf("block number %q: %w", block.Number, err)
	}
	ts, err := parseHexUint(block.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("block timestamp %q: %w", block.Timestamp, err)
	}

	return &Header{
		Number:     number,
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Timestamp:  time.Unix(int64(ts), 0).UTC(),
	}, nil
}

// TransportStats exposes transport health for the /status endpoint.
func (c *EVMClient) TransportStats() Stats { return c.t.stats() }

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
