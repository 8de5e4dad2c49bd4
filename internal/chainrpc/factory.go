package chainrpc

import (
	"fmt"
	"time"

	"github.com/stablewatch/stablewatch/internal/config"
)

// NewFromProfile builds the dialect-appropriate client for a chain profile.
func NewFromProfile(profile *config.ChainProfile, timeout time.Duration) (Client, error) {
	cfg := TransportConfig{
		Chain:     profile.Name,
		Primary:   profile.RPCPrimary,
		Fallbacks: profile.RPCFallbacks,
		Timeout:   timeout,
	}
	switch profile.Dialect {
	case "evm":
		return NewEVMClient(cfg), nil
	case "solana":
		return NewSolanaClient(cfg), nil
	default:
		return nil, fmt.Errorf("chain %s: unknown rpc dialect %q", profile.Name, profile.Dialect)
	}
}
