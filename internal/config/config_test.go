package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Len(t, cfg.Chains, 3)
	assert.Len(t, cfg.Coins, 3)
	assert.Equal(t, uint64(64), cfg.Chains["ethereum"].Tier3Confirmations)
	assert.Equal(t, 0.8, cfg.TCS.AttestationThreshold)
	assert.Equal(t, 300, cfg.Window.WindowSizeSec)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_listen_addr: ":9090"
tcs:
  attestation_threshold: 0.9
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPListenAddr)
	assert.Equal(t, 0.9, cfg.TCS.AttestationThreshold)
	// Sections the file omits keep their defaults.
	assert.Len(t, cfg.Chains, 3)
	assert.Equal(t, 3.0, cfg.Quality.OutlierZThreshold)
	assert.Equal(t, []string{"price", "liquidity", "supply", "volatility", "sentiment"},
		cfg.TCS.ExpectedSources)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsCoinOnUnknownChain(t *testing.T) {
	cfg := Default()
	cfg.Coins["USDC"].Chains = append(cfg.Coins["USDC"].Chains, "dogechain")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown chain")
}

func TestValidateRejectsMissingRPC(t *testing.T) {
	cfg := Default()
	cfg.Chains["ethereum"].RPCPrimary = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing rpc_primary")
}

func TestValidateRejectsInvertedConfirmationThresholds(t *testing.T) {
	cfg := Default()
	cfg.Chains["ethereum"].Tier2Confirmations = 100

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c1 < c2 < c3")
}

func TestValidateRejectsUnknownDialect(t *testing.T) {
	cfg := Default()
	cfg.Chains["ethereum"].Dialect = "utxo"

	assert.Error(t, cfg.Validate())
}

func TestEnvOverrideReplacesRPCPrimary(t *testing.T) {
	t.Setenv("ETHEREUM_RPC_URL", "https://example.org/rpc")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/rpc", cfg.Chains["ethereum"].RPCPrimary)
}

func TestLookupsAreCaseInsensitive(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg.Chain("Ethereum"))
	assert.NotNil(t, cfg.Coin("usdc"))
	assert.Nil(t, cfg.Chain("dogechain"))
}

func TestSlowestTier3Time(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 768, cfg.SlowestTier3Time([]string{"ethereum", "solana"}))
	assert.Equal(t, 120, cfg.SlowestTier3Time([]string{"solana"}))
	assert.Equal(t, 900, cfg.SlowestTier3Time([]string{"ethereum", "arbitrum", "solana"}))
	assert.Zero(t, cfg.SlowestTier3Time(nil))
}
