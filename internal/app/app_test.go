package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Emit.SnapshotPath = filepath.Join(dir, "snapshots.jsonl")
	cfg.Emit.ReorgLogDir = filepath.Join(dir, "reorgs")
	cfg.Emit.RedisAddr = "" // no redis in tests
	return cfg
}

func TestNewAssemblesSimulatedEngine(t *testing.T) {
	engine, err := New(testConfig(t), Options{Simulate: true})
	require.NoError(t, err)
	defer engine.Close()

	assert.Len(t, engine.monitors, 3)
	assert.Len(t, engine.clients, 3)
	// Five source types per chain.
	assert.Len(t, engine.pollers, 15)
	assert.NotNil(t, engine.windows)
	assert.NotNil(t, engine.server)
}

func TestNewRejectsUnknownChain(t *testing.T) {
	_, err := New(testConfig(t), Options{Chains: []string{"dogechain"}, Simulate: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown chain")
}

func TestNewRejectsUnknownCoin(t *testing.T) {
	_, err := New(testConfig(t), Options{Coins: []string{"FRAX"}, Simulate: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown coin")
}

func TestNarrowedUniverseBuildsFewerPollers(t *testing.T) {
	engine, err := New(testConfig(t), Options{
		Coins:    []string{"USDC"},
		Chains:   []string{"ethereum"},
		Simulate: true,
	})
	require.NoError(t, err)
	defer engine.Close()

	assert.Len(t, engine.monitors, 1)
	assert.Len(t, engine.pollers, 5)
}

func TestIngestRoutesEventsIntoWindowsAndMonitors(t *testing.T) {
	engine, err := New(testConfig(t), Options{Simulate: true})
	require.NoError(t, err)
	defer engine.Close()

	e := schema.NewRiskEvent("usdc", "Ethereum", "oracle_ethereum")
	e.SourceType = schema.SourcePrice
	e.Price = schema.Float64(1.0002)
	e.Timestamp = time.Now().UTC()
	e.BlockNumber = schema.Uint64(999_990)
	e.BlockHash = "0xabc"

	engine.ingest([]*schema.RiskEvent{e})

	// Normalized, scored and windowed.
	assert.Equal(t, "USDC", e.Coin)
	assert.Equal(t, "ethereum", e.Chain)
	assert.NotEmpty(t, e.WindowID)
	require.NotNil(t, e.ConfidenceBreakdown)
	assert.Greater(t, e.TemporalConfidence, 0.0)
	require.NotNil(t, engine.windows.Window(e.WindowID))
}
