package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
)

func TestSymbolsFromCatalog(t *testing.T) {
	r := New(config.Default().Coins)
	assert.Equal(t, []string{"DAI", "USDC", "USDT"}, r.Symbols())
	require.NotNil(t, r.Profile("USDC"))
	assert.Nil(t, r.Profile("FRAX"))
}

func TestObserveUpdatesStatus(t *testing.T) {
	r := New(config.Default().Coins)

	s := schema.NewSnapshot("USDC", "w_100")
	s.AvgPrice = schema.Float64(0.97)
	s.TemporalConfidence = 0.85
	s.IsDepegged = true
	s.DepegSeverity = schema.Float64(0.03)
	s.Chains = []string{"ethereum", "solana"}
	r.Observe(s)

	status := r.Status("USDC")
	require.NotNil(t, status)
	assert.Equal(t, 0.97, *status.LastPrice)
	assert.Equal(t, 0.85, status.LastTCS)
	assert.True(t, status.IsDepegged)
	assert.Equal(t, uint64(1), status.SnapshotCount)
	assert.Equal(t, []string{"ethereum", "solana"}, status.Chains)
	assert.WithinDuration(t, time.Now(), *status.LastSnapshotAt, time.Minute)

	assert.Equal(t, []string{"USDC"}, r.Depegged())
}

func TestObserveTracksUnconfiguredCoin(t *testing.T) {
	r := New(config.Default().Coins)
	r.Observe(schema.NewSnapshot("FRAX", "w_100"))

	status := r.Status("FRAX")
	require.NotNil(t, status)
	assert.Equal(t, uint64(1), status.SnapshotCount)
}

func TestStatusReturnsCopy(t *testing.T) {
	r := New(config.Default().Coins)
	first := r.Status("USDC")
	first.SnapshotCount = 99

	assert.Zero(t, r.Status("USDC").SnapshotCount)
}

func TestAllSorted(t *testing.T) {
	r := New(config.Default().Coins)
	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "DAI", all[0].Symbol)
	assert.Equal(t, "USDT", all[2].Symbol)
}
