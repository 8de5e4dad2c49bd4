package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablewatch/stablewatch/internal/chainrpc"
	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
)

type recordingSink struct {
	chain        string
	affected     []*schema.RiskEvent
	replacements []*schema.RiskEvent
	calls        int
}

func (s *recordingSink) HandleReorg(_ context.Context, chain string, affected, replacements []*schema.RiskEvent) ([]*schema.RiskEvent, error) {
	s.chain = chain
	s.affected = affected
	s.replacements = replacements
	s.calls++
	return nil, nil
}

func testProfile() *config.ChainProfile {
	p := config.Default().Chains["ethereum"]
	p.MaxReorgDepth = 64
	return p
}

// prime runs ticks while advancing the chain so the cache holds a run of
// consecutive headers below the head.
func prime(t *testing.T, m *Monitor, sim *chainrpc.SimClient, blocks int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.Tick(ctx))
	for i := 0; i < blocks; i++ {
		sim.Advance(1)
		require.NoError(t, m.Tick(ctx))
	}
}

func TestTickCachesHeadAndCountsPolls(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 100)
	m := New(testProfile(), sim, nil, nil)

	prime(t, m, sim, 5)

	stats := m.Stats()
	assert.Equal(t, uint64(6), stats.Polls)
	assert.Equal(t, uint64(105), stats.Head)
	assert.Equal(t, 6, stats.CacheSize)
	assert.Zero(t, stats.ReorgsDetected)
}

func TestCacheBoundedByMaxReorgDepth(t *testing.T) {
	profile := testProfile()
	profile.MaxReorgDepth = 4
	sim := chainrpc.NewSimClient("ethereum", 10)
	m := New(profile, sim, nil, nil)

	prime(t, m, sim, 10)

	assert.Equal(t, 4, m.Stats().CacheSize)
}

func TestReorgDetectedOnHashMismatch(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 100)
	sink := &recordingSink{}
	m := New(testProfile(), sim, sink, nil)

	prime(t, m, sim, 8) // cache holds 100..108

	sim.Reorg(106)
	sim.Advance(1)
	require.NoError(t, m.Tick(context.Background()))

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.ReorgsDetected)
	require.NotNil(t, stats.LastReorg)
}

func TestAffectedEventsHandedToSink(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 100)
	sink := &recordingSink{}
	m := New(testProfile(), sim, sink, nil)

	prime(t, m, sim, 8)

	inside := schema.NewRiskEvent("USDC", "ethereum", "chainlink")
	inside.BlockNumber = schema.Uint64(107)
	outside := schema.NewRiskEvent("USDC", "ethereum", "chainlink")
	outside.BlockNumber = schema.Uint64(101)
	m.Register(inside)
	m.Register(outside)

	sim.Reorg(106)
	sim.Advance(1)
	require.NoError(t, m.Tick(context.Background()))

	require.Equal(t, 1, sink.calls)
	assert.Equal(t, "ethereum", sink.chain)
	require.Len(t, sink.affected, 1)
	assert.Equal(t, inside.EventID, sink.affected[0].EventID)
}

func TestForkRangeClearedFromCache(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 100)
	m := New(testProfile(), sim, &recordingSink{}, nil)

	prime(t, m, sim, 8)
	before := m.Stats().CacheSize

	sim.Reorg(106)
	sim.Advance(1)
	require.NoError(t, m.Tick(context.Background()))

	assert.Less(t, m.Stats().CacheSize, before+1)
	// The cleared heights are re-primed from the new canonical chain on
	// subsequent ticks without re-detecting the same fork.
	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, uint64(1), m.Stats().ReorgsDetected)
}

func TestRegisterIgnoresOffChainAndForeignEvents(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 10)
	m := New(testProfile(), sim, nil, nil)

	offChain := schema.NewRiskEvent("USDC", "ethereum", "coingecko")
	foreign := schema.NewRiskEvent("USDC", "solana", "helius")
	foreign.BlockNumber = schema.Uint64(5)
	m.Register(offChain)
	m.Register(foreign)

	assert.Empty(t, m.affectedEvents(0, 100))
}

func TestDroppedBlockTreatedAsFork(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 50)
	sink := &recordingSink{}
	m := New(testProfile(), sim, sink, nil)

	prime(t, m, sim, 5) // cache holds 50..55

	sim.Drop(54)
	sim.Advance(1)
	require.NoError(t, m.Tick(context.Background()))

	assert.Equal(t, uint64(1), m.Stats().ReorgsDetected)
}

type fixedFetcher struct {
	events []*schema.RiskEvent
}

func (f *fixedFetcher) FetchReplacements(_ context.Context, _ string, _, _ uint64, _ []*schema.RiskEvent) ([]*schema.RiskEvent, error) {
	return f.events, nil
}

func TestReplacementsFetchedAndForwarded(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 100)
	sink := &recordingSink{}
	replacement := schema.NewRiskEvent("USDC", "ethereum", "chainlink")
	m := New(testProfile(), sim, sink, &fixedFetcher{events: []*schema.RiskEvent{replacement}})

	prime(t, m, sim, 8)
	affected := schema.NewRiskEvent("USDC", "ethereum", "chainlink")
	affected.BlockNumber = schema.Uint64(107)
	m.Register(affected)

	sim.Reorg(106)
	sim.Advance(1)
	require.NoError(t, m.Tick(context.Background()))

	require.Equal(t, 1, sink.calls)
	require.Len(t, sink.replacements, 1)
	assert.Equal(t, replacement.EventID, sink.replacements[0].EventID)
}

func TestUnregisteredEventNoLongerAffected(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 100)
	sink := &recordingSink{}
	m := New(testProfile(), sim, sink, nil)

	prime(t, m, sim, 8)

	evicted := schema.NewRiskEvent("USDC", "ethereum", "chainlink")
	evicted.BlockNumber = schema.Uint64(107)
	kept := schema.NewRiskEvent("USDC", "ethereum", "uniswap")
	kept.BlockNumber = schema.Uint64(107)
	m.Register(evicted)
	m.Register(kept)
	m.Unregister(evicted.EventID)

	sim.Reorg(106)
	sim.Advance(1)
	require.NoError(t, m.Tick(context.Background()))

	require.Len(t, sink.affected, 1)
	assert.Equal(t, kept.EventID, sink.affected[0].EventID)
}

type correctingSink struct {
	recordingSink
	corrections []*schema.RiskEvent
}

func (s *correctingSink) HandleReorg(ctx context.Context, chain string, affected, replacements []*schema.RiskEvent) ([]*schema.RiskEvent, error) {
	_, _ = s.recordingSink.HandleReorg(ctx, chain, affected, replacements)
	return s.corrections, nil
}

func TestCorrectionsForwardedToCallback(t *testing.T) {
	sim := chainrpc.NewSimClient("ethereum", 100)
	correction := schema.NewRiskEvent("USDC", "ethereum", "chainlink")
	sink := &correctingSink{corrections: []*schema.RiskEvent{correction}}
	m := New(testProfile(), sim, sink, nil)

	var routed []*schema.RiskEvent
	m.OnCorrections(func(events []*schema.RiskEvent) { routed = append(routed, events...) })

	prime(t, m, sim, 8)
	affected := schema.NewRiskEvent("USDC", "ethereum", "chainlink")
	affected.BlockNumber = schema.Uint64(107)
	m.Register(affected)

	sim.Reorg(106)
	sim.Advance(1)
	require.NoError(t, m.Tick(context.Background()))

	require.Len(t, routed, 1)
	assert.Equal(t, correction.EventID, routed[0].EventID)
}
