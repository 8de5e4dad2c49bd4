package tcs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
)

func newCalc() *Calculator {
	return NewCalculator(config.Default().TCS)
}

func tieredEvent(chain string, st schema.SourceType, tier schema.FinalityTier, ts time.Time) *schema.RiskEvent {
	e := schema.NewRiskEvent("USDC", chain, string(st)+"_feed")
	e.SourceType = st
	e.FinalityTier = tier
	e.Timestamp = ts
	return e
}

func TestEmptySetScoresZero(t *testing.T) {
	b := newCalc().Compute(nil)
	assert.Equal(t, 0.0, b.TemporalConfidence)
	assert.Equal(t, 1.0, b.StalenessPenalty)
}

func TestSingletonPriceEvent(t *testing.T) {
	c := newCalc()
	now := time.Now().UTC()
	e := tieredEvent("ethereum", schema.SourcePrice, schema.Tier3, now.Add(-10*time.Second))

	b := c.ComputeAt([]*schema.RiskEvent{e}, now)

	assert.Equal(t, 1.0, b.FinalityWeight)
	assert.Equal(t, 1.0, b.ChainConfidence)
	assert.InDelta(t, 0.2, b.Completeness, 1e-9)
	assert.Equal(t, 1.0, b.StalenessPenalty)
	assert.InDelta(t, 0.2, b.TemporalConfidence, 1e-9)
	assert.Equal(t, StatusPoor, Status(b.TemporalConfidence))
}

func TestFullFiveSourceSetScoresOne(t *testing.T) {
	c := newCalc()
	now := time.Now().UTC()
	ts := now.Add(-10 * time.Second)
	events := []*schema.RiskEvent{
		tieredEvent("ethereum", schema.SourcePrice, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceLiquidity, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceSupply, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceVolatility, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceSentiment, schema.Tier3, ts),
	}

	b := c.ComputeAt(events, now)

	assert.Equal(t, 1.0, b.Completeness)
	assert.Equal(t, 1.0, b.TemporalConfidence)
	assert.Equal(t, StatusExcellent, Status(b.TemporalConfidence))
}

func TestFinalityWeightUsesSourceImportance(t *testing.T) {
	c := newCalc()
	now := time.Now().UTC()
	ts := now.Add(-time.Second)
	// price (w=1.0) at tier3, sentiment (w=0.5) at tier1.
	events := []*schema.RiskEvent{
		tieredEvent("ethereum", schema.SourcePrice, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceSentiment, schema.Tier1, ts),
	}

	f := c.FinalityWeight(events)

	expected := (1.0*1.0 + 0.3*0.5) / (1.0 + 0.5)
	assert.InDelta(t, expected, f, 1e-9)
}

func TestChainConfidenceIsWeakestLink(t *testing.T) {
	c := newCalc()
	now := time.Now().UTC()
	ts := now.Add(-time.Second)
	events := []*schema.RiskEvent{
		tieredEvent("ethereum", schema.SourcePrice, schema.Tier3, ts),
		tieredEvent("arbitrum", schema.SourcePrice, schema.Tier3, ts),
		tieredEvent("solana", schema.SourcePrice, schema.Tier3, ts),
		tieredEvent("solana", schema.SourceLiquidity, schema.Tier1, ts),
	}

	assert.Equal(t, 0.3, c.ChainConfidence(events))
}

func TestStalenessPenaltyFromOldestEvent(t *testing.T) {
	c := newCalc()
	now := time.Now().UTC()

	fresh := tieredEvent("ethereum", schema.SourcePrice, schema.Tier3, now.Add(-30*time.Second))
	acceptable := tieredEvent("ethereum", schema.SourceLiquidity, schema.Tier3, now.Add(-400*time.Second))
	stale := tieredEvent("ethereum", schema.SourceSupply, schema.Tier3, now.Add(-700*time.Second))

	assert.Equal(t, 1.0, c.StalenessPenalty([]*schema.RiskEvent{fresh}, now))
	assert.Equal(t, 0.9, c.StalenessPenalty([]*schema.RiskEvent{fresh, acceptable}, now))
	assert.Equal(t, 0.7, c.StalenessPenalty([]*schema.RiskEvent{fresh, acceptable, stale}, now))
}

func TestScoreAlwaysInUnitInterval(t *testing.T) {
	c := newCalc()
	now := time.Now().UTC()

	// A stale but otherwise perfect set divides by 0.7, which the clamp caps.
	ts := now.Add(-20 * time.Minute)
	events := []*schema.RiskEvent{
		tieredEvent("ethereum", schema.SourcePrice, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceLiquidity, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceSupply, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceVolatility, schema.Tier3, ts),
		tieredEvent("ethereum", schema.SourceSentiment, schema.Tier3, ts),
	}

	b := c.ComputeAt(events, now)

	require.Equal(t, 0.7, b.StalenessPenalty)
	assert.LessOrEqual(t, b.TemporalConfidence, 1.0)
	assert.GreaterOrEqual(t, b.TemporalConfidence, 0.0)
	assert.Equal(t, 1.0, b.TemporalConfidence)
}

func TestStatusLabels(t *testing.T) {
	assert.Equal(t, StatusExcellent, Status(0.95))
	assert.Equal(t, StatusGood, Status(0.85))
	assert.Equal(t, StatusModerate, Status(0.65))
	assert.Equal(t, StatusLow, Status(0.45))
	assert.Equal(t, StatusPoor, Status(0.2))
}

func TestAttestationThreshold(t *testing.T) {
	c := newCalc()
	assert.True(t, c.ShouldAttest(0.8))
	assert.True(t, c.ShouldAttest(0.95))
	assert.False(t, c.ShouldAttest(0.79))
}

func TestUpdateWritesBreakdownOntoEvent(t *testing.T) {
	c := newCalc()
	e := tieredEvent("ethereum", schema.SourcePrice, schema.Tier2, time.Now().UTC())

	c.Update(e)

	require.NotNil(t, e.ConfidenceBreakdown)
	assert.Equal(t, e.ConfidenceBreakdown.TemporalConfidence, e.TemporalConfidence)
	assert.InDelta(t, 0.8*0.8*0.2, e.TemporalConfidence, 1e-9)
}
