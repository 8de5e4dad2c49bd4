package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTierConfidenceMapping(t *testing.T) {
	assert.Equal(t, 0.3, Tier1.Confidence())
	assert.Equal(t, 0.8, Tier2.Confidence())
	assert.Equal(t, 1.0, Tier3.Confidence())
	assert.Equal(t, 0.0, FinalityTier("unknown").Confidence())
}

func TestNewRiskEventDefaults(t *testing.T) {
	e := NewRiskEvent("USDC", "ethereum", "oracle")

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, 1, e.EventVersion)
	assert.Equal(t, Tier1, e.FinalityTier)
	assert.Equal(t, 0.3, e.TemporalConfidence)
	assert.Equal(t, WindowOpen, e.WindowState)
	assert.Equal(t, LevelRaw, e.AggregationLevel)
	assert.Equal(t, 1.0, e.QualityScore)
	assert.False(t, e.IsOnChain())
}

func TestShouldAttest(t *testing.T) {
	e := NewRiskEvent("USDC", "ethereum", "oracle")
	e.TemporalConfidence = 0.85
	e.FinalityTier = Tier2
	assert.True(t, e.ShouldAttest(0.8))

	e.FinalityTier = Tier1
	assert.False(t, e.ShouldAttest(0.8))

	e.FinalityTier = Tier3
	e.Invalidated = true
	assert.False(t, e.ShouldAttest(0.8))

	e.Invalidated = false
	e.TemporalConfidence = 0.7
	assert.False(t, e.ShouldAttest(0.8))
}

func TestInferSourceTypePrefersTag(t *testing.T) {
	e := NewRiskEvent("USDC", "ethereum", "oracle")
	e.SourceType = SourceSentiment
	e.Price = Float64(1.0)
	assert.Equal(t, SourceSentiment, e.InferSourceType())
}

func TestInferSourceTypeFallsBackToPayload(t *testing.T) {
	e := NewRiskEvent("USDC", "ethereum", "oracle")
	e.LiquidityDepth = Float64(1e8)
	assert.Equal(t, SourceLiquidity, e.InferSourceType())

	bare := NewRiskEvent("USDC", "ethereum", "mystery")
	assert.Equal(t, SourceType("mystery"), bare.InferSourceType())
}

func TestIsStale(t *testing.T) {
	e := NewRiskEvent("USDC", "ethereum", "oracle")
	e.Timestamp = time.Now().UTC().Add(-10 * time.Minute)

	assert.True(t, e.IsStale(time.Now().UTC(), 5*time.Minute))
	assert.False(t, e.IsStale(time.Now().UTC(), time.Hour))
}
