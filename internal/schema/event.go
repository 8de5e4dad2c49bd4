// Package schema defines the unified event model shared by every stage of
// the risk pipeline: RiskEvent (the atom), AggregatedRiskSnapshot (the
// product), and the finality/window enums both carry.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// FinalityTier is the three-tier finality classification.
type FinalityTier string

const (
	Tier1 FinalityTier = "tier1" // probable
	Tier2 FinalityTier = "tier2" // highly likely
	Tier3 FinalityTier = "tier3" // final
)

// Confidence returns the numeric confidence mapped to a tier.
// The mapping is fixed: tier1 0.3, tier2 0.8, tier3 1.0.
func (t FinalityTier) Confidence() float64 {
	switch t {
	case Tier1:
		return 0.3
	case Tier2:
		return 0.8
	case Tier3:
		return 1.0
	default:
		return 0.0
	}
}

// WindowState is the three-state window lifecycle.
type WindowState string

const (
	WindowOpen        WindowState = "OPEN"
	WindowProvisional WindowState = "PROVISIONAL"
	WindowFinal       WindowState = "FINAL"
)

// SourceType tags which feature a producer supplies. Producers set it
// explicitly; InferSourceType exists only as a diagnostic fallback for
// untagged events.
type SourceType string

const (
	SourcePrice      SourceType = "price"
	SourceLiquidity  SourceType = "liquidity"
	SourceSupply     SourceType = "supply"
	SourceVolatility SourceType = "volatility"
	SourceSentiment  SourceType = "sentiment"
)

// AggregationLevel describes how far an event has been rolled up.
type AggregationLevel string

const (
	LevelRaw         AggregationLevel = "raw"
	LevelSource      AggregationLevel = "source"
	LevelCrossSource AggregationLevel = "cross_source"
	LevelCrossChain  AggregationLevel = "cross_chain"
)

// ConfidenceBreakdown holds the four TCS components and the combined score.
type ConfidenceBreakdown struct {
	FinalityWeight      float64 `json:"finality_weight"`
	ChainConfidence     float64 `json:"chain_confidence"`
	Completeness        float64 `json:"completeness"`
	StalenessPenalty    float64 `json:"staleness_penalty"`
	TemporalConfidence  float64 `json:"temporal_confidence"`
}

// RiskEvent is the unified record for all risk data across chains and
// sources. EventID is stable across versions; EventVersion increases only
// through reorg corrections.
type RiskEvent struct {
	// Identity and provenance.
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Coin      string    `json:"coin"`
	Chain     string    `json:"chain"`
	Source    string    `json:"source"`

	// Explicit producer tag (see SourceType).
	SourceType SourceType `json:"source_type,omitempty"`

	// Payload, populated per source type.
	Price           *float64 `json:"price,omitempty"`
	Volume          *float64 `json:"volume,omitempty"`
	LiquidityDepth  *float64 `json:"liquidity_depth,omitempty"`
	NetSupplyChange *float64 `json:"net_supply_change,omitempty"`
	MarketVolatility *float64 `json:"market_volatility,omitempty"`
	SentimentScore  *float64 `json:"sentiment_score,omitempty"`

	// On-chain anchor.
	BlockNumber       *uint64 `json:"block_number,omitempty"`
	TxHash            string  `json:"tx_hash,omitempty"`
	BlockHash         string  `json:"block_hash,omitempty"`
	ConfirmationCount uint64  `json:"confirmation_count"`

	// Finality state.
	FinalityTier      FinalityTier `json:"finality_tier"`
	IsFinalized       bool         `json:"is_finalized"`
	FinalityTimestamp *time.Time   `json:"finality_timestamp,omitempty"`

	// Temporal confidence.
	TemporalConfidence  float64              `json:"temporal_confidence"`
	ConfidenceBreakdown *ConfidenceBreakdown `json:"confidence_breakdown,omitempty"`

	// Window binding.
	WindowID    string      `json:"window_id,omitempty"`
	WindowState WindowState `json:"window_state"`
	WindowStart *time.Time  `json:"window_start,omitempty"`
	WindowEnd   *time.Time  `json:"window_end,omitempty"`

	AggregationLevel AggregationLevel `json:"aggregation_level"`
	AggregatedFrom   []string         `json:"aggregated_from,omitempty"`

	// Reorg state.
	EventVersion        int        `json:"event_version"`
	Invalidated         bool       `json:"invalidated"`
	ReplacementEventID  string     `json:"replacement_event_id,omitempty"`
	ReorgDetectedAt     *time.Time `json:"reorg_detected_at,omitempty"`
	OriginalBlockNumber *uint64    `json:"original_block_number,omitempty"`

	// Quality.
	IsOutlier          bool    `json:"is_outlier"`
	QualityScore       float64 `json:"quality_score"`
	DeduplicationCount int     `json:"deduplication_count"`

	// Metadata.
	SourceImportance    float64        `json:"source_importance"`
	ProcessingLatencyMs *float64       `json:"processing_latency_ms,omitempty"`
	Tags                map[string]any `json:"tags,omitempty"`
}

// NewRiskEvent returns an event with identity, version and quality defaults
// set. Finality starts at tier1 until a tracker refreshes it.
func NewRiskEvent(coin, chain, source string) *RiskEvent {
	return &RiskEvent{
		EventID:          uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		Coin:             coin,
		Chain:            chain,
		Source:           source,
		FinalityTier:     Tier1,
		TemporalConfidence: Tier1.Confidence(),
		WindowState:      WindowOpen,
		AggregationLevel: LevelRaw,
		EventVersion:     1,
		QualityScore:     1.0,
		SourceImportance: 1.0,
	}
}

// TierConfidence returns the numeric confidence of the event's current tier.
func (e *RiskEvent) TierConfidence() float64 {
	return e.FinalityTier.Confidence()
}

// IsOnChain reports whether the event is anchored to a block.
func (e *RiskEvent) IsOnChain() bool {
	return e.BlockNumber != nil
}

// IsStale reports whether the event is older than maxAge relative to now.
func (e *RiskEvent) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.Timestamp) > maxAge
}

// ShouldAttest reports whether the event qualifies for attestation: high
// TCS, at least tier2 finality, and not invalidated by a reorg.
func (e *RiskEvent) ShouldAttest(minTCS float64) bool {
	return e.TemporalConfidence >= minTCS &&
		(e.FinalityTier == Tier2 || e.FinalityTier == Tier3) &&
		!e.Invalidated
}

// InferSourceType guesses the source type from populated payload fields.
// Diagnostic fallback only; producers should tag events explicitly.
func (e *RiskEvent) InferSourceType() SourceType {
	if e.SourceType != "" {
		return e.SourceType
	}
	switch {
	case e.Price != nil:
		return SourcePrice
	case e.LiquidityDepth != nil:
		return SourceLiquidity
	case e.NetSupplyChange != nil:
		return SourceSupply
	case e.MarketVolatility != nil:
		return SourceVolatility
	case e.SentimentScore != nil:
		return SourceSentiment
	default:
		return SourceType(e.Source)
	}
}

// Float64 returns a pointer to v. Convenience for payload construction.
func Float64(v float64) *float64 { return &v }

// Uint64 returns a pointer to v.
func Uint64(v uint64) *uint64 { return &v }
