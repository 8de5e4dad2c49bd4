package schema

import (
	"time"

	"github.com/google/uuid"
)

// AggregatedRiskSnapshot is a cross-source and/or cross-chain rollup of the
// RiskEvents held by one time window. One snapshot is emitted per FINAL
// window.
type AggregatedRiskSnapshot struct {
	SnapshotID  string      `json:"snapshot_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Coin        string      `json:"coin"`
	Chains      []string    `json:"chains"`
	WindowID    string      `json:"window_id"`
	WindowState WindowState `json:"window_state"`

	AvgPrice *float64 `json:"avg_price,omitempty"`
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`

	TotalLiquidity  *float64 `json:"total_liquidity,omitempty"`
	TotalVolume     *float64 `json:"total_volume,omitempty"`
	NetSupplyChange *float64 `json:"net_supply_change,omitempty"`
	MarketVolatility *float64 `json:"market_volatility,omitempty"`
	SentimentScore  *float64 `json:"sentiment_score,omitempty"`

	TemporalConfidence  float64              `json:"temporal_confidence"`
	ConfidenceBreakdown *ConfidenceBreakdown `json:"confidence_breakdown,omitempty"`

	NumEventsAggregated int      `json:"num_events_aggregated"`
	SourcesIncluded     []string `json:"sources_included"`
	EventIDs            []string `json:"event_ids"`

	IsDepegged    bool     `json:"is_depegged"`
	DepegSeverity *float64 `json:"depeg_severity,omitempty"`
}

// NewSnapshot returns a snapshot with identity fields populated.
func NewSnapshot(coin, windowID string) *AggregatedRiskSnapshot {
	return &AggregatedRiskSnapshot{
		SnapshotID:  uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Coin:        coin,
		WindowID:    windowID,
		WindowState: WindowFinal,
	}
}

// ReorgRecord is the diagnostic record appended to a chain's reorg log.
type ReorgRecord struct {
	Chain            string    `json:"chain"`
	Timestamp        time.Time `json:"timestamp"`
	OriginalBlock    uint64    `json:"original_block"`
	NewBlock         uint64    `json:"new_block"`
	Depth            int       `json:"depth"`
	AffectedEventIDs []string  `json:"affected_event_ids"`
}
