// Package aggregate merges the per-chain event groups of one (coin, window)
// into a single AggregatedRiskSnapshot, with depeg and cross-chain
// divergence detection.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/metrics"
	"github.com/stablewatch/stablewatch/internal/schema"
	"github.com/stablewatch/stablewatch/internal/tcs"
)

// defaultDepegThreshold applies when a coin has no configured profile.
const defaultDepegThreshold = 0.02

// Divergence is one cross-chain price disagreement.
type Divergence struct {
	ChainA       string  `json:"chain_a"`
	ChainB       string  `json:"chain_b"`
	PriceA       float64 `json:"price_a"`
	PriceB       float64 `json:"price_b"`
	AbsoluteDiff float64 `json:"absolute_diff"`
	PercentDiff  float64 `json:"percent_diff"`
}

// Aggregator rolls up per-chain event groups. Stateless; safe for
// concurrent use.
type Aggregator struct {
	cfg  *config.Config
	calc *tcs.Calculator
}

// New builds an aggregator sharing the engine configuration.
func New(cfg *config.Config, calc *tcs.Calculator) *Aggregator {
	return &Aggregator{cfg: cfg, calc: calc}
}

// Aggregate produces the snapshot for one (coin, window). Invalidated
// events are excluded; outlier events are excluded from price statistics
// but still contribute to volume-style sums.
func (a *Aggregator) Aggregate(coin, windowID string, byChain map[string][]*schema.RiskEvent, now time.Time) *schema.AggregatedRiskSnapshot {
	snapshot := schema.NewSnapshot(coin, windowID)
	snapshot.Timestamp = now

	flat := make([]*schema.RiskEvent, 0)
	chains := make([]string, 0, len(byChain))
	for chain, events := range byChain {
		live := make([]*schema.RiskEvent, 0, len(events))
		for _, e := range events {
			if !e.Invalidated {
				live = append(live, e)
			}
		}
		if len(live) == 0 {
			continue
		}
		chains = append(chains, chain)
		flat = append(flat, live...)
	}
	sort.Strings(chains)
	snapshot.Chains = chains

	if len(flat) == 0 {
		return snapshot
	}

	breakdown := a.calc.ComputeAt(flat, now)

	// The chain-confidence component is recomputed as the weakest link and
	// multiplied into the score a second time: the inner min across events
	// and the outer min across chains together model the two-dimensional
	// weakest link. The double discount is deliberate.
	override := a.calc.ChainConfidence(flat)
	breakdown.ChainConfidence = override
	adjusted := breakdown.TemporalConfidence * override

	snapshot.ConfidenceBreakdown = breakdown
	snapshot.TemporalConfidence = adjusted

	a.aggregatePayloads(snapshot, flat)
	a.detectDepeg(snapshot)

	sources := make(map[string]bool)
	for _, e := range flat {
		sources[e.Source] = true
		snapshot.EventIDs = append(snapshot.EventIDs, e.EventID)
	}
	snapshot.SourcesIncluded = sortedKeys(sources)
	snapshot.NumEventsAggregated = len(flat)

	metrics.SnapshotTCS.Observe(adjusted)
	return snapshot
}

// aggregatePayloads computes the per-metric rollups: mean for prices
// (outliers excluded), sums for liquidity, volume and supply, max for
// volatility, mean for sentiment.
func (a *Aggregator) aggregatePayloads(snapshot *schema.AggregatedRiskSnapshot, events []*schema.RiskEvent) {
	var prices, sentiments []float64
	var liquidity, volume, supply float64
	var haveLiquidity, haveVolume, haveSupply bool
	var volatility float64
	var haveVolatility bool

	for _, e := range events {
		if e.Price != nil && !e.IsOutlier {
			prices = append(prices, *e.Price)
		}
		if e.LiquidityDepth != nil {
			liquidity += *e.LiquidityDepth
			haveLiquidity = true
		}
		if e.Volume != nil {
			volume += *e.Volume
			haveVolume = true
		}
		if e.NetSupplyChange != nil {
			supply += *e.NetSupplyChange
			haveSupply = true
		}
		if e.MarketVolatility != nil {
			if !haveVolatility || *e.MarketVolatility > volatility {
				volatility = *e.MarketVolatility
			}
			haveVolatility = true
		}
		if e.SentimentScore != nil {
			sentiments = append(sentiments, *e.SentimentScore)
		}
	}

	if len(prices) > 0 {
		snapshot.AvgPrice = schema.Float64(mean(prices))
		snapshot.MinPrice = schema.Float64(minOf(prices))
		snapshot.MaxPrice = schema.Float64(maxOf(prices))
	}
	if haveLiquidity {
		snapshot.TotalLiquidity = schema.Float64(liquidity)
	}
	if haveVolume {
		snapshot.TotalVolume = schema.Float64(volume)
	}
	if haveSupply {
		snapshot.NetSupplyChange = schema.Float64(supply)
	}
	if haveVolatility {
		snapshot.MarketVolatility = schema.Float64(volatility)
	}
	if len(sentiments) > 0 {
		snapshot.SentimentScore = schema.Float64(mean(sentiments))
	}
}

func (a *Aggregator) detectDepeg(snapshot *schema.AggregatedRiskSnapshot) {
	if snapshot.AvgPrice == nil {
		return
	}
	threshold := defaultDepegThreshold
	if coin := a.cfg.Coin(snapshot.Coin); coin != nil && coin.DepegThreshold > 0 {
		threshold = coin.DepegThreshold
	}
	deviation := math.Abs(*snapshot.AvgPrice - 1.0)
	snapshot.DepegSeverity = schema.Float64(deviation)
	if deviation >= threshold {
		snapshot.IsDepegged = true
		metrics.DepegsDetected.WithLabelValues(snapshot.Coin).Inc()
		log.Warn().Str("coin", snapshot.Coin).Str("window_id", snapshot.WindowID).
			Float64("avg_price", *snapshot.AvgPrice).Float64("severity", deviation).
			Msg("depeg detected")
	}
}

// Ready reports whether cross-chain aggregation may finalize: the grace
// period of the slowest contributing chain has elapsed and every chain's
// events have reached at least tier2.
func (a *Aggregator) Ready(byChain map[string][]*schema.RiskEvent, windowEnd, now time.Time) bool {
	chains := make([]string, 0, len(byChain))
	for chain := range byChain {
		chains = append(chains, chain)
	}
	grace := time.Duration(a.cfg.SlowestTier3Time(chains)) * time.Second
	if now.Before(windowEnd.Add(grace)) {
		return false
	}
	for _, events := range byChain {
		for _, e := range events {
			if e.Invalidated {
				continue
			}
			if e.FinalityTier == schema.Tier1 {
				return false
			}
		}
	}
	return true
}

// DetectDivergence compares per-chain average prices pairwise and reports
// pairs that differ by more than the configured threshold. Divergences do
// not invalidate the snapshot; they are signals.
func (a *Aggregator) DetectDivergence(coin string, byChain map[string][]*schema.RiskEvent) []Divergence {
	avgByChain := make(map[string]float64)
	for chain, events := range byChain {
		var prices []float64
		for _, e := range events {
			if e.Price != nil && !e.Invalidated && !e.IsOutlier {
				prices = append(prices, *e.Price)
			}
		}
		if len(prices) > 0 {
			avgByChain[chain] = mean(prices)
		}
	}

	chains := sortedKeys(boolKeys(avgByChain))
	threshold := a.cfg.TCS.DivergenceThreshold

	var divergences []Divergence
	for i := 0; i < len(chains); i++ {
		for j := i + 1; j < len(chains); j++ {
			pa, pb := avgByChain[chains[i]], avgByChain[chains[j]]
			diff := math.Abs(pa - pb)
			if diff <= threshold {
				continue
			}
			d := Divergence{
				ChainA:       chains[i],
				ChainB:       chains[j],
				PriceA:       pa,
				PriceB:       pb,
				AbsoluteDiff: diff,
				PercentDiff:  diff / pb * 100,
			}
			divergences = append(divergences, d)
			log.Warn().Str("coin", coin).Str("chain_a", d.ChainA).Str("chain_b", d.ChainB).
				Str("diff", fmt.Sprintf("%.4f", diff)).
				Msg("cross-chain price divergence")
		}
	}
	return divergences
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func boolKeys(m map[string]float64) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}
