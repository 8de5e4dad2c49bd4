// Package tcs computes the Temporal Confidence Score: a scalar in [0,1]
// combining finality weight, cross-chain minimum confidence, source
// completeness, and staleness for a set of risk events.
package tcs

import (
	"time"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// Status labels for a computed score.
const (
	StatusExcellent = "EXCELLENT"
	StatusGood      = "GOOD"
	StatusModerate  = "MODERATE"
	StatusLow       = "LOW"
	StatusPoor      = "POOR"
)

// Calculator scores event sets. It is stateless and safe for concurrent use.
type Calculator struct {
	cfg config.TCSConfig
	now func() time.Time
}

// NewCalculator builds a calculator from the tcs config section.
func NewCalculator(cfg config.TCSConfig) *Calculator {
	return &Calculator{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// importance returns the configured weight for a source type, defaulting
// to 0.5 for unknown types.
func (c *Calculator) importance(st schema.SourceType) float64 {
	if w, ok := c.cfg.SourceImportance[string(st)]; ok {
		return w
	}
	return 0.5
}

// FinalityWeight is the importance-weighted mean of tier confidences.
func (c *Calculator) FinalityWeight(events []*schema.RiskEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	var weighted, weights float64
	for _, e := range events {
		w := c.importance(e.InferSourceType())
		weighted += e.TierConfidence() * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}

// ChainConfidence is the weakest link across chains: the minimum over
// chains of the minimum event confidence within that chain.
func (c *Calculator) ChainConfidence(events []*schema.RiskEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	perChain := make(map[string]float64)
	for _, e := range events {
		conf := e.TierConfidence()
		if cur, ok := perChain[e.Chain]; !ok || conf < cur {
			perChain[e.Chain] = conf
		}
	}
	min := 1.0
	for _, conf := range perChain {
		if conf < min {
			min = conf
		}
	}
	return min
}

// Completeness is the fraction of expected source types present.
func (c *Calculator) Completeness(events []*schema.RiskEvent) float64 {
	if len(c.cfg.ExpectedSources) == 0 {
		return 1.0
	}
	present := make(map[schema.SourceType]bool)
	for _, e := range events {
		present[e.InferSourceType()] = true
	}
	count := 0
	for _, expected := range c.cfg.ExpectedSources {
		if present[schema.SourceType(expected)] {
			count++
		}
	}
	return float64(count) / float64(len(c.cfg.ExpectedSources))
}

// StalenessPenalty is derived from the age of the oldest event:
// 1.0 when fresh, 0.9 when acceptable, 0.7 otherwise.
func (c *Calculator) StalenessPenalty(events []*schema.RiskEvent, now time.Time) float64 {
	if len(events) == 0 {
		return 1.0
	}
	oldest := events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
	}
	age := now.Sub(oldest)
	switch {
	case age < time.Duration(c.cfg.FreshThresholdSec)*time.Second:
		return 1.0
	case age < time.Duration(c.cfg.AcceptableThresholdSec)*time.Second:
		return 0.9
	default:
		return 0.7
	}
}

// Compute returns the full breakdown for a set of events. An empty set
// scores zero across the board.
func (c *Calculator) Compute(events []*schema.RiskEvent) *schema.ConfidenceBreakdown {
	return c.ComputeAt(events, c.now())
}

// ComputeAt is Compute with an explicit reference time.
func (c *Calculator) ComputeAt(events []*schema.RiskEvent, now time.Time) *schema.ConfidenceBreakdown {
	b := &schema.ConfidenceBreakdown{StalenessPenalty: 1.0}
	if len(events) == 0 {
		return b
	}
	b.FinalityWeight = c.FinalityWeight(events)
	b.ChainConfidence = c.ChainConfidence(events)
	b.Completeness = c.Completeness(events)
	b.StalenessPenalty = c.StalenessPenalty(events, now)

	score := (b.FinalityWeight * b.ChainConfidence * b.Completeness) / b.StalenessPenalty
	b.TemporalConfidence = clamp(score, 0, 1)
	return b
}

// Update writes a singleton breakdown onto the event.
func (c *Calculator) Update(event *schema.RiskEvent) {
	b := c.Compute([]*schema.RiskEvent{event})
	event.ConfidenceBreakdown = b
	event.TemporalConfidence = b.TemporalConfidence
}

// Status maps a score onto its operator-facing label.
func Status(score float64) string {
	switch {
	case score >= 0.9:
		return StatusExcellent
	case score >= 0.8:
		return StatusGood
	case score >= 0.6:
		return StatusModerate
	case score >= 0.4:
		return StatusLow
	default:
		return StatusPoor
	}
}

// ShouldAttest reports whether a score clears the attestation threshold.
func (c *Calculator) ShouldAttest(score float64) bool {
	return score >= c.cfg.AttestationThreshold
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
