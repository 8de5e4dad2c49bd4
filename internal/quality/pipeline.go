// Package quality screens incoming event batches: normalization,
// signature-based deduplication, and z-score outlier flagging. Outliers are
// retained with a quality penalty; downstream aggregation decides whether
// to use them.
package quality

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/metrics"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// Pipeline processes event batches through normalize, dedupe and outlier
// stages. Safe for concurrent use; the dedup signature map is the only
// shared state.
type Pipeline struct {
	cfg config.QualityConfig
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // signature -> last seen
}

// NewPipeline builds a pipeline from the quality config section.
func NewPipeline(cfg config.QualityConfig) *Pipeline {
	return &Pipeline{
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
		seen: make(map[string]time.Time),
	}
}

// Process runs a batch through all stages and returns the survivors.
// It never fails for a bad event: values are normalized aggressively and
// the outlier flag carries the signal.
func (p *Pipeline) Process(events []*schema.RiskEvent) []*schema.RiskEvent {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		p.normalize(event)
	}
	events = p.deduplicate(events)
	p.flagOutliers(events)

	outliers := 0
	for _, e := range events {
		if e.IsOutlier {
			outliers++
		}
	}
	log.Debug().Int("events", len(events)).Int("outliers", outliers).
		Msg("quality pipeline processed batch")
	return events
}

// normalize standardizes symbols and timestamps and clamps stablecoin
// prices into the configured bounds. Clamping is applied before outlier
// detection so the z-scores run on clamped data.
func (p *Pipeline) normalize(event *schema.RiskEvent) {
	event.Coin = strings.ToUpper(event.Coin)
	event.Chain = strings.ToLower(event.Chain)
	event.Timestamp = event.Timestamp.UTC()
	event.QualityScore = 1.0

	if event.Price != nil {
		switch {
		case *event.Price < p.cfg.PriceMin:
			log.Warn().Str("coin", event.Coin).Str("source", event.Source).
				Float64("price", *event.Price).Float64("min", p.cfg.PriceMin).
				Msg("clamping low price")
			event.Price = schema.Float64(p.cfg.PriceMin)
		case *event.Price > p.cfg.PriceMax:
			log.Warn().Str("coin", event.Coin).Str("source", event.Source).
				Float64("price", *event.Price).Float64("max", p.cfg.PriceMax).
				Msg("clamping high price")
			event.Price = schema.Float64(p.cfg.PriceMax)
		}
	}
}

// deduplicate drops events whose signature was seen within the dedup
// window. The signature map carries a sliding retention equal to the window.
func (p *Pipeline) deduplicate(events []*schema.RiskEvent) []*schema.RiskEvent {
	window := time.Duration(p.cfg.DedupWindowSec) * time.Second
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-window)
	for sig, ts := range p.seen {
		if ts.Before(cutoff) {
			delete(p.seen, sig)
		}
	}

	unique := events[:0]
	dropped := 0
	for _, event := range events {
		sig := signature(event)
		if last, ok := p.seen[sig]; ok && event.Timestamp.Sub(last) < window {
			dropped++
			metrics.EventsDropped.WithLabelValues("duplicate").Inc()
			continue
		}
		p.seen[sig] = event.Timestamp
		unique = append(unique, event)
	}

	if dropped > 0 {
		log.Info().Int("duplicates", dropped).Msg("deduplicated events")
	}
	return unique
}

// flagOutliers marks per-(coin,chain) statistical outliers across each
// numeric metric independently. Groups under three points are skipped.
func (p *Pipeline) flagOutliers(events []*schema.RiskEvent) {
	if len(events) < 3 {
		return
	}

	groups := make(map[string][]*schema.RiskEvent)
	for _, event := range events {
		key := event.Coin + "|" + event.Chain
		groups[key] = append(groups[key], event)
	}

	for _, group := range groups {
		if len(group) < 3 {
			continue
		}
		p.flagMetric(group, func(e *schema.RiskEvent) *float64 { return e.Price }, "price")
		p.flagMetric(group, func(e *schema.RiskEvent) *float64 { return e.LiquidityDepth }, "liquidity_depth")
		p.flagMetric(group, func(e *schema.RiskEvent) *float64 { return e.Volume }, "volume")
	}
}

func (p *Pipeline) flagMetric(group []*schema.RiskEvent, metric func(*schema.RiskEvent) *float64, name string) {
	values := make([]float64, 0, len(group))
	for _, e := range group {
		if v := metric(e); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) < 3 {
		return
	}

	mean, stddev := meanStddev(values)
	if stddev == 0 {
		return
	}

	for _, e := range group {
		v := metric(e)
		if v == nil || e.IsOutlier {
			continue
		}
		z := math.Abs(*v-mean) / stddev
		if z > p.cfg.OutlierZThreshold {
			e.IsOutlier = true
			e.QualityScore *= 0.5
			metrics.OutliersFlagged.Inc()
			log.Warn().Str("coin", e.Coin).Str("chain", e.Chain).Str("metric", name).
				Float64("value", *v).Float64("z", z).
				Msg("outlier flagged")
		}
	}
}

// meanStddev returns the mean and sample standard deviation.
func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}

// signature identifies an event for deduplication: provenance plus rounded
// payload values.
func signature(e *schema.RiskEvent) string {
	f := func(v *float64, digits int) string {
		if v == nil {
			return "none"
		}
		return fmt.Sprintf("%.*f", digits, *v)
	}
	return strings.Join([]string{
		e.Coin, e.Chain, e.Source,
		f(e.Price, 6), f(e.LiquidityDepth, 2), f(e.Volume, 2),
	}, "|")
}
