package sources

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/quality"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// Target is one (coin, chain) pair a poller collects for.
type Target struct {
	Coin  string
	Chain string
}

// HandlerFunc receives each batch a poller collected, after the quality
// executor has screened the individual fetches.
type HandlerFunc func(events []*schema.RiskEvent)

// Poller drives one source across its targets at the source type's
// configured interval. Failed fetches go through the executor's retry and
// circuit policy; a tripped circuit skips the source until cooldown.
type Poller struct {
	source   Source
	targets  []Target
	interval time.Duration
	executor *quality.Executor
	handler  HandlerFunc
}

// NewPoller builds a poller. interval falls back to 30 s when the config
// carries no value for the source type.
func NewPoller(source Source, targets []Target, cfg config.SourceConfig, executor *quality.Executor, handler HandlerFunc) *Poller {
	return &Poller{
		source:   source,
		targets:  targets,
		interval: intervalFor(source.Type(), cfg),
		executor: executor,
		handler:  handler,
	}
}

func intervalFor(typ schema.SourceType, cfg config.SourceConfig) time.Duration {
	sec := 0
	switch typ {
	case schema.SourcePrice:
		sec = cfg.PriceIntervalSec
	case schema.SourceLiquidity:
		sec = cfg.LiquidityIntervalSec
	case schema.SourceSupply:
		sec = cfg.SupplyIntervalSec
	case schema.SourceVolatility:
		sec = cfg.VolatilityIntervalSec
	case schema.SourceSentiment:
		sec = cfg.SentimentIntervalSec
	}
	if sec <= 0 {
		sec = 30
	}
	return time.Duration(sec) * time.Second
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log.Info().Str("source", p.source.Name()).Str("type", string(p.source.Type())).
		Int("targets", len(p.targets)).Dur("interval", p.interval).
		Msg("source poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("source", p.source.Name()).Msg("source poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll collects one batch across all targets and hands it to the handler.
func (p *Poller) Poll(ctx context.Context) {
	batch := make([]*schema.RiskEvent, 0, len(p.targets))
	for _, target := range p.targets {
		var event *schema.RiskEvent
		err := p.executor.Do(ctx, p.source.Name(), func(ctx context.Context) error {
			var ferr error
			event, ferr = p.source.Fetch(ctx, target.Coin, target.Chain)
			return ferr
		})
		if err != nil {
			log.Debug().Str("source", p.source.Name()).Str("coin", target.Coin).
				Str("chain", target.Chain).Err(err).Msg("fetch skipped")
			continue
		}
		if event != nil {
			batch = append(batch, event)
		}
	}
	if len(batch) > 0 && p.handler != nil {
		p.handler(batch)
	}
}

// RunAll starts one goroutine per poller and blocks until all stop.
func RunAll(ctx context.Context, pollers []*Poller) {
	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	wg.Wait()
}
