// Package sources defines the data-source contract and the built-in
// simulated producers used when no live feeds are wired. A source yields
// zero or one event per (coin, chain) request; finality fields are left
// for the tracker.
package sources

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/stablewatch/stablewatch/internal/chainrpc"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// Source produces risk events for a coin on a chain.
type Source interface {
	Name() string
	Type() schema.SourceType
	Fetch(ctx context.Context, coin, chain string) (*schema.RiskEvent, error)
}

// simSource is the shared scaffolding of the simulated producers: a seeded
// random walk per (coin, chain) plus an optional block anchor.
type simSource struct {
	name   string
	typ    schema.SourceType
	client chainrpc.Client

	mu    sync.Mutex
	rng   *rand.Rand
	walks map[string]float64
}

func newSimSource(name string, typ schema.SourceType, client chainrpc.Client, seed int64) *simSource {
	return &simSource{
		name:   name,
		typ:    typ,
		client: client,
		rng:    rand.New(rand.NewSource(seed)),
		walks:  make(map[string]float64),
	}
}

func (s *simSource) Name() string            { return s.name }
func (s *simSource) Type() schema.SourceType { return s.typ }

// walk advances the per-(coin,chain) random walk and returns its value.
func (s *simSource) walk(coin, chain string, drift, bound float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := coin + "|" + chain
	v := s.walks[key] + (s.rng.Float64()-0.5)*drift
	if v > bound {
		v = bound
	}
	if v < -bound {
		v = -bound
	}
	s.walks[key] = v
	return v
}

func (s *simSource) random() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// newEvent builds the event skeleton and anchors it to the chain head when
// a client is available.
func (s *simSource) newEvent(ctx context.Context, coin, chain string) *schema.RiskEvent {
	e := schema.NewRiskEvent(coin, chain, s.name)
	e.SourceType = s.typ

	if s.client != nil {
		if head, err := s.client.Height(ctx); err == nil {
			if header, err := s.client.BlockAt(ctx, head); err == nil {
				e.BlockNumber = &header.Number
				e.BlockHash = header.Hash
			}
		}
	}
	return e
}

// PriceSource simulates an oracle price feed near the peg.
type PriceSource struct{ *simSource }

// NewPriceSource builds a simulated price feed. client may be nil for an
// off-chain feed.
func NewPriceSource(name string, client chainrpc.Client, seed int64) *PriceSource {
	return &PriceSource{newSimSource(name, schema.SourcePrice, client, seed)}
}

func (s *PriceSource) Fetch(ctx context.Context, coin, chain string) (*schema.RiskEvent, error) {
	e := s.newEvent(ctx, coin, chain)
	e.Price = schema.Float64(1.0 + s.walk(coin, chain, 0.0008, 0.01))
	e.Volume = schema.Float64(1e6 + s.random()*5e6)
	return e, nil
}

// LiquiditySource simulates a pool-depth feed.
type LiquiditySource struct{ *simSource }

func NewLiquiditySource(name string, client chainrpc.Client, seed int64) *LiquiditySource {
	return &LiquiditySource{newSimSource(name, schema.SourceLiquidity, client, seed)}
}

func (s *LiquiditySource) Fetch(ctx context.Context, coin, chain string) (*schema.RiskEvent, error) {
	e := s.newEvent(ctx, coin, chain)
	e.LiquidityDepth = schema.Float64(1e8 * (1 + s.walk(coin, chain, 0.05, 0.5)))
	return e, nil
}

// SupplySource simulates mint/burn flow observation.
type SupplySource struct{ *simSource }

func NewSupplySource(name string, client chainrpc.Client, seed int64) *SupplySource {
	return &SupplySource{newSimSource(name, schema.SourceSupply, client, seed)}
}

func (s *SupplySource) Fetch(ctx context.Context, coin, chain string) (*schema.RiskEvent, error) {
	e := s.newEvent(ctx, coin, chain)
	e.NetSupplyChange = schema.Float64((s.random() - 0.5) * 2e6)
	return e, nil
}

// VolatilitySource simulates a market-volatility estimate. Off-chain.
type VolatilitySource struct{ *simSource }

func NewVolatilitySource(name string, seed int64) *VolatilitySource {
	return &VolatilitySource{newSimSource(name, schema.SourceVolatility, nil, seed)}
}

func (s *VolatilitySource) Fetch(ctx context.Context, coin, chain string) (*schema.RiskEvent, error) {
	e := s.newEvent(ctx, coin, chain)
	e.MarketVolatility = schema.Float64(math.Abs(s.walk(coin, chain, 0.0004, 0.05)) + 1e-4)
	return e, nil
}

// SentimentSource simulates an aggregate sentiment score in [-1, 1].
type SentimentSource struct{ *simSource }

func NewSentimentSource(name string, seed int64) *SentimentSource {
	return &SentimentSource{newSimSource(name, schema.SourceSentiment, nil, seed)}
}

func (s *SentimentSource) Fetch(ctx context.Context, coin, chain string) (*schema.RiskEvent, error) {
	e := s.newEvent(ctx, coin, chain)
	e.SentimentScore = schema.Float64(s.walk(coin, chain, 0.1, 1.0))
	return e, nil
}
