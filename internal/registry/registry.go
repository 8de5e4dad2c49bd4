// Package registry tracks the monitored coin catalog and each coin's
// latest observed state, updated from emitted snapshots.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// CoinStatus is the runtime view of one monitored coin.
type CoinStatus struct {
	Symbol string   `json:"symbol"`
	Name   string   `json:"name"`
	Chains []string `json:"chains"`

	LastPrice      *float64   `json:"last_price,omitempty"`
	LastTCS        float64    `json:"last_tcs"`
	IsDepegged     bool       `json:"is_depegged"`
	DepegSeverity  *float64   `json:"depeg_severity,omitempty"`
	LastSnapshotAt *time.Time `json:"last_snapshot_at,omitempty"`
	SnapshotCount  uint64     `json:"snapshot_count"`
}

// Registry holds the coin catalog and runtime status.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*config.CoinProfile
	status   map[string]*CoinStatus
}

// New builds a registry from the configured coin catalog.
func New(coins map[string]*config.CoinProfile) *Registry {
	r := &Registry{
		profiles: make(map[string]*config.CoinProfile, len(coins)),
		status:   make(map[string]*CoinStatus, len(coins)),
	}
	for symbol, profile := range coins {
		r.profiles[symbol] = profile
		r.status[symbol] = &CoinStatus{
			Symbol: symbol,
			Name:   profile.Name,
			Chains: profile.Chains,
		}
	}
	return r
}

// Profile returns the configured profile for a symbol, or nil.
func (r *Registry) Profile(symbol string) *config.CoinProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[symbol]
}

// Symbols returns the monitored symbols in sorted order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.profiles))
	for symbol := range r.profiles {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Observe folds an emitted snapshot into the coin's runtime status.
// Unknown coins are tracked too; sources may surface coins outside the
// configured catalog.
func (r *Registry) Observe(snapshot *schema.AggregatedRiskSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.status[snapshot.Coin]
	if !ok {
		log.Debug().Str("coin", snapshot.Coin).Msg("tracking unconfigured coin")
		status = &CoinStatus{Symbol: snapshot.Coin}
		r.status[snapshot.Coin] = status
	}

	status.LastPrice = snapshot.AvgPrice
	status.LastTCS = snapshot.TemporalConfidence
	status.IsDepegged = snapshot.IsDepegged
	status.DepegSeverity = snapshot.DepegSeverity
	ts := snapshot.Timestamp
	status.LastSnapshotAt = &ts
	status.SnapshotCount++
	status.Chains = snapshot.Chains
}

// Status returns a copy of one coin's runtime status, or nil.
func (r *Registry) Status(symbol string) *CoinStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.status[symbol]
	if !ok {
		return nil
	}
	copied := *s
	return &copied
}

// All returns copies of every tracked status, sorted by symbol.
func (r *Registry) All() []*CoinStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*CoinStatus, 0, len(r.status))
	for _, s := range r.status {
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Depegged returns the symbols currently flagged as depegged.
func (r *Registry) Depegged() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for symbol, s := range r.status {
		if s.IsDepegged {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}
