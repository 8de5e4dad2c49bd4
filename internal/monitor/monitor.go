// Package monitor polls chain heads, caches recent block headers, and
// detects reorganizations by re-checking cached hashes against the live
// chain. Detected forks are handed to the reorg sink with the registered
// events whose blocks fall inside the affected range.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/chainrpc"
	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/metrics"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// recheckDepth caps the number of cached heights re-verified per tick.
const recheckDepth = 10

// backtrackLimit caps the fork-point search below a detected mismatch.
const backtrackLimit = 100

// ReorgSink consumes a detected fork: the affected events and any
// replacements re-derived from the new canonical chain.
type ReorgSink interface {
	HandleReorg(ctx context.Context, chain string, affected, replacements []*schema.RiskEvent) ([]*schema.RiskEvent, error)
}

// ReplacementFetcher re-derives events from the new canonical chain for an
// affected height range. Chain-specific; a nil fetcher means corrections
// carry no replacements.
type ReplacementFetcher interface {
	FetchReplacements(ctx context.Context, chain string, fromBlock, toBlock uint64, affected []*schema.RiskEvent) ([]*schema.RiskEvent, error)
}

// Stats is a point-in-time view of a monitor's counters.
type Stats struct {
	Chain          string     `json:"chain"`
	Polls          uint64     `json:"polls"`
	PollErrors     uint64     `json:"poll_errors"`
	ReorgsDetected uint64     `json:"reorgs_detected"`
	CacheSize      int        `json:"cache_size"`
	Head           uint64     `json:"head"`
	LastPoll       *time.Time `json:"last_poll,omitempty"`
	LastReorg      *time.Time `json:"last_reorg,omitempty"`
}

// Monitor watches one chain.
type Monitor struct {
	profile  *config.ChainProfile
	client   chainrpc.Client
	sink     ReorgSink
	fetcher  ReplacementFetcher
	cache    *headerCache
	interval time.Duration
	now      func() time.Time

	mu            sync.Mutex
	registered    map[string]*schema.RiskEvent // event_id -> event, on-chain only
	onCorrections func([]*schema.RiskEvent)
	stats         Stats
}

// New builds a monitor for a chain profile. sink may be nil (detection
// only); fetcher may be nil (no replacements).
func New(profile *config.ChainProfile, client chainrpc.Client, sink ReorgSink, fetcher ReplacementFetcher) *Monitor {
	interval := time.Duration(profile.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		profile:    profile,
		client:     client,
		sink:       sink,
		fetcher:    fetcher,
		cache:      newHeaderCache(profile.MaxReorgDepth),
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
		registered: make(map[string]*schema.RiskEvent),
		stats:      Stats{Chain: profile.Name},
	}
}

// Register adds an on-chain event to the affected-event lookup. Events
// without a block number or from another chain are ignored.
func (m *Monitor) Register(event *schema.RiskEvent) {
	if event.BlockNumber == nil || event.Chain != m.profile.Name {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[event.EventID] = event
}

// Unregister drops events the janitor has evicted.
func (m *Monitor) Unregister(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registered, eventID)
}

// OnCorrections registers a callback receiving the correction events the
// sink produces for each handled reorg. Must be set before Run.
func (m *Monitor) OnCorrections(fn func([]*schema.RiskEvent)) {
	m.onCorrections = fn
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().Str("chain", m.profile.Name).Dur("interval", m.interval).
		Msg("block monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("chain", m.profile.Name).Msg("block monitor stopped")
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				log.Debug().Str("chain", m.profile.Name).Err(err).Msg("poll failed")
			}
		}
	}
}

// Tick runs one poll iteration: refresh the head, verify recent cached
// heights, and dispatch any detected fork.
func (m *Monitor) Tick(ctx context.Context) error {
	metrics.Polls.WithLabelValues(m.profile.Name).Inc()
	now := m.now()

	m.mu.Lock()
	m.stats.Polls++
	m.stats.LastPoll = &now
	m.mu.Unlock()

	head, err := m.client.Height(ctx)
	if err != nil {
		m.pollError()
		return err
	}

	header, err := m.client.BlockAt(ctx, head)
	if err != nil {
		m.pollError()
		return err
	}
	m.cache.put(header)

	m.mu.Lock()
	m.stats.Head = head
	m.stats.CacheSize = m.cache.len()
	m.mu.Unlock()

	return m.checkForks(ctx, head)
}

func (m *Monitor) pollError() {
	metrics.PollErrors.WithLabelValues(m.profile.Name).Inc()
	m.mu.Lock()
	m.stats.PollErrors++
	m.mu.Unlock()
}

// checkForks re-fetches the most recent cached heights below head. A
// missing block or a hash mismatch at any of them is a fork.
func (m *Monitor) checkForks(ctx context.Context, head uint64) error {
	n := recheckDepth
	if size := m.cache.len(); size < n {
		n = size
	}
	for _, height := range m.cache.recentBelow(head, n) {
		cached, ok := m.cache.get(height)
		if !ok {
			continue
		}
		live, err := m.client.BlockAt(ctx, height)
		if err != nil || live.Hash != cached.Hash {
			return m.onFork(ctx, height, head)
		}
	}
	return nil
}

// onFork backtracks to the fork point, collects affected events, and hands
// them to the sink. Cache entries in the affected range are cleared so the
// next tick re-primes from the new canonical chain.
func (m *Monitor) onFork(ctx context.Context, detected, head uint64) error {
	forkPoint := m.findForkPoint(ctx, detected)
	from, to := forkPoint+1, detected
	depth := to - from + 1

	now := m.now()
	metrics.ReorgsDetected.WithLabelValues(m.profile.Name).Inc()
	metrics.ReorgDepth.WithLabelValues(m.profile.Name).Observe(float64(depth))

	m.mu.Lock()
	m.stats.ReorgsDetected++
	m.stats.LastReorg = &now
	m.mu.Unlock()

	affected := m.affectedEvents(from, to)
	log.Warn().Str("chain", m.profile.Name).
		Uint64("fork_point", forkPoint).Uint64("detected", detected).
		Uint64("depth", depth).Int("affected_events", len(affected)).
		Msg("reorg detected")

	m.cache.clearRange(from, to)

	if m.sink == nil || len(affected) == 0 {
		return nil
	}

	var replacements []*schema.RiskEvent
	if m.fetcher != nil {
		var err error
		replacements, err = m.fetcher.FetchReplacements(ctx, m.profile.Name, from, to, affected)
		if err != nil {
			log.Warn().Str("chain", m.profile.Name).Err(err).
				Msg("replacement fetch failed, corrections will carry no replacements")
		}
	}

	corrections, err := m.sink.HandleReorg(ctx, m.profile.Name, affected, replacements)
	if err != nil {
		return err
	}
	if m.onCorrections != nil && len(corrections) > 0 {
		m.onCorrections(corrections)
	}
	return nil
}

// findForkPoint walks down from the mismatch height until the cached hash
// matches the live chain again, bounded by the cache tail and the
// backtrack limit.
func (m *Monitor) findForkPoint(ctx context.Context, detected uint64) uint64 {
	lowest, ok := m.cache.lowest()
	if !ok {
		return detected - 1
	}

	floor := lowest
	if detected > backtrackLimit && detected-backtrackLimit > floor {
		floor = detected - backtrackLimit
	}

	for height := detected; height > floor; height-- {
		cached, ok := m.cache.get(height - 1)
		if !ok {
			continue
		}
		live, err := m.client.BlockAt(ctx, height-1)
		if err == nil && live.Hash == cached.Hash {
			return height - 1
		}
	}
	if floor == 0 {
		return 0
	}
	return floor - 1
}

func (m *Monitor) affectedEvents(from, to uint64) []*schema.RiskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var affected []*schema.RiskEvent
	for _, e := range m.registered {
		if e.BlockNumber != nil && *e.BlockNumber >= from && *e.BlockNumber <= to {
			affected = append(affected, e)
		}
	}
	return affected
}

// Stats returns a copy of the monitor counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.CacheSize = m.cache.len()
	return s
}
