package finality

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/schema"
)

// Registry routes finality refreshes to the tracker for an event's chain.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Register installs a tracker for a chain, replacing any existing one.
func (r *Registry) Register(chain string, tracker *Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[chain] = tracker
}

// Tracker returns the tracker for a chain, or nil.
func (r *Registry) Tracker(chain string) *Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[chain]
}

// Refresh updates one event via its chain's tracker.
func (r *Registry) Refresh(ctx context.Context, event *schema.RiskEvent) error {
	tracker := r.Tracker(event.Chain)
	if tracker == nil {
		log.Warn().Str("chain", event.Chain).Str("event_id", event.EventID).
			Msg("no finality tracker for chain")
		return ErrUnknownChain
	}
	return tracker.Refresh(ctx, event)
}

// RefreshAll refreshes the not-yet-final events with bounded parallelism.
// Errors are absorbed per event; a failed refresh leaves the event at its
// last known tier.
func (r *Registry) RefreshAll(ctx context.Context, events []*schema.RiskEvent, parallelism int) {
	if parallelism < 1 {
		parallelism = 4
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for _, event := range events {
		if event.IsFinalized || event.Invalidated {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(e *schema.RiskEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := r.Refresh(ctx, e); err != nil {
				log.Debug().Str("event_id", e.EventID).Err(err).Msg("finality refresh failed")
			}
		}(event)
	}
	wg.Wait()
}
