package window

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/aggregate"
	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/finality"
	"github.com/stablewatch/stablewatch/internal/metrics"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// finalityParallelism bounds concurrent finality refreshes per tick.
const finalityParallelism = 8

// EmitFunc receives every snapshot produced by a FINAL window.
type EmitFunc func(*schema.AggregatedRiskSnapshot)

// Stats is a point-in-time view of the manager.
type Stats struct {
	Live        int    `json:"live_windows"`
	Open        int    `json:"open"`
	Provisional int    `json:"provisional"`
	Final       int    `json:"final"`
	Finalized   uint64 `json:"finalized_total"`
	Dropped     uint64 `json:"dropped_total"`
}

// Manager owns the window map and the scheduler that drives transitions.
type Manager struct {
	cfg        config.WindowConfig
	finality   *finality.Registry
	aggregator *aggregate.Aggregator
	emit       EmitFunc
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]*Window
	onEvict func([]*schema.RiskEvent)
	stats   Stats
}

// NewManager builds a manager. emit may be nil to discard snapshots.
func NewManager(cfg config.WindowConfig, reg *finality.Registry, agg *aggregate.Aggregator, emit EmitFunc) *Manager {
	if emit == nil {
		emit = func(*schema.AggregatedRiskSnapshot) {}
	}
	return &Manager{
		cfg:        cfg,
		finality:   reg,
		aggregator: agg,
		emit:       emit,
		now:        func() time.Time { return time.Now().UTC() },
		windows:    make(map[string]*Window),
	}
}

// OnEvict registers a callback receiving the events of every window the
// janitor evicts, so downstream holders can release them. Must be set
// before Run.
func (m *Manager) OnEvict(fn func([]*schema.RiskEvent)) {
	m.onEvict = fn
}

// WindowStart returns the aligned start of the window containing t.
func (m *Manager) WindowStart(t time.Time) time.Time {
	size := int64(m.cfg.WindowSizeSec)
	return time.Unix(t.Unix()/size*size, 0).UTC()
}

// Add routes an event into its window. Events for non-OPEN windows are
// dropped: a closed window never reopens for late arrivals.
func (m *Manager) Add(event *schema.RiskEvent) bool {
	start := m.WindowStart(event.Timestamp)
	end := start.Add(time.Duration(m.cfg.WindowSizeSec) * time.Second)

	m.mu.Lock()
	defer m.mu.Unlock()

	id := windowID(start)
	w, ok := m.windows[id]
	if !ok {
		// A window end beyond the retention horizon was already evicted;
		// recreating it would let an emitted window_id emit twice.
		retention := time.Duration(m.cfg.RetentionHours) * time.Hour
		if retention > 0 && m.now().Sub(end) > retention {
			m.stats.Dropped++
			metrics.EventsDropped.WithLabelValues("expired").Inc()
			log.Warn().Str("event_id", event.EventID).Str("window_id", id).
				Msg("event beyond retention horizon dropped")
			return false
		}
		w = newWindow(start, end)
		m.windows[id] = w
	}

	if w.State != schema.WindowOpen {
		m.stats.Dropped++
		metrics.EventsDropped.WithLabelValues("late").Inc()
		log.Warn().Str("event_id", event.EventID).Str("window_id", id).
			Str("state", string(w.State)).Msg("late event dropped")
		return false
	}
	if len(w.Events) >= m.cfg.MaxEventsPerWindow {
		m.stats.Dropped++
		metrics.EventsDropped.WithLabelValues("backpressure").Inc()
		log.Warn().Str("window_id", id).Int("events", len(w.Events)).
			Msg("window at capacity, event dropped")
		return false
	}

	w.attach(event)
	w.Events = append(w.Events, event)
	metrics.EventsIngested.WithLabelValues(event.Coin, event.Chain).Inc()
	return true
}

// Run ticks the scheduler until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.TickIntervalSec) * time.Second
	log.Info().Dur("interval", interval).Msg("window scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("window scheduler stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick advances every live window one step and runs the janitor.
func (m *Manager) Tick(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	live := make([]*Window, 0, len(m.windows))
	for _, w := range m.windows {
		live = append(live, w)
	}
	m.mu.Unlock()

	var oldestStuck time.Duration
	for _, w := range live {
		m.advance(ctx, w, now)
		if stuck := m.stuckAge(w, now); stuck > oldestStuck {
			oldestStuck = stuck
		}
	}
	metrics.StuckProvisionalAge.Set(oldestStuck.Seconds())

	m.janitor(now)
	m.updateGauges()
}

// advance tries the state transitions for one window.
func (m *Manager) advance(ctx context.Context, w *Window, now time.Time) {
	m.mu.Lock()
	state := w.State
	m.mu.Unlock()

	switch state {
	case schema.WindowOpen:
		if now.After(w.End.Add(time.Duration(m.cfg.ProvisionalDelaySec) * time.Second)) {
			m.toProvisional(w, now)
		}
	case schema.WindowProvisional:
		m.refreshFinality(ctx, w)
		deadline := w.End.Add(time.Duration(m.cfg.FinalizationDelaySec) * time.Second)
		if !now.After(deadline) {
			return
		}
		m.mu.Lock()
		ready := w.readyToFinalize()
		pending := w.pending()
		m.mu.Unlock()
		if !ready {
			// Grace extension: hold PROVISIONAL until every event settles.
			log.Warn().Str("window_id", w.ID).Int("pending", pending).
				Msg("finalization deadline passed, holding window in provisional")
			return
		}
		m.finalize(w, now)
	}
}

func (m *Manager) toProvisional(w *Window, now time.Time) {
	m.mu.Lock()
	w.State = schema.WindowProvisional
	w.ProvisionalAt = &now
	for _, e := range w.Events {
		e.WindowState = schema.WindowProvisional
	}
	count := len(w.Events)
	m.mu.Unlock()

	log.Info().Str("window_id", w.ID).Int("events", count).
		Msg("window moved to provisional")
}

func (m *Manager) refreshFinality(ctx context.Context, w *Window) {
	if m.finality == nil {
		return
	}
	m.mu.Lock()
	events := make([]*schema.RiskEvent, len(w.Events))
	copy(events, w.Events)
	m.mu.Unlock()

	m.finality.RefreshAll(ctx, events, finalityParallelism)
}

func (m *Manager) finalize(w *Window, now time.Time) {
	m.mu.Lock()
	w.State = schema.WindowFinal
	w.FinalizedAt = &now
	for _, e := range w.Events {
		e.WindowState = schema.WindowFinal
	}
	grouped := w.byCoinAndChain()
	m.stats.Finalized++
	m.mu.Unlock()

	metrics.WindowsFinalized.Inc()
	log.Info().Str("window_id", w.ID).Int("coins", len(grouped)).
		Msg("window finalized")

	for coin, byChain := range grouped {
		snapshot := m.aggregator.Aggregate(coin, w.ID, byChain, now)
		metrics.SnapshotsEmitted.WithLabelValues(coin).Inc()
		m.emit(snapshot)
	}
}

// stuckAge is how long a window has been held past its finalization
// deadline, zero when not stuck.
func (m *Manager) stuckAge(w *Window, now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.State != schema.WindowProvisional || w.ProvisionalAt == nil {
		return 0
	}
	deadline := w.End.Add(time.Duration(m.cfg.FinalizationDelaySec) * time.Second)
	if now.Before(deadline) {
		return 0
	}
	return now.Sub(deadline)
}

// janitor evicts FINAL windows older than the retention horizon and
// reports the evicted events so registrations elsewhere can be released.
func (m *Manager) janitor(now time.Time) {
	retention := time.Duration(m.cfg.RetentionHours) * time.Hour

	m.mu.Lock()
	var evicted []*schema.RiskEvent
	for id, w := range m.windows {
		if w.State == schema.WindowFinal && w.FinalizedAt != nil &&
			now.Sub(*w.FinalizedAt) > retention {
			delete(m.windows, id)
			evicted = append(evicted, w.Events...)
			log.Debug().Str("window_id", id).Msg("window evicted")
		}
	}
	m.mu.Unlock()

	if m.onEvict != nil && len(evicted) > 0 {
		m.onEvict(evicted)
	}
}

func (m *Manager) updateGauges() {
	m.mu.Lock()
	var open, provisional, final int
	for _, w := range m.windows {
		switch w.State {
		case schema.WindowOpen:
			open++
		case schema.WindowProvisional:
			provisional++
		case schema.WindowFinal:
			final++
		}
	}
	m.stats.Live = len(m.windows)
	m.stats.Open = open
	m.stats.Provisional = provisional
	m.stats.Final = final
	m.mu.Unlock()

	metrics.OpenWindows.WithLabelValues(string(schema.WindowOpen)).Set(float64(open))
	metrics.OpenWindows.WithLabelValues(string(schema.WindowProvisional)).Set(float64(provisional))
	metrics.OpenWindows.WithLabelValues(string(schema.WindowFinal)).Set(float64(final))
}

// Window returns the live window with the given id, or nil.
func (m *Manager) Window(id string) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windows[id]
}

// Stats returns a copy of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	return s
}
