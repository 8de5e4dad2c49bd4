package window

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablewatch/stablewatch/internal/aggregate"
	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
	"github.com/stablewatch/stablewatch/internal/tcs"
)

func newTestManager(emit EmitFunc) *Manager {
	cfg := config.Default()
	agg := aggregate.New(cfg, tcs.NewCalculator(cfg.TCS))
	return NewManager(cfg.Window, nil, agg, emit)
}

func finalizedPrice(coin, chain string, price float64, ts time.Time) *schema.RiskEvent {
	e := schema.NewRiskEvent(coin, chain, "price_feed")
	e.SourceType = schema.SourcePrice
	e.Price = schema.Float64(price)
	e.Timestamp = ts
	e.FinalityTier = schema.Tier3
	e.IsFinalized = true
	return e
}

func TestWindowAlignment(t *testing.T) {
	m := newTestManager(nil)

	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base, m.WindowStart(base))
	assert.Equal(t, base, m.WindowStart(base.Add(299*time.Second)))
	assert.Equal(t, base.Add(300*time.Second), m.WindowStart(base.Add(300*time.Second)))

	// Any timestamp maps to exactly one window: boundaries are contiguous
	// and non-overlapping.
	for i := 0; i < 900; i += 37 {
		ts := base.Add(time.Duration(i) * time.Second)
		start := m.WindowStart(ts)
		assert.False(t, ts.Before(start))
		assert.True(t, ts.Before(start.Add(300*time.Second)))
	}
}

func TestAddAttachesWindowBinding(t *testing.T) {
	m := newTestManager(nil)
	ts := time.Date(2026, 8, 26, 12, 1, 10, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0, ts)

	require.True(t, m.Add(e))

	aligned := ts.Unix() / 300 * 300
	assert.Equal(t, "w_"+strconv.FormatInt(aligned, 10), e.WindowID)
	assert.Equal(t, schema.WindowOpen, e.WindowState)
	require.NotNil(t, e.WindowStart)
	require.NotNil(t, e.WindowEnd)
	assert.Equal(t, 300*time.Second, e.WindowEnd.Sub(*e.WindowStart))
}

func TestOpenMovesToProvisionalAfterDelay(t *testing.T) {
	m := newTestManager(nil)
	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0, start.Add(10*time.Second))
	require.True(t, m.Add(e))

	m.now = func() time.Time { return start.Add(300 * time.Second) }
	m.Tick(context.Background())
	assert.Equal(t, schema.WindowOpen, m.Window(e.WindowID).State)

	m.now = func() time.Time { return start.Add(361 * time.Second) }
	m.Tick(context.Background())
	assert.Equal(t, schema.WindowProvisional, m.Window(e.WindowID).State)
	assert.Equal(t, schema.WindowProvisional, e.WindowState)
}

func TestLateEventDropped(t *testing.T) {
	m := newTestManager(nil)
	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	first := finalizedPrice("USDC", "ethereum", 1.0, start.Add(10*time.Second))
	require.True(t, m.Add(first))

	m.now = func() time.Time { return start.Add(400 * time.Second) }
	m.Tick(context.Background())

	late := finalizedPrice("USDC", "ethereum", 1.0, start.Add(20*time.Second))
	assert.False(t, m.Add(late))
	assert.Empty(t, late.WindowID)
	assert.Equal(t, uint64(1), m.Stats().Dropped)
}

func TestFinalizeEmitsSnapshotWhenAllEventsSettled(t *testing.T) {
	var emitted []*schema.AggregatedRiskSnapshot
	m := newTestManager(func(s *schema.AggregatedRiskSnapshot) { emitted = append(emitted, s) })

	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0003, start.Add(10*time.Second))
	require.True(t, m.Add(e))

	m.now = func() time.Time { return start.Add(1300 * time.Second) }
	m.Tick(context.Background()) // OPEN -> PROVISIONAL
	m.Tick(context.Background()) // PROVISIONAL -> FINAL

	w := m.Window(e.WindowID)
	require.NotNil(t, w)
	assert.Equal(t, schema.WindowFinal, w.State)
	require.Len(t, emitted, 1)
	assert.Equal(t, "USDC", emitted[0].Coin)
	assert.Equal(t, e.WindowID, emitted[0].WindowID)
	assert.Equal(t, 1.0003, *emitted[0].AvgPrice)
	assert.Equal(t, uint64(1), m.Stats().Finalized)
}

func TestProvisionalHeldWhileEventsUnsettled(t *testing.T) {
	var emitted int
	m := newTestManager(func(*schema.AggregatedRiskSnapshot) { emitted++ })

	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0, start.Add(10*time.Second))
	e.IsFinalized = false
	e.FinalityTier = schema.Tier2
	require.True(t, m.Add(e))

	m.now = func() time.Time { return start.Add(1300 * time.Second) }
	m.Tick(context.Background())
	m.Tick(context.Background())

	assert.Equal(t, schema.WindowProvisional, m.Window(e.WindowID).State)
	assert.Zero(t, emitted)

	// Once the laggard settles, the next tick finalizes.
	e.IsFinalized = true
	m.Tick(context.Background())
	assert.Equal(t, schema.WindowFinal, m.Window(e.WindowID).State)
	assert.Equal(t, 1, emitted)
}

func TestInvalidatedEventsCountAsSettled(t *testing.T) {
	var emitted int
	m := newTestManager(func(*schema.AggregatedRiskSnapshot) { emitted++ })

	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0, start.Add(10*time.Second))
	e.IsFinalized = false
	e.Invalidated = true
	require.True(t, m.Add(e))

	m.now = func() time.Time { return start.Add(1300 * time.Second) }
	m.Tick(context.Background())
	m.Tick(context.Background())

	assert.Equal(t, schema.WindowFinal, m.Window(e.WindowID).State)
	assert.Equal(t, 1, emitted)
}

func TestSnapshotPerCoin(t *testing.T) {
	coins := make(map[string]bool)
	m := newTestManager(func(s *schema.AggregatedRiskSnapshot) { coins[s.Coin] = true })

	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	require.True(t, m.Add(finalizedPrice("USDC", "ethereum", 1.0, start.Add(5*time.Second))))
	require.True(t, m.Add(finalizedPrice("DAI", "ethereum", 0.999, start.Add(6*time.Second))))

	m.now = func() time.Time { return start.Add(1300 * time.Second) }
	m.Tick(context.Background())
	m.Tick(context.Background())

	assert.True(t, coins["USDC"])
	assert.True(t, coins["DAI"])
}

func TestBackpressureDropsAboveCapacity(t *testing.T) {
	cfg := config.Default()
	cfg.Window.MaxEventsPerWindow = 2
	agg := aggregate.New(cfg, tcs.NewCalculator(cfg.TCS))
	m := NewManager(cfg.Window, nil, agg, nil)

	ts := time.Date(2026, 8, 26, 12, 0, 10, 0, time.UTC)
	assert.True(t, m.Add(finalizedPrice("USDC", "ethereum", 1.0, ts)))
	assert.True(t, m.Add(finalizedPrice("USDC", "ethereum", 1.0001, ts)))
	assert.False(t, m.Add(finalizedPrice("USDC", "ethereum", 1.0002, ts)))
	assert.Equal(t, uint64(1), m.Stats().Dropped)
}

func TestJanitorEvictsOldFinalWindows(t *testing.T) {
	m := newTestManager(nil)
	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0, start.Add(10*time.Second))
	require.True(t, m.Add(e))

	m.now = func() time.Time { return start.Add(1300 * time.Second) }
	m.Tick(context.Background())
	m.Tick(context.Background())
	require.Equal(t, schema.WindowFinal, m.Window(e.WindowID).State)

	m.now = func() time.Time { return start.Add(25 * time.Hour) }
	m.Tick(context.Background())
	assert.Nil(t, m.Window(e.WindowID))
}

func TestJanitorReportsEvictedEvents(t *testing.T) {
	m := newTestManager(nil)
	var released []string
	m.OnEvict(func(events []*schema.RiskEvent) {
		for _, e := range events {
			released = append(released, e.EventID)
		}
	})

	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0, start.Add(10*time.Second))
	require.True(t, m.Add(e))

	m.now = func() time.Time { return start.Add(1300 * time.Second) }
	m.Tick(context.Background())
	m.Tick(context.Background())
	require.Equal(t, schema.WindowFinal, m.Window(e.WindowID).State)
	assert.Empty(t, released)

	m.now = func() time.Time { return start.Add(25 * time.Hour) }
	m.Tick(context.Background())
	assert.Nil(t, m.Window(e.WindowID))
	assert.Equal(t, []string{e.EventID}, released)
}

func TestExpiredEventCannotRecreateEvictedWindow(t *testing.T) {
	var emitted int
	m := newTestManager(func(*schema.AggregatedRiskSnapshot) { emitted++ })

	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e := finalizedPrice("USDC", "ethereum", 1.0, start.Add(10*time.Second))
	require.True(t, m.Add(e))

	m.now = func() time.Time { return start.Add(1300 * time.Second) }
	m.Tick(context.Background())
	m.Tick(context.Background())
	require.Equal(t, 1, emitted)

	m.now = func() time.Time { return start.Add(25 * time.Hour) }
	m.Tick(context.Background())
	require.Nil(t, m.Window(e.WindowID))

	// An ancient straggler must not reopen the already-emitted window id.
	stale := finalizedPrice("USDC", "ethereum", 1.0, start.Add(20*time.Second))
	assert.False(t, m.Add(stale))
	assert.Nil(t, m.Window(e.WindowID))

	m.Tick(context.Background())
	assert.Equal(t, 1, emitted)
}
