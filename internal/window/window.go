// Package window routes events into wall-clock-aligned time windows and
// drives each window through OPEN, PROVISIONAL and FINAL. A snapshot is
// emitted per coin when a window reaches FINAL.
package window

import (
	"fmt"
	"time"

	"github.com/stablewatch/stablewatch/internal/schema"
)

// Window is one fixed-duration aggregation bucket. Access is guarded by
// the manager's mutex.
type Window struct {
	ID    string
	Start time.Time
	End   time.Time
	State schema.WindowState

	Events []*schema.RiskEvent

	ProvisionalAt *time.Time
	FinalizedAt   *time.Time
}

func newWindow(start, end time.Time) *Window {
	return &Window{
		ID:    windowID(start),
		Start: start,
		End:   end,
		State: schema.WindowOpen,
	}
}

func windowID(start time.Time) string {
	return fmt.Sprintf("w_%d", start.Unix())
}

// attach writes the window binding onto an event.
func (w *Window) attach(event *schema.RiskEvent) {
	event.WindowID = w.ID
	event.WindowState = w.State
	start, end := w.Start, w.End
	event.WindowStart = &start
	event.WindowEnd = &end
}

// readyToFinalize reports whether every event is settled: finalized or
// invalidated by a reorg.
func (w *Window) readyToFinalize() bool {
	for _, e := range w.Events {
		if !e.IsFinalized && !e.Invalidated {
			return false
		}
	}
	return true
}

// pending counts events that are neither finalized nor invalidated.
func (w *Window) pending() int {
	n := 0
	for _, e := range w.Events {
		if !e.IsFinalized && !e.Invalidated {
			n++
		}
	}
	return n
}

// byCoinAndChain groups the window's events for aggregation.
func (w *Window) byCoinAndChain() map[string]map[string][]*schema.RiskEvent {
	out := make(map[string]map[string][]*schema.RiskEvent)
	for _, e := range w.Events {
		chains, ok := out[e.Coin]
		if !ok {
			chains = make(map[string][]*schema.RiskEvent)
			out[e.Coin] = chains
		}
		chains[e.Chain] = append(chains[e.Chain], e)
	}
	return out
}
