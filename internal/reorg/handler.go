// Package reorg turns detected chain reorganizations into versioned
// correction events. Invalidation and correction are synchronous: inputs
// define outputs, and the only side effects are the version map and the
// per-chain reorg log.
package reorg

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/metrics"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// replacementMatchWindow bounds the timestamp distance between an
// invalidated event and its candidate replacement.
const replacementMatchWindow = 60 * time.Second

// Stats is a point-in-time view of handler counters.
type Stats struct {
	ReorgsHandled      uint64 `json:"reorgs_handled"`
	EventsInvalidated  uint64 `json:"events_invalidated"`
	CorrectionsEmitted uint64 `json:"corrections_emitted"`
	Orphaned           uint64 `json:"orphaned"`
}

// Handler produces correction events for reorged-out events. Handling is
// serialized per chain; versions for a given event_id are assigned under
// this single writer.
type Handler struct {
	logger *Log
	now    func() time.Time

	mu       sync.Mutex
	chainMu  map[string]*sync.Mutex
	versions map[string]int // event_id -> latest version
	stats    Stats
}

// NewHandler builds a handler. logger may be nil to disable the reorg log.
func NewHandler(logger *Log) *Handler {
	return &Handler{
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		chainMu:  make(map[string]*sync.Mutex),
		versions: make(map[string]int),
	}
}

func (h *Handler) lockChain(chain string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	mu, ok := h.chainMu[chain]
	if !ok {
		mu = &sync.Mutex{}
		h.chainMu[chain] = mu
	}
	return mu
}

// HandleReorg invalidates the affected events and emits one correction per
// event that has a matching replacement. Events without a replacement stay
// invalidated with no correction (pruned in the reorg).
func (h *Handler) HandleReorg(ctx context.Context, chain string, affected, replacements []*schema.RiskEvent) ([]*schema.RiskEvent, error) {
	if len(affected) == 0 {
		return nil, nil
	}
	chainLock := h.lockChain(chain)
	chainLock.Lock()
	defer chainLock.Unlock()

	now := h.now()
	corrections := make([]*schema.RiskEvent, 0, len(affected))
	affectedIDs := make([]string, 0, len(affected))
	var orphaned int

	for _, event := range affected {
		affectedIDs = append(affectedIDs, event.EventID)
		h.invalidate(event, now)

		replacement := matchReplacement(event, replacements)
		if replacement == nil {
			orphaned++
			log.Warn().Str("chain", chain).Str("event_id", event.EventID).
				Msg("no replacement for reorged event")
			continue
		}

		correction := h.correct(event, replacement, now)
		event.ReplacementEventID = correction.EventID
		corrections = append(corrections, correction)
		metrics.CorrectionsEmitted.WithLabelValues(chain).Inc()
	}

	h.mu.Lock()
	h.stats.ReorgsHandled++
	h.stats.EventsInvalidated += uint64(len(affected))
	h.stats.CorrectionsEmitted += uint64(len(corrections))
	h.stats.Orphaned += uint64(orphaned)
	h.mu.Unlock()

	if h.logger != nil {
		record := buildRecord(chain, now, affected, replacements, affectedIDs)
		if err := h.logger.Append(record); err != nil {
			log.Error().Str("chain", chain).Err(err).Msg("failed to append reorg record")
		}
	}

	log.Info().Str("chain", chain).Int("affected", len(affected)).
		Int("corrections", len(corrections)).Int("orphaned", orphaned).
		Msg("reorg handled")
	return corrections, nil
}

func (h *Handler) invalidate(event *schema.RiskEvent, now time.Time) {
	event.Invalidated = true
	event.ReorgDetectedAt = &now
	if event.OriginalBlockNumber == nil {
		event.OriginalBlockNumber = event.BlockNumber
	}
}

// correct builds the replacement-bearing correction: same event_id, next
// version, payload and block anchor from the replacement, finality reset.
func (h *Handler) correct(event, replacement *schema.RiskEvent, now time.Time) *schema.RiskEvent {
	h.mu.Lock()
	prev, ok := h.versions[event.EventID]
	if !ok {
		prev = event.EventVersion
	}
	next := prev + 1
	h.versions[event.EventID] = next
	h.mu.Unlock()

	correction := &schema.RiskEvent{
		EventID:   event.EventID,
		Timestamp: replacement.Timestamp,
		Coin:      event.Coin,
		Chain:     event.Chain,
		Source:    event.Source,

		SourceType: replacement.SourceType,

		Price:            replacement.Price,
		Volume:           replacement.Volume,
		LiquidityDepth:   replacement.LiquidityDepth,
		NetSupplyChange:  replacement.NetSupplyChange,
		MarketVolatility: replacement.MarketVolatility,
		SentimentScore:   replacement.SentimentScore,

		BlockNumber: replacement.BlockNumber,
		TxHash:      replacement.TxHash,
		BlockHash:   replacement.BlockHash,

		FinalityTier:       schema.Tier1,
		TemporalConfidence: schema.Tier1.Confidence(),
		WindowState:        schema.WindowOpen,
		AggregationLevel:   schema.LevelRaw,

		EventVersion:        next,
		OriginalBlockNumber: event.OriginalBlockNumber,
		ReorgDetectedAt:     &now,

		QualityScore:     replacement.QualityScore,
		SourceImportance: event.SourceImportance,
	}
	if correction.QualityScore == 0 {
		correction.QualityScore = 1.0
	}
	return correction
}

// matchReplacement finds a replacement with the same coin and source whose
// timestamp is within the match window.
func matchReplacement(event *schema.RiskEvent, replacements []*schema.RiskEvent) *schema.RiskEvent {
	for _, r := range replacements {
		if r.Coin != event.Coin || r.Source != event.Source {
			continue
		}
		delta := r.Timestamp.Sub(event.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= replacementMatchWindow {
			return r
		}
	}
	return nil
}

// Version returns the latest assigned version for an event id, or 0.
func (h *Handler) Version(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.versions[eventID]
}

// ShouldDefer reports whether a consumer should wait before trusting an
// on-chain event: not yet finalized and under the minimum confirmations.
func ShouldDefer(event *schema.RiskEvent, minConfirmations uint64) bool {
	if !event.IsOnChain() || event.IsFinalized {
		return false
	}
	return event.ConfirmationCount < minConfirmations
}

// Stats returns a copy of the handler counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// buildRecord derives the diagnostics record for one handled reorg. Block
// bounds come from the affected events and replacements; depth is the span
// of invalidated blocks.
func buildRecord(chain string, now time.Time, affected, replacements []*schema.RiskEvent, ids []string) *schema.ReorgRecord {
	record := &schema.ReorgRecord{
		Chain:            chain,
		Timestamp:        now,
		AffectedEventIDs: ids,
	}

	var lo, hi uint64
	for _, e := range affected {
		b := e.OriginalBlockNumber
		if b == nil {
			b = e.BlockNumber
		}
		if b == nil {
			continue
		}
		if lo == 0 || *b < lo {
			lo = *b
		}
		if *b > hi {
			hi = *b
		}
	}
	record.OriginalBlock = lo
	if hi >= lo && lo > 0 {
		record.Depth = int(hi - lo + 1)
	}

	for _, r := range replacements {
		if r.BlockNumber != nil && *r.BlockNumber > record.NewBlock {
			record.NewBlock = *r.BlockNumber
		}
	}
	return record
}
