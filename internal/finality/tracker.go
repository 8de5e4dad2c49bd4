// Package finality assigns finality tiers to risk events. On-chain events
// are tiered by confirmation depth against the live head; off-chain events
// are tiered by age using the chain's time estimates.
package finality

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/chainrpc"
	"github.com/stablewatch/stablewatch/internal/config"
	"github.com/stablewatch/stablewatch/internal/schema"
)

// ErrUnknownChain is returned when no tracker is registered for a chain.
var ErrUnknownChain = errors.New("unknown chain")

// Tracker tracks finality for one chain.
type Tracker struct {
	profile *config.ChainProfile
	client  chainrpc.Client
	now     func() time.Time
}

// NewTracker builds a tracker for a chain profile over its RPC client.
func NewTracker(profile *config.ChainProfile, client chainrpc.Client) *Tracker {
	return &Tracker{profile: profile, client: client, now: func() time.Time { return time.Now().UTC() }}
}

// TierForConfirmations maps a confirmation count onto a tier.
func (t *Tracker) TierForConfirmations(confirmations uint64) schema.FinalityTier {
	switch {
	case confirmations >= t.profile.Tier3Confirmations:
		return schema.Tier3
	case confirmations >= t.profile.Tier2Confirmations:
		return schema.Tier2
	default:
		return schema.Tier1
	}
}

// TierForAge maps an event age onto a tier using the chain's wall-clock
// finality estimates.
func (t *Tracker) TierForAge(age time.Duration) schema.FinalityTier {
	switch {
	case age >= time.Duration(t.profile.Tier3TimeSec)*time.Second:
		return schema.Tier3
	case age >= time.Duration(t.profile.Tier2TimeSec)*time.Second:
		return schema.Tier2
	default:
		return schema.Tier1
	}
}

// Refresh updates the event's finality in place. It is idempotent and never
// downgrades: a transport failure leaves the event at its last known tier.
// A hash mismatch at the event's recorded block marks it invalidated; the
// reorg handler produces the correction.
func (t *Tracker) Refresh(ctx context.Context, event *schema.RiskEvent) error {
	if event.Invalidated {
		return nil
	}
	if !event.IsOnChain() {
		t.refreshOffChain(event)
		return nil
	}

	head, err := t.client.Height(ctx)
	if err != nil {
		log.Debug().Str("chain", t.profile.Name).Str("event_id", event.EventID).
			Err(err).Msg("finality refresh skipped, head unavailable")
		return err
	}

	header, err := t.client.BlockAt(ctx, *event.BlockNumber)
	if err != nil {
		if errors.Is(err, chainrpc.ErrBlockNotFound) {
			t.invalidate(event)
			return nil
		}
		return err
	}
	if event.BlockHash != "" && header.Hash != event.BlockHash {
		t.invalidate(event)
		return nil
	}

	var confirmations uint64
	if head >= *event.BlockNumber {
		confirmations = head - *event.BlockNumber + 1
	}
	event.ConfirmationCount = confirmations

	tier := t.TierForConfirmations(confirmations)
	t.applyTier(event, tier)
	return nil
}

func (t *Tracker) refreshOffChain(event *schema.RiskEvent) {
	age := t.now().Sub(event.Timestamp)
	t.applyTier(event, t.TierForAge(age))
}

// applyTier writes the tier and confidence, promoting only. Tier order is
// tier1 < tier2 < tier3, which matches confidence order.
func (t *Tracker) applyTier(event *schema.RiskEvent, tier schema.FinalityTier) {
	if tier.Confidence() < event.FinalityTier.Confidence() {
		return
	}
	event.FinalityTier = tier
	event.TemporalConfidence = tier.Confidence()

	if tier == schema.Tier3 && !event.IsFinalized {
		event.IsFinalized = true
		now := t.now()
		event.FinalityTimestamp = &now
		log.Info().Str("chain", t.profile.Name).Str("event_id", event.EventID).
			Uint64("confirmations", event.ConfirmationCount).
			Msg("event reached finality")
	}
}

func (t *Tracker) invalidate(event *schema.RiskEvent) {
	now := t.now()
	event.Invalidated = true
	event.ReorgDetectedAt = &now
	if event.OriginalBlockNumber == nil {
		event.OriginalBlockNumber = event.BlockNumber
	}
	log.Warn().Str("chain", t.profile.Name).Str("event_id", event.EventID).
		Uint64("block", *event.BlockNumber).
		Msg("reorg detected during finality refresh, event invalidated")
}
