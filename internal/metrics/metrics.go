// Package metrics exposes the engine's prometheus collectors. All collectors
// register against the default registry and are served by the ops endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts events accepted into windows, per coin and chain.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "events_ingested_total",
		Help:      "Risk events accepted into a window.",
	}, []string{"coin", "chain"})

	// EventsDropped counts events rejected before windowing, by reason
	// (duplicate, late, expired, backpressure).
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "events_dropped_total",
		Help:      "Risk events dropped before aggregation.",
	}, []string{"reason"})

	// OutliersFlagged counts events flagged by the quality pipeline.
	OutliersFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "outliers_flagged_total",
		Help:      "Events flagged as statistical outliers.",
	})

	// Polls counts block monitor head polls per chain.
	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "block_polls_total",
		Help:      "Block monitor head polls.",
	}, []string{"chain"})

	// PollErrors counts failed head polls per chain.
	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "block_poll_errors_total",
		Help:      "Block monitor polls that failed.",
	}, []string{"chain"})

	// ReorgsDetected counts reorgs per chain.
	ReorgsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "reorgs_detected_total",
		Help:      "Chain reorganizations detected.",
	}, []string{"chain"})

	// ReorgDepth observes the depth of detected reorgs.
	ReorgDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stablewatch",
		Name:      "reorg_depth_blocks",
		Help:      "Depth in blocks of detected reorganizations.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	}, []string{"chain"})

	// CorrectionsEmitted counts reorg correction events per chain.
	CorrectionsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "corrections_emitted_total",
		Help:      "Correction events emitted by the reorg handler.",
	}, []string{"chain"})

	// OpenWindows gauges live windows by state.
	OpenWindows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stablewatch",
		Name:      "windows_live",
		Help:      "Live aggregation windows by state.",
	}, []string{"state"})

	// WindowsFinalized counts windows that reached FINAL.
	WindowsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "windows_finalized_total",
		Help:      "Aggregation windows that reached FINAL.",
	})

	// StuckProvisionalAge gauges the age in seconds of the oldest window
	// held in PROVISIONAL past its finalization deadline.
	StuckProvisionalAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stablewatch",
		Name:      "stuck_provisional_age_seconds",
		Help:      "Age of the oldest window held past its finalization deadline.",
	})

	// SnapshotTCS observes the adjusted TCS of emitted snapshots.
	SnapshotTCS = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stablewatch",
		Name:      "snapshot_tcs",
		Help:      "Temporal confidence score of emitted snapshots.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// SnapshotsEmitted counts emitted snapshots per coin.
	SnapshotsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "snapshots_emitted_total",
		Help:      "Aggregated snapshots emitted.",
	}, []string{"coin"})

	// DepegsDetected counts snapshots flagged as depegged.
	DepegsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stablewatch",
		Name:      "depegs_detected_total",
		Help:      "Snapshots emitted with the depeg flag set.",
	}, []string{"coin"})
)
