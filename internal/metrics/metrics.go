// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the playout engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvariantViolationTotal counts FatalInvariantViolation occurrences by rule
	// (monotonicity, single_writer, epoch_immutability, contiguity).
	InvariantViolationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playoutd_invariant_violation_total",
		Help: "Total number of timeline invariant violations, by rule.",
	}, []string{"rule"})

	// BlockFeedCredits tracks the Block Plan Producer's current feed-queue credits.
	BlockFeedCredits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playoutd_block_feed_credits",
		Help: "Current feed-queue credits available to the block plan producer, by channel.",
	}, []string{"channel"})

	// QueueFullTotal counts FeedBlockPlan responses that returned QUEUE_FULL.
	QueueFullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playoutd_queue_full_total",
		Help: "Total number of QUEUE_FULL responses from FeedBlockPlan, by channel.",
	}, []string{"channel"})

	// BlocksExecutedTotal counts blocks that reached BlockCompleted, by termination reason.
	BlocksExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playoutd_blocks_executed_total",
		Help: "Total number of blocks that completed execution, by channel and termination reason.",
	}, []string{"channel", "reason"})

	// SegmentPadTotal counts segments (or portions of segments) that were filled with pad content.
	SegmentPadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playoutd_segment_pad_total",
		Help: "Total number of segments that required tail-fill pad, by channel and cause.",
	}, []string{"channel", "cause"})

	// CTCursorMicros exposes the Timeline Controller's current channel-time cursor.
	CTCursorMicros = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playoutd_ct_cursor_us",
		Help: "Current channel time cursor, in microseconds since session epoch.",
	}, []string{"channel"})

	// TSEmissionLivenessViolationTotal counts first-byte liveness bound violations.
	TSEmissionLivenessViolationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playoutd_ts_emission_liveness_violation_total",
		Help: "Total number of TS-EMISSION-LIVENESS violations, by blocking reason.",
	}, []string{"blocking_reason"})

	// MuxQueueDroppedTotal counts frames dropped by the output sink's drop-oldest-on-full policy.
	MuxQueueDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playoutd_mux_queue_dropped_total",
		Help: "Total number of frames dropped by the output sink queues, by kind (video/audio).",
	}, []string{"kind"})

	// BusDroppedTotal counts event bus publishes dropped due to a full or closed subscriber channel.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playoutd_bus_dropped_total",
		Help: "Total number of event bus messages dropped, by topic and reason.",
	}, []string{"topic", "reason"})
)
