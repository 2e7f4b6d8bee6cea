// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package execution implements the Execution Engine (spec.md §4.3): it
// drives a single block from feed time to its wall-clock fence, emitting
// frames and lifecycle events with session-wide PTS continuity.
package execution

import (
	"context"

	"github.com/retrovue/playoutd/internal/domain/blockplan"
	"github.com/retrovue/playoutd/internal/domain/timeline"
)

// TerminationReason classifies why a session stopped (spec.md §4.3 rule 6).
type TerminationReason string

const (
	ReasonSuccess             TerminationReason = "success"
	ReasonStopped             TerminationReason = "stopped"
	ReasonLookaheadExhausted TerminationReason = "lookahead_exhausted"
	ReasonError               TerminationReason = "error"
)

// AsRunStatus tags the viewer-observed outcome of a segment, the
// as-run supplement to the transmission log (spec.md §6 "user-visible
// failure").
type AsRunStatus string

const (
	AsRunFull    AsRunStatus = "FULL"
	AsRunPartial AsRunStatus = "PARTIAL"
	AsRunMissing AsRunStatus = "MISSING"
	AsRunSkipped AsRunStatus = "SKIPPED"
)

// EventKind enumerates the lifecycle events ExecuteBlock emits.
type EventKind string

const (
	EventBlockStarted   EventKind = "BlockStarted"
	EventSegmentStart   EventKind = "SegmentStart"
	EventSegmentEnd     EventKind = "SegmentEnd"
	EventBlockCompleted EventKind = "BlockCompleted"
	EventSessionEnded   EventKind = "SessionEnded"
)

// Event is the tagged union of lifecycle notifications a session emits.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind    EventKind
	Channel string
	BlockID string

	SegmentIndex     int
	JoinInProgress   bool
	ActualDurationMs int64
	AsRun            AsRunStatus

	FinalCTMs        int64
	FinalPTSOffset90k int64

	Reason TerminationReason
	Err    error
}

// EventSink receives lifecycle events as they occur. Implementations
// must not block the caller for long; the as-run logger and the control
// plane's SubscribeBlockEvents both fan out from here.
type EventSink interface {
	Publish(Event)
}

// OutputFrame is a frame the Execution Engine has admitted and stamped
// with its session-wide PTS, ready for the Output Sink.
type OutputFrame struct {
	Kind       string // "video" or "audio"
	CTMicros   int64
	PTS90k     int64
	Payload    []byte
	Pad        bool
	KeyFrame   bool
}

// FrameSink is the Output Sink's ingress, seen from the Execution Engine.
type FrameSink interface {
	EmitFrame(ctx context.Context, f OutputFrame) error
}

// SourceFactory opens a frame source for one segment. Returning a nil
// source (with no error) models "segment has no producer at all": the
// whole window becomes pad (spec.md §4.3 rule 3).
type SourceFactory func(ctx context.Context, seg blockplan.Segment) (Source, error)

// Source is the subset of frameproducer.FrameSource the engine depends
// on, kept local to avoid a hard import-time coupling to the decoder
// package's concrete frame type.
type Source interface {
	NextFrame(ctx context.Context) (SourceFrame, error)
	Close() error
}

// SourceFrame mirrors frameproducer.Frame without importing that package,
// so tests can supply fakes without pulling in decoder machinery.
type SourceFrame struct {
	Kind            string
	MediaTimeMicros int64
	Payload         []byte
	KeyFrame        bool
}

// TimelineController is the subset of *timeline.Controller the engine
// drives.
type TimelineController interface {
	BeginSegment(ctStartMicros int64)
	AdmitFrame(mtMicros int64) timeline.AdmitResult
}
