// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/retrovue/playoutd/internal/domain/blockplan"
	"github.com/retrovue/playoutd/internal/domain/timeline"
	"github.com/retrovue/playoutd/internal/log"
	"github.com/retrovue/playoutd/internal/metrics"
)

const padAssetURI = "pad://black"

// Session carries the state that must persist across blocks: the
// session epoch, the Timeline Controller, and the two monotonic
// frame-index counters that give every boundary PTS its value with zero
// floating point and zero offset bookkeeping (spec.md §4.3 rule 4,
// INV-BOUNDARY-PTS).
type Session struct {
	Channel     string
	FPS         timeline.FrameRate
	AudioFPS    timeline.FrameRate
	Timeline    TimelineController
	Sink        FrameSink
	NewSource   SourceFactory
	Events      EventSink

	mu               sync.Mutex
	epochSet         bool
	epochUTCMicros   int64
	videoFrameIndex  int64
	audioFrameIndex  int64
	sawAnySegment    bool
	stopRequested    atomic.Bool // read without s.mu so RequestStop never waits on ExecuteBlock
}

// NewSession constructs a Session. Events may be nil, in which case
// lifecycle notifications are dropped.
func NewSession(channel string, fps, audioFPS timeline.FrameRate, tc TimelineController, sink FrameSink, newSource SourceFactory, events EventSink) *Session {
	return &Session{
		Channel:   channel,
		FPS:       fps,
		AudioFPS:  audioFPS,
		Timeline:  tc,
		Sink:      sink,
		NewSource: newSource,
		Events:    events,
	}
}

// EstablishEpoch pins the session's frame-index zero point to the given
// wall-clock instant. Must be called exactly once, before the first
// ExecuteBlock.
func (s *Session) EstablishEpoch(nowUTC time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epochSet {
		return fmt.Errorf("execution: session epoch already established")
	}
	s.epochSet = true
	s.epochUTCMicros = nowUTC.UnixMicro()
	return nil
}

// RequestStop marks the session stopped; the next ExecuteBlock call
// (or the current segment boundary, if one is already running) returns
// ReasonStopped instead of continuing to the block's fence.
func (s *Session) RequestStop() {
	s.stopRequested.Store(true)
}

func (s *Session) publish(e Event) {
	e.Channel = s.Channel
	if s.Events != nil {
		s.Events.Publish(e)
	}
}

// videoFrameDuration90k returns the integer 90kHz tick for one video
// frame; callers rely on FPS.Validate() having already rejected any
// non-integral rate at config load time.
func (s *Session) videoFrameDuration90k() int64 {
	return s.FPS.Period90k()
}

// fenceFrameIndex computes the output-frame index of a block's wall-clock
// end, relative to the session epoch (spec.md §4.3 rule 1).
func (s *Session) fenceFrameIndex(blockEndUTCMs int64) int64 {
	deltaMicros := blockEndUTCMs*1000 - s.epochUTCMicros
	return deltaMicros * s.FPS.Num / (s.FPS.Den * 1_000_000)
}

// ExecuteBlock drives a single block to its wall-clock fence. Calls on
// the same Session must be serialized by the caller (spec.md §4.3:
// "runs serially per session"); the method itself holds the session
// lock for its entire duration to enforce that even if violated.
func (s *Session) ExecuteBlock(ctx context.Context, block blockplan.ScheduledBlock) (TerminationReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.epochSet {
		return ReasonError, fmt.Errorf("execution: ExecuteBlock called before EstablishEpoch")
	}
	if err := validateSegments(block.Segments); err != nil {
		s.publish(Event{Kind: EventSessionEnded, BlockID: block.BlockID, Reason: ReasonError, Err: err})
		return ReasonError, err
	}

	fenceIdx := s.fenceFrameIndex(block.EndUTCMs)
	blockStarted := false
	reason := ReasonSuccess

	ctCursorMicros := block.StartUTCMs*1000 - s.epochUTCMicros

segmentLoop:
	for i, seg := range block.Segments {
		if s.stopRequested.Load() {
			reason = ReasonStopped
			break segmentLoop
		}
		if s.videoFrameIndex >= fenceIdx {
			break segmentLoop
		}

		joinInProgress := i == 0 && !s.sawAnySegment
		s.Timeline.BeginSegment(ctCursorMicros)
		s.publish(Event{Kind: EventSegmentStart, BlockID: block.BlockID, SegmentIndex: i, JoinInProgress: joinInProgress})
		s.sawAnySegment = true

		segStartFrameIdx := s.videoFrameIndex
		segFrameCount := seg.SegmentDurationMs * s.FPS.Num / (s.FPS.Den * 1000)
		stopIdx := segStartFrameIdx + segFrameCount
		if fenceIdx < stopIdx {
			stopIdx = fenceIdx
		}

		status, err := s.runSegment(ctx, block.BlockID, seg, &blockStarted, stopIdx)
		if err != nil {
			log.L().Error().Err(err).Str("channel", s.Channel).Str("block_id", block.BlockID).Int("segment", i).Msg("execution: segment failed, padding to segment end")
		}

		actualDurationMs := (s.videoFrameIndex - segStartFrameIdx) * 1000 * s.FPS.Den / s.FPS.Num
		s.publish(Event{Kind: EventSegmentEnd, BlockID: block.BlockID, SegmentIndex: i, ActualDurationMs: actualDurationMs, AsRun: status})

		ctCursorMicros += seg.SegmentDurationMs * 1000

		if s.stopRequested.Load() {
			reason = ReasonStopped
			break segmentLoop
		}
	}

	if s.videoFrameIndex < fenceIdx && reason == ReasonSuccess {
		// Segments exhausted before the fence with nothing left to
		// schedule: the feed queue ran dry (spec.md §4.3 rule 6).
		reason = ReasonLookaheadExhausted
		if err := s.padUntil(ctx, fenceIdx); err != nil {
			log.L().Error().Err(err).Str("channel", s.Channel).Str("block_id", block.BlockID).Msg("execution: pad-to-fence failed")
		}
	}

	metrics.BlocksExecutedTotal.WithLabelValues(s.Channel, string(reason)).Inc()

	s.publish(Event{
		Kind:              EventBlockCompleted,
		BlockID:           block.BlockID,
		FinalCTMs:         ctCursorMicros / 1000,
		FinalPTSOffset90k: s.videoFrameIndex * s.videoFrameDuration90k(),
	})
	return reason, nil
}

// runSegment opens seg's asset (if any), emits frames until stopIdx is
// reached or the decoder is exhausted, then pads the remainder
// (spec.md §4.3 rule 3).
func (s *Session) runSegment(ctx context.Context, blockID string, seg blockplan.Segment, blockStarted *bool, stopIdx int64) (AsRunStatus, error) {
	if seg.AssetURI == "" || seg.AssetURI == padAssetURI || s.NewSource == nil {
		if err := s.padUntil(ctx, stopIdx); err != nil {
			return AsRunMissing, err
		}
		return AsRunMissing, nil
	}

	src, err := s.NewSource(ctx, seg)
	if err != nil || src == nil {
		metrics.SegmentPadTotal.WithLabelValues(s.Channel, "no_producer").Inc()
		if padErr := s.padUntil(ctx, stopIdx); padErr != nil {
			return AsRunMissing, padErr
		}
		return AsRunMissing, err
	}
	defer src.Close()

	framesEmitted := int64(0)
	for s.videoFrameIndex < stopIdx {
		if ctx.Err() != nil {
			return AsRunPartial, ctx.Err()
		}
		f, err := src.NextFrame(ctx)
		if err != nil {
			metrics.SegmentPadTotal.WithLabelValues(s.Channel, "decode_exhausted").Inc()
			if padErr := s.padUntil(ctx, stopIdx); padErr != nil {
				return partialStatus(framesEmitted), padErr
			}
			return partialStatus(framesEmitted), nil
		}

		admitted, emitErr := s.admitAndEmit(ctx, blockID, f, blockStarted, false)
		if emitErr != nil {
			return partialStatus(framesEmitted), emitErr
		}
		if admitted && f.Kind == "video" {
			framesEmitted++
		}
	}
	if framesEmitted == 0 {
		return AsRunMissing, nil
	}
	return AsRunFull, nil
}

func partialStatus(framesEmitted int64) AsRunStatus {
	if framesEmitted == 0 {
		return AsRunMissing
	}
	return AsRunPartial
}

// padUntil emits pad/black video frames (one silent audio frame per
// video frame) until the video frame index reaches stopIdx.
func (s *Session) padUntil(ctx context.Context, stopIdx int64) error {
	discard := false
	for s.videoFrameIndex < stopIdx {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.admitAndEmit(ctx, "", SourceFrame{Kind: "video"}, &discard, true); err != nil {
			return err
		}
		if _, err := s.admitAndEmit(ctx, "", SourceFrame{Kind: "audio"}, &discard, true); err != nil {
			return err
		}
	}
	return nil
}

// admitAndEmit offers f to the Timeline Controller and, if admitted,
// stamps it with the session-wide PTS derived purely from the running
// frame-index counters and hands it to the Output Sink. On the first
// real (non-pad) video frame of a block it publishes BlockStarted.
func (s *Session) admitAndEmit(ctx context.Context, blockID string, f SourceFrame, blockStarted *bool, pad bool) (bool, error) {
	result := s.Timeline.AdmitFrame(f.MediaTimeMicros)
	if result != timeline.Admitted {
		return false, nil
	}

	var pts90k int64
	switch f.Kind {
	case "video":
		pts90k = s.videoFrameIndex * s.videoFrameDuration90k()
		s.videoFrameIndex++
		if !pad && !*blockStarted {
			*blockStarted = true
			s.publish(Event{Kind: EventBlockStarted, BlockID: blockID})
		}
	case "audio":
		pts90k = s.audioFrameIndex * s.AudioFPS.Period90k()
		s.audioFrameIndex++
	}

	out := OutputFrame{
		Kind:     f.Kind,
		CTMicros: pts90k * 1000 / 90,
		PTS90k:   pts90k,
		Payload:  f.Payload,
		Pad:      pad,
		KeyFrame: f.KeyFrame,
	}
	if s.Sink == nil {
		return true, nil
	}
	return true, s.Sink.EmitFrame(ctx, out)
}

func validateSegments(segments []blockplan.Segment) error {
	if len(segments) == 0 {
		return fmt.Errorf("execution: block has no segments")
	}
	for i, seg := range segments {
		if seg.SegmentDurationMs <= 0 {
			return fmt.Errorf("execution: segment %d has non-positive duration", i)
		}
	}
	return nil
}
