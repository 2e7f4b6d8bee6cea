// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package frameproducer

import (
	"context"
	"fmt"
)

// SyntheticSource is a deterministic, in-memory FrameSource used by tests
// and by LoadPreview's shadow-decode path (spec.md §6 "LoadPreview"). It
// generates video frames at a fixed frame period and one audio frame per
// video frame, with no real decoding involved.
type SyntheticSource struct {
	VideoFramePeriodMicros int64
	AudioFramePeriodMicros int64
	DurationMicros         int64 // 0 means unbounded until Close

	assetURI       string
	startOffset    int64
	videoCursor    int64
	audioCursor    int64
	emittedAudio   bool
	opened         bool
}

// NewSyntheticSource returns a SyntheticSource with the given per-frame
// periods. Use DurationMicros to bound a call so NextFrame eventually
// returns ErrEndOfAsset.
func NewSyntheticSource(videoFramePeriodMicros, audioFramePeriodMicros, durationMicros int64) *SyntheticSource {
	return &SyntheticSource{
		VideoFramePeriodMicros: videoFramePeriodMicros,
		AudioFramePeriodMicros: audioFramePeriodMicros,
		DurationMicros:         durationMicros,
	}
}

func (s *SyntheticSource) Open(_ context.Context, assetURI string, startOffsetMicros int64) error {
	target := startOffsetMicros
	if s.DurationMicros > 0 {
		target = legacyLoopOffset(startOffsetMicros, s.DurationMicros)
	}
	s.assetURI = assetURI
	s.startOffset = target
	s.videoCursor = target
	s.audioCursor = target
	s.opened = true
	return nil
}

// NextFrame alternates emitting at most one audio frame per call
// (spec.md §4.5 interleave rule): it emits video unless an audio frame is
// due at or before the next video frame and hasn't been emitted yet.
func (s *SyntheticSource) NextFrame(_ context.Context) (Frame, error) {
	if !s.opened {
		return Frame{}, fmt.Errorf("frameproducer: NextFrame called before Open")
	}
	if s.DurationMicros > 0 && s.videoCursor >= s.startOffset+s.DurationMicros {
		return Frame{}, ErrEndOfAsset
	}

	if !s.emittedAudio && s.audioCursor <= s.videoCursor {
		f := Frame{Kind: Audio, MediaTimeMicros: s.audioCursor}
		s.audioCursor += s.AudioFramePeriodMicros
		s.emittedAudio = true
		return f, nil
	}

	f := Frame{Kind: Video, MediaTimeMicros: s.videoCursor, KeyFrame: s.videoCursor == s.startOffset}
	s.videoCursor += s.VideoFramePeriodMicros
	s.emittedAudio = false
	return f, nil
}

func (s *SyntheticSource) Close() error {
	s.opened = false
	return nil
}
