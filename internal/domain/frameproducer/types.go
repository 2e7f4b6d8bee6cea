// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package frameproducer implements the Frame Producer (spec.md §4.5): it
// decodes one asset at a time and hands frames to the Execution Engine,
// which in turn offers them to the Timeline Controller for admission.
package frameproducer

import (
	"context"
	"errors"
)

// FrameKind distinguishes the two elementary stream types a Frame carries.
type FrameKind string

const (
	Video FrameKind = "video"
	Audio FrameKind = "audio"
)

// Frame is one decoded access unit. MediaTimeMicros is the frame's
// position in the open asset's own timeline, not channel time; the
// Timeline Controller is the only component that maps MT to CT.
type Frame struct {
	Kind            FrameKind
	MediaTimeMicros int64
	Payload         []byte
	KeyFrame        bool
}

// ErrEndOfAsset is returned by NextFrame once an asset is exhausted.
// It is not an error condition on its own; callers fall through to
// tail-fill pad.
var ErrEndOfAsset = errors.New("frameproducer: end of asset")

// FrameSource is the decoder-facing capability the Execution Engine
// drives. Implementations interleave audio and video such that at most
// one audio frame is returned per call (spec.md §4.5 "interleave rule").
type FrameSource interface {
	// Open seeks the decoder to startOffsetMicros within assetURI.
	Open(ctx context.Context, assetURI string, startOffsetMicros int64) error
	// NextFrame returns the next frame, or ErrEndOfAsset once the asset
	// is exhausted.
	NextFrame(ctx context.Context) (Frame, error)
	// Close releases decoder resources. Safe to call multiple times.
	Close() error
}

// legacyLoopOffset implements the legacy-mode admission gate: looping
// content computes its effective seek target modulo the asset's total
// duration (spec.md §4.5 "legacy-mode admission gate").
func legacyLoopOffset(requestedOffsetMicros, assetDurationMicros int64) int64 {
	if assetDurationMicros <= 0 {
		return 0
	}
	return requestedOffsetMicros % assetDurationMicros
}
