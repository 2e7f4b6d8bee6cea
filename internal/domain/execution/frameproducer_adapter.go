// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package execution

import (
	"context"

	"github.com/retrovue/playoutd/internal/domain/blockplan"
	"github.com/retrovue/playoutd/internal/domain/frameproducer"
)

// frameSourceAdapter adapts a frameproducer.FrameSource to the engine's
// local Source interface so the engine package never has to import
// decoder internals beyond this one seam.
type frameSourceAdapter struct {
	fs frameproducer.FrameSource
}

// WrapFrameSource lifts a frameproducer.FrameSource into a Source.
func WrapFrameSource(fs frameproducer.FrameSource) Source {
	return frameSourceAdapter{fs: fs}
}

func (a frameSourceAdapter) NextFrame(ctx context.Context) (SourceFrame, error) {
	f, err := a.fs.NextFrame(ctx)
	if err != nil {
		return SourceFrame{}, err
	}
	return SourceFrame{
		Kind:            string(f.Kind),
		MediaTimeMicros: f.MediaTimeMicros,
		Payload:         f.Payload,
		KeyFrame:        f.KeyFrame,
	}, nil
}

func (a frameSourceAdapter) Close() error {
	return a.fs.Close()
}

// OpenSourceFactory returns a SourceFactory that opens assetURI through
// newSource, honoring each segment's asset_start_offset_ms.
func OpenSourceFactory(newSource func() frameproducer.FrameSource) SourceFactory {
	return func(ctx context.Context, seg blockplan.Segment) (Source, error) {
		fs := newSource()
		if err := fs.Open(ctx, seg.AssetURI, seg.AssetStartOffsetMs*1000); err != nil {
			return nil, err
		}
		return WrapFrameSource(fs), nil
	}
}
