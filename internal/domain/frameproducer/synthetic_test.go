// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package frameproducer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticSourceEmitsAtMostOneAudioFramePerCall(t *testing.T) {
	s := NewSyntheticSource(40000, 23220, 0)
	require.NoError(t, s.Open(context.Background(), "synthetic://bars", 0))

	seenAudioInARow := 0
	for i := 0; i < 20; i++ {
		f, err := s.NextFrame(context.Background())
		require.NoError(t, err)
		if f.Kind == Audio {
			seenAudioInARow++
			assert.LessOrEqual(t, seenAudioInARow, 1)
		} else {
			seenAudioInARow = 0
		}
	}
}

func TestSyntheticSourceFirstVideoFrameIsKeyFrame(t *testing.T) {
	s := NewSyntheticSource(40000, 23220, 0)
	require.NoError(t, s.Open(context.Background(), "synthetic://bars", 1_000_000))

	var firstVideo *Frame
	for i := 0; i < 5 && firstVideo == nil; i++ {
		f, err := s.NextFrame(context.Background())
		require.NoError(t, err)
		if f.Kind == Video {
			firstVideo = &f
		}
	}
	require.NotNil(t, firstVideo)
	assert.True(t, firstVideo.KeyFrame)
	assert.Equal(t, int64(1_000_000), firstVideo.MediaTimeMicros)
}

func TestSyntheticSourceReturnsEndOfAssetAtDuration(t *testing.T) {
	s := NewSyntheticSource(40000, 23220, 120000) // 3 video frames' worth
	require.NoError(t, s.Open(context.Background(), "synthetic://bars", 0))

	sawEOF := false
	for i := 0; i < 50; i++ {
		_, err := s.NextFrame(context.Background())
		if err == ErrEndOfAsset {
			sawEOF = true
			break
		}
		require.NoError(t, err)
	}
	assert.True(t, sawEOF)
}

func TestSyntheticSourceLoopsOffsetModuloDuration(t *testing.T) {
	s := NewSyntheticSource(40000, 23220, 100000)
	require.NoError(t, s.Open(context.Background(), "synthetic://bars", 250000)) // 2*100000 + 50000
	assert.Equal(t, int64(50000), s.startOffset)
}
