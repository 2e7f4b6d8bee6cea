// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package blockplan

import (
	"context"
	"time"

	"github.com/retrovue/playoutd/internal/log"
)

// FillBreaks resolves every empty-URI commercial placeholder in block
// against filler, distributing any unfilled milliseconds as micro-pad
// segments inside the break (spec.md §4.2 "Fill at feed time"). It never
// returns a block containing an empty-URI commercial segment: a filler
// failure falls back to a single static-filler segment spanning the whole
// break.
func FillBreaks(ctx context.Context, block ScheduledBlock, filler BreakFiller, now time.Time) ScheduledBlock {
	out := make([]Segment, 0, len(block.Segments))
	for _, seg := range block.Segments {
		if seg.Type != SegmentCommercial || seg.AssetURI != "" {
			out = append(out, seg)
			continue
		}
		out = append(out, fillOneBreak(ctx, seg, filler, now)...)
	}
	for i := range out {
		out[i].Index = i
	}
	block.Segments = out
	return block
}

func fillOneBreak(ctx context.Context, placeholder Segment, filler BreakFiller, now time.Time) []Segment {
	filled, err := filler.FillBreak(ctx, placeholder.SegmentDurationMs, now)
	if err != nil || len(filled) == 0 {
		log.L().Warn().
			Err(err).
			Int64("break_duration_ms", placeholder.SegmentDurationMs).
			Msg("break fill failed, falling back to static filler")
		return []Segment{{
			AssetURI:          "filler://static",
			AssetStartOffsetMs: 0,
			SegmentDurationMs: placeholder.SegmentDurationMs,
			Type:              SegmentFiller,
		}}
	}
	return distributePads(placeholder.SegmentDurationMs, filled)
}

// distributePads inserts a pad segment after each filled break item,
// splitting any unfilled milliseconds as evenly as possible: the first
// `extra` pads absorb one extra millisecond, the rest take the base
// share. A zero-length pad is omitted.
func distributePads(breakDurationMs int64, filled []Segment) []Segment {
	var used int64
	for _, s := range filled {
		used += s.SegmentDurationMs
	}
	unfilled := breakDurationMs - used
	if unfilled < 0 {
		unfilled = 0
	}

	n := int64(len(filled))
	base, extra := int64(0), int64(0)
	if n > 0 {
		base, extra = unfilled/n, unfilled%n
	}

	out := make([]Segment, 0, len(filled)*2)
	for i, s := range filled {
		out = append(out, s)
		padMs := base
		if int64(i) < extra {
			padMs++
		}
		if padMs > 0 {
			out = append(out, Segment{
				AssetURI:          "pad://black",
				AssetStartOffsetMs: 0,
				SegmentDurationMs: padMs,
				Type:              SegmentPad,
			})
		}
	}
	return out
}
