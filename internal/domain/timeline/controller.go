// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package timeline

import (
	"sync"
	"time"

	"github.com/retrovue/playoutd/internal/log"
	"github.com/retrovue/playoutd/internal/metrics"
	"github.com/retrovue/playoutd/internal/perr"
)

// Controller is the single writer of channel time for one session
// (spec.md §4.4). Epoch is set exactly once; CT only ever advances or
// holds, never goes backward.
type Controller struct {
	cfg Config

	mu             sync.Mutex
	epochSet       bool
	epochUTCMicros int64
	ctCursorMicros int64

	segmentOpen      bool
	ctSegmentStart    int64
	mtSegmentStart    int64
	mtSegmentStartSet bool

	catchUpAccumMicros int64
	catchUpExceeded    bool
}

// New constructs a Controller for the given channel's frame rate and
// buffer-depth configuration. cfg.Rate must already be Validate()'d by
// the config loader (spec.md §3 INV-BOUNDARY-PTS).
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// EstablishEpoch pins channel time zero to the given wall-clock instant.
// It may be called only once per session; subsequent calls return
// ErrProtocolViolation (epoch immutability, spec.md §4.4).
func (c *Controller) EstablishEpoch(nowUTC time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochSet {
		return perr.Wrap(perr.ErrProtocolViolation, "timeline: epoch already established")
	}
	c.epochSet = true
	c.epochUTCMicros = nowUTC.UnixMicro()
	c.ctCursorMicros = 0
	return nil
}

// BeginSegment opens a new segment at the given CT offset. The segment's
// MT origin is NOT fixed here; it binds lazily to the first frame
// AdmitFrame accepts, never pre-peeked (spec.md §4.4).
func (c *Controller) BeginSegment(ctStartMicros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segmentOpen = true
	c.ctSegmentStart = ctStartMicros
	c.mtSegmentStartSet = false
	c.mtSegmentStart = 0
}

// CTCursor returns the current channel-time cursor in microseconds.
func (c *Controller) CTCursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctCursorMicros
}

// NeedsRestart reports whether catch-up has exceeded CatchUpLimit. Once
// true it stays true: the session must be torn down and restarted, a
// decision made above this package (spec.md §4.4 "exceeding that limit
// requires session restart").
func (c *Controller) NeedsRestart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catchUpExceeded
}

// AdmitFrame evaluates a decoded frame's media-time position against the
// current expectation and returns the admission verdict. The snapped CT
// is not returned; on admission the cursor advances and CTCursor reports it.
//
// On the first frame of a segment, MT_segment_start binds to that
// frame's MT and the frame is admitted unconditionally at CT_segment_start.
func (c *Controller) AdmitFrame(mtMicros int64) AdmitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.catchUpExceeded {
		return RejectedLate
	}

	framePeriod := c.cfg.Rate.PeriodMicros()

	if !c.mtSegmentStartSet {
		c.mtSegmentStart = mtMicros
		c.mtSegmentStartSet = true
		c.ctCursorMicros = c.ctSegmentStart
		c.advanceCursor(framePeriod)
		return Admitted
	}

	ctFrame := c.ctSegmentStart + (mtMicros - c.mtSegmentStart)
	ctExpected := c.ctCursorMicros
	diff := ctFrame - ctExpected
	tolerance := framePeriod

	switch {
	case diff >= -tolerance && diff <= tolerance:
		c.catchUpAccumMicros = 0
		c.advanceCursor(framePeriod)
		return Admitted

	case diff > tolerance && diff <= c.cfg.lateThresholdMicros():
		// Frame arrived behind schedule but within the bounded catch-up
		// window: snap the cursor forward to the frame's own CT instead
		// of holding at the nominal expectation.
		c.catchUpAccumMicros += diff
		if c.catchUpAccumMicros > c.cfg.CatchUpLimit.Microseconds() {
			c.catchUpExceeded = true
			metrics.InvariantViolationTotal.WithLabelValues("catch_up_exceeded").Inc()
			log.L().Error().Str("channel", c.cfg.Channel).Int64("catch_up_accum_us", c.catchUpAccumMicros).Msg("timeline: catch-up limit exceeded, session restart required")
			return RejectedLate
		}
		c.ctCursorMicros = ctFrame
		c.advanceCursor(framePeriod)
		return Admitted

	case diff < -tolerance && -diff <= c.cfg.earlyThresholdMicros():
		return RejectedEarly

	case diff > 0:
		return RejectedLate

	default:
		return RejectedEarly
	}
}

// advanceCursor holds the cursor steady during underrun: callers only
// reach this path on a successful admit, so "pausing" falls naturally
// out of simply never calling it when no frame is admitted.
func (c *Controller) advanceCursor(framePeriod int64) {
	c.ctCursorMicros += framePeriod
	metrics.CTCursorMicros.WithLabelValues(c.cfg.Channel).Set(float64(c.ctCursorMicros))
}
