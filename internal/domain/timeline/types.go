// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package timeline implements the Timeline Controller (spec.md §4.4): the
// single writer of channel time. All boundary and admission arithmetic is
// integer-only; no floating point participates in any CT/PTS derivation.
package timeline

import (
	"fmt"
	"time"
)

// FrameRate is an exact rational frames-per-second value. 90000*Den/Num
// must be an integer; channels that fail this are rejected at startup
// (spec.md §3).
type FrameRate struct {
	Num int64
	Den int64
}

// Period90k returns the PTS tick duration in 90 kHz units. If the rate is
// not 90kHz-integral the result is silently truncated by integer
// division; validate with Validate first.
func (r FrameRate) Period90k() int64 {
	return 90000 * r.Den / r.Num
}

// PeriodMicros returns the frame period in microseconds, used for CT
// arithmetic (integer microseconds throughout, per spec.md §3).
func (r FrameRate) PeriodMicros() int64 {
	return 1_000_000 * r.Den / r.Num
}

// Validate rejects frame rates whose 90 kHz tick is not an exact integer.
func (r FrameRate) Validate() error {
	if r.Num <= 0 || r.Den <= 0 {
		return fmt.Errorf("frame rate must be positive: %d/%d", r.Num, r.Den)
	}
	if (90000*r.Den)%r.Num != 0 {
		return fmt.Errorf("frame rate %d/%d does not yield an integer 90kHz tick", r.Num, r.Den)
	}
	return nil
}

// AdmitResult classifies the outcome of AdmitFrame.
type AdmitResult string

const (
	Admitted      AdmitResult = "admitted"
	RejectedLate  AdmitResult = "rejected_late"
	RejectedEarly AdmitResult = "rejected_early"
)

// Config carries the buffer-depth knobs that derive the late/early
// admission thresholds (spec.md §4.4).
type Config struct {
	Channel      string
	Rate         FrameRate
	DTarget      int64         // target buffer depth, in frame periods
	DMax         int64         // max buffer depth, in frame periods
	LMax         time.Duration // absolute late-admission ceiling
	CatchUpLimit time.Duration // bounded catch-up window before a restart is required
}

func (c Config) lateThresholdMicros() int64 {
	framePeriod := c.Rate.PeriodMicros()
	derived := c.DTarget * framePeriod
	ceiling := c.LMax.Microseconds()
	if ceiling > 0 && ceiling < derived {
		return ceiling
	}
	return derived
}

func (c Config) earlyThresholdMicros() int64 {
	return c.DMax * c.Rate.PeriodMicros()
}
