// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package mux

import (
	"time"

	"github.com/retrovue/playoutd/internal/domain/execution"
)

// Transport is the single connected byte sink a Sink writes to (a UDS,
// TCP connection, or file). Implementations must tolerate partial
// writes; the Sink retries with bounded backoff on EINTR/EAGAIN-style
// transient errors (spec.md §4.6 "Transport I/O").
type Transport interface {
	Write(p []byte) (int, error)
}

// Encoder turns an admitted, PTS-stamped frame into MPEG-TS packets. A
// single mux-wide encoder context is reused across blocks: there is no
// PAT/PMT reset within a session (spec.md §4.3 rule 4).
type Encoder interface {
	EncodeVideo(f execution.OutputFrame) ([]byte, error)
	EncodeAudio(f execution.OutputFrame) ([]byte, error)
}

// Clock abstracts wall-clock reads and sleeps so tests can drive the
// emission loop deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}
