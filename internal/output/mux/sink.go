// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package mux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/retrovue/playoutd/internal/domain/execution"
	"github.com/retrovue/playoutd/internal/log"
	"github.com/retrovue/playoutd/internal/metrics"
	"github.com/retrovue/playoutd/internal/perr"
)

const (
	defaultQueueCapacity  = 256
	pacingSleepQuantum    = 5 * time.Millisecond
	discontinuityWindow   = time.Second
	defaultLivenessBound  = 500 * time.Millisecond
)

// Sink is the Output Sink: one mux thread per attached transport, fed
// by two bounded drop-oldest queues (spec.md §4.6).
type Sink struct {
	Channel   string
	Transport Transport
	Encoder   Encoder
	Clock     Clock

	// PrebufferDisabled records the transport's prebuffer setting
	// (spec.md §4.6 supplement). The Sink does not read it: steady-state
	// entry always requires a single queued video frame, and no deeper
	// prebuffer target exists.
	PrebufferDisabled bool
	LivenessBound     time.Duration

	video *frameQueue
	audio *frameQueue

	// pacingLimiter governs the small-increment waits in the PCR-paced
	// steady-state loop (spec.md §4.6 "Time-driven emission loop").
	pacingLimiter *rate.Limiter

	mu                 sync.Mutex
	attached           bool
	attachedAt         time.Time
	steadyState        bool
	silenceDisabled    bool
	pcrPaced           bool
	wallEpoch          time.Time
	ctEpochMicros      int64
	epochInit          bool
	firstByteEmitted   bool
	livenessLogged     bool
	onFirstRealContent func()
}

// NewSink constructs a Sink with default queue capacities.
func NewSink(channel string, transport Transport, encoder Encoder, clock Clock) *Sink {
	if clock == nil {
		clock = RealClock
	}
	return &Sink{
		Channel:       channel,
		Transport:     transport,
		Encoder:       encoder,
		Clock:         clock,
		LivenessBound: defaultLivenessBound,
		video:         newFrameQueue("video", defaultQueueCapacity),
		audio:         newFrameQueue("audio", defaultQueueCapacity),
		pacingLimiter: rate.NewLimiter(rate.Every(pacingSleepQuantum), 1),
	}
}

// Attach marks the transport connected, starting the liveness clock.
func (s *Sink) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = true
	s.attachedAt = s.Clock.Now()
}

// OnFirstRealContent registers a callback fired the first time a
// non-pad video frame is actually written to the transport.
func (s *Sink) OnFirstRealContent(cb func()) {
	s.mu.Lock()
	s.onFirstRealContent = cb
	s.mu.Unlock()
}

// EmitFrame implements execution.FrameSink: it enqueues f for the mux
// loop to pace and encode.
func (s *Sink) EmitFrame(_ context.Context, f execution.OutputFrame) error {
	switch f.Kind {
	case "video":
		s.video.push(f)
	case "audio":
		s.audio.push(f)
	}
	return nil
}

// maybeEnterSteadyState checks the three steady-state entry conditions
// (sink attached, minimum video queue depth, timing epoch established)
// and latches producer-CT-authoritative mode the first time all three
// hold. Entry is a one-way transition within a session (spec.md §4.6
// "Steady-state entry").
func (s *Sink) maybeEnterSteadyState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steadyState {
		return true
	}
	if !s.attached || s.video.len() < 1 || !s.epochInit {
		return false
	}
	s.steadyState = true
	s.silenceDisabled = true
	s.pcrPaced = true
	log.L().Info().Str("channel", s.Channel).Msg("mux: steady-state entry, producer-CT-authoritative")
	return true
}

// Run drives the time-driven emission loop until ctx is cancelled
// (spec.md §4.6 "Time-driven emission loop", the defining algorithm).
func (s *Sink) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.checkLiveness()

		head, ok := s.video.peek()
		if !ok {
			s.Clock.Sleep(pacingSleepQuantum)
			continue
		}

		s.mu.Lock()
		if !s.epochInit {
			s.wallEpoch = s.Clock.Now()
			s.ctEpochMicros = head.CTMicros
			s.epochInit = true
		}
		wallEpoch, ctEpoch := s.wallEpoch, s.ctEpochMicros
		s.mu.Unlock()

		if !s.maybeEnterSteadyState() {
			s.Clock.Sleep(pacingSleepQuantum)
			continue
		}

		now := s.Clock.Now()
		targetWall := wallEpoch.Add(time.Duration(head.CTMicros-ctEpoch) * time.Microsecond)
		projected := ctEpoch + now.Sub(wallEpoch).Microseconds()
		if head.CTMicros-projected > discontinuityWindow.Microseconds() {
			s.mu.Lock()
			s.wallEpoch, s.ctEpochMicros = now, head.CTMicros
			s.mu.Unlock()
			targetWall = now
		}

		if s.pcrPaced {
			for {
				remaining := targetWall.Sub(s.Clock.Now())
				if remaining <= 0 {
					break
				}
				if err := s.pacingLimiter.WaitN(ctx, 1); err != nil {
					return err
				}
			}
		}

		// Audio-gated video: never dequeue a video frame unless the
		// audio queue's head frame has CT at or before its CT. An empty
		// audio queue stalls the mux rather than letting video run ahead.
		if !s.silenceInjectionAllowed() {
			audioHead, hasAudio := s.audio.peek()
			if !hasAudio || audioHead.CTMicros > head.CTMicros {
				s.Clock.Sleep(pacingSleepQuantum)
				continue
			}
		}

		vf, ok := s.video.pop()
		if !ok {
			continue
		}
		if err := s.writeVideo(vf); err != nil {
			return err
		}

		for {
			af, ok := s.audio.peek()
			if !ok || af.CTMicros > vf.CTMicros {
				break
			}
			s.audio.pop()
			if err := s.writeAudio(af); err != nil {
				return err
			}
		}
	}
}

func (s *Sink) silenceInjectionAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.silenceDisabled
}

func (s *Sink) writeVideo(f execution.OutputFrame) error {
	pkt, err := s.Encoder.EncodeVideo(f)
	if err != nil {
		return perr.Wrap(perr.ErrEncodeFailed, fmt.Sprintf("encode video: %v", err))
	}
	if err := s.writeWithRetry(pkt); err != nil {
		return err
	}
	s.mu.Lock()
	justEmitted := !s.firstByteEmitted
	if justEmitted {
		s.firstByteEmitted = true
	}
	cb := s.onFirstRealContent
	s.mu.Unlock()
	if justEmitted && !f.Pad && cb != nil {
		cb()
	}
	return nil
}

func (s *Sink) writeAudio(f execution.OutputFrame) error {
	pkt, err := s.Encoder.EncodeAudio(f)
	if err != nil {
		return perr.Wrap(perr.ErrEncodeFailed, fmt.Sprintf("encode audio: %v", err))
	}
	return s.writeWithRetry(pkt)
}

// writeWithRetry bounds retries on partial writes and transient
// EINTR/EAGAIN-style errors (spec.md §4.6 "Transport I/O").
func (s *Sink) writeWithRetry(pkt []byte) error {
	const maxAttempts = 8
	backoff := time.Millisecond
	written := 0
	for attempt := 0; attempt < maxAttempts && written < len(pkt); attempt++ {
		n, err := s.Transport.Write(pkt[written:])
		written += n
		if err == nil {
			continue
		}
		if !isTransientWriteError(err) {
			return perr.Wrap(perr.ErrTransportFailed, fmt.Sprintf("transport write: %v", err))
		}
		s.Clock.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
	if written < len(pkt) {
		return perr.Wrap(perr.ErrTransportFailed, fmt.Sprintf("short write after retries: wrote %d of %d bytes", written, len(pkt)))
	}
	return nil
}

func (s *Sink) checkLiveness() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstByteEmitted || s.livenessLogged || !s.attached {
		return
	}
	if s.Clock.Now().Sub(s.attachedAt) <= s.LivenessBound {
		return
	}
	s.livenessLogged = true
	reason := s.blockingReasonLocked()
	metrics.TSEmissionLivenessViolationTotal.WithLabelValues(reason).Inc()
	log.L().Warn().Str("channel", s.Channel).Str("blocking_reason", reason).Msg("mux: TS-EMISSION-LIVENESS bound exceeded")
}

func (s *Sink) blockingReasonLocked() string {
	if s.video.len() == 0 {
		return "video"
	}
	if !s.silenceDisabled {
		return "encoder"
	}
	if s.audio.len() == 0 {
		return "audio"
	}
	return "encoder"
}
