// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/retrovue/playoutd/internal/log"
	"github.com/retrovue/playoutd/internal/metrics"
)

// MemoryBus is an in-process pub/sub. Publish is non-blocking per subscriber:
// a subscriber whose channel is full never slows channel-time advancement
// (spec.md §5 Backpressure) — its event is dropped and counted instead.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan any
}

const subscriberBuffer = 64
const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan any)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "full"
	}
}

// Publish fans out event to every subscriber of topic. A subscriber whose
// channel is full is skipped immediately rather than awaited; this is what
// keeps the event bus from ever backpressuring the Timeline Controller.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event any) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	chs := append([]chan any(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- event:
		default:
			reason := publishDropReason(ctx.Err())
			metrics.BusDroppedTotal.WithLabelValues(topic, reason).Inc()
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				log.L().Warn().
					Str("topic", topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("event bus dropped a message: subscriber channel full")
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ch := make(chan any, subscriberBuffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan any
}

func (s *memSub) C() <-chan any {
	return s.ch
}

func (s *memSub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	close(s.ch)
	return nil
}

var _ Bus = (*MemoryBus)(nil)
