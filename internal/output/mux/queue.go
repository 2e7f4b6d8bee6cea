// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mux implements the Output Sink (spec.md §4.6): a single
// PCR-paced MPEG-TS mux thread per sink, isolated from the frame
// producer by two bounded drop-oldest queues.
package mux

import (
	"sync"

	"github.com/retrovue/playoutd/internal/domain/execution"
	"github.com/retrovue/playoutd/internal/metrics"
)

// frameQueue is a bounded FIFO with a drop-oldest-on-full policy
// (spec.md §4.6 "Concurrency").
type frameQueue struct {
	kind     string
	mu       sync.Mutex
	items    []execution.OutputFrame
	capacity int
}

func newFrameQueue(kind string, capacity int) *frameQueue {
	return &frameQueue{kind: kind, capacity: capacity}
}

func (q *frameQueue) push(f execution.OutputFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		metrics.MuxQueueDroppedTotal.WithLabelValues(q.kind).Inc()
	}
	q.items = append(q.items, f)
}

// peek returns the head item without removing it.
func (q *frameQueue) peek() (execution.OutputFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return execution.OutputFrame{}, false
	}
	return q.items[0], true
}

// pop removes and returns the head item.
func (q *frameQueue) pop() (execution.OutputFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return execution.OutputFrame{}, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
