// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/retrovue/playoutd/internal/bus"
	"github.com/retrovue/playoutd/internal/domain/blockplan"
	"github.com/retrovue/playoutd/internal/perr"
)

func blockA() blockplan.ScheduledBlock {
	return blockplan.ScheduledBlock{BlockID: "blk-a", Channel: "ch1", StartUTCMs: 0, EndUTCMs: 1000}
}

func blockB() blockplan.ScheduledBlock {
	return blockplan.ScheduledBlock{BlockID: "blk-b", Channel: "ch1", StartUTCMs: 1000, EndUTCMs: 2000}
}

func startAttachedChannel(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()
	_, err := s.StartChannel(ctx, StartChannelRequest{Channel: "ch1"})
	require.NoError(t, err)
	_, err = s.AttachStream(ctx, AttachStreamRequest{Channel: "ch1", Transport: TransportUDS, Endpoint: "/tmp/ch1.sock"})
	require.NoError(t, err)
}

func TestStartChannelRejectsDuplicate(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	ctx := context.Background()

	_, err := s.StartChannel(ctx, StartChannelRequest{Channel: "ch1"})
	require.NoError(t, err)

	_, err = s.StartChannel(ctx, StartChannelRequest{Channel: "ch1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perr.ErrAlreadyExists))
}

func TestDetachStreamIsIdempotentOnUnattachedChannel(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	ctx := context.Background()

	res, err := s.DetachStream(ctx, "never-started", false)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = s.StartChannel(ctx, StartChannelRequest{Channel: "ch1"})
	require.NoError(t, err)
	res, err = s.DetachStream(ctx, "ch1", false)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestStopBlockPlanSessionIsIdempotentOnInactiveChannel(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	ctx := context.Background()

	res, err := s.StopBlockPlanSession(ctx, "never-started", "operator request")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(0), res.FinalCTMs)

	startAttachedChannel(t, s)
	res, err = s.StopBlockPlanSession(ctx, "ch1", "operator request")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(0), res.FinalCTMs)
}

func TestStartBlockPlanSessionRequiresAttachedStream(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	ctx := context.Background()
	_, err := s.StartChannel(ctx, StartChannelRequest{Channel: "ch1"})
	require.NoError(t, err)

	_, err = s.StartBlockPlanSession(ctx, StartBlockPlanSessionRequest{Channel: "ch1", BlockA: blockA(), BlockB: blockB()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perr.ErrStreamNotAttached))
}

func TestStartBlockPlanSessionRejectsNonContiguousBlocks(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	startAttachedChannel(t, s)

	bad := blockB()
	bad.StartUTCMs = 1500 // leaves a gap after block A's end at 1000

	_, err := s.StartBlockPlanSession(context.Background(), StartBlockPlanSessionRequest{Channel: "ch1", BlockA: blockA(), BlockB: bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perr.ErrNotContiguous))
}

func TestStartBlockPlanSessionRejectsDoubleStart(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	startAttachedChannel(t, s)
	ctx := context.Background()

	_, err := s.StartBlockPlanSession(ctx, StartBlockPlanSessionRequest{Channel: "ch1", BlockA: blockA(), BlockB: blockB()})
	require.NoError(t, err)

	_, err = s.StartBlockPlanSession(ctx, StartBlockPlanSessionRequest{Channel: "ch1", BlockA: blockA(), BlockB: blockB()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perr.ErrAlreadyActive))
}

func TestFeedBlockPlanQueueFullThenDrainsAfterCredit(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	startAttachedChannel(t, s)
	ctx := context.Background()

	_, err := s.StartBlockPlanSession(ctx, StartBlockPlanSessionRequest{Channel: "ch1", BlockA: blockA(), BlockB: blockB()})
	require.NoError(t, err)

	c := blockplan.ScheduledBlock{BlockID: "blk-c", Channel: "ch1", StartUTCMs: 2000, EndUTCMs: 3000}
	res, err := s.FeedBlockPlan(ctx, "ch1", c)
	require.NoError(t, err)
	assert.True(t, res.Success)

	d := blockplan.ScheduledBlock{BlockID: "blk-d", Channel: "ch1", StartUTCMs: 3000, EndUTCMs: 4000}
	res, err = s.FeedBlockPlan(ctx, "ch1", d)
	require.NoError(t, err)
	assert.True(t, res.QueueFull, "queue_depth=3 with A, B, C already queued must reject D")

	_, ok := s.AdvanceOneBlock("ch1")
	require.True(t, ok)

	res, err = s.FeedBlockPlan(ctx, "ch1", d)
	require.NoError(t, err)
	assert.True(t, res.Success, "D must be admitted once a credit frees a slot")
}

func TestFeedBlockPlanWithoutSessionReturnsNoSession(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	startAttachedChannel(t, s)

	_, err := s.FeedBlockPlan(context.Background(), "ch1", blockA())
	require.Error(t, err)
	assert.True(t, errors.Is(err, perr.ErrNoSession))
}

func TestSubscribeBlockEventsStreamsLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewService(bus.NewMemoryBus())
	startAttachedChannel(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe, err := s.SubscribeBlockEvents(ctx, "ch1")
	require.NoError(t, err)
	defer unsubscribe()

	_, err = s.StartBlockPlanSession(ctx, StartBlockPlanSessionRequest{Channel: "ch1", BlockA: blockA(), BlockB: blockB()})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, EventBlockStarted, ev.Kind)
		assert.Equal(t, "blk-a", ev.BlockID)
	case <-time.After(time.Second):
		t.Fatal("never received BlockStarted event")
	}

	_, ok := s.AdvanceOneBlock("ch1")
	require.True(t, ok)
	select {
	case ev := <-events:
		assert.Equal(t, EventBlockCompleted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("never received BlockCompleted event")
	}

	_, err = s.StopBlockPlanSession(ctx, "ch1", "test teardown")
	require.NoError(t, err)
	select {
	case ev := <-events:
		assert.Equal(t, EventSessionEnded, ev.Kind)
		assert.Equal(t, "test teardown", ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("never received SessionEnded event")
	}
}

func TestLoadPreviewRejectsInvalidFPS(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	ctx := context.Background()
	_, err := s.StartChannel(ctx, StartChannelRequest{Channel: "ch1"})
	require.NoError(t, err)

	_, err = s.LoadPreview(ctx, LoadPreviewRequest{Channel: "ch1", FPSNum: 29, FPSDen: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perr.ErrProtocolViolation))
}

func TestSwitchToLiveRequiresAttachedStream(t *testing.T) {
	s := NewService(bus.NewMemoryBus())
	ctx := context.Background()
	_, err := s.StartChannel(ctx, StartChannelRequest{Channel: "ch1"})
	require.NoError(t, err)

	_, err = s.SwitchToLive(ctx, SwitchToLiveRequest{Channel: "ch1", TargetBoundaryTimeMs: 2000, IssuedAtTimeMs: 1000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perr.ErrNotReady))
}
