// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package blockplan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrovue/playoutd/internal/domain/catalog"
	"github.com/retrovue/playoutd/internal/domain/schedule"
)

type fakePlan struct {
	assetID    string
	durationMs int64
	slotStart  time.Time
}

func (f fakePlan) GetPlayoutPlan(_ context.Context, channel string, t time.Time) (*schedule.PlayoutPlan, error) {
	return &schedule.PlayoutPlan{
		Channel:    channel,
		Slot:       schedule.ResolvedSlot{SlotStart: f.slotStart, AssetID: f.assetID},
		SlotEnd:    f.slotStart.Add(time.Duration(f.durationMs) * time.Millisecond),
		SeekOffset: t.Sub(f.slotStart),
	}, nil
}

type fakeEpisodes struct {
	episodes map[string]catalog.Episode
}

func (f fakeEpisodes) Episode(id string) (catalog.Episode, bool) {
	e, ok := f.episodes[id]
	return e, ok
}

type fakeFeeder struct {
	mu          sync.Mutex
	fed         []ScheduledBlock
	fullForNext int
}

func (f *fakeFeeder) Feed(_ context.Context, block ScheduledBlock) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fullForNext > 0 {
		f.fullForNext--
		return true, nil
	}
	f.fed = append(f.fed, block)
	return false, nil
}

type noopFiller struct{}

func (noopFiller) FillBreak(context.Context, int64, time.Time) ([]Segment, error) {
	return nil, nil
}

type memTxLog struct {
	mu   sync.Mutex
	puts int
}

func (m *memTxLog) Put(context.Context, ScheduledBlock, int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	return nil
}

func newTestProducer(feeder *fakeFeeder) *Producer {
	episodes := fakeEpisodes{episodes: map[string]catalog.Episode{
		"ep1": {ID: "ep1", FilePath: "ep1.ts", ContentDurationUs: int64(6 * time.Hour / time.Microsecond)},
	}}
	plan := fakePlan{assetID: "ep1", durationMs: int64((6 * time.Hour).Milliseconds()), slotStart: time.UnixMilli(0).UTC()}
	return New("ch1", 30*60*1000, 3, plan, episodes, feeder, noopFiller{}, &memTxLog{})
}

func TestStartSeedsQueueWithBlockAAndB(t *testing.T) {
	feeder := &fakeFeeder{}
	p := newTestProducer(feeder)

	err := p.Start(context.Background(), 45*60*1000) // 00:45, mid-way through first half-hour boundary... grid is 30min
	require.NoError(t, err)

	feeder.mu.Lock()
	defer feeder.mu.Unlock()
	require.GreaterOrEqual(t, len(feeder.fed), 2)
	assert.Equal(t, int64(30*60*1000), feeder.fed[0].StartUTCMs)
	assert.Equal(t, int64(60*60*1000), feeder.fed[0].EndUTCMs)
	assert.Equal(t, int64(60*60*1000), feeder.fed[1].StartUTCMs)
}

func TestStartJoinInProgressShortensFirstSegmentNotBlockDuration(t *testing.T) {
	feeder := &fakeFeeder{}
	p := newTestProducer(feeder)

	require.NoError(t, p.Start(context.Background(), 45*60*1000))

	feeder.mu.Lock()
	defer feeder.mu.Unlock()
	blockA := feeder.fed[0]
	// Block A's own duration is still the full block length...
	assert.Equal(t, int64(30*60*1000), blockA.EndUTCMs-blockA.StartUTCMs)
	// ...but its first (content) segment is shortened by the join offset,
	// with the remainder covered by trailing pad.
	require.NotEmpty(t, blockA.Segments)
	var total int64
	for _, s := range blockA.Segments {
		total += s.SegmentDurationMs
	}
	assert.Equal(t, int64(30*60*1000), total)
	assert.Equal(t, SegmentPad, blockA.Segments[len(blockA.Segments)-1].Type)
}

func TestOnBlockStartedGrantsCreditAndFeedsNextBlock(t *testing.T) {
	feeder := &fakeFeeder{}
	p := newTestProducer(feeder)
	require.NoError(t, p.Start(context.Background(), 0))

	fedBefore := len(feeder.fed)
	require.NoError(t, p.OnBlockStarted(context.Background(), feeder.fed[0].BlockID, 0))

	assert.Greater(t, len(feeder.fed), fedBefore)
}

func TestOnBlockCompletedIgnoresUnknownBlockID(t *testing.T) {
	feeder := &fakeFeeder{}
	p := newTestProducer(feeder)
	require.NoError(t, p.Start(context.Background(), 0))

	err := p.OnBlockCompleted(context.Background(), "does-not-exist", 0)
	assert.NoError(t, err)
}

func TestOnBlockCompletedRejectsFutureCompletion(t *testing.T) {
	feeder := &fakeFeeder{}
	p := newTestProducer(feeder)
	require.NoError(t, p.Start(context.Background(), 0))

	blockID := feeder.fed[0].BlockID
	err := p.OnBlockCompleted(context.Background(), blockID, -1)
	require.Error(t, err)
}

func TestOnBlockCompletedGrantsCreditOnlyWithoutBlockStarted(t *testing.T) {
	feeder := &fakeFeeder{}
	p := newTestProducer(feeder)
	require.NoError(t, p.Start(context.Background(), 0))

	blockID := feeder.fed[0].BlockID
	require.NoError(t, p.OnBlockStarted(context.Background(), blockID, 0))
	fedAfterStarted := len(feeder.fed)

	// BlockCompleted should NOT grant a second credit once BlockStarted has
	// been observed in this session (spec.md §4.2 rule 2).
	require.NoError(t, p.OnBlockCompleted(context.Background(), blockID, 30*60*1000))
	assert.Equal(t, fedAfterStarted, len(feeder.fed))
}

func TestQueueFullParksPendingBlockAndRetriesBeforeGenerating(t *testing.T) {
	// Both the seed attempt and the automatic in-Start retry fail, so the
	// block is still parked once Start returns.
	feeder := &fakeFeeder{fullForNext: 2}
	p := newTestProducer(feeder)
	require.NoError(t, p.Start(context.Background(), 0))

	require.NotNil(t, p.pendingBlock)
	nextIndexBefore := p.nextIndex

	// The next credit retries the parked block (now accepted) before any
	// new block is generated.
	require.NoError(t, p.OnBlockStarted(context.Background(), p.pendingBlock.BlockID, 0))
	assert.Nil(t, p.pendingBlock)
	assert.Equal(t, nextIndexBefore+1, p.nextIndex)
}
