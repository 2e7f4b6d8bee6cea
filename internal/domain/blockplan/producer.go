// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package blockplan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/playoutd/internal/domain/catalog"
	"github.com/retrovue/playoutd/internal/domain/schedule"
	"github.com/retrovue/playoutd/internal/log"
	"github.com/retrovue/playoutd/internal/metrics"
	"github.com/retrovue/playoutd/internal/perr"
)

const defaultQueueDepth = 3
const minQueueDepth = 2

// noIndex marks a pending block that did not come from the nextIndex
// cursor (the join-in-progress seed blocks A and B); its retry must not
// perturb the cursor.
const noIndex int64 = -1

// PlanSource supplies the resolved playout plan the producer anchors
// blocks against.
type PlanSource interface {
	GetPlayoutPlan(ctx context.Context, channel string, t time.Time) (*schedule.PlayoutPlan, error)
}

// Producer is the Block Plan Producer (spec.md §4.2). One Producer runs
// per channel session; its exported methods must be called from a single
// goroutine (the feed-event callback thread), matching the ownership model
// of spec.md §5.
type Producer struct {
	Channel         string
	BlockDurationMs int64
	QueueDepth      int
	BreakOffsetsMs  []int64 // one commercial placeholder per entry; the offset values do not affect placement
	BreakDurationMs int64

	Plan     PlanSource
	Episodes catalog.EpisodeLookup
	Feeder   Feeder
	Filler   BreakFiller
	TxLog    TransmissionLog

	mu              sync.Mutex
	anchorStartMs   int64
	nextIndex       int64
	credits         int
	pendingBlock    *ScheduledBlock
	pendingIndex    int64 // index that generated pendingBlock, or noIndex
	active          map[string]ScheduledBlock
	sawBlockStarted bool
	blocksExecuted  int64
}

func New(channel string, blockDurationMs int64, queueDepth int, plan PlanSource, episodes catalog.EpisodeLookup, feeder Feeder, filler BreakFiller, txlog TransmissionLog) *Producer {
	if queueDepth < minQueueDepth {
		queueDepth = defaultQueueDepth
	}
	return &Producer{
		Channel: channel, BlockDurationMs: blockDurationMs, QueueDepth: queueDepth,
		Plan: plan, Episodes: episodes, Feeder: feeder, Filler: filler, TxLog: txlog,
		active: make(map[string]ScheduledBlock), pendingIndex: noIndex,
	}
}

// Start establishes the session anchor and seeds the feed queue with the
// join-in-progress blocks A and B (spec.md §4.2 "Anchoring and
// Join-In-Progress").
func (p *Producer) Start(ctx context.Context, joinWallClockUTCMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.anchorStartMs = floorToGrid(joinWallClockUTCMs, p.BlockDurationMs)
	p.active = make(map[string]ScheduledBlock)
	p.pendingBlock = nil
	p.pendingIndex = noIndex
	p.sawBlockStarted = false
	p.blocksExecuted = 0

	entryTime := time.UnixMilli(p.anchorStartMs).UTC()
	plan, err := p.Plan.GetPlayoutPlan(ctx, p.Channel, entryTime)
	if err != nil {
		return fmt.Errorf("start: resolve join-in-progress plan: %w", err)
	}
	joinOffsetMs := joinWallClockUTCMs - p.anchorStartMs

	blockA, err := p.buildBlockFromPlan(ctx, plan, p.anchorStartMs, joinOffsetMs)
	if err != nil {
		return fmt.Errorf("start: build block A: %w", err)
	}
	fedA, err := p.tryFeedLocked(ctx, blockA, noIndex)
	if err != nil {
		return fmt.Errorf("start: feed block A: %w", err)
	}
	if fedA {
		p.active[blockA.BlockID] = blockA

		blockB, err := p.buildBlock(ctx, blockA.EndUTCMs)
		if err != nil {
			return fmt.Errorf("start: build block B: %w", err)
		}
		fedB, err := p.tryFeedLocked(ctx, blockB, noIndex)
		if err != nil {
			return fmt.Errorf("start: feed block B: %w", err)
		}
		if fedB {
			p.active[blockB.BlockID] = blockB
		}
	}

	p.nextIndex = 2
	if !fedA {
		// B was never built; let the cursor generate it after A's retry.
		p.nextIndex = 1
	}
	p.credits = p.QueueDepth - 2
	if p.credits < 0 {
		p.credits = 0
	}
	metrics.BlockFeedCredits.WithLabelValues(p.Channel).Set(float64(p.credits))
	return p.drainCreditsLocked(ctx)
}

// OnBlockStarted is the preferred credit signal: a slot was freed as the
// downstream popped a block for air.
func (p *Producer) OnBlockStarted(ctx context.Context, blockID string, nowUTCMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sawBlockStarted = true
	p.credits++
	metrics.BlockFeedCredits.WithLabelValues(p.Channel).Set(float64(p.credits))
	return p.drainCreditsLocked(ctx)
}

// OnBlockCompleted is the backward-compatible credit signal, applied only
// when BlockStarted has never been observed in this session. Unknown
// block-ids are ignored; a completion reported before the block's own
// start time is rejected (future-completion guard).
func (p *Producer) OnBlockCompleted(ctx context.Context, blockID string, nowUTCMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	blk, ok := p.active[blockID]
	if !ok {
		return nil
	}
	if nowUTCMs < blk.StartUTCMs {
		return perr.Wrap(perr.ErrProtocolViolation, fmt.Sprintf("future completion for block %s: now=%d start=%d", blockID, nowUTCMs, blk.StartUTCMs))
	}

	delete(p.active, blockID)
	p.blocksExecuted++

	if !p.sawBlockStarted {
		p.credits++
		metrics.BlockFeedCredits.WithLabelValues(p.Channel).Set(float64(p.credits))
	}
	return p.drainCreditsLocked(ctx)
}

// RecomputeStaleAnchor handles a session restart where the anchor has
// gone stale: if now is past every active block's end, the anchor is
// recomputed from the current wall clock. It never fast-forwards through
// multiple missed blocks — only one fresh anchor is derived.
func (p *Producer) RecomputeStaleAnchor(nowUTCMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var maxEnd int64
	for _, blk := range p.active {
		if blk.EndUTCMs > maxEnd {
			maxEnd = blk.EndUTCMs
		}
	}
	if maxEnd != 0 && nowUTCMs <= maxEnd {
		return
	}
	p.anchorStartMs = floorToGrid(nowUTCMs, p.BlockDurationMs)
}

// GenerateBlock produces a block at the current cursor without advancing
// it; the cursor advances only when a feed of that block succeeds
// (drainCreditsLocked).
func (p *Producer) GenerateBlock(ctx context.Context, index int64) (ScheduledBlock, error) {
	startMs := p.anchorStartMs + index*p.BlockDurationMs
	return p.buildBlock(ctx, startMs)
}

// BlocksExecuted returns the running count used in StopBlockPlanSession's
// response (spec.md §6).
func (p *Producer) BlocksExecuted() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocksExecuted
}

// drainCreditsLocked retries pending_block before generating anything new
// (spec.md §4.2 rule 3): the block cursor advances only when a block
// generated from the cursor is fed successfully, whether on its first
// attempt or on a retry; the seed blocks A and B never move it.
func (p *Producer) drainCreditsLocked(ctx context.Context) error {
	for p.credits > 0 {
		var blk ScheduledBlock
		var idx int64
		var err error

		if p.pendingBlock != nil {
			blk, idx = *p.pendingBlock, p.pendingIndex
		} else {
			idx = p.nextIndex
			blk, err = p.GenerateBlock(ctx, idx)
			if err != nil {
				return fmt.Errorf("drain credits: generate block %d: %w", idx, err)
			}
		}

		fed, err := p.tryFeedLocked(ctx, blk, idx)
		if err != nil {
			return err
		}
		if !fed {
			return nil // pendingBlock now holds blk; retried on next credit
		}

		if idx != noIndex && idx >= p.nextIndex {
			p.nextIndex = idx + 1
		}
		p.active[blk.BlockID] = blk
		p.credits--
		metrics.BlockFeedCredits.WithLabelValues(p.Channel).Set(float64(p.credits))
	}
	return nil
}

// tryFeedLocked runs the fill-at-feed-time transaction and calls the
// feeder. idx is the nextIndex cursor value this block was generated at,
// or noIndex for the join-in-progress seed blocks. A QueueFull response
// parks the filled block in pendingBlock/pendingIndex and returns
// fed=false without error — the feed is simply deferred, never treated
// as a failure.
func (p *Producer) tryFeedLocked(ctx context.Context, blk ScheduledBlock, idx int64) (fed bool, err error) {
	now := time.Now()
	filled := FillBreaks(ctx, blk, p.Filler, now)

	if err := p.TxLog.Put(ctx, filled, now.UnixMilli()); err != nil {
		log.L().Warn().Err(err).Str(log.FieldBlockID, filled.BlockID).Msg("transmission log write failed, feeding anyway")
	}

	queueFull, err := p.Feeder.Feed(ctx, filled)
	if err != nil {
		return false, fmt.Errorf("feed block %s: %w", filled.BlockID, err)
	}
	if queueFull {
		p.pendingBlock = &filled
		p.pendingIndex = idx
		metrics.QueueFullTotal.WithLabelValues(p.Channel).Inc()
		return false, nil
	}
	p.pendingBlock = nil
	p.pendingIndex = noIndex
	return true, nil
}

func (p *Producer) buildBlock(ctx context.Context, startMs int64) (ScheduledBlock, error) {
	plan, err := p.Plan.GetPlayoutPlan(ctx, p.Channel, time.UnixMilli(startMs).UTC())
	if err != nil {
		return ScheduledBlock{}, fmt.Errorf("resolve plan at %d: %w", startMs, err)
	}
	return p.buildBlockFromPlan(ctx, plan, startMs, 0)
}

// buildBlockFromPlan tiles a block's segments from the resolved plan
// active at startMs. extraSeekOffsetMs is the join-in-progress offset
// added atop the plan's own seek offset for the session's very first
// block (spec.md §4.2 table: "entry's own offset + block_offset_ms").
func (p *Producer) buildBlockFromPlan(_ context.Context, plan *schedule.PlayoutPlan, startMs int64, extraSeekOffsetMs int64) (ScheduledBlock, error) {
	endMs := startMs + p.BlockDurationMs

	ep, ok := p.Episodes.Episode(plan.Slot.AssetID)
	var contentSeg Segment
	remainingMs := p.BlockDurationMs

	if plan.Slot.AssetID != "" && ok {
		totalOffsetMs := plan.SeekOffset.Milliseconds() + extraSeekOffsetMs
		availableMs := ep.Duration().Milliseconds() - totalOffsetMs
		segDurMs := availableMs
		if segDurMs > p.BlockDurationMs-extraSeekOffsetMs {
			segDurMs = p.BlockDurationMs - extraSeekOffsetMs
		}
		if segDurMs < 0 {
			segDurMs = 0
		}
		contentSeg = Segment{
			AssetURI:          ep.FilePath,
			AssetStartOffsetMs: totalOffsetMs,
			SegmentDurationMs: segDurMs,
			Type:              SegmentContent,
		}
		remainingMs -= segDurMs
	}

	segments := []Segment{contentSeg}
	segments = append(segments, p.breakSegments(startMs, &remainingMs)...)
	if remainingMs > 0 {
		segments = append(segments, Segment{AssetURI: "pad://black", SegmentDurationMs: remainingMs, Type: SegmentPad})
	}
	for i := range segments {
		segments[i].Index = i
	}

	return ScheduledBlock{
		BlockID:    uuid.NewString(),
		Channel:    p.Channel,
		StartUTCMs: startMs,
		EndUTCMs:   endMs,
		Segments:   segments,
	}, nil
}

// breakSegments returns one empty-URI commercial placeholder per entry in
// BreakOffsetsMs, placed after the content segment in list order (the
// offset values themselves are not used), decrementing remainingMs by
// each break's duration.
// Fill happens later, at feed time (FillBreaks), never here.
func (p *Producer) breakSegments(_ int64, remainingMs *int64) []Segment {
	if len(p.BreakOffsetsMs) == 0 || p.BreakDurationMs <= 0 {
		return nil
	}
	var out []Segment
	for range p.BreakOffsetsMs {
		dur := p.BreakDurationMs
		if dur > *remainingMs {
			dur = *remainingMs
		}
		if dur <= 0 {
			continue
		}
		out = append(out, Segment{Type: SegmentCommercial, SegmentDurationMs: dur})
		*remainingMs -= dur
	}
	return out
}

func floorToGrid(ms, grid int64) int64 {
	if grid <= 0 {
		return ms
	}
	return (ms / grid) * grid
}
