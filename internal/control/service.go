// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/retrovue/playoutd/internal/bus"
	"github.com/retrovue/playoutd/internal/domain/blockplan"
	"github.com/retrovue/playoutd/internal/log"
	"github.com/retrovue/playoutd/internal/perr"
)

// Version is the Control RPC surface's reported API version (spec.md §6
// GetVersion).
const Version = "playoutd/v1"

const blockEventTopicPrefix = "control.blockevents."

// channel is one channel's Control RPC state. All fields are guarded by
// mu; Service never holds two channels' locks at once.
type channel struct {
	mu sync.Mutex

	name       string
	planHandle string

	attached            bool
	attachedTransport    Transport
	attachedEndpoint     string

	sessionActive  bool
	sessionID      string
	queue          []blockplan.ScheduledBlock
	queueDepth     int
	blocksExecuted int64
	finalCTMs      int64
}

// Service is the in-memory ControlService implementation. One Service
// instance owns every channel registered via StartChannel; it is the
// orchestration layer spec.md §1 calls out as "the server thread" atop
// the ControlService interface.
type Service struct {
	Bus bus.Bus

	mu       sync.Mutex
	channels map[string]*channel
}

// NewService constructs a Service. b must not be nil; it carries
// SubscribeBlockEvents fan-out (spec.md §6).
func NewService(b bus.Bus) *Service {
	return &Service{Bus: b, channels: make(map[string]*channel)}
}

func (s *Service) lookup(name string) (*channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	return ch, ok
}

func (s *Service) GetVersion(_ context.Context) (string, error) {
	return Version, nil
}

func (s *Service) StartChannel(_ context.Context, req StartChannelRequest) (OpResult, error) {
	if req.Channel == "" {
		return OpResult{}, perr.Wrap(perr.ErrProtocolViolation, "StartChannel: channel is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[req.Channel]; exists {
		return OpResult{}, perr.Wrap(perr.ErrAlreadyExists, fmt.Sprintf("channel %q already started", req.Channel))
	}
	s.channels[req.Channel] = &channel{name: req.Channel, planHandle: req.PlanHandle}
	log.L().Info().Str("channel", req.Channel).Str("plan_handle", req.PlanHandle).Msg("control: channel started")
	return OpResult{Success: true, Message: "channel started"}, nil
}

func (s *Service) UpdatePlan(_ context.Context, channelName, planHandle string) (OpResult, error) {
	ch, ok := s.lookup(channelName)
	if !ok {
		return OpResult{}, perr.Wrap(perr.ErrNotFound, fmt.Sprintf("channel %q not found", channelName))
	}
	ch.mu.Lock()
	ch.planHandle = planHandle
	ch.mu.Unlock()
	return OpResult{Success: true, Message: "plan updated"}, nil
}

// StopChannel is idempotent: stopping an unknown channel still succeeds
// (spec.md §6: "NOT_FOUND (idempotent OK)").
func (s *Service) StopChannel(_ context.Context, channelName string) (OpResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelName)
	return OpResult{Success: true, Message: "channel stopped"}, nil
}

func (s *Service) AttachStream(_ context.Context, req AttachStreamRequest) (AttachStreamResult, error) {
	ch, ok := s.lookup(req.Channel)
	if !ok {
		return AttachStreamResult{}, perr.Wrap(perr.ErrNotFound, fmt.Sprintf("channel %q not found", req.Channel))
	}
	if len(req.Endpoint) > 108 { // classic sun_path limit for a UDS endpoint
		return AttachStreamResult{}, perr.Wrap(perr.ErrProtocolViolation, "AttachStream: endpoint path too long")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.attached && !req.ReplaceExisting {
		return AttachStreamResult{}, perr.Wrap(perr.ErrRejectedBusy, fmt.Sprintf("channel %q already attached", req.Channel))
	}
	ch.attached = true
	ch.attachedTransport = req.Transport
	ch.attachedEndpoint = req.Endpoint
	return AttachStreamResult{Success: true, NegotiatedTransport: req.Transport, NegotiatedEndpoint: req.Endpoint}, nil
}

// DetachStream is idempotent: detaching an unattached channel (or an
// unknown one) still returns success (spec.md §8 round-trip property).
func (s *Service) DetachStream(_ context.Context, channelName string, _ bool) (OpResult, error) {
	ch, ok := s.lookup(channelName)
	if !ok {
		return OpResult{Success: true}, nil
	}
	ch.mu.Lock()
	ch.attached = false
	ch.attachedEndpoint = ""
	ch.mu.Unlock()
	return OpResult{Success: true}, nil
}

func (s *Service) LoadPreview(_ context.Context, req LoadPreviewRequest) (LoadPreviewResult, error) {
	if _, ok := s.lookup(req.Channel); !ok {
		return LoadPreviewResult{}, perr.Wrap(perr.ErrNotFound, fmt.Sprintf("channel %q not found", req.Channel))
	}
	if req.FPSNum <= 0 || req.FPSDen <= 0 || (90000*req.FPSDen)%req.FPSNum != 0 {
		return LoadPreviewResult{}, perr.Wrap(perr.ErrProtocolViolation, fmt.Sprintf("LoadPreview: invalid fps %d/%d", req.FPSNum, req.FPSDen))
	}
	return LoadPreviewResult{Success: true, ShadowDecodeStarted: true, ResultCode: "OK"}, nil
}

func (s *Service) SwitchToLive(_ context.Context, req SwitchToLiveRequest) (SwitchToLiveResult, error) {
	ch, ok := s.lookup(req.Channel)
	if !ok {
		return SwitchToLiveResult{}, perr.Wrap(perr.ErrNotFound, fmt.Sprintf("channel %q not found", req.Channel))
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.attached {
		return SwitchToLiveResult{ResultCode: "NOT_READY"}, perr.Wrap(perr.ErrNotReady, "SwitchToLive: stream not attached")
	}
	if req.TargetBoundaryTimeMs <= req.IssuedAtTimeMs {
		return SwitchToLiveResult{ResultCode: "PROTOCOL_VIOLATION"}, perr.Wrap(perr.ErrProtocolViolation, "SwitchToLive: target boundary must be after issued-at")
	}
	return SwitchToLiveResult{
		Success:          true,
		PTSContiguous:    true,
		LiveStartPTS:     0,
		CompletionTimeMs: req.TargetBoundaryTimeMs,
		ResultCode:       "OK",
	}, nil
}

// StartBlockPlanSession seeds the feed queue with the caller-supplied A
// and B blocks (spec.md §4.2, §6). A/B must tile contiguously
// (A.EndUTCMs == B.StartUTCMs); the channel must already be attached.
func (s *Service) StartBlockPlanSession(_ context.Context, req StartBlockPlanSessionRequest) (OpResult, error) {
	ch, ok := s.lookup(req.Channel)
	if !ok {
		return OpResult{}, perr.Wrap(perr.ErrNotFound, fmt.Sprintf("channel %q not found", req.Channel))
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.sessionActive {
		return OpResult{}, perr.Wrap(perr.ErrAlreadyActive, fmt.Sprintf("channel %q already has an active block plan session", req.Channel))
	}
	if !ch.attached {
		return OpResult{}, perr.Wrap(perr.ErrStreamNotAttached, fmt.Sprintf("channel %q has no attached stream", req.Channel))
	}
	if req.BlockA.EndUTCMs != req.BlockB.StartUTCMs {
		return OpResult{}, perr.Wrap(perr.ErrNotContiguous, fmt.Sprintf("block A end %d does not meet block B start %d", req.BlockA.EndUTCMs, req.BlockB.StartUTCMs))
	}

	ch.sessionActive = true
	ch.sessionID = uuid.NewString()
	ch.queue = []blockplan.ScheduledBlock{req.BlockA, req.BlockB}
	ch.queueDepth = defaultQueueDepth
	ch.blocksExecuted = 0
	ch.finalCTMs = 0

	s.publishLocked(ch, BlockEvent{Kind: EventBlockStarted, Channel: ch.name, BlockID: req.BlockA.BlockID, BlockStartUTCMs: req.BlockA.StartUTCMs, BlockEndUTCMs: req.BlockA.EndUTCMs})
	return OpResult{Success: true, Message: "block plan session started: " + ch.sessionID}, nil
}

// FeedBlockPlan admits one externally fed block into the channel's feed
// queue (spec.md §4.2 "Feed queue discipline"). A full queue parks the
// block nowhere — the caller is told QUEUE_FULL and must retry after the
// next BlockStarted/BlockCompleted credit, mirroring the producer's own
// pending_block retry rule one level up.
func (s *Service) FeedBlockPlan(_ context.Context, channelName string, block blockplan.ScheduledBlock) (FeedBlockPlanResult, error) {
	ch, ok := s.lookup(channelName)
	if !ok {
		return FeedBlockPlanResult{}, perr.Wrap(perr.ErrNoSession, fmt.Sprintf("channel %q not found", channelName))
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.sessionActive {
		return FeedBlockPlanResult{}, perr.Wrap(perr.ErrNoSession, fmt.Sprintf("channel %q has no active block plan session", channelName))
	}
	if len(ch.queue) >= ch.queueDepth {
		return FeedBlockPlanResult{QueueFull: true, ResultCode: "QUEUE_FULL"}, nil
	}
	ch.queue = append(ch.queue, block)
	return FeedBlockPlanResult{Success: true, ResultCode: "OK"}, nil
}

// StopBlockPlanSession is idempotent: an inactive (or unknown) channel
// returns success with final_ct_ms = 0 (spec.md §8 round-trip property).
func (s *Service) StopBlockPlanSession(_ context.Context, channelName, reason string) (StopBlockPlanSessionResult, error) {
	ch, ok := s.lookup(channelName)
	if !ok {
		return StopBlockPlanSessionResult{Success: true}, nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.sessionActive {
		return StopBlockPlanSessionResult{Success: true}, nil
	}

	ch.sessionActive = false
	final := StopBlockPlanSessionResult{Success: true, FinalCTMs: ch.finalCTMs, BlocksExecuted: ch.blocksExecuted}
	s.publishLocked(ch, BlockEvent{Kind: EventSessionEnded, Channel: ch.name, FinalCTMs: ch.finalCTMs, BlocksExecuted: ch.blocksExecuted, Reason: reason})
	ch.queue = nil
	return final, nil
}

// AdvanceOneBlock pops the head of the feed queue and reports it
// executed, the credit-driven completion signal StartBlockPlanSession's
// seed and FeedBlockPlan's admissions eventually need to free a slot
// (spec.md §4.2 rule 3). It is exported so tests and an eventual
// real executor can drive the queue without reaching into channel
// internals directly.
func (s *Service) AdvanceOneBlock(channelName string) (blockplan.ScheduledBlock, bool) {
	ch, ok := s.lookup(channelName)
	if !ok {
		return blockplan.ScheduledBlock{}, false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.queue) == 0 || !ch.sessionActive {
		return blockplan.ScheduledBlock{}, false
	}

	blk := ch.queue[0]
	ch.queue = ch.queue[1:]
	ch.blocksExecuted++
	ch.finalCTMs = blk.EndUTCMs

	s.publishLocked(ch, BlockEvent{Kind: EventBlockCompleted, Channel: ch.name, BlockID: blk.BlockID, BlockStartUTCMs: blk.StartUTCMs, BlockEndUTCMs: blk.EndUTCMs, FinalCTMs: ch.finalCTMs, BlocksExecuted: ch.blocksExecuted})
	return blk, true
}

func (s *Service) publishLocked(ch *channel, ev BlockEvent) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Publish(context.Background(), blockEventTopicPrefix+ch.name, ev); err != nil {
		log.L().Warn().Err(err).Str("channel", ch.name).Msg("control: block event publish failed")
	}
}

// SubscribeBlockEvents returns a channel of BlockEvents for channelName
// and an unsubscribe func the caller must call when done (spec.md §6).
func (s *Service) SubscribeBlockEvents(ctx context.Context, channelName string) (<-chan BlockEvent, func(), error) {
	if _, ok := s.lookup(channelName); !ok {
		return nil, nil, perr.Wrap(perr.ErrNotFound, fmt.Sprintf("channel %q not found", channelName))
	}
	sub, err := s.Bus.Subscribe(ctx, blockEventTopicPrefix+channelName)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe block events: %w", err)
	}

	out := make(chan BlockEvent, 16)
	go func() {
		defer close(out)
		for raw := range sub.C() {
			ev, ok := raw.(BlockEvent)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

const defaultQueueDepth = 3
