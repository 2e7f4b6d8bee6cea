// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package control implements the Control RPC surface (spec.md §6): the
// request/response operations a caller uses to start and drive a
// channel's block plan session. "The wire is an interface, the server
// thread is not" (spec.md §1) — ControlService is a plain Go interface;
// internal/control/http is the thin HTTP/JSON adapter over it.
package control

import (
	"context"

	"github.com/retrovue/playoutd/internal/domain/blockplan"
)

// Transport is the subset of attach-target transports the control
// surface negotiates; UDS is the only one spec.md names.
type Transport string

const (
	TransportUDS Transport = "uds"
)

// BlockEventKind is the tag of a BlockEvent (spec.md §6).
type BlockEventKind string

const (
	EventBlockStarted   BlockEventKind = "BlockStarted"
	EventBlockCompleted BlockEventKind = "BlockCompleted"
	EventSegmentStart   BlockEventKind = "SegmentStart"
	EventSegmentEnd     BlockEventKind = "SegmentEnd"
	EventSessionEnded   BlockEventKind = "SessionEnded"
)

// BlockEvent is the tagged union SubscribeBlockEvents streams (spec.md
// §6): only the fields relevant to Kind are populated.
type BlockEvent struct {
	Kind    BlockEventKind `json:"kind"`
	Channel string         `json:"channel"`
	BlockID string         `json:"block_id,omitempty"`

	BlockStartUTCMs int64 `json:"block_start_utc_ms,omitempty"`
	BlockEndUTCMs   int64 `json:"block_end_utc_ms,omitempty"`

	SegmentIndex int `json:"segment_index,omitempty"`

	FinalCTMs      int64  `json:"final_ct_ms,omitempty"`
	BlocksExecuted int64  `json:"blocks_executed_total,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// StartChannelRequest is the StartChannel op's input (spec.md §6).
type StartChannelRequest struct {
	Channel           string `json:"channel"`
	PlanHandle        string `json:"plan_handle"`
	TransportHint     string `json:"transport_hint"`
	ProgramFormatJSON string `json:"program_format_json"`
}

// AttachStreamRequest is the AttachStream op's input.
type AttachStreamRequest struct {
	Channel         string    `json:"channel"`
	Transport       Transport `json:"transport"`
	Endpoint        string    `json:"endpoint"`
	ReplaceExisting bool      `json:"replace_existing"`
}

// AttachStreamResult is the AttachStream op's output.
type AttachStreamResult struct {
	Success             bool      `json:"success"`
	NegotiatedTransport Transport `json:"negotiated_transport"`
	NegotiatedEndpoint  string    `json:"negotiated_endpoint"`
}

// LoadPreviewRequest is the LoadPreview op's input.
type LoadPreviewRequest struct {
	Channel     string `json:"channel"`
	AssetPath   string `json:"asset_path"`
	StartFrame  int64  `json:"start_frame"`
	FrameCount  int64  `json:"frame_count"`
	FPSNum      int64  `json:"fps_num"`
	FPSDen      int64  `json:"fps_den"`
}

// LoadPreviewResult is the LoadPreview op's output.
type LoadPreviewResult struct {
	Success            bool   `json:"success"`
	ShadowDecodeStarted bool   `json:"shadow_decode_started"`
	ResultCode         string `json:"result_code"`
}

// SwitchToLiveRequest is the SwitchToLive op's input.
type SwitchToLiveRequest struct {
	Channel             string `json:"channel"`
	TargetBoundaryTimeMs int64  `json:"target_boundary_time_ms"`
	IssuedAtTimeMs      int64  `json:"issued_at_time_ms"`
}

// SwitchToLiveResult is the SwitchToLive op's output.
type SwitchToLiveResult struct {
	Success           bool   `json:"success"`
	PTSContiguous     bool   `json:"pts_contiguous"`
	LiveStartPTS      int64  `json:"live_start_pts"`
	CompletionTimeMs  int64  `json:"completion_time_ms"`
	ViolationReason   string `json:"violation_reason,omitempty"`
	ResultCode        string `json:"result_code"`
}

// StartBlockPlanSessionRequest is the StartBlockPlanSession op's input:
// the caller supplies the two join-in-progress seed blocks directly.
// This is a Go-level request struct for in-process ControlService
// callers; internal/control/http owns the JSON wire shape separately,
// the same way txLogRecord is kept separate from ScheduledBlock.
type StartBlockPlanSessionRequest struct {
	Channel           string
	BlockA            blockplan.ScheduledBlock
	BlockB            blockplan.ScheduledBlock
	ProgramFormatJSON string
}

// FeedBlockPlanResult is the FeedBlockPlan op's output.
type FeedBlockPlanResult struct {
	Success    bool   `json:"success"`
	QueueFull  bool   `json:"queue_full"`
	ResultCode string `json:"result_code"`
}

// StopBlockPlanSessionResult is the StopBlockPlanSession op's output.
type StopBlockPlanSessionResult struct {
	Success        bool  `json:"success"`
	FinalCTMs      int64 `json:"final_ct_ms"`
	BlocksExecuted int64 `json:"blocks_executed"`
}

// OpResult is the shared success/message shape for the simple ops
// (StartChannel, UpdatePlan, StopChannel).
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ControlService is the operations table of spec.md §6. One process
// implements it in-memory (Service); internal/control/http exposes it
// over chi-routed JSON.
type ControlService interface {
	GetVersion(ctx context.Context) (string, error)
	StartChannel(ctx context.Context, req StartChannelRequest) (OpResult, error)
	UpdatePlan(ctx context.Context, channel, planHandle string) (OpResult, error)
	StopChannel(ctx context.Context, channel string) (OpResult, error)

	AttachStream(ctx context.Context, req AttachStreamRequest) (AttachStreamResult, error)
	DetachStream(ctx context.Context, channel string, force bool) (OpResult, error)

	LoadPreview(ctx context.Context, req LoadPreviewRequest) (LoadPreviewResult, error)
	SwitchToLive(ctx context.Context, req SwitchToLiveRequest) (SwitchToLiveResult, error)

	StartBlockPlanSession(ctx context.Context, req StartBlockPlanSessionRequest) (OpResult, error)
	FeedBlockPlan(ctx context.Context, channel string, block blockplan.ScheduledBlock) (FeedBlockPlanResult, error)
	StopBlockPlanSession(ctx context.Context, channel, reason string) (StopBlockPlanSessionResult, error)

	SubscribeBlockEvents(ctx context.Context, channel string) (<-chan BlockEvent, func(), error)
}
