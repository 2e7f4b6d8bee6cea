// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldBlockID       = "block_id"
	FieldChannelID     = "channel_id"
	FieldSegmentIndex  = "segment_index"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Timeline fields
	FieldCTMicros  = "ct_us"
	FieldMTMicros  = "mt_us"
	FieldPTS90k    = "pts_90k"
	FieldFrameRate = "frame_rate"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"
)
