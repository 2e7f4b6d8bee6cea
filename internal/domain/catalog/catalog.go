// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package catalog defines the read-only input entities the Schedule
// Resolver consumes: programs, episodes/assets, and the grid-aligned
// schedule slots an editorial system produces ahead of time. The catalog
// and traffic inventory stores themselves are external collaborators
// (spec.md §1); this package only defines the shapes read from them.
package catalog

import "time"

// PlayMode selects how ResolveDay picks a concrete asset for a slot.
type PlayMode string

const (
	PlayModeSequential PlayMode = "sequential"
	PlayModeRandom     PlayMode = "random"
	PlayModeManual     PlayMode = "manual"
)

// Program is an immutable input: an ordered list of episodes played
// according to PlayMode.
type Program struct {
	ID          string
	DisplayName string
	Mode        PlayMode
	Episodes    []Episode
}

// Episode (an on-disk Asset) is immutable once loaded. ContentDurationUs
// is authoritative over any scheduled slot duration (spec.md §4.1).
type Episode struct {
	ID                string
	FilePath          string
	ContentDurationUs int64
	Title             string
	Season            int
	EpisodeNumber     int
}

// Duration is a convenience accessor used throughout the planning layer.
func (e Episode) Duration() time.Duration {
	return time.Duration(e.ContentDurationUs) * time.Microsecond
}

// ScheduleSlot is editorial input to resolution: a grid-aligned
// time-of-day paired with a program-or-asset reference and a nominal
// duration that the resolver may discover is wrong (content-duration
// supremacy, spec.md §4.1).
type ScheduleSlot struct {
	SlotTimeOfDay  time.Duration // offset from programming-day start, grid-aligned
	ProgramID      string        // set for program references (sequential/random play-mode)
	ManualAssetID  string        // set directly for PlayModeManual
	NominalDurUs   int64
}
