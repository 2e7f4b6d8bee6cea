// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package schedule implements the Schedule Resolver (spec.md §4.1): it
// converts a schedule definition into an immutable resolved program-day
// and exposes EPG events and playout-plan lookups over it.
package schedule

import (
	"time"

	"github.com/retrovue/playoutd/internal/domain/catalog"
)

// HorizonAuthority selects how missing planning data is treated
// (spec.md §6 CLI surface, §4.1 Failure).
type HorizonAuthority string

const (
	HorizonLegacy        HorizonAuthority = "legacy"
	HorizonShadow        HorizonAuthority = "shadow"
	HorizonAuthoritative HorizonAuthority = "authoritative"
)

// ResolvedSlot is immutable once created by the resolver.
type ResolvedSlot struct {
	SlotStart     time.Time // grid-aligned wall-clock start, UTC
	AssetID       string
	DisplayTitle  string
	EpisodeTitle  string
	CrossDayFromID string // non-empty if this slot continues an episode begun the prior day
}

// ResolvedDay is owned exclusively by the Schedule Resolver's store
// (spec.md §3 Ownership). Resolution is idempotent per (channel, date).
type ResolvedDay struct {
	Channel string
	Date    time.Time // programming-day date, UTC midnight
	Slots   []ResolvedSlot
}

// EPGEvent is a read-only view over a resolved day. Its title never
// changes once returned (spec.md §4.1).
type EPGEvent struct {
	Channel      string
	Start        time.Time
	End          time.Time
	Title        string
	EpisodeTitle string
	AssetID      string
}

// PlayoutPlan maps a query time to the active resolved slot plus a seek
// offset into it.
type PlayoutPlan struct {
	Channel    string
	Slot       ResolvedSlot
	SlotEnd    time.Time
	SeekOffset time.Duration // t - slot_start
}

// Episode looks up immutable episode/asset metadata by id. The asset
// catalog itself is an external, read-only collaborator (spec.md §1).
type EpisodeLookup interface {
	Episode(id string) (catalog.Episode, bool)
}

// ProgramLookup looks up immutable program definitions by id.
type ProgramLookup interface {
	Program(id string) (catalog.Program, bool)
}

// SlotSource supplies the editorial ScheduleSlots for a programming day.
// This is the "schedule definition" input of spec.md §4.1.
type SlotSource interface {
	SlotsForDay(channel string, date time.Time) ([]catalog.ScheduleSlot, error)
}
