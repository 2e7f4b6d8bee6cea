// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package schedule

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/retrovue/playoutd/internal/domain/catalog"
	"github.com/retrovue/playoutd/internal/perr"
	"golang.org/x/sync/singleflight"
)

const unscheduledTitle = "Unscheduled"

// Resolver is the Schedule Resolver (spec.md §4.1). A (channel, date) pair
// is resolved at most once: concurrent requests for the same key coalesce
// through sf, and the store refuses to overwrite an existing entry.
type Resolver struct {
	Store     Store
	Episodes  EpisodeLookup
	Programs  ProgramLookup
	Slots     SlotSource
	EPGCache  EPGCache
	Authority HorizonAuthority

	sf singleflight.Group
}

func New(store Store, episodes EpisodeLookup, programs ProgramLookup, slots SlotSource, epgCache EPGCache, authority HorizonAuthority) *Resolver {
	if epgCache == nil {
		epgCache = NoopEPGCache{}
	}
	return &Resolver{
		Store: store, Episodes: episodes, Programs: programs, Slots: slots,
		EPGCache: epgCache, Authority: authority,
	}
}

// ResolveDay converts the editorial ScheduleSlots for (channel, date) into
// an immutable ResolvedDay. A second call for the same key returns the
// stored result without re-advancing any sequence state.
func (r *Resolver) ResolveDay(ctx context.Context, channel string, date time.Time) (*ResolvedDay, error) {
	date = dayFloor(date)
	key := dayKey(channel, date)

	v, err, _ := r.sf.Do(key, func() (any, error) {
		if existing, ok, err := r.Store.GetResolvedDay(ctx, channel, date); err != nil {
			return nil, err
		} else if ok {
			return existing, nil
		}
		return r.resolve(ctx, channel, date)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResolvedDay), nil
}

func (r *Resolver) resolve(ctx context.Context, channel string, date time.Time) (*ResolvedDay, error) {
	editorial, err := r.Slots.SlotsForDay(channel, date)
	if err != nil {
		return nil, fmt.Errorf("load schedule slots: %w", err)
	}
	sort.Slice(editorial, func(i, j int) bool { return editorial[i].SlotTimeOfDay < editorial[j].SlotTimeOfDay })

	prevDay, _, err := r.Store.GetResolvedDay(ctx, channel, date.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	dayEnd := date.Add(24 * time.Hour)
	var resolved []ResolvedSlot

	carryAssetID, carryEnd := r.crossDayCarry(prevDay, date)

	i := 0
	for i < len(editorial) {
		slot := editorial[i]
		slotStart := date.Add(slot.SlotTimeOfDay)

		if carryAssetID != "" && slotStart.Before(carryEnd) {
			ep, _ := r.Episodes.Episode(carryAssetID)
			resolved = append(resolved, ResolvedSlot{
				SlotStart:      slotStart,
				AssetID:        carryAssetID,
				DisplayTitle:   ep.Title,
				EpisodeTitle:   ep.Title,
				CrossDayFromID: carryAssetID,
			})
			i++
			continue
		}
		carryAssetID = ""

		assetID, title, err := r.pickAsset(ctx, channel, date, slot)
		if err != nil {
			return nil, err
		}
		if assetID == "" {
			resolved = append(resolved, ResolvedSlot{SlotStart: slotStart, DisplayTitle: unscheduledTitle})
			i++
			continue
		}

		ep, _ := r.Episodes.Episode(assetID)
		episodeEnd := slotStart.Add(ep.Duration())
		resolved = append(resolved, ResolvedSlot{SlotStart: slotStart, AssetID: assetID, DisplayTitle: title, EpisodeTitle: ep.Title})
		i++

		// Content-duration supremacy: long content spans multiple grid
		// slots under the shared identity; EPG still shows grid-aligned
		// events (spec.md §4.1, §8 scenario "120-minute movie").
		for i < len(editorial) {
			next := editorial[i]
			nextStart := date.Add(next.SlotTimeOfDay)
			if !nextStart.Before(episodeEnd) || !nextStart.Before(dayEnd) {
				break
			}
			resolved = append(resolved, ResolvedSlot{SlotStart: nextStart, AssetID: assetID, DisplayTitle: title, EpisodeTitle: ep.Title})
			i++
		}

		if episodeEnd.After(dayEnd) {
			// The remainder continues into tomorrow under the same
			// identity; recorded via prevDay lookup on the next call,
			// not re-selected.
			break
		}
	}

	day := &ResolvedDay{Channel: channel, Date: date, Slots: resolved}
	if err := r.Store.PutResolvedDay(ctx, channel, date, day); err != nil {
		return nil, err
	}
	return day, nil
}

// crossDayCarry determines whether the prior day's final resolved slot
// continues into today, and if so for how long.
func (r *Resolver) crossDayCarry(prevDay *ResolvedDay, date time.Time) (assetID string, carryEnd time.Time) {
	if prevDay == nil || len(prevDay.Slots) == 0 {
		return "", time.Time{}
	}
	last := prevDay.Slots[len(prevDay.Slots)-1]
	if last.AssetID == "" {
		return "", time.Time{}
	}
	ep, ok := r.Episodes.Episode(last.AssetID)
	if !ok {
		return "", time.Time{}
	}
	lastEnd := last.SlotStart.Add(ep.Duration())
	if lastEnd.After(date) {
		return last.AssetID, lastEnd
	}
	return "", time.Time{}
}

// pickAsset selects a concrete asset for slot according to its program's
// play-mode. Missing data returns ("", "", nil) in non-authoritative modes
// (the slot becomes unscheduled) and a NoScheduleData error in
// authoritative mode (spec.md §4.1 Failure).
func (r *Resolver) pickAsset(ctx context.Context, channel string, date time.Time, slot catalog.ScheduleSlot) (assetID, title string, err error) {
	if slot.ManualAssetID != "" {
		ep, ok := r.Episodes.Episode(slot.ManualAssetID)
		if !ok {
			return r.missing(channel, slot.ManualAssetID)
		}
		return ep.ID, ep.Title, nil
	}

	prog, ok := r.Programs.Program(slot.ProgramID)
	if !ok || len(prog.Episodes) == 0 {
		return r.missing(channel, slot.ProgramID)
	}

	switch prog.Mode {
	case catalog.PlayModeManual:
		return r.missing(channel, slot.ProgramID)

	case catalog.PlayModeRandom:
		seed := seedFor(channel, prog.ID, date, slot.SlotTimeOfDay)
		idx := rand.New(rand.NewSource(seed)).Intn(len(prog.Episodes))
		ep := prog.Episodes[idx]
		return ep.ID, ep.Title, nil

	default: // sequential
		pos, err := r.Store.AdvancePosition(ctx, channel, prog.ID, len(prog.Episodes))
		if err != nil {
			return "", "", err
		}
		ep := prog.Episodes[pos]
		return ep.ID, ep.Title, nil
	}
}

func (r *Resolver) missing(channel, ref string) (string, string, error) {
	if r.Authority == HorizonAuthoritative {
		return "", "", perr.Wrap(perr.ErrNoScheduleData, fmt.Sprintf("channel=%s ref=%s", channel, ref))
	}
	return "", "", nil
}

// seedFor derives a deterministic PRNG seed from (channel, program, date,
// slot-time), per spec.md §4.1.
func seedFor(channel, programID string, date time.Time, slotTime time.Duration) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%d", channel, programID, date.UTC().Format("2006-01-02"), slotTime)
	return int64(h.Sum64())
}

func dayFloor(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetEPG returns a read-only view over resolved days for [t0, t1).
func (r *Resolver) GetEPG(ctx context.Context, channel string, t0, t1 time.Time) ([]EPGEvent, error) {
	if cached, ok := r.EPGCache.Get(ctx, channel, t0, t1); ok {
		return cached, nil
	}

	var events []EPGEvent
	for d := dayFloor(t0); d.Before(t1); d = d.AddDate(0, 0, 1) {
		day, err := r.ResolveDay(ctx, channel, d)
		if err != nil {
			return nil, err
		}
		for idx, slot := range day.Slots {
			end := nextSlotStart(day, idx, d.Add(24*time.Hour))
			if !end.After(t0) || !slot.SlotStart.Before(t1) {
				continue
			}
			events = append(events, EPGEvent{
				Channel: channel, Start: slot.SlotStart, End: end,
				Title: slot.DisplayTitle, EpisodeTitle: slot.EpisodeTitle, AssetID: slot.AssetID,
			})
		}
	}

	r.EPGCache.Set(ctx, channel, t0, t1, events)
	return events, nil
}

func nextSlotStart(day *ResolvedDay, idx int, dayEnd time.Time) time.Time {
	if idx+1 < len(day.Slots) {
		return day.Slots[idx+1].SlotStart
	}
	return dayEnd
}

// GetPlayoutPlan maps a query time to the active resolved slot plus the
// seek offset (t - slot_start).
func (r *Resolver) GetPlayoutPlan(ctx context.Context, channel string, t time.Time) (*PlayoutPlan, error) {
	day, err := r.ResolveDay(ctx, channel, t)
	if err != nil {
		return nil, err
	}
	for idx := len(day.Slots) - 1; idx >= 0; idx-- {
		slot := day.Slots[idx]
		if !t.Before(slot.SlotStart) {
			end := nextSlotStart(day, idx, dayFloor(t).Add(24*time.Hour))
			return &PlayoutPlan{Channel: channel, Slot: slot, SlotEnd: end, SeekOffset: t.Sub(slot.SlotStart)}, nil
		}
	}
	return nil, perr.Wrap(perr.ErrNoScheduleData, fmt.Sprintf("channel=%s t=%s: no active slot", channel, t))
}
