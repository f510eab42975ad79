// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package reschedule

import (
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
)

// stint is one court appearance of a team on one day. end is the playing
// end, start plus effective duration, not the slot end.
type stint struct {
	matchID int64
	start   int
	end     int
	wf      bool
}

// stintKey indexes team appearances per day.
type stintKey struct {
	day    string
	teamID int64
}

// repairContext is the live state of one repair run. Kept assignments seed
// the occupancy and stint counters and every placement updates them, so
// later candidates see the effect of earlier moves.
type repairContext struct {
	in *repairInputs

	// durations carries pending per-match duration overrides from a
	// scoring format switch, keyed by match id.
	durations map[int64]int

	// dayBlocks carries the block length of rebuilt days. Scoring
	// matches placed on such a day adopt the day's format.
	dayBlocks map[string]int

	// slotted maps a match to the slot it holds after the repair so far,
	// kept seats plus placements made this run. occupied is the reverse
	// direction by slot id.
	slotted  map[int64]*structs.ScheduleSlot
	occupied map[int64]int64

	stints map[stintKey][]stint

	// uniformRest, when positive, replaces the per-pair rest floors.
	// Rebuild runs derive it from the shortest configured day format.
	uniformRest int
}

// newRepairContext seeds the counters with every assignment that keeps its
// seat, skipping the matches about to move.
func newRepairContext(in *repairInputs, moving *set.Set[int64], durations map[int64]int) *repairContext {
	ctx := &repairContext{
		in:        in,
		durations: durations,
		slotted:   make(map[int64]*structs.ScheduleSlot, len(in.assignments)),
		occupied:  make(map[int64]int64, len(in.assignments)),
		stints:    make(map[stintKey][]stint),
	}
	for _, a := range in.assignments {
		if moving.Contains(a.MatchID) {
			continue
		}
		m := in.matchByID[a.MatchID]
		slot := in.slotByID[a.SlotID]
		if m == nil || slot == nil || m.Status == structs.MatchStatusCancelled {
			continue
		}
		ctx.track(m, slot, ctx.durationOf(m))
	}
	return ctx
}

// durationOf returns the effective duration of a match under any pending
// format switch.
func (ctx *repairContext) durationOf(m *structs.Match) int {
	if d, ok := ctx.durations[m.ID]; ok {
		return d
	}
	return m.DurationMinutes
}

// durationAt returns the duration the match would play in the given slot.
// A rebuilt day's format governs scoring matches there; waterfall matches
// keep their own duration everywhere.
func (ctx *repairContext) durationAt(m *structs.Match, slot *structs.ScheduleSlot) int {
	if m.IsScoring() {
		if block, ok := ctx.dayBlocks[slot.Day]; ok {
			return block
		}
	}
	return ctx.durationOf(m)
}

// track records a match-slot binding in the live counters.
func (ctx *repairContext) track(m *structs.Match, slot *structs.ScheduleSlot, duration int) {
	ctx.slotted[m.ID] = slot
	ctx.occupied[slot.ID] = m.ID
	end := slot.StartMin + duration
	for _, teamID := range m.TeamIDs() {
		key := stintKey{day: slot.Day, teamID: teamID}
		ctx.stints[key] = append(ctx.stints[key], stint{
			matchID: m.ID,
			start:   slot.StartMin,
			end:     end,
			wf:      m.Type == structs.MatchTypeWF,
		})
	}
}

// compatible is the candidate test for one displaced match and one target
// slot: the slot must hold the match's effective duration, every wired
// source must finish before the slot starts, every already-seated
// dependent must start after it ends, and the match's teams must clear the
// daily cap, rest floors and concurrency.
func (ctx *repairContext) compatible(m *structs.Match, slot *structs.ScheduleSlot) bool {
	duration := ctx.durationAt(m, slot)
	if slot.BlockMinutes < duration {
		return false
	}
	if _, busy := ctx.occupied[slot.ID]; busy {
		return false
	}
	if !ctx.sourcesReady(m, slot) {
		return false
	}
	if !ctx.dependentsClear(m, slot, duration) {
		return false
	}
	return ctx.teamsReady(m, slot, duration)
}

// sourcesReady reports whether every upstream match the sides depend on is
// finished, or seated early enough for its outcome to exist when the
// candidate slot starts.
func (ctx *repairContext) sourcesReady(m *structs.Match, slot *structs.ScheduleSlot) bool {
	for _, srcID := range m.SourceIDs() {
		src := ctx.in.matchByID[srcID]
		if src == nil {
			continue
		}
		if src.Final() || src.Status == structs.MatchStatusCancelled {
			continue
		}
		ss, ok := ctx.slotted[srcID]
		if !ok {
			return false
		}
		if ss.Day != slot.Day {
			if ss.Day > slot.Day {
				return false
			}
			continue
		}
		if ss.StartMin+ctx.durationAt(src, ss) > slot.StartMin {
			return false
		}
	}
	return true
}

// dependentsClear reports whether seating the match here leaves every
// already-seated downstream match starting after this one ends.
func (ctx *repairContext) dependentsClear(m *structs.Match, slot *structs.ScheduleSlot, duration int) bool {
	end := slot.StartMin + duration
	for _, dep := range ctx.in.dependents[m.ID] {
		if dep.Final() || dep.Status == structs.MatchStatusCancelled {
			continue
		}
		ds, ok := ctx.slotted[dep.ID]
		if !ok {
			continue
		}
		if ds.Day != slot.Day {
			if ds.Day < slot.Day {
				return false
			}
			continue
		}
		if ds.StartMin < end {
			return false
		}
	}
	return true
}

// teamsReady enforces the daily cap, rest floors and team concurrency for
// every resolved side of the match.
func (ctx *repairContext) teamsReady(m *structs.Match, slot *structs.ScheduleSlot, duration int) bool {
	end := slot.StartMin + duration
	mwf := m.Type == structs.MatchTypeWF
	for _, teamID := range m.TeamIDs() {
		sts := ctx.stints[stintKey{day: slot.Day, teamID: teamID}]
		if len(sts)+1 > ctx.capFor(m.EventID, slot.Day) {
			return false
		}
		for _, st := range sts {
			switch {
			case st.end <= slot.StartMin:
				if slot.StartMin-st.end < ctx.restFor(st.wf, mwf) {
					return false
				}
			case end <= st.start:
				if st.start-end < ctx.restFor(mwf, st.wf) {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

// capFor returns the effective daily cap. Pure pool-play events run the
// relaxed cap on middle days.
func (ctx *repairContext) capFor(eventID int64, day string) int {
	e := ctx.in.events[eventID]
	if e == nil || e.Plan == nil || e.Plan.TemplateKey != structs.TemplateRROnly {
		return ctx.in.config.DailyCap
	}
	tour := ctx.in.tour
	if day > tour.Days[0].Day && day < tour.LastDay() {
		return ctx.in.config.DailyCapRROnly
	}
	return ctx.in.config.DailyCap
}

// restFor returns the rest floor between two consecutive matches of one
// team, first then second. A uniform override wins; otherwise the pair's
// formats pick the configured floor.
func (ctx *repairContext) restFor(firstWF, secondWF bool) int {
	if ctx.uniformRest > 0 {
		return ctx.uniformRest
	}
	switch {
	case firstWF && secondWF:
		return ctx.in.config.EffectiveRestWF()
	case !firstWF && !secondWF:
		return ctx.in.config.RestScoringMin
	default:
		return ctx.in.config.RestWFToScoringMin
	}
}
