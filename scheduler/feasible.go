// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"github.com/hashicorp/courtside/courtside/structs"
)

// compatible is the slot compatibility test shared by both placement
// drivers: the slot must be free and unblocked, long enough, and the match
// must pass the stage dependency and per-team rest rules against the live
// context.
func (ctx *placeContext) compatible(m *structs.Match, slot *structs.ScheduleSlot) bool {
	if ctx.blocked.Contains(slot.ID) {
		return false
	}
	if _, busy := ctx.occupied[slot.ID]; busy {
		return false
	}
	if pinFor, reserved := ctx.pinned[slot.ID]; reserved && pinFor != m.ID {
		return false
	}
	if slot.BlockMinutes < m.DurationMinutes {
		return false
	}
	if ctx.reserveSpare && slot.StartMin != ctx.firstStart[slot.Day] &&
		ctx.bucketFree[bucketKey{day: slot.Day, start: slot.StartMin}] <= 1 {
		return false
	}
	if !ctx.stageReady(m, slot) {
		return false
	}
	return ctx.teamsReady(m, slot)
}

// stageReady enforces the stage-aware dependency rules for a candidate
// slot.
//
// Waterfall and round robin rounds above the first require every match of
// the previous round to be placed, each ending a full match duration before
// the candidate starts: the same teams play consecutive rounds, so the gap
// doubles as their rest.
//
// Bracket and consolation matches follow their source links when the draw
// wired them: each source must be placed and end no later than the
// candidate starts. Without source links the bracket depth decides:
// quarterfinals and earlier are independent, semifinals and finals follow
// the previous round of their own bracket.
//
// Placement matches carry no dependency; batch ordering puts them last and
// the verifier reports any inversion that slips through.
func (ctx *placeContext) stageReady(m *structs.Match, slot *structs.ScheduleSlot) bool {
	switch m.Type {
	case structs.MatchTypeWF, structs.MatchTypeRR:
		if m.RoundIndex <= 1 {
			return true
		}
		prev := ctx.byStage[roundKey{eventID: m.EventID, typ: m.Type, round: m.RoundIndex - 1}]
		for _, pm := range prev {
			ps, ok := ctx.slotOf[pm.ID]
			if !ok {
				return false
			}
			if ps.Day > slot.Day {
				return false
			}
			if ps.Day == slot.Day && ps.StartMin+2*pm.DurationMinutes > slot.StartMin {
				return false
			}
		}
		return true

	case structs.MatchTypeMain, structs.MatchTypeConsolation:
		if m.HasSources() {
			for _, srcID := range m.SourceIDs() {
				ps, ok := ctx.slotOf[srcID]
				if !ok || !ps.Before(slot) {
					return false
				}
			}
			return true
		}
		if ctx.posFromEnd(m) >= 2 {
			return true
		}
		for _, pm := range ctx.byStage[roundKey{eventID: m.EventID, typ: m.Type, round: m.RoundIndex - 1}] {
			if pm.BracketLabel != m.BracketLabel {
				continue
			}
			ps, ok := ctx.slotOf[pm.ID]
			if !ok || !ps.Before(slot) {
				return false
			}
		}
		return true

	default:
		return true
	}
}

// teamsReady enforces the daily cap and rest floors for every resolved
// side, and the round-group cap for placeholder sides of waterfall and
// round robin matches.
func (ctx *placeContext) teamsReady(m *structs.Match, slot *structs.ScheduleSlot) bool {
	dayCap := ctx.capFor(m.EventID)
	mwf := m.Type == structs.MatchTypeWF
	end := slot.StartMin + m.DurationMinutes

	for _, teamID := range m.TeamIDs() {
		sts := ctx.stints[stintKey{day: slot.Day, teamID: teamID}]
		if len(sts)+1 > dayCap {
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

	if (m.Type == structs.MatchTypeWF || m.Type == structs.MatchTypeRR) && !m.Resolved() {
		distinct := 0
		for key, n := range ctx.rounds {
			if n <= 0 || key.day != slot.Day || key.eventID != m.EventID {
				continue
			}
			if key.typ == m.Type && key.round == m.RoundIndex {
				continue
			}
			distinct++
		}
		if distinct+1 > dayCap {
			return false
		}
	}
	return true
}

// restFor returns the required rest in minutes between two consecutive
// matches of one team given their formats. Weather mode relaxes only the
// waterfall-to-waterfall floor.
func (ctx *placeContext) restFor(firstWF, secondWF bool) int {
	switch {
	case firstWF && secondWF:
		return ctx.in.config.EffectiveRestWF()
	case !firstWF && !secondWF:
		return ctx.in.config.RestScoringMin
	default:
		return ctx.in.config.RestWFToScoringMin
	}
}
