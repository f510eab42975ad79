// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"

	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/courtside/courtside/structs"
)

// teamStint is one court appearance of a team on one day, used for rest
// gap and daily cap checks. End is the playing end (start plus duration),
// not the block end.
type teamStint struct {
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

// roundKey indexes full-participation round groups (waterfall and round
// robin) per day. Every team of the event plays once per such round, so
// counting placed round groups stands in for per-team counting while
// sides are still placeholders.
type roundKey struct {
	day     string
	eventID int64
	typ     string
	round   int
}

// bucketKey identifies one start-time column of one day's grid.
type bucketKey struct {
	day   string
	start int
}

// placeContext is the live state of one placement run. Both drivers walk
// candidate slots through it; every claim immediately updates the
// occupancy, stint and round counters so later candidates see the effect
// of earlier placements.
type placeContext struct {
	in *placementInputs

	// days and dayIdx mirror the tournament day grid.
	days   []string
	dayIdx map[string]int

	// slotsByDay holds the active slots per day in placement order.
	slotsByDay map[string][]*structs.ScheduleSlot
	slotByID   map[int64]*structs.ScheduleSlot

	// blocked slots are excluded from placement outright.
	blocked *set.Set[int64]

	// reserveSpare keeps one court free per non-opening time bucket. The
	// daily policy sets it unless the grid is capacity tight; the sequence
	// driver never does.
	reserveSpare bool
	bucketFree   map[bucketKey]int
	firstStart   map[string]int

	// pinned reserves slots for pre-assignment match locks so first-fit
	// never hands a reserved slot to another match.
	pinned map[int64]int64

	occupied map[int64]int64
	slotOf   map[int64]*structs.ScheduleSlot

	stints map[stintKey][]teamStint
	rounds map[roundKey]int

	// byStage indexes matches by (event, type, round) for dependency
	// checks; maxRound tracks bracket depth per (event, type, label).
	byStage  map[roundKey][]*structs.Match
	maxRound map[string]int

	// capOverride relaxes the daily cap for single events during specific
	// policy batches.
	capOverride map[int64]int

	// placed accumulates the assignments this run will write.
	placed []*structs.PlannedAssignment
}

// newPlaceContext builds the live state for one run, seeded with the
// version's existing assignments so reruns and partial schedules are
// respected.
func newPlaceContext(in *placementInputs) *placeContext {
	ctx := &placeContext{
		in:          in,
		days:        make([]string, 0, len(in.tour.Days)),
		dayIdx:      make(map[string]int, len(in.tour.Days)),
		slotsByDay:  make(map[string][]*structs.ScheduleSlot),
		slotByID:    make(map[int64]*structs.ScheduleSlot, len(in.slots)),
		blocked:     set.New[int64](len(in.slotLocks)),
		pinned:      make(map[int64]int64, len(in.matchLocks)),
		occupied:    make(map[int64]int64, len(in.assignments)),
		slotOf:      make(map[int64]*structs.ScheduleSlot, len(in.assignments)),
		stints:      make(map[stintKey][]teamStint),
		rounds:      make(map[roundKey]int),
		byStage:     make(map[roundKey][]*structs.Match),
		maxRound:    make(map[string]int),
		capOverride: make(map[int64]int),
		bucketFree:  make(map[bucketKey]int),
		firstStart:  make(map[string]int),
	}

	for i, d := range in.tour.Days {
		ctx.days = append(ctx.days, d.Day)
		ctx.dayIdx[d.Day] = i
	}

	for _, l := range in.slotLocks {
		ctx.blocked.Insert(l.SlotID)
	}

	active := make([]*structs.ScheduleSlot, 0, len(in.slots))
	for _, slot := range in.slots {
		ctx.slotByID[slot.ID] = slot
		if slot.Active {
			active = append(active, slot)
		}
	}
	structs.SortSlots(active)
	for _, slot := range active {
		ctx.slotsByDay[slot.Day] = append(ctx.slotsByDay[slot.Day], slot)
		if ctx.blocked.Contains(slot.ID) {
			continue
		}
		ctx.bucketFree[bucketKey{day: slot.Day, start: slot.StartMin}]++
		if first, ok := ctx.firstStart[slot.Day]; !ok || slot.StartMin < first {
			ctx.firstStart[slot.Day] = slot.StartMin
		}
	}

	for _, m := range in.matches {
		key := roundKey{eventID: m.EventID, typ: m.Type, round: m.RoundIndex}
		ctx.byStage[key] = append(ctx.byStage[key], m)
		lk := labelKey(m.EventID, m.Type, m.BracketLabel)
		if m.RoundIndex > ctx.maxRound[lk] {
			ctx.maxRound[lk] = m.RoundIndex
		}
	}

	for _, a := range in.assignments {
		m := in.matchByID[a.MatchID]
		slot := ctx.slotByID[a.SlotID]
		if m == nil || slot == nil {
			continue
		}
		ctx.track(m, slot)
	}
	return ctx
}

func labelKey(eventID int64, typ, label string) string {
	return fmt.Sprintf("%d/%s/%s", eventID, typ, label)
}

// posFromEnd returns how many rounds remain after this match within its
// (event, type, label) group: 0 marks a final, 1 a semifinal.
func (ctx *placeContext) posFromEnd(m *structs.Match) int {
	return ctx.maxRound[labelKey(m.EventID, m.Type, m.BracketLabel)] - m.RoundIndex
}

// assigned reports whether the match already holds a slot, either from the
// store or from a claim earlier in this run.
func (ctx *placeContext) assigned(matchID int64) bool {
	_, ok := ctx.slotOf[matchID]
	return ok
}

// capFor returns the effective daily cap for an event's teams.
func (ctx *placeContext) capFor(eventID int64) int {
	if c, ok := ctx.capOverride[eventID]; ok {
		return c
	}
	return ctx.in.config.DailyCap
}

// track records a match-slot binding in the live counters without staging
// a write, used for assignments that already exist.
func (ctx *placeContext) track(m *structs.Match, slot *structs.ScheduleSlot) {
	ctx.occupied[slot.ID] = m.ID
	ctx.slotOf[m.ID] = slot
	if slot.Active && !ctx.blocked.Contains(slot.ID) {
		ctx.bucketFree[bucketKey{day: slot.Day, start: slot.StartMin}]--
	}
	for _, teamID := range m.TeamIDs() {
		key := stintKey{day: slot.Day, teamID: teamID}
		ctx.stints[key] = append(ctx.stints[key], teamStint{
			matchID: m.ID,
			start:   slot.StartMin,
			end:     slot.StartMin + m.DurationMinutes,
			wf:      m.Type == structs.MatchTypeWF,
		})
	}
	if m.Type == structs.MatchTypeWF || m.Type == structs.MatchTypeRR {
		ctx.rounds[roundKey{day: slot.Day, eventID: m.EventID, typ: m.Type, round: m.RoundIndex}]++
	}
}

// claim binds a match to a slot and stages the assignment for the plan.
func (ctx *placeContext) claim(m *structs.Match, slot *structs.ScheduleSlot, locked bool) {
	ctx.track(m, slot)
	ctx.placed = append(ctx.placed, &structs.PlannedAssignment{
		MatchID: m.ID,
		SlotID:  slot.ID,
		Locked:  locked,
	})
}

// release undoes a claim staged in this run, used when a block placement
// rolls back.
func (ctx *placeContext) release(matchID int64) {
	slot, ok := ctx.slotOf[matchID]
	if !ok {
		return
	}
	m := ctx.in.matchByID[matchID]
	delete(ctx.occupied, slot.ID)
	delete(ctx.slotOf, matchID)
	if slot.Active && !ctx.blocked.Contains(slot.ID) {
		ctx.bucketFree[bucketKey{day: slot.Day, start: slot.StartMin}]++
	}
	for _, teamID := range m.TeamIDs() {
		key := stintKey{day: slot.Day, teamID: teamID}
		kept := ctx.stints[key][:0]
		for _, st := range ctx.stints[key] {
			if st.matchID != matchID {
				kept = append(kept, st)
			}
		}
		ctx.stints[key] = kept
	}
	if m.Type == structs.MatchTypeWF || m.Type == structs.MatchTypeRR {
		key := roundKey{day: slot.Day, eventID: m.EventID, typ: m.Type, round: m.RoundIndex}
		if ctx.rounds[key]--; ctx.rounds[key] <= 0 {
			delete(ctx.rounds, key)
		}
	}
	kept := ctx.placed[:0]
	for _, pa := range ctx.placed {
		if pa.MatchID != matchID {
			kept = append(kept, pa)
		}
	}
	ctx.placed = kept
}

// claimPins pre-claims every pre-assignment match lock. Pins carry operator
// intent, so only occupancy, blocking and block length are checked; rest
// and dependency rules do not veto a pin. Unsatisfiable pins surface as
// warnings rather than failing the run.
func (ctx *placeContext) claimPins() []structs.Warning {
	var warnings []structs.Warning
	for _, lock := range ctx.in.matchLocks {
		m := ctx.in.matchByID[lock.MatchID]
		slot := ctx.slotByID[lock.SlotID]
		if m == nil || slot == nil {
			warnings = append(warnings, structs.Warning{
				Code:    structs.WarnNoAvailableSlot,
				Message: fmt.Sprintf("match lock %d -> %d names an unknown match or slot", lock.MatchID, lock.SlotID),
				MatchID: lock.MatchID,
				SlotID:  lock.SlotID,
			})
			continue
		}
		ctx.pinned[slot.ID] = m.ID
		if ctx.assigned(m.ID) {
			continue
		}
		if !slot.Active || ctx.blocked.Contains(slot.ID) ||
			ctx.occupied[slot.ID] != 0 || slot.BlockMinutes < m.DurationMinutes {
			warnings = append(warnings, structs.Warning{
				Code:    structs.WarnNoAvailableSlot,
				Message: fmt.Sprintf("pinned slot %d cannot host match %s", slot.ID, m.Code),
				MatchID: m.ID,
				SlotID:  slot.ID,
			})
			continue
		}
		ctx.claim(m, slot, true)
	}
	return warnings
}

// capacityTight reports whether the version cannot afford spare courts:
// the match load meets or exceeds the usable slots left after reserving
// one court per non-opening time bucket.
func capacityTight(in *placementInputs) bool {
	blocked := set.New[int64](len(in.slotLocks))
	for _, l := range in.slotLocks {
		blocked.Insert(l.SlotID)
	}
	usable := 0
	starts := make(map[string]*set.Set[int])
	for _, slot := range in.slots {
		if !slot.Active || blocked.Contains(slot.ID) {
			continue
		}
		usable++
		if starts[slot.Day] == nil {
			starts[slot.Day] = set.New[int](8)
		}
		starts[slot.Day].Insert(slot.StartMin)
	}
	nonFirst := 0
	for _, s := range starts {
		if n := s.Size(); n > 1 {
			nonFirst += n - 1
		}
	}
	load := 0
	for _, m := range in.matches {
		if m.Status != structs.MatchStatusCancelled {
			load++
		}
	}
	return load >= usable-nonFirst
}

// firstFit walks the slot grid from the given day and claims the first
// compatible slot. When onlyDay is set the walk is restricted to that
// single day; otherwise overflow spills into later days.
func (ctx *placeContext) firstFit(m *structs.Match, fromDay int, onlyDay bool) (*structs.ScheduleSlot, bool) {
	lastDay := len(ctx.days) - 1
	if onlyDay {
		lastDay = fromDay
	}
	for di := fromDay; di <= lastDay; di++ {
		for _, slot := range ctx.slotsByDay[ctx.days[di]] {
			if ctx.compatible(m, slot) {
				ctx.claim(m, slot, false)
				return slot, true
			}
		}
	}
	return nil, false
}
